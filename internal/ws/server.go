// Package ws exposes the conversation over WebSocket: clients receive state
// snapshots whenever the session, segmenter, or conversation changes, and send
// control actions back.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-qa-gateway/internal/conversation"
	"voice-qa-gateway/internal/segmenter"
	"voice-qa-gateway/internal/session"
)

// StateFrame is the full snapshot pushed to every connected client.
type StateFrame struct {
	Type       string              `json:"type"`
	Status     string              `json:"status"`
	Permission string              `json:"permission"`
	Error      string              `json:"error,omitempty"`
	Interim    string              `json:"interim"`
	Restarts   uint64              `json:"restarts"`
	Turns      []conversation.Turn `json:"turns"`
}

// ErrorFrame reports a rejected control action.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// controlFrame is a client action: start, stop, or clear.
type controlFrame struct {
	Action  string `json:"action"`
	Confirm bool   `json:"confirm"`
}

// Hub manages WebSocket connections and fans state updates out to them.
type Hub struct {
	upgrader websocket.Upgrader
	ctrl     *session.Controller
	engine   *segmenter.Engine
	orch     *conversation.Orchestrator
	log      zerolog.Logger

	mu    sync.Mutex
	conns map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // one writer at a time
}

func (c *client) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// NewHub wires a hub into the session controller, segmenter, and
// orchestrator so every change is broadcast.
func NewHub(ctrl *session.Controller, engine *segmenter.Engine, orch *conversation.Orchestrator, logger zerolog.Logger) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctrl:   ctrl,
		engine: engine,
		orch:   orch,
		log:    logger.With().Str("component", "ws").Logger(),
		conns:  make(map[*client]struct{}),
	}
	ctrl.SetOnChange(h.Broadcast)
	engine.SetOnUpdate(h.Broadcast)
	orch.SetOnChange(h.Broadcast)
	return h
}

// Snapshot assembles the current state frame.
func (h *Hub) Snapshot() StateFrame {
	frame := StateFrame{
		Type:       "state",
		Status:     h.ctrl.Status().String(),
		Permission: h.ctrl.Permission().String(),
		Interim:    h.engine.Interim(),
		Restarts:   h.ctrl.Restarts(),
		Turns:      h.orch.Turns(),
	}
	if err := h.ctrl.LastError(); err != nil {
		frame.Error = err.Error()
	}
	return frame
}

// Broadcast pushes the current snapshot to every connected client.
func (h *Hub) Broadcast() {
	frame := h.Snapshot()

	h.mu.Lock()
	clients := make([]*client, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.writeJSON(frame); err != nil {
			h.drop(c)
		}
	}
}

// ServeConversation upgrades the connection and serves the control protocol.
func (h *Hub) ServeConversation(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	c := &client{conn: conn}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.log.Info().Str("remote", r.RemoteAddr).Msg("Conversation client connected")

	// Initial snapshot so the client renders without waiting for a change.
	if err := c.writeJSON(h.Snapshot()); err != nil {
		h.drop(c)
		return
	}

	defer h.drop(c)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ctl controlFrame
		if err := json.Unmarshal(data, &ctl); err != nil {
			_ = c.writeJSON(ErrorFrame{Type: "error", Message: "malformed control frame"})
			continue
		}
		h.handleControl(c, ctl)
	}
}

func (h *Hub) handleControl(c *client, ctl controlFrame) {
	switch ctl.Action {
	case "start":
		if err := h.ctrl.Start(); err != nil {
			_ = c.writeJSON(ErrorFrame{Type: "error", Message: err.Error()})
		}
	case "stop":
		h.ctrl.Stop()
	case "clear":
		// Destructive; an explicit confirmation is required.
		if !ctl.Confirm {
			_ = c.writeJSON(ErrorFrame{Type: "error", Message: "clear requires confirm"})
			return
		}
		h.orch.Clear()
		h.Broadcast()
	default:
		_ = c.writeJSON(ErrorFrame{Type: "error", Message: "unknown action: " + ctl.Action})
	}
}

// ServeAudio accepts binary audio frames and feeds them to the session.
func (h *Hub) ServeAudio(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	h.log.Info().Str("remote", r.RemoteAddr).Msg("Audio client connected")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if err := h.ctrl.FeedAudio(data); err != nil {
			h.log.Warn().Err(err).Msg("Audio forward failed")
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}
