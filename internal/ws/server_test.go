package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-qa-gateway/internal/answer"
	"voice-qa-gateway/internal/conversation"
	"voice-qa-gateway/internal/recognition"
	"voice-qa-gateway/internal/recognition/mock"
	"voice-qa-gateway/internal/segmenter"
	"voice-qa-gateway/internal/session"
)

// cannedStreamer answers every question with a fixed two-fragment stream.
type cannedStreamer struct{}

func (cannedStreamer) StreamAnswer(_ context.Context, _ string) (<-chan answer.Fragment, error) {
	ch := make(chan answer.Fragment, 2)
	ch <- answer.Fragment{Text: "forty"}
	ch <- answer.Fragment{Text: "-two"}
	close(ch)
	return ch, nil
}

func newTestStack(t *testing.T) *Hub {
	t.Helper()

	provider := &mock.Provider{
		Script: []mock.ScriptedUtterance{
			{Interims: []string{"what is"}, Final: "what is the answer ", Confidence: 0.95},
		},
		StepInterval:         2 * time.Millisecond,
		UtteranceGap:         500 * time.Millisecond,
		UtterancesPerSession: 1,
	}
	engine := segmenter.New(segmenter.Config{SilenceTimeout: 20 * time.Millisecond})
	t.Cleanup(engine.Close)

	ctrl := session.New(provider, engine, recognition.Config{
		Continuous:     true,
		InterimResults: true,
		Language:       "en-US",
	})
	t.Cleanup(ctrl.Close)

	orch := conversation.New(cannedStreamer{}, nil)
	orch.Bind(engine)
	orch.SetActiveCheck(ctrl.Active)

	return NewHub(ctrl, engine, orch, zerolog.Nop())
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil keeps reading frames until match returns true or the deadline
// passes, returning the matching frame as raw JSON fields.
func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]json.RawMessage) bool) map[string]json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var frame map[string]json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if match(frame) {
			return frame
		}
	}
	t.Fatal("timed out waiting for matching frame")
	return nil
}

func frameField(frame map[string]json.RawMessage, key string) string {
	var s string
	_ = json.Unmarshal(frame[key], &s)
	return s
}

func TestServeConversation_InitialSnapshot(t *testing.T) {
	hub := newTestStack(t)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeConversation))
	defer server.Close()

	conn := dial(t, server)

	frame := readUntil(t, conn, func(f map[string]json.RawMessage) bool {
		return frameField(f, "type") == "state"
	})
	if got := frameField(frame, "status"); got != "idle" {
		t.Errorf("expected initial status 'idle', got %q", got)
	}
	if got := frameField(frame, "permission"); got != "unknown" {
		t.Errorf("expected initial permission 'unknown', got %q", got)
	}
}

func TestServeConversation_StartProducesTurn(t *testing.T) {
	hub := newTestStack(t)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeConversation))
	defer server.Close()

	conn := dial(t, server)

	if err := conn.WriteJSON(map[string]any{"action": "start"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	readUntil(t, conn, func(f map[string]json.RawMessage) bool {
		return frameField(f, "status") == "listening"
	})

	// The scripted utterance flows through segmentation into a completed
	// turn with the canned answer.
	frame := readUntil(t, conn, func(f map[string]json.RawMessage) bool {
		var turns []conversation.Turn
		if err := json.Unmarshal(f["turns"], &turns); err != nil {
			return false
		}
		return len(turns) == 1 && !turns[0].Processing
	})

	var turns []conversation.Turn
	if err := json.Unmarshal(frame["turns"], &turns); err != nil {
		t.Fatalf("unmarshal turns: %v", err)
	}
	if turns[0].Utterance != "what is the answer" {
		t.Errorf("unexpected utterance %q", turns[0].Utterance)
	}
	if turns[0].Answer != "forty-two" {
		t.Errorf("unexpected answer %q", turns[0].Answer)
	}
}

func TestServeConversation_ClearRequiresConfirm(t *testing.T) {
	hub := newTestStack(t)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeConversation))
	defer server.Close()

	conn := dial(t, server)

	if err := conn.WriteJSON(map[string]any{"action": "clear"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	frame := readUntil(t, conn, func(f map[string]json.RawMessage) bool {
		return frameField(f, "type") == "error"
	})
	if got := frameField(frame, "message"); !strings.Contains(got, "confirm") {
		t.Errorf("expected confirm hint in error, got %q", got)
	}
}

func TestServeConversation_UnknownAction(t *testing.T) {
	hub := newTestStack(t)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeConversation))
	defer server.Close()

	conn := dial(t, server)

	if err := conn.WriteJSON(map[string]any{"action": "reboot"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	frame := readUntil(t, conn, func(f map[string]json.RawMessage) bool {
		return frameField(f, "type") == "error"
	})
	if got := frameField(frame, "message"); !strings.Contains(got, "unknown action") {
		t.Errorf("expected unknown-action error, got %q", got)
	}
}
