// Package session manages the lifecycle of a continuous listening session:
// permission state, start/stop transitions, error classification, and the
// auto-restart that stitches the backend's internal session boundaries into
// unbroken listening.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"voice-qa-gateway/internal/observability/logging"
	"voice-qa-gateway/internal/observability/metrics"
	"voice-qa-gateway/internal/recognition"
	"voice-qa-gateway/internal/segmenter"
)

// Status is the lifecycle state of the listening session.
type Status int

const (
	// StatusIdle - no session running.
	StatusIdle Status = iota
	// StatusListening - a recognition session is active.
	StatusListening
	// StatusStopping - a manual stop is in flight, waiting for the end
	// callback.
	StatusStopping
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusListening:
		return "listening"
	case StatusStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// ErrPermissionDenied is surfaced when capture permission is denied. Further
// Start calls fail with it until the permission state changes.
var ErrPermissionDenied = errors.New("microphone permission denied")

// Controller owns exactly one recognition handle and is the sole caller of
// its start/stop/abort operations. It layers permission tracking and restart
// policy on top of the segmentation engine.
type Controller struct {
	provider recognition.Provider
	engine   *segmenter.Engine
	cfg      recognition.Config

	mu         sync.Mutex
	handle     recognition.Handle
	status     Status
	permission Permission
	manualStop bool
	lastErr    error
	restarts   uint64

	onChange func()

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a controller over the given provider and segmentation engine.
// The handle is acquired lazily on the first Start.
func New(provider recognition.Provider, engine *segmenter.Engine, cfg recognition.Config) *Controller {
	return &Controller{
		provider: provider,
		engine:   engine,
		cfg:      cfg,
		log:      logging.WithComponent("session"),
		metrics:  metrics.DefaultMetrics,
	}
}

// SetOnChange registers a callback fired after observable state changes
// (status, permission, error). Runs outside the controller lock.
func (c *Controller) SetOnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// BindPermissionMonitor subscribes to out-of-band permission changes. A
// transition to denied while listening forces a manual stop.
func (c *Controller) BindPermissionMonitor(m PermissionMonitor) {
	m.Subscribe(func(p Permission) {
		c.mu.Lock()
		c.permission = p
		listening := c.status == StatusListening
		if p == PermissionDenied {
			c.lastErr = ErrPermissionDenied
		}
		c.mu.Unlock()
		c.notify()

		if p == PermissionDenied && listening {
			c.log.Warn().Msg("permission revoked while listening, stopping session")
			c.Stop()
		}
	})
}

// Start begins a listening session. It is a no-op while already listening,
// fails immediately when permission is denied, and otherwise clears local
// utterance accumulation before starting the handle. A start that reports
// the session as already active is swallowed.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.status == StatusListening {
		c.mu.Unlock()
		return nil
	}
	if c.permission == PermissionDenied {
		c.lastErr = ErrPermissionDenied
		c.mu.Unlock()
		c.notify()
		return ErrPermissionDenied
	}
	c.manualStop = false
	handle := c.handle
	c.mu.Unlock()

	c.engine.Reset()

	if handle == nil {
		h, err := c.provider.Acquire(c.hooks())
		if err != nil {
			err = fmt.Errorf("acquire recognition source: %w", err)
			c.setError(err)
			return err
		}
		h.Configure(c.cfg)
		c.mu.Lock()
		c.handle = h
		c.mu.Unlock()
		handle = h
	}

	if err := handle.Start(); err != nil {
		if errors.Is(err, recognition.ErrAlreadyActive) {
			// The backend already has a session open; treat the start
			// as idempotent.
			c.log.Debug().Msg("start ignored: session already active")
			c.enterListening()
			return nil
		}
		err = fmt.Errorf("start recognition: %w", err)
		c.setError(err)
		return err
	}

	c.enterListening()
	c.metrics.RecordSessionStart()
	c.log.Info().Str("language", c.cfg.Language).Msg("listening session started")
	return nil
}

// Stop ends the session manually. The manual-stop flag is set before the
// handle is stopped: it suppresses the auto-restart that would otherwise
// fire when the end callback arrives. Pending accumulated speech is flushed
// immediately rather than waiting for the silence timer.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.status == StatusIdle {
		c.mu.Unlock()
		return
	}
	c.manualStop = true
	c.status = StatusStopping
	handle := c.handle
	c.mu.Unlock()
	c.notify()

	c.engine.Flush()
	if handle != nil {
		handle.Stop()
	}
}

// Close tears the session down for good: the handle is aborted and the
// engine's timer cancelled. The controller is not reusable afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.manualStop = true
	c.status = StatusIdle
	handle := c.handle
	c.mu.Unlock()

	if handle != nil {
		handle.Abort()
	}
	c.engine.Close()
}

// FeedAudio forwards externally captured audio to the handle, when the
// active provider consumes audio. Dropped silently while not listening.
func (c *Controller) FeedAudio(audio []byte) error {
	c.mu.Lock()
	handle := c.handle
	listening := c.status == StatusListening
	c.mu.Unlock()

	if !listening || handle == nil {
		return nil
	}
	sink, ok := handle.(recognition.AudioSink)
	if !ok {
		return nil
	}
	return sink.FeedAudio(audio)
}

// Status returns the current lifecycle status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Active reports whether a session is running or winding down. Utterances
// finalized while active (including the flush during a manual stop) become
// conversation turns.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status != StatusIdle
}

// Permission returns the tracked permission state.
func (c *Controller) Permission() Permission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permission
}

// LastError returns the current surfaced error, or nil. It is replaced on
// the next error and cleared by a successful Start.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Restarts returns how many automatic restarts have occurred.
func (c *Controller) Restarts() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restarts
}

func (c *Controller) enterListening() {
	c.mu.Lock()
	c.status = StatusListening
	c.lastErr = nil
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) setError(err error) {
	c.mu.Lock()
	c.status = StatusIdle
	c.lastErr = err
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// hooks wires the recognition callbacks to the controller's state machine.
func (c *Controller) hooks() recognition.Hooks {
	return recognition.Hooks{
		OnStart: c.onStart,
		OnEvent: c.onEvent,
		OnError: c.onError,
		OnEnd:   c.onEnd,
	}
}

func (c *Controller) onStart() {
	// A session actually starting implies capture permission was granted.
	c.mu.Lock()
	c.permission = PermissionGranted
	c.mu.Unlock()
	c.notify()
	c.log.Debug().Msg("recognition session started")
}

func (c *Controller) onEvent(ev recognition.Event) {
	c.engine.HandleEvent(ev)
}

func (c *Controller) onError(code recognition.ErrorCode, err error) {
	c.metrics.RecordRecognitionError(string(code))

	switch code {
	case recognition.CodeNoSpeech:
		// Not an error; the trailing end callback restarts the session.
		c.log.Debug().Msg("no speech detected")
		return

	case recognition.CodeNotAllowed, recognition.CodeServiceNotAllowed:
		c.mu.Lock()
		c.permission = PermissionDenied
		c.manualStop = true
		c.status = StatusIdle
		c.lastErr = ErrPermissionDenied
		c.mu.Unlock()
		c.notify()
		c.engine.Flush()
		c.log.Warn().Str("code", string(code)).Msg("recognition permission denied")

	default:
		c.mu.Lock()
		c.status = StatusIdle
		c.lastErr = fmt.Errorf("recognition error: %s", code)
		c.mu.Unlock()
		c.notify()
		// Restart is still attempted on the subsequent end callback.
		c.log.Warn().Str("code", string(code)).Err(err).Msg("recognition error")
	}
}

// onEnd handles both tails of a manual stop and unsolicited session ends.
// For the latter, pending speech is flushed and one restart is attempted on
// the same handle, simulating unbroken continuous listening across the
// backend's internal session boundaries.
func (c *Controller) onEnd() {
	c.mu.Lock()
	manual := c.manualStop
	denied := c.permission == PermissionDenied
	wasListening := c.status == StatusListening || c.status == StatusStopping
	c.status = StatusIdle
	handle := c.handle
	c.mu.Unlock()
	c.notify()

	if wasListening {
		c.metrics.RecordSessionEnd()
	}

	if manual {
		c.log.Info().Msg("listening session ended")
		return
	}

	c.engine.Flush()
	if denied {
		return
	}

	if err := handle.Start(); err != nil {
		if errors.Is(err, recognition.ErrAlreadyActive) {
			c.enterListening()
			return
		}
		if errors.Is(err, recognition.ErrAborted) {
			c.setError(fmt.Errorf("restart recognition: %w", err))
			return
		}
		// Restart failures are logged, not surfaced; the session simply
		// stays idle until the user starts it again.
		c.log.Warn().Err(err).Msg("auto-restart failed")
		return
	}

	c.mu.Lock()
	c.status = StatusListening
	c.restarts++
	c.mu.Unlock()
	c.notify()
	c.metrics.RecognitionRestarts.Inc()
	c.metrics.SessionsActive.Inc()
	c.log.Debug().Msg("recognition session restarted")
}
