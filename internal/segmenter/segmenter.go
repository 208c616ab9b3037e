// Package segmenter turns the raw recognition event stream into discrete
// finalized utterances. Final transcript fragments accumulate until a silence
// timeout elapses with no new speech activity; the accumulated text is then
// trimmed and, if non-empty, published as the finalized utterance. The timeout
// is a debounce: every qualifying event pushes the deadline forward.
package segmenter

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-qa-gateway/internal/observability/logging"
	"voice-qa-gateway/internal/observability/metrics"
	"voice-qa-gateway/internal/recognition"
)

// DefaultSilenceTimeout is the debounce duration applied when the caller does
// not override it.
const DefaultSilenceTimeout = 1500 * time.Millisecond

// Config holds segmentation engine configuration.
type Config struct {
	// SilenceTimeout is how long the engine waits after the last speech
	// activity before an utterance is considered complete.
	SilenceTimeout time.Duration
}

// Engine is the utterance segmentation state machine.
//
// State:
//   - accumulated: concatenation of all final fragments since the last close
//   - interim: latest provisional text, replaced wholesale on each event
//   - finalized: the most recently closed utterance, held until the consumer
//     acknowledges it with ClearFinalized
//   - at most one silence timer outstanding at any time
type Engine struct {
	mu          sync.Mutex
	silence     time.Duration
	accumulated string
	interim     string
	finalized   string
	hasFinal    bool
	timer       *time.Timer
	timerGen    uint64
	closed      bool

	onFinalized func(utterance string)
	onUpdate    func()

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a segmentation engine. A zero SilenceTimeout selects the default.
func New(cfg Config) *Engine {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultSilenceTimeout
	}
	return &Engine{
		silence: cfg.SilenceTimeout,
		log:     logging.WithComponent("segmenter"),
		metrics: metrics.DefaultMetrics,
	}
}

// SetOnFinalized registers a callback fired after an utterance is published
// to the finalized slot. The callback runs outside the engine lock.
func (e *Engine) SetOnFinalized(fn func(utterance string)) {
	e.mu.Lock()
	e.onFinalized = fn
	e.mu.Unlock()
}

// SetOnUpdate registers a callback fired after each processed event, for
// consumers that mirror interim text. Runs outside the engine lock.
func (e *Engine) SetOnUpdate(fn func()) {
	e.mu.Lock()
	e.onUpdate = fn
	e.mu.Unlock()
}

// HandleEvent folds one recognition result batch into the engine state.
// Slots before ev.ResultIndex were already consumed by earlier events and are
// skipped. Any new slot, even one carrying empty text, re-arms the silence
// timer.
func (e *Engine) HandleEvent(ev recognition.Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.metrics.RecognitionEvents.Inc()

	start := ev.ResultIndex
	if start < 0 {
		start = 0
	}
	if start > len(ev.Results) {
		start = len(ev.Results)
	}

	var interim strings.Builder
	processed := false
	for _, r := range ev.Results[start:] {
		processed = true
		if len(r.Alternatives) == 0 {
			continue
		}
		text := r.Alternatives[0].Transcript
		if r.Final {
			e.accumulated += text
		} else {
			interim.WriteString(text)
		}
	}
	e.interim = interim.String()
	if processed {
		e.armTimerLocked()
	}
	update := e.onUpdate
	e.mu.Unlock()

	if update != nil {
		update()
	}
}

// Flush forces finalization of whatever has accumulated, without waiting for
// the silence timer. Used on manual stop and on terminating errors.
func (e *Engine) Flush() {
	e.mu.Lock()
	utterance, ok := e.finalizeLocked()
	notify := e.onFinalized
	e.mu.Unlock()

	if ok && notify != nil {
		notify(utterance)
	}
}

// Interim returns the latest provisional transcript text.
func (e *Engine) Interim() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interim
}

// Finalized returns the held finalized utterance, if one is pending.
func (e *Engine) Finalized() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalized, e.hasFinal
}

// ClearFinalized acknowledges consumption of the finalized utterance. The
// engine never auto-clears; this call is how the consumer signals that the
// value was taken.
func (e *Engine) ClearFinalized() {
	e.mu.Lock()
	e.finalized = ""
	e.hasFinal = false
	e.mu.Unlock()
}

// Reset wipes accumulation and interim state for a fresh session. The
// finalized slot is left alone; it belongs to the consumer until cleared.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.stopTimerLocked()
	e.accumulated = ""
	e.interim = ""
	e.mu.Unlock()
}

// Close tears the engine down, cancelling any outstanding timer. Events
// arriving after Close are dropped.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.stopTimerLocked()
	e.mu.Unlock()
}

// armTimerLocked (re)arms the silence timer. The previous deadline is
// cancelled first; each arm gets a fresh generation so a stale expiry that
// already fired can never finalize.
func (e *Engine) armTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timerGen++
	gen := e.timerGen
	e.timer = time.AfterFunc(e.silence, func() {
		e.expire(gen)
	})
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerGen++
}

func (e *Engine) expire(gen uint64) {
	e.mu.Lock()
	if e.closed || gen != e.timerGen {
		e.mu.Unlock()
		return
	}
	utterance, ok := e.finalizeLocked()
	notify := e.onFinalized
	e.mu.Unlock()

	if ok && notify != nil {
		notify(utterance)
	}
}

// finalizeLocked closes the in-progress utterance. The timer is cleared
// regardless of outcome. Text that trims to empty is discarded silently and
// never surfaces as an utterance.
func (e *Engine) finalizeLocked() (string, bool) {
	e.stopTimerLocked()

	text := strings.TrimSpace(e.accumulated)
	if text == "" {
		if e.accumulated != "" || e.interim != "" {
			e.log.Debug().Msg("finalization discarded: empty after trim")
			e.metrics.RecordUtteranceDiscarded()
		}
		e.accumulated = ""
		e.interim = ""
		return "", false
	}

	if e.hasFinal {
		// The consumer has not acknowledged the previous utterance yet.
		// Last writer wins; rapid double-finalization is rare under the
		// debounce but possible.
		e.log.Warn().Str("dropped", e.finalized).Msg("overwriting unconsumed finalized utterance")
		e.metrics.FinalizedOverwritten.Inc()
	}

	e.accumulated = ""
	e.interim = ""
	e.finalized = text
	e.hasFinal = true
	e.metrics.RecordUtteranceFinalized()
	e.log.Debug().Str("utterance", text).Msg("utterance finalized")
	return text, true
}
