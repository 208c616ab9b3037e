// Package mock provides a scripted recognition provider for running the
// service without platform speech support. It simulates realistic continuous
// recognition behavior: progressive interim results, exactly one final result
// per utterance, and unsolicited session ends between utterances so the
// session layer's restart path is exercised.
package mock

import (
	"sync"
	"time"

	"voice-qa-gateway/internal/recognition"
)

// ScriptedUtterance is one simulated utterance with progressive transcripts.
type ScriptedUtterance struct {
	Interims   []string // Progressive interim transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for the final
}

// DefaultScript provides sample utterances for simulation. Finals carry a
// trailing space so consecutive fragments concatenate cleanly.
var DefaultScript = []ScriptedUtterance{
	{
		Interims:   []string{"what is", "what is the capital"},
		Final:      "what is the capital of France ",
		Confidence: 0.94,
	},
	{
		Interims:   []string{"how tall", "how tall is"},
		Final:      "how tall is Mount Everest ",
		Confidence: 0.91,
	},
	{
		Interims:   []string{"who wrote"},
		Final:      "who wrote War and Peace ",
		Confidence: 0.97,
	},
	{
		Interims:   []string{"when did", "when did the first"},
		Final:      "when did the first moon landing happen ",
		Confidence: 0.89,
	},
}

// Provider acquires scripted recognition handles. The zero value is not
// usable; call NewProvider.
type Provider struct {
	Script               []ScriptedUtterance
	StepInterval         time.Duration // delay between emitted events
	UtteranceGap         time.Duration // silence between utterances
	UtterancesPerSession int           // unsolicited end after this many
}

// NewProvider returns a provider with the default script and pacing.
func NewProvider() *Provider {
	return &Provider{
		Script:               DefaultScript,
		StepInterval:         300 * time.Millisecond,
		UtteranceGap:         2500 * time.Millisecond,
		UtterancesPerSession: 2,
	}
}

// Acquire returns a handle wired to the given hooks. The mock capability is
// always available.
func (p *Provider) Acquire(hooks recognition.Hooks) (recognition.Handle, error) {
	script := p.Script
	if len(script) == 0 {
		script = DefaultScript
	}
	return &handle{
		hooks:      hooks,
		script:     script,
		step:       p.StepInterval,
		gap:        p.UtteranceGap,
		perSession: p.UtterancesPerSession,
	}, nil
}

type handle struct {
	hooks      recognition.Hooks
	script     []ScriptedUtterance
	step       time.Duration
	gap        time.Duration
	perSession int

	mu     sync.Mutex
	cfg    recognition.Config
	next   int // next script entry, cycles
	active bool
	stop   chan struct{}
}

func (h *handle) Configure(cfg recognition.Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

// Start opens one simulated session. The session emits events until its
// utterance quota runs out, then ends on its own the way real backends
// recycle their internal sessions.
func (h *handle) Start() error {
	h.mu.Lock()
	if h.active {
		h.mu.Unlock()
		return recognition.ErrAlreadyActive
	}
	h.active = true
	stop := make(chan struct{})
	h.stop = stop
	h.mu.Unlock()

	go h.run(stop)
	return nil
}

func (h *handle) Stop() {
	h.signalStop()
}

func (h *handle) Abort() {
	h.signalStop()
}

func (h *handle) signalStop() {
	h.mu.Lock()
	stop := h.stop
	h.stop = nil
	h.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (h *handle) run(stop chan struct{}) {
	if h.hooks.OnStart != nil {
		h.hooks.OnStart()
	}

	var results []recognition.Result
	emitted := 0
	for {
		h.mu.Lock()
		utt := h.script[h.next%len(h.script)]
		h.next++
		h.mu.Unlock()

		slot := len(results)
		results = append(results, recognition.Result{})

		interims := utt.Interims
		h.mu.Lock()
		if !h.cfg.InterimResults {
			interims = nil
		}
		h.mu.Unlock()

		for _, interim := range interims {
			if !h.wait(stop, h.step) {
				h.end()
				return
			}
			results[slot] = recognition.Result{
				Alternatives: []recognition.Alternative{{Transcript: interim}},
			}
			h.emit(slot, results)
		}

		if !h.wait(stop, h.step) {
			h.end()
			return
		}
		results[slot] = recognition.Result{
			Final:        true,
			Alternatives: []recognition.Alternative{{Transcript: utt.Final, Confidence: utt.Confidence}},
		}
		h.emit(slot, results)

		emitted++
		if h.perSession > 0 && emitted >= h.perSession {
			break
		}
		if !h.wait(stop, h.gap) {
			h.end()
			return
		}
	}

	// Linger long enough for the silence timeout to close the last
	// utterance, then end the session unsolicited.
	if !h.wait(stop, h.gap) {
		h.end()
		return
	}
	h.end()
}

// emit delivers a snapshot so later slot rewrites don't race the consumer.
func (h *handle) emit(resultIndex int, results []recognition.Result) {
	if h.hooks.OnEvent == nil {
		return
	}
	snapshot := make([]recognition.Result, len(results))
	copy(snapshot, results)
	h.hooks.OnEvent(recognition.Event{ResultIndex: resultIndex, Results: snapshot})
}

func (h *handle) end() {
	h.mu.Lock()
	h.active = false
	h.stop = nil
	h.mu.Unlock()
	if h.hooks.OnEnd != nil {
		h.hooks.OnEnd()
	}
}

// wait sleeps for d unless the session is stopped first.
func (h *handle) wait(stop chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
