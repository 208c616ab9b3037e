// Package conversation owns the ordered log of question/answer turns and
// wires finalized utterances to the answer streaming client.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voice-qa-gateway/internal/answer"
	"voice-qa-gateway/internal/events"
	"voice-qa-gateway/internal/models"
	"voice-qa-gateway/internal/observability/logging"
	"voice-qa-gateway/internal/observability/metrics"
	"voice-qa-gateway/internal/segmenter"
)

const (
	eventTypeQuestion = "conversation.turn.question"
	eventTypeAnswer   = "conversation.turn.answer"
)

// Turn is one question/answer pair in the conversation log. Turns are
// append-only: after the terminal state (Processing false) only display reads
// them.
type Turn struct {
	ID          string    `json:"id"`
	Utterance   string    `json:"utterance"`
	Answer      string    `json:"answer"`
	AnswerError string    `json:"answerError,omitempty"`
	Processing  bool      `json:"isProcessingAnswer"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Orchestrator drives one answer stream per turn and folds incoming fragments
// into the turn they belong to. Results are routed solely by the turn ID
// captured at creation time, so multiple turns can be in flight at once.
type Orchestrator struct {
	mu       sync.Mutex
	turns    []*Turn
	started  map[string]time.Time
	active   func() bool
	onChange func()

	streamer  answer.Streamer
	publisher *events.Publisher

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an orchestrator over the given streamer and event publisher.
func New(streamer answer.Streamer, publisher *events.Publisher) *Orchestrator {
	return &Orchestrator{
		started:   make(map[string]time.Time),
		streamer:  streamer,
		publisher: publisher,
		log:       logging.WithComponent("conversation"),
		metrics:   metrics.DefaultMetrics,
	}
}

// SetActiveCheck registers the predicate deciding whether a finalized
// utterance should become a turn. When nil, every utterance does.
func (o *Orchestrator) SetActiveCheck(fn func() bool) {
	o.mu.Lock()
	o.active = fn
	o.mu.Unlock()
}

// SetOnChange registers a callback fired after any observable change to the
// turn log.
func (o *Orchestrator) SetOnChange(fn func()) {
	o.mu.Lock()
	o.onChange = fn
	o.mu.Unlock()
}

// Bind subscribes the orchestrator to the engine's finalized utterances.
func (o *Orchestrator) Bind(engine *segmenter.Engine) {
	engine.SetOnFinalized(func(string) {
		o.consume(engine)
	})
}

// consume takes the pending finalized utterance and acknowledges it before
// dispatching the answer stream, so a delayed clear can never re-process the
// same utterance.
func (o *Orchestrator) consume(engine *segmenter.Engine) {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()
	if active != nil && !active() {
		return
	}

	utterance, ok := engine.Finalized()
	if !ok {
		return
	}
	engine.ClearFinalized()
	o.BeginTurn(utterance)
}

// BeginTurn appends a new turn for the utterance and starts its answer
// stream. Returns the turn ID.
func (o *Orchestrator) BeginTurn(utterance string) string {
	t := &Turn{
		ID:         uuid.NewString(),
		Utterance:  utterance,
		Processing: true,
		CreatedAt:  time.Now(),
	}

	o.mu.Lock()
	o.turns = append(o.turns, t)
	o.started[t.ID] = t.CreatedAt
	o.mu.Unlock()

	o.metrics.TurnsCreated.Inc()
	o.log.Info().Str("turnId", t.ID).Str("utterance", utterance).Msg("turn created")
	o.publishQuestion(t.ID, utterance)
	o.notify()

	go o.drive(t.ID, utterance)
	return t.ID
}

// drive consumes the answer stream for one turn. Fragments append to the
// turn's answer; completion and errors flip the turn to its terminal state.
// Stopping the session never cancels a dispatched turn.
func (o *Orchestrator) drive(turnId, utterance string) {
	ch, err := o.streamer.StreamAnswer(context.Background(), utterance)
	if err != nil {
		o.finishTurn(turnId, utterance, err)
		return
	}
	turnLog := logging.WithTurn(turnId)
	turnLog.Debug().Msg("answer stream opened")

	for frag := range ch {
		if frag.Err != nil {
			o.finishTurn(turnId, utterance, frag.Err)
			return
		}
		o.appendAnswer(turnId, frag.Text)
	}
	o.finishTurn(turnId, utterance, nil)
}

func (o *Orchestrator) appendAnswer(turnId, text string) {
	o.mu.Lock()
	t := o.findLocked(turnId)
	if t == nil || !t.Processing {
		// The turn was cleared or already terminal; ignore the write.
		o.mu.Unlock()
		return
	}
	t.Answer += text
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) finishTurn(turnId, utterance string, streamErr error) {
	o.mu.Lock()
	startedAt, tracked := o.started[turnId]
	delete(o.started, turnId)
	t := o.findLocked(turnId)
	if t == nil || !t.Processing {
		o.mu.Unlock()
		return
	}
	if streamErr != nil {
		t.AnswerError = streamErr.Error()
	}
	t.Processing = false
	answerText := t.Answer
	o.mu.Unlock()

	duration := 0.0
	if tracked {
		duration = time.Since(startedAt).Seconds()
	}
	o.metrics.RecordTurnEnd(streamErr != nil, duration)

	if streamErr != nil {
		o.log.Warn().Str("turnId", turnId).Err(streamErr).Msg("answer stream failed")
	} else {
		o.log.Debug().Str("turnId", turnId).Msg("answer stream completed")
	}
	o.publishAnswer(turnId, utterance, answerText, streamErr)
	o.notify()
}

// Turns returns a snapshot of the conversation log in order.
func (o *Orchestrator) Turns() []Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Turn, len(o.turns))
	for i, t := range o.turns {
		out[i] = *t
	}
	return out
}

// Clear wipes the conversation history. In-flight answer streams are
// abandoned: their turns are gone, and further writes are ignored.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	o.turns = nil
	o.mu.Unlock()
	o.log.Info().Msg("conversation history cleared")
	o.notify()
}

func (o *Orchestrator) findLocked(turnId string) *Turn {
	for _, t := range o.turns {
		if t.ID == turnId {
			return t
		}
	}
	return nil
}

func (o *Orchestrator) notify() {
	o.mu.Lock()
	fn := o.onChange
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (o *Orchestrator) publishQuestion(turnId, utterance string) {
	if o.publisher == nil {
		return
	}
	ev := models.TurnQuestion{
		EventType: eventTypeQuestion,
		TurnID:    turnId,
		Utterance: utterance,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := o.publisher.PublishQuestion(context.Background(), turnId, ev); err != nil {
		o.log.Warn().Str("turnId", turnId).Err(err).Msg("failed to publish question event")
	}
}

func (o *Orchestrator) publishAnswer(turnId, utterance, answerText string, streamErr error) {
	if o.publisher == nil {
		return
	}
	ev := models.TurnAnswer{
		EventType: eventTypeAnswer,
		TurnID:    turnId,
		Utterance: utterance,
		Answer:    answerText,
		Timestamp: time.Now().UnixMilli(),
	}
	if streamErr != nil {
		ev.AnswerError = streamErr.Error()
	}
	if err := o.publisher.PublishAnswer(context.Background(), turnId, ev); err != nil {
		o.log.Warn().Str("turnId", turnId).Err(err).Msg("failed to publish answer event")
	}
}
