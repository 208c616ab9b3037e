package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voice-qa-gateway/internal/answer"
	"voice-qa-gateway/internal/recognition"
	"voice-qa-gateway/internal/segmenter"
)

// fakeStreamer hands each StreamAnswer call its own fragment channel so tests
// control pacing and interleaving per turn.
type fakeStreamer struct {
	mu       sync.Mutex
	err      error
	channels []chan answer.Fragment
	asked    []string
}

func (f *fakeStreamer) StreamAnswer(_ context.Context, question string) (<-chan answer.Fragment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan answer.Fragment, 16)
	f.channels = append(f.channels, ch)
	f.asked = append(f.asked, question)
	return ch, nil
}

// channel waits for the n-th stream to be opened.
func (f *fakeStreamer) channel(t *testing.T, n int) chan answer.Fragment {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.channels) > n {
			ch := f.channels[n]
			f.mu.Unlock()
			return ch
		}
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("stream %d was never opened", n)
	return nil
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestBeginTurn_StreamsAnswerIntoTurn(t *testing.T) {
	streamer := &fakeStreamer{}
	o := New(streamer, nil)

	id := o.BeginTurn("what is the capital of France")

	turns := o.Turns()
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].ID != id || turns[0].Utterance != "what is the capital of France" {
		t.Errorf("unexpected turn: %+v", turns[0])
	}
	if !turns[0].Processing {
		t.Error("expected turn processing while stream is open")
	}

	ch := streamer.channel(t, 0)
	ch <- answer.Fragment{Text: "Par"}
	ch <- answer.Fragment{Text: "is"}
	close(ch)

	waitFor(t, func() bool {
		turns := o.Turns()
		return !turns[0].Processing
	})

	got := o.Turns()[0]
	if got.Answer != "Paris" {
		t.Errorf("expected answer 'Paris', got %q", got.Answer)
	}
	if got.AnswerError != "" {
		t.Errorf("expected no answer error, got %q", got.AnswerError)
	}
}

func TestBeginTurn_StreamErrorScopedToTurn(t *testing.T) {
	streamer := &fakeStreamer{}
	o := New(streamer, nil)

	o.BeginTurn("first question")
	ch := streamer.channel(t, 0)
	ch <- answer.Fragment{Text: "partial "}
	ch <- answer.Fragment{Err: errors.New("upstream hung up")}

	waitFor(t, func() bool {
		return !o.Turns()[0].Processing
	})

	failed := o.Turns()[0]
	if failed.AnswerError == "" {
		t.Error("expected answer error recorded on the turn")
	}
	if failed.Answer != "partial " {
		t.Errorf("expected partial answer kept, got %q", failed.Answer)
	}

	// A later turn is unaffected by the earlier failure.
	o.BeginTurn("second question")
	ch2 := streamer.channel(t, 1)
	ch2 <- answer.Fragment{Text: "fine"}
	close(ch2)

	waitFor(t, func() bool {
		turns := o.Turns()
		return len(turns) == 2 && !turns[1].Processing
	})
	if got := o.Turns()[1]; got.Answer != "fine" || got.AnswerError != "" {
		t.Errorf("second turn affected by first failure: %+v", got)
	}
}

func TestBeginTurn_DispatchError_TerminalImmediately(t *testing.T) {
	streamer := &fakeStreamer{err: errors.New("no credentials")}
	o := New(streamer, nil)

	o.BeginTurn("anything")

	waitFor(t, func() bool {
		return !o.Turns()[0].Processing
	})
	if got := o.Turns()[0]; got.AnswerError == "" {
		t.Error("expected dispatch error on turn")
	}
}

func TestBind_ConsumesFinalizedUtteranceOnce(t *testing.T) {
	streamer := &fakeStreamer{}
	o := New(streamer, nil)
	engine := segmenter.New(segmenter.Config{SilenceTimeout: time.Hour})
	defer engine.Close()
	o.Bind(engine)

	engine.HandleEvent(recognition.Event{Results: []recognition.Result{{
		Final:        true,
		Alternatives: []recognition.Alternative{{Transcript: "how are you "}},
	}}})
	engine.Flush()

	waitFor(t, func() bool { return len(o.Turns()) == 1 })
	if got := o.Turns()[0].Utterance; got != "how are you" {
		t.Errorf("expected utterance 'how are you', got %q", got)
	}

	// Consumption must acknowledge the finalized slot.
	if _, ok := engine.Finalized(); ok {
		t.Error("expected finalized slot cleared after consumption")
	}
}

func TestBind_InactiveSession_LeavesUtterance(t *testing.T) {
	streamer := &fakeStreamer{}
	o := New(streamer, nil)
	o.SetActiveCheck(func() bool { return false })
	engine := segmenter.New(segmenter.Config{SilenceTimeout: time.Hour})
	defer engine.Close()
	o.Bind(engine)

	engine.HandleEvent(recognition.Event{Results: []recognition.Result{{
		Final:        true,
		Alternatives: []recognition.Alternative{{Transcript: "ignored "}},
	}}})
	engine.Flush()

	time.Sleep(20 * time.Millisecond)
	if len(o.Turns()) != 0 {
		t.Errorf("inactive session must not create turns, got %d", len(o.Turns()))
	}
	if _, ok := engine.Finalized(); !ok {
		t.Error("expected utterance left in place when not consumed")
	}
}

func TestClear_AbandonsInFlightStream(t *testing.T) {
	streamer := &fakeStreamer{}
	o := New(streamer, nil)

	o.BeginTurn("doomed question")
	ch := streamer.channel(t, 0)

	o.Clear()
	if len(o.Turns()) != 0 {
		t.Fatalf("expected empty log after clear, got %d", len(o.Turns()))
	}

	// Late fragments for the cleared turn must be ignored, not resurrect it.
	ch <- answer.Fragment{Text: "too late"}
	close(ch)

	time.Sleep(20 * time.Millisecond)
	if len(o.Turns()) != 0 {
		t.Errorf("cleared turn resurrected: %d turns", len(o.Turns()))
	}
}

func TestMultipleInFlightTurns_RoutedByID(t *testing.T) {
	streamer := &fakeStreamer{}
	o := New(streamer, nil)

	o.BeginTurn("first")
	o.BeginTurn("second")
	ch0 := streamer.channel(t, 0)
	ch1 := streamer.channel(t, 1)

	// Interleave fragments across the two streams.
	ch1 <- answer.Fragment{Text: "B1"}
	ch0 <- answer.Fragment{Text: "A1"}
	ch1 <- answer.Fragment{Text: "B2"}
	ch0 <- answer.Fragment{Text: "A2"}
	close(ch0)
	close(ch1)

	waitFor(t, func() bool {
		turns := o.Turns()
		return len(turns) == 2 && !turns[0].Processing && !turns[1].Processing
	})

	turns := o.Turns()
	if turns[0].Answer != "A1A2" {
		t.Errorf("first turn answer mixed up: %q", turns[0].Answer)
	}
	if turns[1].Answer != "B1B2" {
		t.Errorf("second turn answer mixed up: %q", turns[1].Answer)
	}
}

func TestTurns_ReturnsSnapshot(t *testing.T) {
	streamer := &fakeStreamer{}
	o := New(streamer, nil)

	o.BeginTurn("immutable view")
	snapshot := o.Turns()
	snapshot[0].Answer = "tampered"

	if got := o.Turns()[0].Answer; got == "tampered" {
		t.Error("snapshot mutation must not affect the log")
	}
}
