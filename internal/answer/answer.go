// Package answer streams generated answers for finalized utterances from a
// generative-language API.
package answer

import (
	"context"
	"errors"
)

// Fragment is one incremental chunk of a streamed answer. A Fragment with a
// non-nil Err terminates the stream; text already delivered is not retracted.
type Fragment struct {
	Text string
	Err  error
}

// Streamer exposes the single streaming call the rest of the system depends
// on. The returned channel is closed when the underlying service signals
// completion; the sequence is not restartable.
type Streamer interface {
	StreamAnswer(ctx context.Context, question string) (<-chan Fragment, error)
}

// ErrMissingCredential is returned when no API key is configured.
var ErrMissingCredential = errors.New("GEMINI_API_KEY not set")

// lazyStreamer defers credential resolution to the first streaming call, so
// the process can come up without a key and fail per-turn instead.
type lazyStreamer struct{}

// Lazy returns a Streamer backed by the shared client, resolved on first use.
func Lazy() Streamer {
	return lazyStreamer{}
}

func (lazyStreamer) StreamAnswer(ctx context.Context, question string) (<-chan Fragment, error) {
	c, err := Shared()
	if err != nil {
		return nil, err
	}
	return c.StreamAnswer(ctx, question)
}
