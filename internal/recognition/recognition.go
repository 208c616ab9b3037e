// Package recognition defines the contract between the session layer and a
// continuous speech-recognition capability. Providers wrap a concrete backend
// (scripted mock, Google Cloud Speech) behind a thin control surface; no retry
// or segmentation logic lives here.
package recognition

import "errors"

// Alternative is one transcript hypothesis for a result slot.
type Alternative struct {
	Transcript string
	Confidence float64
}

// Result is a single result slot: interim (provisional, may change) or final
// (locked transcript for that slot).
type Result struct {
	Final        bool
	Alternatives []Alternative
}

// Event is one batch of result slots delivered by the recognition source.
// Results holds every slot known for the current session; ResultIndex is the
// index of the first slot that is new since the previous event.
type Event struct {
	ResultIndex int
	Results     []Result
}

// ErrorCode classifies recognition errors delivered through Hooks.OnError.
// The values mirror the codes continuous recognition backends report.
type ErrorCode string

const (
	CodeNoSpeech          ErrorCode = "no-speech"
	CodeAborted           ErrorCode = "aborted"
	CodeAudioCapture      ErrorCode = "audio-capture"
	CodeNetwork           ErrorCode = "network"
	CodeNotAllowed        ErrorCode = "not-allowed"
	CodeServiceNotAllowed ErrorCode = "service-not-allowed"
)

var (
	// ErrUnavailable is returned by Acquire when no continuous
	// speech-recognition capability exists in the runtime environment.
	ErrUnavailable = errors.New("continuous speech recognition not supported")

	// ErrAlreadyActive is returned by Start when a session is already
	// running on the handle. Callers treat start as idempotent.
	ErrAlreadyActive = errors.New("recognition session already active")

	// ErrAborted reports that the session was torn down deliberately.
	ErrAborted = errors.New("recognition session aborted")
)

// Hooks carries the callbacks a handle invokes over its lifetime.
// Callbacks are serialized per handle: at most one fires at a time.
type Hooks struct {
	OnStart func()
	OnEvent func(Event)
	OnError func(code ErrorCode, err error)
	OnEnd   func()
}

// Config selects the recognition mode for a session.
type Config struct {
	Continuous     bool
	InterimResults bool
	Language       string
}

// Handle is the control surface of one acquired recognition source.
// Exactly one session runs per handle at a time; Start may be called again
// after the end callback to open the next session.
type Handle interface {
	Configure(Config)
	Start() error
	Stop()
	Abort()
}

// AudioSink is implemented by handles that consume externally captured audio
// (the google provider). Handles that synthesize their own events (mock) do
// not implement it.
type AudioSink interface {
	FeedAudio(audio []byte) error
}

// Provider locates a recognition capability and binds callbacks to it.
type Provider interface {
	// Acquire returns a handle wired to the given hooks, or ErrUnavailable
	// when the capability cannot be located.
	Acquire(hooks Hooks) (Handle, error)
}
