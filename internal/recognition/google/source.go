// Package google provides a Google Cloud Speech-to-Text recognition provider.
package google

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"github.com/rs/zerolog"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voice-qa-gateway/internal/observability/logging"
	"voice-qa-gateway/internal/recognition"
)

const sampleRateHertz = 16000

// Provider acquires streaming recognition handles backed by Google Cloud
// Speech-to-Text.
type Provider struct{}

// NewProvider returns a Google recognition provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Acquire reports recognition.ErrUnavailable when no Google credentials are
// configured, so callers can fall back or surface a capability error.
func (p *Provider) Acquire(hooks recognition.Hooks) (recognition.Handle, error) {
	if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		return nil, recognition.ErrUnavailable
	}
	return &handle{
		hooks: hooks,
		log:   logging.WithProvider("recognition", "google"),
	}, nil
}

type handle struct {
	hooks recognition.Hooks
	log   zerolog.Logger

	mu     sync.Mutex
	cfg    recognition.Config
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	cancel context.CancelFunc
	active bool
}

func (h *handle) Configure(cfg recognition.Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

// Start opens a streaming session and sends the initial config message.
func (h *handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active {
		return recognition.ErrAlreadyActive
	}

	ctx, cancel := context.WithCancel(context.Background())
	if h.client == nil {
		c, err := speech.NewClient(ctx)
		if err != nil {
			cancel()
			return err
		}
		h.client = c
	}

	stream, err := h.client.StreamingRecognize(ctx)
	if err != nil {
		cancel()
		return err
	}

	lang := h.cfg.Language
	if lang == "" {
		lang = "en-US"
	}

	// Streaming config must be the first message on the stream.
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: sampleRateHertz,
					LanguageCode:    lang,
				},
				InterimResults: h.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		cancel()
		return err
	}

	h.stream = stream
	h.cancel = cancel
	h.active = true
	h.log.Info().Str("language", lang).Bool("interim", h.cfg.InterimResults).Msg("streaming recognition session opened")
	go h.listen(stream)
	if h.hooks.OnStart != nil {
		h.hooks.OnStart()
	}
	return nil
}

// Stop half-closes the stream so buffered audio is still recognized before
// the backend ends the session.
func (h *handle) Stop() {
	h.mu.Lock()
	stream := h.stream
	h.mu.Unlock()
	if stream != nil {
		_ = stream.CloseSend()
	}
}

// Abort tears the stream down without waiting for pending results.
func (h *handle) Abort() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// FeedAudio sends raw audio bytes into the active stream. Audio fed outside
// an active session is dropped.
func (h *handle) FeedAudio(audio []byte) error {
	h.mu.Lock()
	stream := h.stream
	active := h.active
	h.mu.Unlock()
	if !active || stream == nil {
		return nil
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// listen receives responses until the stream ends, translating each batch
// into a recognition event. Google only resends changed results, so every
// batch starts at index zero of its own result list.
func (h *handle) listen(stream speechpb.Speech_StreamingRecognizeClient) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			h.finish(err)
			return
		}

		results := make([]recognition.Result, 0, len(resp.Results))
		for _, r := range resp.Results {
			alts := make([]recognition.Alternative, 0, len(r.Alternatives))
			for _, a := range r.Alternatives {
				alts = append(alts, recognition.Alternative{
					Transcript: a.Transcript,
					Confidence: float64(a.Confidence),
				})
			}
			results = append(results, recognition.Result{
				Final:        r.IsFinal,
				Alternatives: alts,
			})
		}
		if len(results) > 0 && h.hooks.OnEvent != nil {
			h.hooks.OnEvent(recognition.Event{ResultIndex: 0, Results: results})
		}
	}
}

func (h *handle) finish(err error) {
	h.mu.Lock()
	h.active = false
	h.stream = nil
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if err != nil && !errors.Is(err, io.EOF) {
		if code := classify(err); code != "" {
			h.log.Warn().Str("code", string(code)).Err(err).Msg("streaming recognition session failed")
			if h.hooks.OnError != nil {
				h.hooks.OnError(code, err)
			}
		}
	}
	if h.hooks.OnEnd != nil {
		h.hooks.OnEnd()
	}
}

// classify maps transport errors onto recognition error codes. Cancellation
// is a deliberate teardown and reports nothing.
func classify(err error) recognition.ErrorCode {
	s, ok := status.FromError(err)
	if !ok {
		return recognition.CodeNetwork
	}
	switch s.Code() {
	case codes.Canceled:
		return ""
	case codes.PermissionDenied, codes.Unauthenticated:
		return recognition.CodeServiceNotAllowed
	case codes.Unavailable, codes.DeadlineExceeded:
		return recognition.CodeNetwork
	case codes.Aborted:
		return recognition.CodeAborted
	default:
		return recognition.CodeNetwork
	}
}
