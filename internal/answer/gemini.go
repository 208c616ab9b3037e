package answer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"voice-qa-gateway/internal/observability/metrics"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultModel is the fixed model identifier used unless overridden.
const DefaultModel = "gemini-2.5-flash"

// DefaultSystemInstruction is the persona applied to every request.
const DefaultSystemInstruction = "You are a helpful voice assistant. The user speaks their questions aloud; " +
	"answer directly and concisely in plain prose suitable for reading back."

// GeminiClient implements Streamer against the Gemini streamGenerateContent
// endpoint, consuming the response as server-sent events.
type GeminiClient struct {
	httpClient        *http.Client
	apiKey            string
	model             string
	baseURL           string
	systemInstruction string
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey            string
	Model             string // e.g. "gemini-2.5-flash"
	BaseURL           string // override for tests
	SystemInstruction string // optional custom persona
}

// NewGeminiClient creates a new Gemini streaming client.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	systemInstruction := cfg.SystemInstruction
	if systemInstruction == "" {
		systemInstruction = DefaultSystemInstruction
	}
	return &GeminiClient{
		httpClient:        &http.Client{},
		apiKey:            cfg.APIKey,
		model:             model,
		baseURL:           baseURL,
		systemInstruction: systemInstruction,
	}
}

var (
	sharedOnce sync.Once
	shared     *GeminiClient
	sharedErr  error
)

// Shared returns the process-wide client, resolving the service credential
// from the environment on first use. Fails immediately when the key is
// absent; the outcome is cached for the life of the process.
func Shared() (*GeminiClient, error) {
	sharedOnce.Do(func() {
		key := os.Getenv("GEMINI_API_KEY")
		if key == "" {
			sharedErr = ErrMissingCredential
			return
		}
		shared = NewGeminiClient(GeminiConfig{
			APIKey:            key,
			Model:             os.Getenv("ANSWER_MODEL"),
			SystemInstruction: os.Getenv("ANSWER_SYSTEM_INSTRUCTION"),
		})
	})
	return shared, sharedErr
}

type generatePart struct {
	Text string `json:"text"`
}

type generateContent struct {
	Role  string         `json:"role,omitempty"`
	Parts []generatePart `json:"parts"`
}

type generateRequest struct {
	SystemInstruction *generateContent  `json:"systemInstruction,omitempty"`
	Contents          []generateContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []generatePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// StreamAnswer streams the generated answer for one question. Fragments are
// delivered in order on the returned channel; a mid-stream failure delivers a
// terminal Fragment carrying the error after any text already sent.
func (c *GeminiClient) StreamAnswer(ctx context.Context, question string) (<-chan Fragment, error) {
	if c.apiKey == "" {
		return nil, ErrMissingCredential
	}

	reqBody := generateRequest{
		SystemInstruction: &generateContent{
			Parts: []generatePart{{Text: c.systemInstruction}},
		},
		Contents: []generateContent{
			{Role: "user", Parts: []generatePart{{Text: question}}},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("answer service unreachable: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("answer service error: %s - %s", resp.Status, string(respBody))
	}

	ch := make(chan Fragment, 100)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		m := metrics.DefaultMetrics
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")

			var streamResp generateResponse
			if err := json.Unmarshal([]byte(data), &streamResp); err != nil {
				continue
			}
			for _, cand := range streamResp.Candidates {
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					m.AnswerFragments.Inc()
					select {
					case <-ctx.Done():
						ch <- Fragment{Err: fmt.Errorf("answer stream cancelled: %w", ctx.Err())}
						return
					case ch <- Fragment{Text: part.Text}:
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- Fragment{Err: fmt.Errorf("answer stream failed: %w", err)}
		}
	}()

	return ch, nil
}
