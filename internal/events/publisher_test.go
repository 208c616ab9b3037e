package events

import (
	"context"
	"testing"

	"voice-qa-gateway/internal/models"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerQuestion != nil {
				t.Error("expected nil question writer when disabled")
			}
			if p.writerAnswer != nil {
				t.Error("expected nil answer writer when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:       false,
		Brokers:       []string{"localhost:9092"},
		TopicQuestion: "test.question",
		TopicAnswer:   "test.answer",
		Principal:     "test-principal",
	}

	p := New(cfg)

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicQuestion != "test.question" {
		t.Errorf("expected question topic 'test.question', got %s", p.topicQuestion)
	}
	if p.topicAnswer != "test.answer" {
		t.Errorf("expected answer topic 'test.answer', got %s", p.topicAnswer)
	}
}

func TestPublisher_PublishQuestion_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	event := models.TurnQuestion{
		EventType: "conversation.turn.question",
		TurnID:    "turn-123",
		Utterance: "what time is it",
	}
	err := p.PublishQuestion(context.Background(), "turn-123", event)

	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishAnswer_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	event := models.TurnAnswer{
		EventType: "conversation.turn.answer",
		TurnID:    "turn-123",
		Utterance: "what time is it",
		Answer:    "half past three",
	}
	err := p.PublishAnswer(context.Background(), "turn-123", event)

	if err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishQuestion_InvalidEvent(t *testing.T) {
	p := New(&Config{Enabled: false})

	// Missing turn ID must be rejected before serialization.
	event := models.TurnQuestion{
		EventType: "conversation.turn.question",
		Utterance: "orphaned",
	}
	err := p.PublishQuestion(context.Background(), "key", event)

	if err == nil {
		t.Error("expected validation error for missing turn ID")
	}
}

func TestPublisher_PublishAnswer_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	// Create an unmarshalable value (channel)
	event := make(chan int)
	err := p.PublishAnswer(context.Background(), "test-key", event)

	if err == nil {
		t.Error("expected error for unmarshalable event")
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	err := p.Close()
	if err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}

func TestPublisher_Close_NilPublisher(t *testing.T) {
	p := &Publisher{
		writerQuestion: nil,
		writerAnswer:   nil,
	}

	err := p.Close()
	if err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}

func TestPublisher_PublishQuestion_ValidEvent(t *testing.T) {
	p := New(&Config{
		Enabled:       false,
		TopicQuestion: "test.question",
		Principal:     "test-svc",
	})

	event := models.TurnQuestion{
		EventType: "conversation.turn.question",
		TurnID:    "turn-123",
		Utterance: "hello world",
		Timestamp: 1700000000000,
	}

	err := p.PublishQuestion(context.Background(), "turn-123", event)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestPublisher_PublishAnswer_ValidEvent(t *testing.T) {
	p := New(&Config{
		Enabled:     false,
		TopicAnswer: "test.answer",
		Principal:   "test-svc",
	})

	event := models.TurnAnswer{
		EventType: "conversation.turn.answer",
		TurnID:    "turn-123",
		Utterance: "hello world",
		Answer:    "hi there",
		Timestamp: 1700000000000,
	}

	err := p.PublishAnswer(context.Background(), "turn-123", event)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
