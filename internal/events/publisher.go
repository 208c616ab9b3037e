// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voice-qa-gateway/internal/observability/metrics"
	"voice-qa-gateway/internal/schema"
)

// Publisher publishes conversation turn events to separate Kafka topics.
type Publisher struct {
	writerQuestion *kafka.Writer
	writerAnswer   *kafka.Writer
	validator      *schema.Validator
	principal      string
	topicQuestion  string
	topicAnswer    string
	enabled        bool
	metrics        *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicQuestion string
	TopicAnswer   string
	Principal     string
	Enabled       bool
}

// New creates a new Kafka event publisher with separate topics for turn
// questions and completed answers.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics
	v := schema.New()

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled:   false,
			validator: v,
			metrics:   m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:     cfg.Principal,
			topicQuestion: cfg.TopicQuestion,
			topicAnswer:   cfg.TopicAnswer,
			enabled:       false,
			validator:     v,
			metrics:       m,
		}
	}

	// Longer dial timeouts for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerQuestion := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicQuestion,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	writerAnswer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicAnswer,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicQuestion", cfg.TopicQuestion).
		Str("topicAnswer", cfg.TopicAnswer).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerQuestion: writerQuestion,
		writerAnswer:   writerAnswer,
		validator:      v,
		principal:      cfg.Principal,
		topicQuestion:  cfg.TopicQuestion,
		topicAnswer:    cfg.TopicAnswer,
		enabled:        true,
		metrics:        m,
	}
}

// PublishQuestion publishes a turn-question event to the question topic.
func (p *Publisher) PublishQuestion(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerQuestion, p.topicQuestion, "question", key, event)
}

// PublishAnswer publishes a turn-answer event to the answer topic.
func (p *Publisher) PublishAnswer(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerAnswer, p.topicAnswer, "answer", key, event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	if err := p.validator.Validate(event); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Event failed validation")
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(topic)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerQuestion != nil {
		if e := p.writerQuestion.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing question writer")
			err = e
		}
	}
	if p.writerAnswer != nil {
		if e := p.writerAnswer.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing answer writer")
			err = e
		}
	}
	return err
}
