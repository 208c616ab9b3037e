// Package config loads service configuration from environment variables.
// Invalid values fall back to their defaults rather than failing startup.
package config

import (
	"os"
	"strconv"
	"time"
)

// Configuration is the full runtime configuration of the gateway.
type Configuration struct {
	Service       ServiceConfig
	Recognition   RecognitionConfig
	Segmenter     SegmenterConfig
	Answer        AnswerConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig identifies the service and its listening ports.
type ServiceConfig struct {
	Principal   string
	GRPCPort    string
	HTTPPort    string
	MetricsPort string
}

// RecognitionConfig selects and tunes the speech-recognition provider.
type RecognitionConfig struct {
	Provider       string // "mock" or "google"
	Language       string
	InterimResults bool
	Continuous     bool
}

// SegmenterConfig tunes utterance segmentation.
type SegmenterConfig struct {
	SilenceTimeout time.Duration
}

// AnswerConfig tunes the answer-generation client. The API key is read
// directly by the answer package so it never sits in a config snapshot.
type AnswerConfig struct {
	Model             string
	SystemInstruction string
	BaseURL           string
}

// KafkaConfig configures conversation event publishing.
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicQuestion string
	TopicAnswer   string
	Principal     string
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	LogLevel string
}

// Load reads configuration from the environment.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-qa-gateway")

	return &Configuration{
		Service: ServiceConfig{
			Principal:   principal,
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		Recognition: RecognitionConfig{
			Provider:       envOrDefault("RECOGNITION_PROVIDER", "mock"),
			Language:       envOrDefault("RECOGNITION_LANGUAGE", "en-US"),
			InterimResults: envOrDefaultBool("RECOGNITION_INTERIM_RESULTS", true),
			Continuous:     envOrDefaultBool("RECOGNITION_CONTINUOUS", true),
		},
		Segmenter: SegmenterConfig{
			SilenceTimeout: envOrDefaultMillis("SILENCE_TIMEOUT_MS", 1500*time.Millisecond),
		},
		Answer: AnswerConfig{
			Model:             envOrDefault("ANSWER_MODEL", "gemini-2.5-flash"),
			SystemInstruction: os.Getenv("ANSWER_SYSTEM_INSTRUCTION"),
			BaseURL:           os.Getenv("ANSWER_BASE_URL"),
		},
		Kafka: KafkaConfig{
			Enabled:       envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:       []string{envOrDefault("KAFKA_BROKER", "localhost:9092")},
			TopicQuestion: envOrDefault("KAFKA_TOPIC_QUESTION", "conversation.turn.question"),
			TopicAnswer:   envOrDefault("KAFKA_TOPIC_ANSWER", "conversation.turn.answer"),
			Principal:     envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel: envOrDefault("LOG_LEVEL", "info"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultMillis(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
