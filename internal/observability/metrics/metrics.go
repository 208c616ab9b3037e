// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_qa"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Recognition metrics
	RecognitionEvents   prometheus.Counter
	RecognitionErrors   *prometheus.CounterVec
	RecognitionRestarts prometheus.Counter

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge

	// Utterance metrics
	UtterancesFinalized  prometheus.Counter
	UtterancesDiscarded  prometheus.Counter
	FinalizedOverwritten prometheus.Counter

	// Turn / answer-stream metrics
	TurnsCreated         prometheus.Counter
	TurnsCompleted       prometheus.Counter
	TurnsFailed          prometheus.Counter
	AnswerFragments      prometheus.Counter
	AnswerStreamDuration prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RecognitionEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_events_total",
			Help:      "Total number of recognition result batches received",
		}),
		RecognitionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Total number of recognition errors by code",
		}, []string{"code"}),
		RecognitionRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_restarts_total",
			Help:      "Total number of automatic session restarts after unsolicited ends",
		}),

		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of listening sessions started by a caller",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active listening sessions",
		}),

		UtterancesFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_finalized_total",
			Help:      "Total number of utterances finalized by the segmentation engine",
		}),
		UtterancesDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_discarded_total",
			Help:      "Total number of finalizations discarded because the text trimmed to empty",
		}),
		FinalizedOverwritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalized_overwritten_total",
			Help:      "Total number of finalized utterances overwritten before consumption",
		}),

		TurnsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_created_total",
			Help:      "Total number of conversation turns created",
		}),
		TurnsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_completed_total",
			Help:      "Total number of turns whose answer stream completed",
		}),
		TurnsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_failed_total",
			Help:      "Total number of turns whose answer stream ended in error",
		}),
		AnswerFragments: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_fragments_total",
			Help:      "Total number of answer text fragments received",
		}),
		AnswerStreamDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_stream_duration_seconds",
			Help:      "Duration of answer streams in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordRecognitionError records a recognition error by code.
func (m *Metrics) RecordRecognitionError(code string) {
	m.RecognitionErrors.WithLabelValues(code).Inc()
}

// RecordSessionStart records a caller-initiated session start.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session leaving the listening state.
func (m *Metrics) RecordSessionEnd() {
	m.SessionsActive.Dec()
}

// RecordUtteranceFinalized records one finalized utterance.
func (m *Metrics) RecordUtteranceFinalized() {
	m.UtterancesFinalized.Inc()
}

// RecordUtteranceDiscarded records a finalization that trimmed to empty.
func (m *Metrics) RecordUtteranceDiscarded() {
	m.UtterancesDiscarded.Inc()
}

// RecordTurnEnd records a turn reaching its terminal state.
func (m *Metrics) RecordTurnEnd(failed bool, durationSeconds float64) {
	m.AnswerStreamDuration.Observe(durationSeconds)
	if failed {
		m.TurnsFailed.Inc()
	} else {
		m.TurnsCompleted.Inc()
	}
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
