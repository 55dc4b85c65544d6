// Package metrics exposes Prometheus instrumentation for the message store,
// the processing engine, and subscribers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesWritten counts successful appends by message type.
	MessagesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weft",
		Subsystem: "store",
		Name:      "messages_written_total",
		Help:      "Messages appended to the store, by message type.",
	}, []string{"type"})

	// WriteConflicts counts expected-version failures.
	WriteConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "weft",
		Subsystem: "store",
		Name:      "write_conflicts_total",
		Help:      "Appends rejected by an expected-version mismatch.",
	})

	// MessagesRead counts messages returned by stream and category reads.
	MessagesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weft",
		Subsystem: "store",
		Name:      "messages_read_total",
		Help:      "Messages returned by reads, by read kind (stream, category).",
	}, []string{"kind"})

	// LLMCalls counts LLM invocations by outcome (success, failure).
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weft",
		Subsystem: "engine",
		Name:      "llm_calls_total",
		Help:      "LLM invocations, by outcome.",
	}, []string{"outcome"})

	// LLMCallDuration observes LLM call latency in seconds.
	LLMCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "weft",
		Subsystem: "engine",
		Name:      "llm_call_duration_seconds",
		Help:      "Wall-clock latency of LLM calls.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// ToolExecutions counts tool runs by tool name and outcome.
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weft",
		Subsystem: "engine",
		Name:      "tool_executions_total",
		Help:      "Tool executions, by tool and outcome.",
	}, []string{"tool", "outcome"})

	// EngineIterations counts processing-loop iterations by decided step.
	EngineIterations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weft",
		Subsystem: "engine",
		Name:      "iterations_total",
		Help:      "Processing loop iterations, by decided step.",
	}, []string{"step"})

	// SubscriberMessages counts messages dispatched to handlers.
	SubscriberMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weft",
		Subsystem: "subscriber",
		Name:      "messages_processed_total",
		Help:      "Messages dispatched to subscriber handlers, by subscriber id.",
	}, []string{"subscriber"})

	// SubscriberLag gauges how far a subscriber's cursor has run ahead of
	// its last checkpoint. Nonzero values bound the re-delivery window after
	// a crash.
	SubscriberLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "weft",
		Subsystem: "subscriber",
		Name:      "cursor_lag",
		Help:      "Global positions processed since the cursor was last persisted.",
	}, []string{"subscriber"})
)
