// Package metrics holds the Prometheus collectors of the agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agent"

var (
	// TurnsTotal counts finished turns. Labels: status (completed, cancelled, failed, conflict)
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Total agent turns by terminal status",
	}, []string{"status"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_duration_seconds",
		Help:      "Wall time of one agent turn in seconds",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	// ToolCallsTotal counts tool invocations. Labels: tool, result (success or an error code)
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Total tool calls by tool and result",
	}, []string{"tool", "result"})

	// CompactionsTotal counts persisted compactions. Labels: reason
	CompactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compactions_total",
		Help:      "Total conversation compactions by trigger reason",
	}, []string{"reason"})

	// RetrievalTotal counts retrieval passes. Labels: mode (embedding, lexical, none)
	RetrievalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrieval_total",
		Help:      "Total document retrievals by the mode that produced the context",
	}, []string{"mode"})
)
