// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auto_analyzer_runs_total", Help: "Pipeline runs by final status.",
	}, []string{"status"})
	RunsInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auto_analyzer_runs_in_progress", Help: "Pipeline runs currently executing.",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auto_analyzer_stage_duration_seconds",
		Help:    "Wall time of a pipeline stage conversation.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"stage", "status"})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auto_analyzer_llm_requests_total", Help: "Model provider requests by outcome.",
	}, []string{"provider", "result"})

	CodeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auto_analyzer_code_executions_total", Help: "Agent-authored code blocks executed, by language and outcome.",
	}, []string{"language", "result"})

	ConversationTurns = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auto_analyzer_conversation_turns",
		Help:    "Assistant replies per stage conversation.",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	}, []string{"agent", "reason"})
)
