// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// CompletionAttemptDuration tracks the duration of single upstream attempts.
	CompletionAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_attempt_duration_seconds",
			Help:    "Upstream completion attempt duration",
			Buckets: []float64{.25, .5, 1, 2, 4, 8, 12, 15, 20, 25},
		},
		[]string{"provider", "result"},
	)

	// CompletionAttemptsTotal counts upstream attempts by credential and result kind.
	CompletionAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_attempts_total",
			Help: "Total upstream completion attempts",
		},
		[]string{"provider", "credential", "result"},
	)

	// CompletionOutcomesTotal counts final outcomes returned to callers.
	CompletionOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_outcomes_total",
			Help: "Total completion outcomes by kind",
		},
		[]string{"kind"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// CannedRepliesTotal counts replies answered by the local responder.
	CannedRepliesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canned_replies_total",
			Help: "Replies served without contacting the upstream API",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordAttempt records metrics for one upstream attempt.
func RecordAttempt(provider, credential, result string, duration float64) {
	CompletionAttemptDuration.WithLabelValues(provider, result).Observe(duration)
	CompletionAttemptsTotal.WithLabelValues(provider, credential, result).Inc()
}

// RecordOutcome records the final outcome of a completion call.
func RecordOutcome(kind string) {
	CompletionOutcomesTotal.WithLabelValues(kind).Inc()
}

// RecordTokens records token usage for a successful completion.
func RecordTokens(model string, tokensIn, tokensOut int) {
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}
