package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAttempt(t *testing.T) {
	before := testutil.ToFloat64(CompletionAttemptsTotal.WithLabelValues("openai", "primary", "timeout"))

	RecordAttempt("openai", "primary", "timeout", 8)

	after := testutil.ToFloat64(CompletionAttemptsTotal.WithLabelValues("openai", "primary", "timeout"))
	assert.Equal(t, before+1, after)
}

func TestRecordOutcome(t *testing.T) {
	before := testutil.ToFloat64(CompletionOutcomesTotal.WithLabelValues("rate_limited"))

	RecordOutcome("rate_limited")
	RecordOutcome("rate_limited")

	assert.Equal(t, before+2, testutil.ToFloat64(CompletionOutcomesTotal.WithLabelValues("rate_limited")))
}

func TestRecordTokens(t *testing.T) {
	RecordTokens("m", 10, 5)

	assert.GreaterOrEqual(t, testutil.ToFloat64(LLMTokensTotal.WithLabelValues("m", "in")), float64(10))
	assert.GreaterOrEqual(t, testutil.ToFloat64(LLMTokensTotal.WithLabelValues("m", "out")), float64(5))
}
