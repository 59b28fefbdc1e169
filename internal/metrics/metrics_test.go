package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	t.Cleanup(m.Unregister)
	return m
}

func TestConfidenceTierBuckets(t *testing.T) {
	assert.Equal(t, "high", confidenceTier(0.85))
	assert.Equal(t, "high", confidenceTier(0.8))
	assert.Equal(t, "medium", confidenceTier(0.65))
	assert.Equal(t, "medium", confidenceTier(0.5))
	assert.Equal(t, "low", confidenceTier(0.3))
}

func TestCircuitBreakerStateValueMapping(t *testing.T) {
	assert.Equal(t, 0.0, circuitBreakerStateValue("closed"))
	assert.Equal(t, 1.0, circuitBreakerStateValue("half_open"))
	assert.Equal(t, 2.0, circuitBreakerStateValue("open"))
}

func TestTrackInvestigationStartedIncrementsCounter(t *testing.T) {
	m := newTestMetrics(t)
	m.TrackInvestigationStarted("database", "critical")

	v := testutil.ToFloat64(m.InvestigationsTotal.WithLabelValues("database", "critical", "started"))
	assert.Equal(t, 1.0, v)
}

func TestTrackInvestigationCompletedRecordsAllThreeCollectors(t *testing.T) {
	m := newTestMetrics(t)
	m.TrackInvestigationCompleted("network", "routine", 120.5, 0.75, "resolved")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvestigationsTotal.WithLabelValues("network", "routine", "resolved")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.InvestigationDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.InvestigationCost))
}

func TestTrackHypothesisGeneratedBucketsByConfidence(t *testing.T) {
	m := newTestMetrics(t)
	m.TrackHypothesisGenerated("database", 0.85)
	m.TrackHypothesisGenerated("network", 0.65)
	m.TrackHypothesisGenerated("application", 0.3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HypothesesGenerated.WithLabelValues("database", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HypothesesGenerated.WithLabelValues("network", "medium")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HypothesesGenerated.WithLabelValues("application", "low")))
}

func TestTrackAgentCallRecordsCounterAndLatency(t *testing.T) {
	m := newTestMetrics(t)
	m.TrackAgentCall("database", "observe", 1.5, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentCallsTotal.WithLabelValues("database", "observe", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AgentLatency))
}

func TestTrackAgentCallRecordsFailureStatus(t *testing.T) {
	m := newTestMetrics(t)
	m.TrackAgentCall("network", "observe", 0.2, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentCallsTotal.WithLabelValues("network", "observe", "failure")))
}

func TestTrackHumanDecisionLabelsAgreementAndConfidence(t *testing.T) {
	m := newTestMetrics(t)
	m.TrackHumanDecision("hypothesis_selection", 45.0, 80, true)

	assert.Equal(t, 1, testutil.CollectAndCount(m.HumanDecisionDuration))
}

func TestTrackCacheOperationHitAndMiss(t *testing.T) {
	m := newTestMetrics(t)
	m.TrackCacheOperation("hypothesis", true)
	m.TrackCacheOperation("evidence", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheOperations.WithLabelValues("hypothesis", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheOperations.WithLabelValues("evidence", "miss")))
}

func TestTrackCircuitBreakerStateSetsGaugeValue(t *testing.T) {
	m := newTestMetrics(t)
	m.TrackCircuitBreakerState("backends", "prometheus", "open")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("backends", "prometheus")))
}

func TestTrackExternalAPICallRecordsErrorOnlyOnFailure(t *testing.T) {
	m := newTestMetrics(t)
	m.TrackExternalAPICall("anthropic", "/v1/messages", 0.8, true, "")
	assert.Equal(t, 0, testutil.CollectAndCount(m.ExternalAPIErrorsTotal))

	m.TrackExternalAPICall("anthropic", "/v1/messages", 2.0, false, "rate_limit")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExternalAPIErrorsTotal.WithLabelValues("anthropic", "rate_limit")))
}

func TestTrackDBPoolStatsSetsBothGauges(t *testing.T) {
	m := newTestMetrics(t)
	m.TrackDBPoolStats("compass_primary", 20, 15)

	assert.Equal(t, 20.0, testutil.ToFloat64(m.DBPoolSize.WithLabelValues("compass_primary")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.DBPoolActive.WithLabelValues("compass_primary")))
}

func TestNewMetricsRegistersAllCollectorsWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() {
		m := NewMetrics(reg)
		m.Unregister()
	})
}
