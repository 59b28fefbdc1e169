package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compass-investigate/compass/internal/backends"
	"github.com/compass-investigate/compass/internal/cerrors"
	"github.com/compass-investigate/compass/internal/investigation"
	"github.com/compass-investigate/compass/internal/metrics"
	"github.com/compass-investigate/compass/internal/observation"
)

func emptyObservation() observation.Observation {
	return observation.Observation{Data: map[string]any{}}
}

type fakeMetricBackend struct {
	samples []backends.Sample
	err     error
}

func (f *fakeMetricBackend) Query(ctx context.Context, expr string, start, end int64) ([]backends.Sample, error) {
	return f.samples, f.err
}

type fakeLogBackend struct {
	entries []backends.LogEntry
	err     error
}

func (f *fakeLogBackend) QueryRange(ctx context.Context, expr string, start, end int64, limit int) ([]backends.LogEntry, error) {
	return f.entries, f.err
}

type fakeTraceBackend struct {
	traces []backends.TraceSummary
	err    error
}

func (f *fakeTraceBackend) Query(ctx context.Context, expr string, start, end int64, limit int) ([]backends.TraceSummary, error) {
	return f.traces, f.err
}

func newInv() *investigation.Investigation {
	return investigation.New(investigation.Context{Service: "checkout", Symptom: "errors"}, 10.0)
}

func newTestMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	t.Cleanup(m.Unregister)
	return m
}

func TestDatabaseWorkerObserveReportsPartialConfidenceOnBackendFailure(t *testing.T) {
	m := newTestMetrics(t)
	metricBE := &fakeMetricBackend{samples: []backends.Sample{{Labels: map[string]string{"state": "used"}, Value: 95}, {Labels: map[string]string{"state": "max"}, Value: 100}}}
	logBE := &fakeLogBackend{err: errors.New("loki unavailable")}
	w := NewDatabaseWorker(metricBE, logBE, nil, m)

	inv := newInv()
	obs, err := w.Observe(context.Background(), inv)

	require.NoError(t, err)
	assert.Equal(t, "database", obs.WorkerID)
	assert.InDelta(t, 0.5, obs.Confidence, 0.001)
	assert.Contains(t, obs.Data, "metrics")
	assert.NotContains(t, obs.Data, "logs")
}

func TestDatabaseWorkerGenerateHypothesesDetectsPoolExhaustion(t *testing.T) {
	m := newTestMetrics(t)
	w := NewDatabaseWorker(&fakeMetricBackend{}, &fakeLogBackend{}, nil, m)

	obs, err := w.Observe(context.Background(), newInv())
	require.NoError(t, err)
	obs.Data["metrics"] = []backends.Sample{
		{Labels: map[string]string{"state": "used"}, Value: 95},
		{Labels: map[string]string{"state": "max"}, Value: 100},
	}

	hyps, err := w.GenerateHypotheses(context.Background(), obs, newInv())
	require.NoError(t, err)
	require.Len(t, hyps, 1)
	assert.Contains(t, hyps[0].Statement, "connection pool is exhausted")
	assert.Equal(t, "database", hyps[0].AgentID)
	assert.Len(t, hyps[0].SupportingEvidence, 1)
}

func TestDatabaseWorkerGenerateHypothesesDetectsSlowQueries(t *testing.T) {
	m := newTestMetrics(t)
	w := NewDatabaseWorker(&fakeMetricBackend{}, &fakeLogBackend{}, nil, m)

	obs, err := w.Observe(context.Background(), newInv())
	require.NoError(t, err)
	obs.Data["logs"] = []backends.LogEntry{
		{Line: "slow query detected: SELECT * FROM orders"},
		{Line: "statement timeout exceeded"},
	}

	hyps, err := w.GenerateHypotheses(context.Background(), obs, newInv())
	require.NoError(t, err)
	require.Len(t, hyps, 1)
	assert.Contains(t, hyps[0].Statement, "query latency")
}

func TestDatabaseWorkerGenerateHypothesesReturnsNoneWhenBelowThreshold(t *testing.T) {
	m := newTestMetrics(t)
	w := NewDatabaseWorker(&fakeMetricBackend{}, &fakeLogBackend{}, nil, m)

	obs, err := w.Observe(context.Background(), newInv())
	require.NoError(t, err)
	obs.Data["metrics"] = []backends.Sample{
		{Labels: map[string]string{"state": "used"}, Value: 10},
		{Labels: map[string]string{"state": "max"}, Value: 100},
	}

	hyps, err := w.GenerateHypotheses(context.Background(), obs, newInv())
	require.NoError(t, err)
	assert.Empty(t, hyps)
}

func TestDatabaseWorkerObserveRecordsPoolMetrics(t *testing.T) {
	m := newTestMetrics(t)
	metricBE := &fakeMetricBackend{samples: []backends.Sample{
		{Labels: map[string]string{"state": "used"}, Value: 1},
		{Labels: map[string]string{"state": "used"}, Value: 1},
	}}
	w := NewDatabaseWorker(metricBE, &fakeLogBackend{}, nil, m)

	inv := newInv()
	_, err := w.Observe(context.Background(), inv)
	require.NoError(t, err)
}

func TestNetworkWorkerDetectsDNSIssue(t *testing.T) {
	m := newTestMetrics(t)
	w := NewNetworkWorker(&fakeMetricBackend{}, &fakeLogBackend{}, &fakeTraceBackend{}, m)

	obs, err := w.Observe(context.Background(), newInv())
	require.NoError(t, err)
	obs.Data["metrics"] = []backends.Sample{{Value: 1.5}} // 1500ms

	hyps, err := w.GenerateHypotheses(context.Background(), obs, newInv())
	require.NoError(t, err)
	require.Len(t, hyps, 1)
	assert.Contains(t, hyps[0].Statement, "DNS resolution")
}

func TestNetworkWorkerDetectsConnectionExhaustion(t *testing.T) {
	m := newTestMetrics(t)
	w := NewNetworkWorker(&fakeMetricBackend{}, &fakeLogBackend{}, &fakeTraceBackend{}, m)

	obs, err := w.Observe(context.Background(), newInv())
	require.NoError(t, err)
	entries := make([]backends.LogEntry, 0, 12)
	for i := 0; i < 12; i++ {
		entries = append(entries, backends.LogEntry{Line: "connection refused by upstream"})
	}
	obs.Data["logs"] = entries

	hyps, err := w.GenerateHypotheses(context.Background(), obs, newInv())
	require.NoError(t, err)
	require.Len(t, hyps, 1)
	assert.Contains(t, hyps[0].Statement, "connection exhaustion")
}

func TestApplicationWorkerDetectsDeploymentCorrelation(t *testing.T) {
	m := newTestMetrics(t)
	w := NewApplicationWorker(&fakeMetricBackend{}, &fakeLogBackend{}, &fakeTraceBackend{}, m)

	obs, err := w.Observe(context.Background(), newInv())
	require.NoError(t, err)
	obs.Data["logs"] = []backends.LogEntry{
		{Line: "deploy v1.2.3 rolled out"},
		{Line: "panic: nil pointer dereference"},
	}

	hyps, err := w.GenerateHypotheses(context.Background(), obs, newInv())
	require.NoError(t, err)
	require.Len(t, hyps, 1)
	assert.Contains(t, hyps[0].Statement, "deployment")
}

func TestApplicationWorkerDetectsDependencyFailure(t *testing.T) {
	m := newTestMetrics(t)
	w := NewApplicationWorker(&fakeMetricBackend{}, &fakeLogBackend{}, &fakeTraceBackend{}, m)

	obs, err := w.Observe(context.Background(), newInv())
	require.NoError(t, err)
	obs.Data["traces"] = []backends.TraceSummary{
		{DurationMS: 1500}, {DurationMS: 1800},
	}

	hyps, err := w.GenerateHypotheses(context.Background(), obs, newInv())
	require.NoError(t, err)
	require.Len(t, hyps, 1)
	assert.Contains(t, hyps[0].Statement, "dependency failure")
}

func TestWorkerGenerateHypothesesPropagatesCancellation(t *testing.T) {
	m := newTestMetrics(t)
	w := NewDatabaseWorker(&fakeMetricBackend{}, &fakeLogBackend{}, nil, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.GenerateHypotheses(ctx, emptyObservation(), newInv())
	require.Error(t, err)
	assert.True(t, cerrors.Is(err, cerrors.KindCancellation))
}
