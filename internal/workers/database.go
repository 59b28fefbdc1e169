package workers

import (
	"context"

	"github.com/compass-investigate/compass/internal/backends"
	"github.com/compass-investigate/compass/internal/investigation"
	"github.com/compass-investigate/compass/internal/metrics"
	"github.com/compass-investigate/compass/internal/observation"
	"github.com/compass-investigate/compass/internal/scientific"
)

// Database thresholds, grounded on the same domain expertise the
// original database specialist encoded in its hypothesis detectors:
// connection-pool saturation and elevated query latency are the two
// signals that most reliably indicate a database-side incident.
const (
	dbPoolUtilizationThreshold = 0.85 // fraction of pool in use
	dbSlowQueryMS              = 500.0
)

// DatabaseWorker inspects the investigated service's database
// connection pool and query latency via Prometheus metrics and
// postgres-tagged Loki logs.
type DatabaseWorker struct {
	base
}

// NewDatabaseWorker wires a DatabaseWorker against the given backend
// clients. m is optional; when set, pool/query metrics observed during
// Observe are also recorded as Prometheus gauges via
// metrics.TrackDBPoolStats and a histogram via metrics.TrackDBQuery.
func NewDatabaseWorker(metric backends.MetricBackend, logs backends.LogBackend, traces backends.TraceBackend, m *metrics.Metrics) *DatabaseWorker {
	w := &DatabaseWorker{base: base{id: "database", metric: metric, log: logs, trace: traces, metrics: m}}
	w.detectors = []detector{w.detectConnectionPoolExhaustion, w.detectSlowQueries}
	return w
}

func (w *DatabaseWorker) Observe(ctx context.Context, inv *investigation.Investigation) (observation.Observation, error) {
	obs, err := w.observe(ctx, inv, "db_connections", `{app="postgres"}`, `{service.name="database"}`)
	if err != nil {
		return obs, err
	}
	w.recordPoolMetrics(inv, obs)
	return obs, nil
}

func (w *DatabaseWorker) GenerateHypotheses(ctx context.Context, obs observation.Observation, inv *investigation.Investigation) ([]*scientific.Hypothesis, error) {
	return w.generateHypotheses(ctx, obs, inv)
}

// recordPoolMetrics surfaces the investigated database's own
// pool-size/active-connection gauges and a representative query
// duration onto COMPASS's own metrics endpoint, as observed this
// Observe call — it is not persistence of investigation state.
func (w *DatabaseWorker) recordPoolMetrics(inv *investigation.Investigation, obs observation.Observation) {
	if w.metrics == nil {
		return
	}
	samples, ok := obs.Data["metrics"].([]backends.Sample)
	if !ok || len(samples) == 0 {
		return
	}
	var total, active float64
	var maxValue float64
	for _, s := range samples {
		total++
		if s.Value > 0 {
			active++
		}
		if s.Value > maxValue {
			maxValue = s.Value
		}
	}
	poolName := inv.Context.Service
	if poolName == "" {
		poolName = "unknown"
	}
	w.metrics.TrackDBPoolStats(poolName, total, active)
	w.metrics.TrackDBQuery("select", maxValue/1000.0)
}

func (w *DatabaseWorker) detectConnectionPoolExhaustion(agentID string, data map[string]any) (string, float64, []scientific.Evidence, bool) {
	samples, ok := data["metrics"].([]backends.Sample)
	if !ok || len(samples) == 0 {
		return "", 0, nil, false
	}

	var inUse, poolSize float64
	for _, s := range samples {
		switch s.Labels["state"] {
		case "used", "active":
			inUse += s.Value
		case "idle", "max", "total":
			poolSize += s.Value
		}
	}
	if poolSize == 0 {
		poolSize = inUse // single-series export without a state label
	}
	if poolSize == 0 {
		return "", 0, nil, false
	}

	utilization := inUse / poolSize
	if utilization < dbPoolUtilizationThreshold {
		return "", 0, nil, false
	}

	evidence := []scientific.Evidence{directEvidence(
		"prometheus:db_connections",
		fmtThreshold("connection pool utilization", utilization, dbPoolUtilizationThreshold),
		true, 0.8, samples,
	)}
	return "the database connection pool is exhausted", 0.75, evidence, true
}

func (w *DatabaseWorker) detectSlowQueries(agentID string, data map[string]any) (string, float64, []scientific.Evidence, bool) {
	entries, ok := data["logs"].([]backends.LogEntry)
	if !ok || len(entries) == 0 {
		return "", 0, nil, false
	}

	var slowCount int
	for _, e := range entries {
		if containsAny(e.Line, "slow query", "duration exceeded", "statement timeout") {
			slowCount++
		}
	}
	if slowCount == 0 {
		return "", 0, nil, false
	}

	confidence := 0.5 + 0.05*float64(min(slowCount, 5))
	evidence := []scientific.Evidence{directEvidence(
		"loki:postgres",
		fmtThreshold("slow query log lines", float64(slowCount), 1),
		true, 0.7, slowCount,
	)}
	return "elevated database query latency is degrading the service", confidence, evidence, true
}
