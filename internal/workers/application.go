package workers

import (
	"context"

	"github.com/compass-investigate/compass/internal/backends"
	"github.com/compass-investigate/compass/internal/investigation"
	"github.com/compass-investigate/compass/internal/metrics"
	"github.com/compass-investigate/compass/internal/observation"
	"github.com/compass-investigate/compass/internal/scientific"
)

// Application thresholds, grounded on the original application
// specialist's deployment-correlation and dependency-latency
// detectors.
const (
	appErrorRateThreshold         = 0.05 // fraction of requests erroring
	appHighLatencyThresholdMS     = 1000.0
	appDeployCorrelationWindowMin = 30
)

// ApplicationWorker inspects error-rate metrics, deploy-tagged log
// lines, and trace latency for the investigated service.
type ApplicationWorker struct {
	base
}

func NewApplicationWorker(metric backends.MetricBackend, logs backends.LogBackend, traces backends.TraceBackend, m *metrics.Metrics) *ApplicationWorker {
	w := &ApplicationWorker{base: base{id: "application", metric: metric, log: logs, trace: traces, metrics: m}}
	w.detectors = []detector{w.detectDeploymentCorrelation, w.detectDependencyFailure, w.detectElevatedErrorRate}
	return w
}

func (w *ApplicationWorker) Observe(ctx context.Context, inv *investigation.Investigation) (observation.Observation, error) {
	return w.observe(ctx, inv, "http_requests_error_rate", `{app="`+serviceOrDefault(inv)+`"} |= "deploy"`, `{service.name="`+serviceOrDefault(inv)+`"}`)
}

func (w *ApplicationWorker) GenerateHypotheses(ctx context.Context, obs observation.Observation, inv *investigation.Investigation) ([]*scientific.Hypothesis, error) {
	return w.generateHypotheses(ctx, obs, inv)
}

func serviceOrDefault(inv *investigation.Investigation) string {
	if inv.Context.Service != "" {
		return inv.Context.Service
	}
	return "application"
}

func (w *ApplicationWorker) detectDeploymentCorrelation(agentID string, data map[string]any) (string, float64, []scientific.Evidence, bool) {
	entries, ok := data["logs"].([]backends.LogEntry)
	if !ok || len(entries) == 0 {
		return "", 0, nil, false
	}

	var deployLine string
	var errorCount int
	for _, e := range entries {
		if containsAny(e.Line, "deploy", "rollout", "release") && deployLine == "" {
			deployLine = e.Line
		}
		if containsAny(e.Line, "error", "exception", "panic") {
			errorCount++
		}
	}
	if deployLine == "" || errorCount == 0 {
		return "", 0, nil, false
	}

	evidence := []scientific.Evidence{directEvidence(
		"loki:application",
		fmtThreshold("errors following deployment marker", float64(errorCount), 1),
		true, 0.7, map[string]any{"deploy_line": deployLine, "error_count": errorCount},
	)}
	return "a recent deployment introduced the regression", 0.68, evidence, true
}

func (w *ApplicationWorker) detectDependencyFailure(agentID string, data map[string]any) (string, float64, []scientific.Evidence, bool) {
	traces, ok := data["traces"].([]backends.TraceSummary)
	if !ok || len(traces) == 0 {
		return "", 0, nil, false
	}

	var total int64
	var max int64
	for _, t := range traces {
		total += t.DurationMS
		if t.DurationMS > max {
			max = t.DurationMS
		}
	}
	avg := float64(total) / float64(len(traces))
	if avg < appHighLatencyThresholdMS {
		return "", 0, nil, false
	}

	evidence := []scientific.Evidence{directEvidence(
		"tempo:application",
		fmtThreshold("average trace duration (ms)", avg, appHighLatencyThresholdMS),
		true, 0.7, map[string]any{"avg_latency_ms": avg, "max_latency_ms": max},
	)}
	return "a downstream dependency failure is causing elevated latency", 0.65, evidence, true
}

func (w *ApplicationWorker) detectElevatedErrorRate(agentID string, data map[string]any) (string, float64, []scientific.Evidence, bool) {
	samples, ok := data["metrics"].([]backends.Sample)
	if !ok || len(samples) == 0 {
		return "", 0, nil, false
	}

	var max float64
	for _, s := range samples {
		if s.Value > max {
			max = s.Value
		}
	}
	if max < appErrorRateThreshold {
		return "", 0, nil, false
	}

	evidence := []scientific.Evidence{directEvidence(
		"prometheus:http_requests_error_rate",
		fmtThreshold("error rate", max, appErrorRateThreshold),
		true, 0.75, samples,
	)}
	return "an elevated application error rate is driving the incident", 0.7, evidence, true
}
