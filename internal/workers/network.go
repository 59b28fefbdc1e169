package workers

import (
	"context"

	"github.com/compass-investigate/compass/internal/backends"
	"github.com/compass-investigate/compass/internal/investigation"
	"github.com/compass-investigate/compass/internal/metrics"
	"github.com/compass-investigate/compass/internal/observation"
	"github.com/compass-investigate/compass/internal/scientific"
)

// Network thresholds, grounded on the original network specialist's
// DNS/latency/packet-loss/connection-failure detectors.
const (
	dnsDurationThresholdMS        = 1000.0
	highLatencyThresholdSeconds   = 1.0
	connectionFailureThreshold    = 10
)

// NetworkWorker inspects DNS resolution latency (metrics), connection
// errors (logs), and trace latency; it has no packet-loss detector.
type NetworkWorker struct {
	base
}

func NewNetworkWorker(metric backends.MetricBackend, logs backends.LogBackend, traces backends.TraceBackend, m *metrics.Metrics) *NetworkWorker {
	w := &NetworkWorker{base: base{id: "network", metric: metric, log: logs, trace: traces, metrics: m}}
	w.detectors = []detector{w.detectDNSResolutionIssue, w.detectConnectionExhaustion, w.detectHighLatency}
	return w
}

func (w *NetworkWorker) Observe(ctx context.Context, inv *investigation.Investigation) (observation.Observation, error) {
	return w.observe(ctx, inv, "dns_resolution_duration_seconds", `{app="network"} |= "connection"`, `{service.name="network"}`)
}

func (w *NetworkWorker) GenerateHypotheses(ctx context.Context, obs observation.Observation, inv *investigation.Investigation) ([]*scientific.Hypothesis, error) {
	return w.generateHypotheses(ctx, obs, inv)
}

func (w *NetworkWorker) detectDNSResolutionIssue(agentID string, data map[string]any) (string, float64, []scientific.Evidence, bool) {
	samples, ok := data["metrics"].([]backends.Sample)
	if !ok || len(samples) == 0 {
		return "", 0, nil, false
	}

	var maxMS float64
	for _, s := range samples {
		ms := s.Value * 1000
		if ms > maxMS {
			maxMS = ms
		}
	}
	if maxMS < dnsDurationThresholdMS {
		return "", 0, nil, false
	}

	evidence := []scientific.Evidence{directEvidence(
		"prometheus:dns_resolution_duration_seconds",
		fmtThreshold("DNS resolution duration (ms)", maxMS, dnsDurationThresholdMS),
		true, 0.75, samples,
	)}
	return "DNS resolution delays are causing the observed errors", 0.7, evidence, true
}

func (w *NetworkWorker) detectConnectionExhaustion(agentID string, data map[string]any) (string, float64, []scientific.Evidence, bool) {
	entries, ok := data["logs"].([]backends.LogEntry)
	if !ok || len(entries) == 0 {
		return "", 0, nil, false
	}

	var failures int
	for _, e := range entries {
		if containsAny(e.Line, "connection refused", "connection reset", "too many open connections") {
			failures++
		}
	}
	if failures < connectionFailureThreshold {
		return "", 0, nil, false
	}

	evidence := []scientific.Evidence{directEvidence(
		"loki:network",
		fmtThreshold("connection failure count", float64(failures), connectionFailureThreshold),
		true, 0.75, failures,
	)}
	return "connection exhaustion at the network layer is causing request failures", 0.72, evidence, true
}

func (w *NetworkWorker) detectHighLatency(agentID string, data map[string]any) (string, float64, []scientific.Evidence, bool) {
	traces, ok := data["traces"].([]backends.TraceSummary)
	if !ok || len(traces) == 0 {
		return "", 0, nil, false
	}

	var over int
	for _, t := range traces {
		if float64(t.DurationMS)/1000.0 > highLatencyThresholdSeconds {
			over++
		}
	}
	if over == 0 {
		return "", 0, nil, false
	}

	ratio := float64(over) / float64(len(traces))
	if ratio < 0.2 {
		return "", 0, nil, false
	}

	evidence := []scientific.Evidence{directEvidence(
		"tempo:network",
		fmtThreshold("fraction of traces over latency threshold", ratio, 0.2),
		true, 0.65, over,
	)}
	return "elevated network latency is impacting downstream services", 0.6, evidence, true
}
