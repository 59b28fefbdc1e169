// Package workers implements the three domain specialist Worker
// implementations (§6 Worker port): database, network, and
// application. Each fans out to its configured metric/log/trace
// backends in Observe, then applies domain-specific threshold
// detectors over the observed data in GenerateHypotheses.
package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/compass-investigate/compass/internal/backends"
	"github.com/compass-investigate/compass/internal/cerrors"
	"github.com/compass-investigate/compass/internal/investigation"
	"github.com/compass-investigate/compass/internal/logging"
	"github.com/compass-investigate/compass/internal/metrics"
	"github.com/compass-investigate/compass/internal/observation"
	"github.com/compass-investigate/compass/internal/scientific"
)

// observationWindow is how far back a worker's queries look by default.
const observationWindow = 15 * time.Minute

// perQueryCostUSD approximates one backend round trip's cost for
// Investigation.AddCost rollups; real backend SaaS pricing varies
// per-deployment, so this is a conservative flat estimate rather than
// something queried from each backend.
const perQueryCostUSD = 0.001

// detector is one domain-specific heuristic: given the worker's id and
// the raw observation payload, it returns a candidate hypothesis and
// the evidence backing it, or ok=false if its trigger condition wasn't
// met.
type detector func(agentID string, data map[string]any) (statement string, confidence float64, evidence []scientific.Evidence, ok bool)

// base holds the fields shared by all three domain workers: the
// backend clients queried during Observe, and the detector list
// consulted during GenerateHypotheses.
type base struct {
	id        string
	metric    backends.MetricBackend
	log       backends.LogBackend
	trace     backends.TraceBackend
	metrics   *metrics.Metrics
	detectors []detector
}

func (b *base) ID() string { return b.id }

// observe runs whichever of metric/log/trace backends is configured in
// parallel-free sequence (each backend is already resilient via its own
// circuit breaker, so a strict sequence keeps this package simple),
// tolerating partial failures: a backend that errors contributes
// nothing to data but doesn't fail the whole observation, and lowers
// the combined confidence.
func (b *base) observe(ctx context.Context, inv *investigation.Investigation, metricQuery, logQuery, traceQuery string) (observation.Observation, error) {
	start := time.Now()
	end := start
	windowStart := start.Add(-observationWindow)

	data := map[string]any{}
	var sources, successes int
	var cost float64

	logFields := logging.Field("worker_id", b.id)

	if b.metric != nil && metricQuery != "" {
		sources++
		samples, err := b.metric.Query(ctx, metricQuery, windowStart.Unix(), end.Unix())
		cost += perQueryCostUSD
		if err != nil {
			if cerrors.Is(err, cerrors.KindCancellation) {
				return observation.Observation{}, err
			}
			log.WarnWithFields("metric query failed", logFields, logging.Field("query", metricQuery), logging.Field("error", err.Error()))
		} else {
			data["metrics"] = samples
			successes++
		}
	}

	if b.log != nil && logQuery != "" {
		sources++
		entries, err := b.log.QueryRange(ctx, logQuery, windowStart.UnixNano(), end.UnixNano(), 100)
		cost += perQueryCostUSD
		if err != nil {
			if cerrors.Is(err, cerrors.KindCancellation) {
				return observation.Observation{}, err
			}
			log.WarnWithFields("log query failed", logFields, logging.Field("query", logQuery), logging.Field("error", err.Error()))
		} else {
			data["logs"] = entries
			successes++
		}
	}

	if b.trace != nil && traceQuery != "" {
		sources++
		traces, err := b.trace.Query(ctx, traceQuery, windowStart.Unix(), end.Unix(), 20)
		cost += perQueryCostUSD
		if err != nil {
			if cerrors.Is(err, cerrors.KindCancellation) {
				return observation.Observation{}, err
			}
			log.WarnWithFields("trace query failed", logFields, logging.Field("query", traceQuery), logging.Field("error", err.Error()))
		} else {
			data["traces"] = traces
			successes++
		}
	}

	var confidence float64
	if sources > 0 {
		confidence = float64(successes) / float64(sources)
	}

	log.InfoWithFields("worker observe completed", logFields,
		logging.Field("sources", sources), logging.Field("successes", successes),
		logging.Field("confidence", confidence))

	return observation.Observation{
		WorkerID:   b.id,
		Data:       data,
		Confidence: confidence,
		Cost:       cost,
		ElapsedMS:  time.Since(start).Milliseconds(),
	}, nil
}

// generateHypotheses runs every configured detector over obs.Data,
// turning each trigger into a Hypothesis carrying the detector's
// evidence.
func (b *base) generateHypotheses(ctx context.Context, obs observation.Observation, inv *investigation.Investigation) ([]*scientific.Hypothesis, error) {
	if err := ctx.Err(); err != nil {
		return nil, cerrors.Wrap(cerrors.KindCancellation, err, "workers: cancelled before hypothesis generation")
	}

	var out []*scientific.Hypothesis
	for _, d := range b.detectors {
		statement, confidence, evidence, ok := d(b.id, obs.Data)
		if !ok {
			continue
		}
		h := scientific.NewHypothesis(scientific.HypothesisParams{
			AgentID:           b.id,
			Statement:         statement,
			InitialConfidence: confidence,
			AffectedSystems:   []string{inv.Context.Service},
		})
		for _, e := range evidence {
			h.AddEvidence(e)
		}
		out = append(out, h)
		if b.metrics != nil {
			b.metrics.TrackHypothesisGenerated(b.id, h.CurrentConfidence)
		}
	}

	log.InfoWithFields("worker hypothesis generation completed",
		logging.Field("worker_id", b.id), logging.Field("hypothesis_count", len(out)))
	return out, nil
}

func directEvidence(source, interpretation string, supports bool, confidence float64, data any) scientific.Evidence {
	return scientific.NewEvidence(scientific.EvidenceParams{
		Source:             source,
		Data:               data,
		Interpretation:      interpretation,
		Quality:            scientific.QualityDirect,
		SupportsHypothesis: supports,
		Confidence:         confidence,
	})
}

func fmtThreshold(label string, observed, threshold float64) string {
	return fmt.Sprintf("%s: observed %.2f against threshold %.2f", label, observed, threshold)
}

// containsAny reports whether line contains any of substrs,
// case-insensitively.
func containsAny(line string, substrs ...string) bool {
	lower := strings.ToLower(line)
	for _, s := range substrs {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

var log = logging.GetLogger("workers")
