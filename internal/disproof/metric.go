package disproof

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/compass-investigate/compass/internal/backends"
	"github.com/compass-investigate/compass/internal/scientific"
)

const metricTolerance = 0.05

type metricClaim struct {
	name        string
	threshold   float64
	operator    string
	description string
}

// MetricThresholdValidation falsifies a hypothesis's quantified metric
// claims ("pool at >= 95% utilization") against the live value.
// See spec §4.7.3.
type MetricThresholdValidation struct {
	Metrics backends.MetricBackend
}

func (s *MetricThresholdValidation) Name() string { return "metric_threshold_validation" }

func (s *MetricThresholdValidation) AttemptDisproof(ctx context.Context, h *scientific.Hypothesis) scientific.DisproofAttempt {
	raw, _ := h.Metadata["metric_claims"].(map[string]any)
	if len(raw) == 0 {
		return s.inconclusive("no metric claims provided in hypothesis metadata")
	}

	claims := parseMetricClaims(raw)
	if len(claims) == 0 {
		return s.inconclusive("metric_claims present but none had a numeric threshold")
	}

	type checked struct {
		claim    metricClaim
		observed float64
		ok       bool
	}
	var supported, unsupported []checked

	now := time.Now()
	for _, claim := range claims {
		samples, err := s.Metrics.Query(ctx, claim.name, now.Add(-time.Minute).Unix(), now.Unix())
		if err != nil || len(samples) == 0 {
			continue
		}
		observed := latestSample(samples).Value
		cmp := comparator(claim.operator, metricTolerance)
		c := checked{claim: claim, observed: observed, ok: cmp(observed, claim.threshold)}
		if c.ok {
			supported = append(supported, c)
		} else {
			unsupported = append(unsupported, c)
		}
	}

	if len(supported) == 0 && len(unsupported) == 0 {
		return s.inconclusive("unable to validate any metric claims (queries failed or returned no data)")
	}

	if len(unsupported) > 0 {
		evidence := make([]scientific.Evidence, 0, len(unsupported))
		descriptions := make([]string, 0, len(unsupported))
		for _, c := range unsupported {
			descriptions = append(descriptions, fmt.Sprintf("%s (claimed %s %.4f, observed %.4f)", c.claim.name, c.claim.operator, c.claim.threshold, c.observed))
			evidence = append(evidence, scientific.NewEvidence(scientific.EvidenceParams{
				Source:             fmt.Sprintf("metric://%s", c.claim.name),
				Data:               map[string]any{"claimed": fmt.Sprintf("%s %.4f", c.claim.operator, c.claim.threshold), "observed": c.observed},
				Interpretation:     fmt.Sprintf("%s: claimed %s %.4f, observed %.4f", c.claim.description, c.claim.operator, c.claim.threshold, c.observed),
				Quality:            scientific.QualityDirect,
				SupportsHypothesis: false,
				Confidence:         0.9,
			}))
		}
		return scientific.NewDisproofAttempt(scientific.DisproofAttemptParams{
			Strategy:       s.Name(),
			Method:         "Queried metric backend to validate metric claims",
			ExpectedIfTrue: "metrics should match claimed thresholds",
			Observed:       fmt.Sprintf("%d claim(s) not supported: %s", len(unsupported), joinStrings(descriptions)),
			Disproven:      true,
			Evidence:       evidence,
			Reasoning:      fmt.Sprintf("%d of %d metric claim(s) failed validation", len(unsupported), len(claims)),
		})
	}

	descriptions := make([]string, 0, len(supported))
	evidence := make([]scientific.Evidence, 0, len(supported))
	for _, c := range supported {
		descriptions = append(descriptions, fmt.Sprintf("%s (claimed %s %.4f, observed %.4f)", c.claim.name, c.claim.operator, c.claim.threshold, c.observed))
		evidence = append(evidence, scientific.NewEvidence(scientific.EvidenceParams{
			Source:             fmt.Sprintf("metric://%s", c.claim.name),
			Data:               map[string]any{"claimed": fmt.Sprintf("%s %.4f", c.claim.operator, c.claim.threshold), "observed": c.observed},
			Interpretation:     fmt.Sprintf("%s: claimed %s %.4f, observed %.4f", c.claim.description, c.claim.operator, c.claim.threshold, c.observed),
			Quality:            scientific.QualityDirect,
			SupportsHypothesis: true,
			Confidence:         0.9,
		}))
	}
	return scientific.NewDisproofAttempt(scientific.DisproofAttemptParams{
		Strategy:       s.Name(),
		Method:         "Queried metric backend to validate metric claims",
		ExpectedIfTrue: "metrics should match claimed thresholds",
		Observed:       fmt.Sprintf("all %d claim(s) supported: %s", len(supported), joinStrings(descriptions)),
		Disproven:      false,
		Evidence:       evidence,
		Reasoning:      fmt.Sprintf("all %d of %d metric claim(s) validated successfully", len(supported), len(claims)),
	})
}

func (s *MetricThresholdValidation) inconclusive(reason string) scientific.DisproofAttempt {
	return scientific.NewDisproofAttempt(scientific.DisproofAttemptParams{
		Strategy:       s.Name(),
		Method:         "Validate metric claims against observed values",
		ExpectedIfTrue: "metric values should match claimed thresholds",
		Observed:       reason,
		Disproven:      false,
		Reasoning:      "cannot validate metrics: " + reason,
	})
}

func parseMetricClaims(raw map[string]any) []metricClaim {
	claims := make([]metricClaim, 0, len(raw))
	for name, v := range raw {
		spec, ok := v.(map[string]any)
		if !ok {
			continue
		}
		threshold, ok := floatFromMetadata(spec, "threshold")
		if !ok {
			continue
		}
		operator, _ := spec["operator"].(string)
		if operator == "" {
			operator = ">="
		}
		description, _ := spec["description"].(string)
		if description == "" {
			description = fmt.Sprintf("%s %s %.4f", name, operator, threshold)
		}
		claims = append(claims, metricClaim{name: name, threshold: threshold, operator: operator, description: description})
	}
	sort.Slice(claims, func(i, j int) bool { return claims[i].name < claims[j].name })
	return claims
}

func latestSample(samples []backends.Sample) backends.Sample {
	latest := samples[0]
	for _, s := range samples[1:] {
		if s.Timestamp > latest.Timestamp {
			latest = s
		}
	}
	return latest
}

func joinStrings(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
