package disproof

import (
	"context"
	"fmt"
	"time"

	dps "github.com/markusmobius/go-dateparser"

	"github.com/compass-investigate/compass/internal/backends"
	"github.com/compass-investigate/compass/internal/scientific"
)

const temporalEpsilon = 60 * time.Second

// TemporalContradiction falsifies a hypothesis that claims an event at
// time T caused its symptoms, by checking whether the claimed metric
// already exceeded threshold strictly before T. See spec §4.7.1.
type TemporalContradiction struct {
	Metrics backends.MetricBackend
	// Window is the half-width of the query range around the suspected
	// time. Defaults to 30 minutes.
	Window time.Duration
}

func (s *TemporalContradiction) Name() string { return "temporal_contradiction" }

func (s *TemporalContradiction) AttemptDisproof(ctx context.Context, h *scientific.Hypothesis) scientific.DisproofAttempt {
	suspectedRaw, _ := h.Metadata["suspected_time"].(string)
	if suspectedRaw == "" {
		return s.inconclusive("no suspected_time provided in hypothesis metadata")
	}
	metric, _ := h.Metadata["metric"].(string)
	if metric == "" {
		return s.inconclusive("no metric provided in hypothesis metadata")
	}
	threshold, ok := floatFromMetadata(h.Metadata, "threshold")
	if !ok {
		return s.inconclusive("no numeric threshold provided in hypothesis metadata")
	}
	direction, _ := h.Metadata["direction"].(string)
	if direction == "" {
		direction = ">="
	}

	suspectedTime, err := parseSuspectedTime(suspectedRaw)
	if err != nil {
		return s.inconclusive(fmt.Sprintf("could not parse suspected_time %q: %v", suspectedRaw, err))
	}

	window := s.Window
	if window <= 0 {
		window = 30 * time.Minute
	}

	samples, err := s.Metrics.Query(ctx, metric, suspectedTime.Add(-window).Unix(), suspectedTime.Add(window).Unix())
	if err != nil {
		return s.inconclusive(fmt.Sprintf("error querying metric backend for %q: %v", metric, err))
	}
	if len(samples) == 0 {
		return s.inconclusive(fmt.Sprintf("no samples returned for metric %q in the window around %s", metric, suspectedRaw))
	}

	cutoff := suspectedTime.Add(-temporalEpsilon).Unix()
	cmp := comparator(direction, 0)

	for _, sample := range samples {
		if sample.Timestamp < cutoff && cmp(sample.Value, threshold) {
			evidence := scientific.NewEvidence(scientific.EvidenceParams{
				Source:             fmt.Sprintf("metric://%s", metric),
				Data:               map[string]any{"observed_at": sample.Timestamp, "value": sample.Value, "suspected_time": suspectedRaw},
				Interpretation:     fmt.Sprintf("%s already %s %.4f at %s, before the suspected time", metric, direction, threshold, time.Unix(sample.Timestamp, 0).UTC().Format(time.RFC3339)),
				Quality:            scientific.QualityDirect,
				SupportsHypothesis: false,
				Confidence:         0.9,
			})
			return scientific.NewDisproofAttempt(scientific.DisproofAttemptParams{
				Strategy:       s.Name(),
				Method:         fmt.Sprintf("Queried %s over a window straddling the suspected time", metric),
				ExpectedIfTrue: fmt.Sprintf("%s should not satisfy %s %.4f before %s", metric, direction, threshold, suspectedRaw),
				Observed:       fmt.Sprintf("%s was already %.4f at %s", metric, sample.Value, time.Unix(sample.Timestamp, 0).UTC().Format(time.RFC3339)),
				Disproven:      true,
				Evidence:       []scientific.Evidence{evidence},
				Reasoning:      "the symptom predates the suspected causal event, contradicting the hypothesis",
			})
		}
	}

	return scientific.NewDisproofAttempt(scientific.DisproofAttemptParams{
		Strategy:       s.Name(),
		Method:         fmt.Sprintf("Queried %s over a window straddling the suspected time", metric),
		ExpectedIfTrue: fmt.Sprintf("%s should not satisfy %s %.4f before %s", metric, direction, threshold, suspectedRaw),
		Observed:       fmt.Sprintf("no sample before %s satisfied %s %.4f", suspectedRaw, direction, threshold),
		Disproven:      false,
		Reasoning:      "no evidence the symptom predates the suspected causal event",
	})
}

func (s *TemporalContradiction) inconclusive(reason string) scientific.DisproofAttempt {
	return scientific.NewDisproofAttempt(scientific.DisproofAttemptParams{
		Strategy:       s.Name(),
		Method:         "Temporal contradiction check against the metric backend",
		ExpectedIfTrue: "the symptom metric should not precede the suspected causal time",
		Observed:       reason,
		Disproven:      false,
		Reasoning:      "cannot evaluate temporal contradiction: " + reason,
	})
}

func parseSuspectedTime(raw string) (time.Time, error) {
	parser := dps.Parser{}
	cfg := &dps.Configuration{PreferredDateSource: dps.CurrentPeriod}
	parsed, err := parser.Parse(cfg, raw)
	if err != nil {
		return time.Time{}, err
	}
	if parsed.IsZero() {
		return time.Time{}, fmt.Errorf("unparseable time %q", raw)
	}
	return parsed.Time, nil
}

func floatFromMetadata(md map[string]any, key string) (float64, bool) {
	v, ok := md[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
