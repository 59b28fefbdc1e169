// Package scientific implements COMPASS's scientific framework: the
// immutable data model for Evidence, DisproofAttempt, and Hypothesis,
// and the deterministic confidence calculus that ties them together.
package scientific

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EvidenceQuality rates the gathering methodology behind a piece of
// Evidence. Quality directly weights its contribution to confidence.
type EvidenceQuality string

const (
	QualityDirect         EvidenceQuality = "direct"
	QualityCorroborated   EvidenceQuality = "corroborated"
	QualityIndirect       EvidenceQuality = "indirect"
	QualityCircumstantial EvidenceQuality = "circumstantial"
	QualityWeak           EvidenceQuality = "weak"
)

// qualityWeights are the fixed multipliers §3 assigns to each quality.
var qualityWeights = map[EvidenceQuality]float64{
	QualityDirect:         1.0,
	QualityCorroborated:   0.9,
	QualityIndirect:       0.6,
	QualityCircumstantial: 0.3,
	QualityWeak:           0.1,
}

// Weight returns the confidence-weighting multiplier for q. Unknown
// qualities weight 0, so a bad value never inflates confidence.
func (q EvidenceQuality) Weight() float64 {
	return qualityWeights[q]
}

// Evidence is an atomic observation with provenance. Immutable after
// construction: every field is set by NewEvidence and never mutated.
type Evidence struct {
	ID                string
	Timestamp         time.Time
	Source            string
	Data              any
	Interpretation    string
	Quality           EvidenceQuality
	SupportsHypothesis bool
	Confidence        float64
	Metadata          map[string]any
}

// EvidenceParams are the caller-supplied fields for NewEvidence; ID and
// Timestamp are always generated fresh.
type EvidenceParams struct {
	Source             string
	Data               any
	Interpretation     string
	Quality            EvidenceQuality
	SupportsHypothesis bool
	Confidence         float64
	Metadata           map[string]any
}

// NewEvidence constructs Evidence with a fresh ID and timestamp.
func NewEvidence(p EvidenceParams) Evidence {
	md := p.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return Evidence{
		ID:                 uuid.NewString(),
		Timestamp:          time.Now().UTC(),
		Source:             p.Source,
		Data:               p.Data,
		Interpretation:     p.Interpretation,
		Quality:            p.Quality,
		SupportsHypothesis: p.SupportsHypothesis,
		Confidence:         p.Confidence,
		Metadata:           md,
	}
}

// ToAuditLog renders Evidence into its JSON-serializable audit form,
// truncating Data to 200 characters per §4.1.
func (e Evidence) ToAuditLog() map[string]any {
	var data any
	if e.Data != nil {
		s := truncate(toString(e.Data), 200)
		data = s
	}
	return map[string]any{
		"id":             e.ID,
		"timestamp":      e.Timestamp.Format(time.RFC3339),
		"source":         e.Source,
		"data":           data,
		"interpretation": e.Interpretation,
		"quality":        string(e.Quality),
		"supports":       e.SupportsHypothesis,
		"confidence":     e.Confidence,
		"metadata":       e.Metadata,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
