package scientific

import (
	"time"

	"github.com/google/uuid"
)

// DisproofAttempt is the record of one falsification test run against a
// Hypothesis. Immutable after construction.
type DisproofAttempt struct {
	ID              string
	Timestamp       time.Time
	Strategy        string
	Method          string
	ExpectedIfTrue  string
	Observed        string
	Disproven       bool
	Evidence        []Evidence
	Reasoning       string
	Cost            map[string]float64
}

// DisproofAttemptParams are the caller-supplied fields for
// NewDisproofAttempt; ID and Timestamp are always generated fresh.
type DisproofAttemptParams struct {
	Strategy       string
	Method         string
	ExpectedIfTrue string
	Observed       string
	Disproven      bool
	Evidence       []Evidence
	Reasoning      string
	Cost           map[string]float64
}

// NewDisproofAttempt constructs a DisproofAttempt with a fresh ID and
// timestamp.
func NewDisproofAttempt(p DisproofAttemptParams) DisproofAttempt {
	cost := p.Cost
	if cost == nil {
		cost = map[string]float64{}
	}
	return DisproofAttempt{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		Strategy:       p.Strategy,
		Method:         p.Method,
		ExpectedIfTrue: p.ExpectedIfTrue,
		Observed:       p.Observed,
		Disproven:      p.Disproven,
		Evidence:       p.Evidence,
		Reasoning:      p.Reasoning,
		Cost:           cost,
	}
}

// ToAuditLog renders the DisproofAttempt into its JSON-serializable
// audit form.
func (a DisproofAttempt) ToAuditLog() map[string]any {
	return map[string]any{
		"id":             a.ID,
		"timestamp":      a.Timestamp.Format(time.RFC3339),
		"strategy":       a.Strategy,
		"method":         a.Method,
		"expected":       a.ExpectedIfTrue,
		"observed":       a.Observed,
		"disproven":      a.Disproven,
		"evidence_count": len(a.Evidence),
		"reasoning":      a.Reasoning,
		"cost":           a.Cost,
	}
}
