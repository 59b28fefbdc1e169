package scientific

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HypothesisStatus is the lifecycle status of a Hypothesis.
type HypothesisStatus string

const (
	StatusGenerated     HypothesisStatus = "generated"
	StatusValidating    HypothesisStatus = "validating"
	StatusValidated     HypothesisStatus = "validated"
	StatusDisproven     HypothesisStatus = "disproven"
	StatusRequiresHuman HypothesisStatus = "requires_human"
	StatusConfirmed     HypothesisStatus = "confirmed"
	StatusRejected      HypothesisStatus = "rejected"
)

const disproofBonusCap = 0.3
const disproofBonusStep = 0.05

// Hypothesis is COMPASS's central entity: a testable, falsifiable
// statement about a possible incident root cause, carrying its own
// evidence trail, disproof history, and deterministically recomputed
// confidence.
//
// Mutation is only ever through AddEvidence and AddDisproofAttempt;
// every other field is set once at construction. A mutex guards those
// two mutators and ToAuditLog so concurrent readers never observe a
// partially recomputed confidence.
type Hypothesis struct {
	ID        string
	Timestamp time.Time
	AgentID   string
	Statement string
	Status    HypothesisStatus

	SupportingEvidence  []Evidence
	ContradictingEvidence []Evidence
	DisproofAttempts    []DisproofAttempt

	InitialConfidence   float64
	CurrentConfidence   float64
	ConfidenceReasoning string

	AffectedSystems []string
	Metadata        map[string]any

	mu sync.Mutex
}

// HypothesisParams are the caller-supplied fields for NewHypothesis.
type HypothesisParams struct {
	AgentID           string
	Statement         string
	InitialConfidence float64
	AffectedSystems   []string
	Metadata          map[string]any
}

// NewHypothesis constructs a Hypothesis in StatusGenerated with a fresh
// ID and timestamp. CurrentConfidence starts equal to InitialConfidence.
func NewHypothesis(p HypothesisParams) *Hypothesis {
	md := p.Metadata
	if md == nil {
		md = map[string]any{}
	}
	h := &Hypothesis{
		ID:                  uuid.NewString(),
		Timestamp:           time.Now().UTC(),
		AgentID:             p.AgentID,
		Statement:           p.Statement,
		Status:              StatusGenerated,
		InitialConfidence:   p.InitialConfidence,
		CurrentConfidence:   p.InitialConfidence,
		AffectedSystems:     p.AffectedSystems,
		Metadata:            md,
	}
	h.updateConfidenceReasoning()
	return h
}

// AddEvidence appends e to the supporting or contradicting list by
// e.SupportsHypothesis, then recomputes confidence.
func (h *Hypothesis) AddEvidence(e Evidence) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.SupportsHypothesis {
		h.SupportingEvidence = append(h.SupportingEvidence, e)
	} else {
		h.ContradictingEvidence = append(h.ContradictingEvidence, e)
	}
	h.recalculateConfidence()
}

// AddDisproofAttempt appends a to the attempt history. If a.Disproven,
// the hypothesis is immediately and terminally disproven: status flips
// to StatusDisproven and CurrentConfidence drops to 0. Otherwise
// confidence is recomputed per the usual formula.
func (h *Hypothesis) AddDisproofAttempt(a DisproofAttempt) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.DisproofAttempts = append(h.DisproofAttempts, a)

	if a.Disproven {
		h.Status = StatusDisproven
		h.CurrentConfidence = 0.0
		h.ConfidenceReasoning = fmt.Sprintf("Hypothesis disproven by %s: %s", a.Strategy, a.Reasoning)
		return
	}

	// Once disproven, a hypothesis is terminal: later attempts are still
	// recorded for the audit trail (the engine never stops early) but
	// must not resurrect its confidence.
	if h.Status == StatusDisproven {
		return
	}
	h.recalculateConfidence()
}

// recalculateConfidence implements the §3 confidence invariant. Caller
// must hold h.mu.
func (h *Hypothesis) recalculateConfidence() {
	var evidenceScore float64
	for _, e := range h.SupportingEvidence {
		evidenceScore += e.Confidence * e.Quality.Weight()
	}
	for _, e := range h.ContradictingEvidence {
		evidenceScore -= e.Confidence * e.Quality.Weight()
	}

	total := len(h.SupportingEvidence) + len(h.ContradictingEvidence)
	if total > 0 {
		evidenceScore /= float64(total)
	}

	survived := 0
	for _, a := range h.DisproofAttempts {
		if !a.Disproven {
			survived++
		}
	}
	disproofBonus := float64(survived) * disproofBonusStep
	if disproofBonus > disproofBonusCap {
		disproofBonus = disproofBonusCap
	}

	final := h.InitialConfidence*0.3 + evidenceScore*0.7 + disproofBonus
	h.CurrentConfidence = clamp(final, 0, 1)
	h.updateConfidenceReasoning()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// updateConfidenceReasoning regenerates the human-readable summary.
// Caller must hold h.mu.
func (h *Hypothesis) updateConfidenceReasoning() {
	var parts []string

	if len(h.SupportingEvidence) > 0 {
		dist := map[string]int{}
		for _, e := range h.SupportingEvidence {
			dist[string(e.Quality)]++
		}
		var qualityParts []string
		for _, q := range []EvidenceQuality{QualityDirect, QualityCorroborated, QualityIndirect, QualityCircumstantial, QualityWeak} {
			if n, ok := dist[string(q)]; ok {
				qualityParts = append(qualityParts, fmt.Sprintf("%d %s", n, q))
			}
		}
		parts = append(parts, fmt.Sprintf("%d supporting evidence (%s)", len(h.SupportingEvidence), strings.Join(qualityParts, ", ")))
	}

	if len(h.ContradictingEvidence) > 0 {
		parts = append(parts, fmt.Sprintf("%d contradicting evidence", len(h.ContradictingEvidence)))
	}

	survived := 0
	for _, a := range h.DisproofAttempts {
		if !a.Disproven {
			survived++
		}
	}
	if survived > 0 {
		parts = append(parts, fmt.Sprintf("survived %d disproof attempt(s)", survived))
	}

	if len(parts) > 0 {
		h.ConfidenceReasoning = strings.Join(parts, "; ")
	} else {
		h.ConfidenceReasoning = "No evidence or disproof attempts yet"
	}
}

// ToAuditLog renders the Hypothesis into the complete JSON-serializable
// audit form specified in §6.
func (h *Hypothesis) ToAuditLog() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()

	supporting := make([]map[string]any, 0, len(h.SupportingEvidence))
	for _, e := range h.SupportingEvidence {
		supporting = append(supporting, e.ToAuditLog())
	}
	contradicting := make([]map[string]any, 0, len(h.ContradictingEvidence))
	for _, e := range h.ContradictingEvidence {
		contradicting = append(contradicting, e.ToAuditLog())
	}
	attempts := make([]map[string]any, 0, len(h.DisproofAttempts))
	for _, a := range h.DisproofAttempts {
		attempts = append(attempts, a.ToAuditLog())
	}

	return map[string]any{
		"id":         h.ID,
		"timestamp":  h.Timestamp.Format(time.RFC3339),
		"agent_id":   h.AgentID,
		"statement":  h.Statement,
		"status":     string(h.Status),
		"confidence": map[string]any{
			"initial":   h.InitialConfidence,
			"current":   h.CurrentConfidence,
			"reasoning": h.ConfidenceReasoning,
		},
		"evidence": map[string]any{
			"supporting":    supporting,
			"contradicting": contradicting,
		},
		"disproof_attempts": attempts,
		"affected_systems":  h.AffectedSystems,
		"metadata":          h.Metadata,
	}
}
