package disproof

import (
	"context"
	"fmt"
	"time"

	"github.com/compass-investigate/compass/internal/backends"
	"github.com/compass-investigate/compass/internal/scientific"
)

const (
	scopeThresholdAll  = 0.95
	scopeThresholdMost = 0.80
	scopeThresholdSome = 0.30
	scopeTolerance     = 0.15
)

// ScopeVerification falsifies a hypothesis's claimed blast radius (e.g.
// "all services") by counting actually-affected services in trace data.
// See spec §4.7.2.
type ScopeVerification struct {
	Traces backends.TraceBackend
	// LookbackSeconds bounds the trace query window. Defaults to 30
	// minutes.
	LookbackSeconds int64
}

func (s *ScopeVerification) Name() string { return "scope_verification" }

func (s *ScopeVerification) AttemptDisproof(ctx context.Context, h *scientific.Hypothesis) scientific.DisproofAttempt {
	claimedScope, _ := h.Metadata["claimed_scope"].(string)
	if claimedScope == "" {
		return s.inconclusive("no claimed_scope provided in hypothesis metadata")
	}
	serviceCount, _ := floatFromMetadata(h.Metadata, "service_count")
	issueType, _ := h.Metadata["issue_type"].(string)
	if issueType == "" {
		issueType = "errors"
	}

	lookback := s.LookbackSeconds
	if lookback <= 0 {
		lookback = 1800
	}
	end := time.Now().Unix()
	start := end - lookback

	traces, err := s.Traces.Query(ctx, issueType, start, end, 0)
	if err != nil {
		return s.inconclusive(fmt.Sprintf("error querying trace backend: %v", err))
	}

	observedServices := map[string]struct{}{}
	for _, tr := range traces {
		if tr.ServiceName != "" {
			observedServices[tr.ServiceName] = struct{}{}
		}
	}
	observedCount := len(observedServices)

	var observedFraction float64
	if serviceCount > 0 {
		observedFraction = float64(observedCount) / serviceCount
	}

	matches, expectedDescription := s.verify(claimedScope, h.Metadata, observedServices, observedFraction)

	data := map[string]any{
		"claimed_scope":       claimedScope,
		"observed_services":   observedCount,
		"observed_fraction":   observedFraction,
		"service_count":       serviceCount,
	}

	if !matches {
		evidence := scientific.NewEvidence(scientific.EvidenceParams{
			Source:             "trace-backend://scope-verification",
			Data:               data,
			Interpretation:     fmt.Sprintf("claimed %s but only %d service(s) observed (%.1f%%)", claimedScope, observedCount, observedFraction*100),
			Quality:            scientific.QualityDirect,
			SupportsHypothesis: false,
			Confidence:         0.9,
		})
		return scientific.NewDisproofAttempt(scientific.DisproofAttemptParams{
			Strategy:       s.Name(),
			Method:         "Queried distributed traces to verify scope claim",
			ExpectedIfTrue: expectedDescription,
			Observed:       fmt.Sprintf("%d service(s) affected (%.1f%%)", observedCount, observedFraction*100),
			Disproven:      true,
			Evidence:       []scientific.Evidence{evidence},
			Reasoning:      fmt.Sprintf("scope mismatch: claimed %q, observed %d service(s) (%.1f%%)", claimedScope, observedCount, observedFraction*100),
		})
	}

	return scientific.NewDisproofAttempt(scientific.DisproofAttemptParams{
		Strategy:       s.Name(),
		Method:         "Queried distributed traces to verify scope claim",
		ExpectedIfTrue: expectedDescription,
		Observed:       fmt.Sprintf("%d service(s) affected (%.1f%%)", observedCount, observedFraction*100),
		Disproven:      false,
		Reasoning:      fmt.Sprintf("scope matches claim %q", claimedScope),
	})
}

func (s *ScopeVerification) verify(claimedScope string, metadata map[string]any, observed map[string]struct{}, observedFraction float64) (bool, string) {
	switch claimedScope {
	case "all_services":
		return observedFraction+scopeTolerance >= scopeThresholdAll, fmt.Sprintf(">= %.0f%% of services affected", scopeThresholdAll*100)
	case "most_services":
		return observedFraction+scopeTolerance >= scopeThresholdMost, fmt.Sprintf(">= %.0f%% of services affected", scopeThresholdMost*100)
	case "some_services":
		return observedFraction+scopeTolerance >= scopeThresholdSome, fmt.Sprintf(">= %.0f%% of services affected", scopeThresholdSome*100)
	case "specific_services":
		claimed, _ := metadata["affected_services"].([]string)
		for _, c := range claimed {
			if _, ok := observed[c]; !ok {
				return false, fmt.Sprintf("services %v affected", claimed)
			}
		}
		return true, fmt.Sprintf("services %v affected", claimed)
	default:
		return observedFraction+scopeTolerance >= scopeThresholdSome, "observed impact consistent with the claimed scope"
	}
}

func (s *ScopeVerification) inconclusive(reason string) scientific.DisproofAttempt {
	return scientific.NewDisproofAttempt(scientific.DisproofAttemptParams{
		Strategy:       s.Name(),
		Method:         "Verify scope claim against observed impact",
		ExpectedIfTrue: "observed impact should match the claimed scope",
		Observed:       reason,
		Disproven:      false,
		Reasoning:      "cannot verify scope: " + reason,
	})
}
