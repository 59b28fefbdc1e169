package postmortem

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compass-investigate/compass/internal/decision"
	"github.com/compass-investigate/compass/internal/disproof"
	"github.com/compass-investigate/compass/internal/investigation"
	"github.com/compass-investigate/compass/internal/ooda"
	"github.com/compass-investigate/compass/internal/scientific"
)

func resolvedInvestigation(t *testing.T) *investigation.Investigation {
	t.Helper()
	inv := investigation.New(investigation.Context{
		Service:  "payment-service",
		Symptom:  "high latency",
		Severity: "critical",
	}, 10.0)
	require.NoError(t, inv.TransitionTo(investigation.StatusObserving))
	require.NoError(t, inv.TransitionTo(investigation.StatusHypothesisGeneration))
	require.NoError(t, inv.TransitionTo(investigation.StatusAwaitingHuman))
	require.NoError(t, inv.TransitionTo(investigation.StatusValidating))
	require.NoError(t, inv.TransitionTo(investigation.StatusResolved))
	require.NoError(t, inv.AddCost(0.2547))
	inv.AddObservation(map[string]any{
		"agent_id": "database_specialist",
		"data":     map[string]any{"metrics": "connection_pool_utilization"},
	})
	return inv
}

func resolvedHypothesis() *scientific.Hypothesis {
	h := scientific.NewHypothesis(scientific.HypothesisParams{
		AgentID:           "database_specialist",
		Statement:         "Database connection pool exhausted",
		InitialConfidence: 0.75,
		AffectedSystems:   []string{"payment-db"},
	})
	h.AddEvidence(scientific.NewEvidence(scientific.EvidenceParams{
		Source:             "database_specialist",
		Interpretation:     "pool exhausted",
		SupportsHypothesis: true,
		Quality:            scientific.QualityDirect,
		Confidence:         0.85,
	}))
	return h
}

func survivedValidation(h *scientific.Hypothesis) disproof.ValidationResult {
	return disproof.ValidationResult{
		Hypothesis: h,
		Outcome:    disproof.OutcomeSurvived,
		Attempts: []scientific.DisproofAttempt{
			scientific.NewDisproofAttempt(scientific.DisproofAttemptParams{
				Strategy: "temporal_contradiction", Method: "Check timing",
				ExpectedIfTrue: "Should match timeline", Observed: "Matches timeline", Disproven: false,
			}),
			scientific.NewDisproofAttempt(scientific.DisproofAttemptParams{
				Strategy: "scope_verification", Method: "Check scope",
				ExpectedIfTrue: "Should affect payment-db only", Observed: "Affects payment-db only", Disproven: false,
			}),
			scientific.NewDisproofAttempt(scientific.DisproofAttemptParams{
				Strategy: "correlation_vs_causation", Method: "Check causation",
				ExpectedIfTrue: "Should have causal link", Observed: "Has causal link", Disproven: false,
			}),
		},
		UpdatedConfidence: h.CurrentConfidence,
	}
}

func TestFromResultPopulatesResolvedInvestigation(t *testing.T) {
	inv := resolvedInvestigation(t)
	h := resolvedHypothesis()
	validation := survivedValidation(h)
	result := &ooda.Result{
		Investigation: inv,
		Decision:      decision.Decision{Hypothesis: h, Timestamp: time.Now()},
		Validation:    validation,
	}

	pm := FromResult(inv, result)

	assert.Equal(t, "payment-service", pm.Service)
	assert.Equal(t, "high latency", pm.Symptom)
	assert.Equal(t, "critical", pm.Severity)
	assert.Equal(t, investigation.StatusResolved, pm.Status)
	assert.Same(t, h, pm.SelectedHypothesis)
	require.NotNil(t, pm.ValidationResult)
	assert.Equal(t, disproof.OutcomeSurvived, pm.ValidationResult.Outcome)
	assert.InDelta(t, 0.2547, pm.TotalCost, 0.0001)
	assert.Equal(t, 1, pm.AgentCount)
	assert.Equal(t, inv.ID, pm.InvestigationID)
}

func TestFromResultPopulatesInconclusiveInvestigation(t *testing.T) {
	inv := investigation.New(investigation.Context{
		Service:  "api-service",
		Symptom:  "intermittent errors",
		Severity: "medium",
	}, 10.0)
	require.NoError(t, inv.TransitionTo(investigation.StatusObserving))
	require.NoError(t, inv.TransitionTo(investigation.StatusHypothesisGeneration))
	require.NoError(t, inv.TransitionTo(investigation.StatusInconclusive))
	require.NoError(t, inv.AddCost(0.0512))

	pm := FromResult(inv, nil)

	assert.Equal(t, "api-service", pm.Service)
	assert.Equal(t, investigation.StatusInconclusive, pm.Status)
	assert.Nil(t, pm.SelectedHypothesis)
	assert.Nil(t, pm.ValidationResult)
	assert.InDelta(t, 0.0512, pm.TotalCost, 0.0001)
	assert.Equal(t, 0, pm.AgentCount)
}

func TestFromResultCountsUniqueAgentsNotObservations(t *testing.T) {
	inv := resolvedInvestigation(t)
	inv.AddObservation(map[string]any{"agent_id": "database_specialist", "data": map[string]any{"query": "x"}})
	inv.AddObservation(map[string]any{"agent_id": "database_specialist", "data": map[string]any{"trace": "span-123"}})

	pm := FromResult(inv, nil)

	assert.Len(t, inv.Observations, 3)
	assert.Equal(t, 1, pm.AgentCount)
}

func TestMarkdownRendersAllFieldsForResolvedInvestigation(t *testing.T) {
	inv := resolvedInvestigation(t)
	h := resolvedHypothesis()
	h.AddEvidence(scientific.NewEvidence(scientific.EvidenceParams{
		Source: "x", Interpretation: "y", SupportsHypothesis: true, Quality: scientific.QualityDirect, Confidence: 0.9,
	}))
	validation := survivedValidation(h)
	result := &ooda.Result{Investigation: inv, Decision: decision.Decision{Hypothesis: h}, Validation: validation}
	pm := FromResult(inv, result)

	markdown := pm.Markdown()

	assert.Contains(t, markdown, "# Post-Mortem: payment-service - high latency")
	assert.Contains(t, markdown, "**Status:** RESOLVED")
	assert.Contains(t, markdown, "**Severity:** critical")
	assert.Contains(t, markdown, "**Service:** payment-service")
	assert.Contains(t, markdown, "**Symptom:** high latency")
	assert.Contains(t, markdown, "**Cost:** $0.2547")
	assert.Contains(t, markdown, "**Agents:** 1 specialist agent(s)")
	assert.Contains(t, markdown, "## Root Cause")
	assert.Contains(t, markdown, "**Hypothesis:** Database connection pool exhausted")
	assert.Contains(t, markdown, "**Source:** database_specialist")
	assert.Contains(t, markdown, "## Validation")
	assert.Contains(t, markdown, "temporal_contradiction: Not disproven")
	assert.Contains(t, markdown, "scope_verification: Not disproven")
	assert.Contains(t, markdown, "correlation_vs_causation: Not disproven")
	assert.Contains(t, markdown, "## Recommendations")
	assert.Contains(t, markdown, "payment-db")
	assert.Contains(t, markdown, "Generated by COMPASS")
	assert.Contains(t, markdown, "UTC")
}

func TestMarkdownRendersInconclusiveCase(t *testing.T) {
	inv := investigation.New(investigation.Context{Service: "api-service", Symptom: "intermittent errors", Severity: "medium"}, 10.0)
	require.NoError(t, inv.TransitionTo(investigation.StatusObserving))
	require.NoError(t, inv.TransitionTo(investigation.StatusHypothesisGeneration))
	require.NoError(t, inv.TransitionTo(investigation.StatusInconclusive))

	pm := FromResult(inv, nil)
	markdown := pm.Markdown()

	assert.Contains(t, markdown, "**Status:** INCONCLUSIVE")
	assert.Contains(t, markdown, "## Root Cause")
	assert.Contains(t, markdown, "INCONCLUSIVE - No hypotheses could be validated")
	assert.Contains(t, markdown, "Insufficient observability data")
	assert.NotContains(t, markdown, "## Validation")
	assert.NotContains(t, markdown, "## Recommendations")
}

func TestMarkdownHandlesMissingHypothesis(t *testing.T) {
	inv := resolvedInvestigation(t)
	result := &ooda.Result{Investigation: inv}
	pm := FromResult(inv, result)

	markdown := pm.Markdown()

	assert.Contains(t, markdown, "INCONCLUSIVE - No hypotheses could be validated")
	assert.NotContains(t, markdown, "## Validation")
	assert.NotContains(t, markdown, "## Recommendations")
}

func TestMarkdownSkipsRecommendationsWhenAffectedSystemsEmpty(t *testing.T) {
	inv := resolvedInvestigation(t)
	h := scientific.NewHypothesis(scientific.HypothesisParams{
		AgentID: "test_agent", Statement: "Test hypothesis", InitialConfidence: 0.8, AffectedSystems: []string{},
	})
	validation := disproof.ValidationResult{
		Hypothesis: h,
		Outcome:    disproof.OutcomeSurvived,
		Attempts: []scientific.DisproofAttempt{
			scientific.NewDisproofAttempt(scientific.DisproofAttemptParams{Strategy: "test_strategy", Method: "m", Observed: "o", Disproven: false}),
		},
		UpdatedConfidence: 0.85,
	}
	result := &ooda.Result{Investigation: inv, Decision: decision.Decision{Hypothesis: h}, Validation: validation}

	markdown := FromResult(inv, result).Markdown()

	assert.NotContains(t, markdown, "## Recommendations")
}

func TestSaveCreatesFileWithExpectedContent(t *testing.T) {
	inv := resolvedInvestigation(t)
	h := resolvedHypothesis()
	result := &ooda.Result{Investigation: inv, Decision: decision.Decision{Hypothesis: h}, Validation: survivedValidation(h)}
	pm := FromResult(inv, result)

	outputDir := filepath.Join(t.TempDir(), "postmortems")
	path, err := Save(pm, outputDir)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "# Post-Mortem: payment-service")
	assert.Contains(t, string(content), "Database connection pool exhausted")
}

func TestSaveCreatesDirectoryIfMissing(t *testing.T) {
	inv := resolvedInvestigation(t)
	pm := FromResult(inv, nil)

	outputDir := filepath.Join(t.TempDir(), "new", "nested", "dir")
	_, err := os.Stat(outputDir)
	require.True(t, os.IsNotExist(err))

	path, err := Save(pm, outputDir)
	require.NoError(t, err)

	_, err = os.Stat(outputDir)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestSaveIncludesShortInvestigationIDInFilename(t *testing.T) {
	inv := resolvedInvestigation(t)
	pm := FromResult(inv, nil)

	outputDir := filepath.Join(t.TempDir(), "postmortems")
	path, err := Save(pm, outputDir)
	require.NoError(t, err)

	assert.Contains(t, filepath.Base(path), pm.InvestigationID[:8])
}

func TestSaveSanitizesServiceNameForFilename(t *testing.T) {
	inv := resolvedInvestigation(t)
	inv.Context.Service = "payment/db:service"
	pm := FromResult(inv, nil)

	outputDir := filepath.Join(t.TempDir(), "postmortems")
	path, err := Save(pm, outputDir)
	require.NoError(t, err)

	filename := filepath.Base(path)
	assert.Contains(t, filename, "payment_db_service")
	assert.NotContains(t, filename, "/")
	assert.NotContains(t, filename, ":")
}

func TestSaveReturnsAbsolutePath(t *testing.T) {
	inv := resolvedInvestigation(t)
	pm := FromResult(inv, nil)

	outputDir := filepath.Join(t.TempDir(), "postmortems")
	path, err := Save(pm, outputDir)
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(path))
}

func TestRenderWritesDirectlyToGivenPath(t *testing.T) {
	inv := resolvedInvestigation(t)
	h := resolvedHypothesis()
	result := &ooda.Result{Investigation: inv, Decision: decision.Decision{Hypothesis: h}, Validation: survivedValidation(h)}

	path := filepath.Join(t.TempDir(), "reports", "out.md")
	require.NoError(t, Render(path, inv, result))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Database connection pool exhausted")
}
