// Package postmortem renders a completed Investigation and its Act-phase
// ValidationResult into a human-readable Markdown report, and writes that
// report to disk atomically.
package postmortem

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/compass-investigate/compass/internal/disproof"
	"github.com/compass-investigate/compass/internal/investigation"
	"github.com/compass-investigate/compass/internal/ooda"
	"github.com/compass-investigate/compass/internal/scientific"
)

// PostMortem is the rendering-ready summary of one investigation's
// outcome, decoupled from the live Investigation/ooda.Result types so
// it can be built once and rendered or re-rendered without re-reading
// mutable state.
type PostMortem struct {
	InvestigationID string
	Service         string
	Symptom         string
	Severity        string
	Status          investigation.Status
	TotalCost       float64
	AgentCount      int
	DurationSeconds float64

	SelectedHypothesis *scientific.Hypothesis
	ValidationResult   *disproof.ValidationResult

	GeneratedAt time.Time
}

// FromResult builds a PostMortem from a completed orchestrator Run.
// result.Validation is only meaningful when the investigation reached
// ACT; for an INCONCLUSIVE run it's the zero value and is ignored.
func FromResult(inv *investigation.Investigation, result *ooda.Result) *PostMortem {
	pm := &PostMortem{
		InvestigationID: inv.ID,
		Service:         inv.Context.Service,
		Symptom:         inv.Context.Symptom,
		Severity:        inv.Context.Severity,
		Status:          inv.Status(),
		TotalCost:       inv.TotalCost(),
		AgentCount:      uniqueAgentCount(inv.Observations),
		DurationSeconds: duration(inv),
		GeneratedAt:     time.Now().UTC(),
	}

	if result != nil && result.Decision.Hypothesis != nil {
		pm.SelectedHypothesis = result.Decision.Hypothesis
		validation := result.Validation
		pm.ValidationResult = &validation
	}

	return pm
}

func uniqueAgentCount(observations []map[string]any) int {
	seen := make(map[string]struct{}, len(observations))
	for _, obs := range observations {
		id, _ := obs["agent_id"].(string)
		if id == "" {
			// The orchestrator records observations under "worker_id".
			id, _ = obs["worker_id"].(string)
		}
		if id == "" {
			continue
		}
		seen[id] = struct{}{}
	}
	return len(seen)
}

func duration(inv *investigation.Investigation) float64 {
	updated := inv.UpdatedAt()
	if updated.IsZero() {
		return 0.0
	}
	d := updated.Sub(inv.CreatedAt).Seconds()
	if d < 0 {
		return 0.0
	}
	return d
}

const markdownTemplate = `# Post-Mortem: {{.Service}} - {{.Symptom}}

**Status:** {{.StatusUpper}}
**Severity:** {{.Severity}}

## Summary

**Service:** {{.Service}}
**Symptom:** {{.Symptom}}
**Duration:** {{printf "%.1f" .DurationSeconds}}s
**Cost:** ${{printf "%.4f" .TotalCost}}
**Agents:** {{.AgentCount}} specialist agent(s)

## Root Cause

{{if .Hypothesis -}}
**Hypothesis:** {{.Hypothesis.Statement}}
**Confidence:** {{.ConfidencePct}}%
**Source:** {{.Hypothesis.AgentID}}
{{else -}}
INCONCLUSIVE - No hypotheses could be validated within budget.
Insufficient observability data was available to confirm a root cause.
{{end -}}
{{if .Attempts}}
## Validation

{{range .Attempts}}- {{.Strategy}}: {{if .Disproven}}Disproven{{else}}Not disproven{{end}}
{{end}}{{end -}}
{{if .AffectedSystems}}
## Recommendations

Investigate and remediate the affected systems: {{.AffectedSystems}}
{{end -}}
---
*Generated by COMPASS at {{.GeneratedAtFormatted}} UTC*
`

var postmortemTemplate = template.Must(template.New("postmortem").Parse(markdownTemplate))

// postmortemView flattens PostMortem into the shape the template
// ranges and conditions over, since text/template can't call methods
// that need extra formatting logic inline.
type postmortemView struct {
	Service              string
	Symptom              string
	Severity             string
	StatusUpper          string
	DurationSeconds      float64
	TotalCost            float64
	AgentCount           int
	Hypothesis           *scientific.Hypothesis
	ConfidencePct        string
	Attempts             []scientific.DisproofAttempt
	AffectedSystems      string
	GeneratedAtFormatted string
}

// Markdown renders the postmortem as a self-contained Markdown document.
func (pm *PostMortem) Markdown() string {
	view := postmortemView{
		Service:              pm.Service,
		Symptom:              pm.Symptom,
		Severity:             pm.Severity,
		StatusUpper:          strings.ToUpper(string(pm.Status)),
		DurationSeconds:      pm.DurationSeconds,
		TotalCost:            pm.TotalCost,
		AgentCount:           pm.AgentCount,
		GeneratedAtFormatted: pm.GeneratedAt.Format("2006-01-02 15:04:05"),
	}

	if pm.SelectedHypothesis != nil {
		h := pm.SelectedHypothesis
		view.Hypothesis = h
		view.ConfidencePct = fmt.Sprintf("%.0f", h.CurrentConfidence*100)
		view.AffectedSystems = strings.Join(h.AffectedSystems, ", ")
	}
	if pm.ValidationResult != nil {
		view.Attempts = pm.ValidationResult.Attempts
	}

	var b strings.Builder
	if err := postmortemTemplate.Execute(&b, view); err != nil {
		return fmt.Sprintf("post-mortem rendering failed: %v", err)
	}
	return b.String()
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

func sanitizeForFilename(s string) string {
	return unsafeFilenameChars.ReplaceAllString(s, "_")
}

// Save renders pm and writes it to outputDir, creating the directory if
// necessary and naming the file after the service and the investigation
// ID's first 8 characters. The write is atomic: the file is written to
// a temp path in the same directory, then renamed into place, so a
// concurrent reader never observes a partial report.
func Save(pm *PostMortem, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create post-mortem directory: %w", err)
	}

	shortID := pm.InvestigationID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	filename := fmt.Sprintf("%s_%s.md", sanitizeForFilename(pm.Service), shortID)
	path := filepath.Join(outputDir, filename)

	if err := atomicWrite(path, pm.Markdown()); err != nil {
		return "", fmt.Errorf("failed to write post-mortem: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// Render builds a PostMortem from inv and result and writes it directly
// to path, a caller-chosen file rather than a generated-name directory
// entry. Used by the CLI's --postmortem-out flag.
func Render(path string, inv *investigation.Investigation, result *ooda.Result) error {
	pm := FromResult(inv, result)
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create post-mortem directory: %w", err)
		}
	}
	if err := atomicWrite(path, pm.Markdown()); err != nil {
		return fmt.Errorf("failed to write post-mortem: %w", err)
	}
	return nil
}

func atomicWrite(path, content string) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".postmortem.*.md.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if _, statErr := os.Stat(tmpPath); statErr == nil {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.WriteString(content); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %q: %w", path, err)
	}
	return nil
}
