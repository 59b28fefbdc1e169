// Package observation implements the Observation Coordinator: parallel
// fan-out to specialist Worker ports with per-worker timeouts,
// partial-failure tolerance, and deadline-aware budget enforcement.
package observation

import (
	"context"

	"github.com/compass-investigate/compass/internal/investigation"
	"github.com/compass-investigate/compass/internal/scientific"
)

// Observation is one worker's opaque observation payload, tagged with
// the worker that produced it and the wall-time it took.
type Observation struct {
	WorkerID   string
	Data       map[string]any
	Confidence float64
	Cost       float64
	ElapsedMS  int64
}

// Worker is the §6 Worker port: a domain specialist that observes an
// investigation's context and, later, proposes hypotheses from what it
// observed.
type Worker interface {
	ID() string
	Observe(ctx context.Context, inv *investigation.Investigation) (Observation, error)
	GenerateHypotheses(ctx context.Context, obs Observation, inv *investigation.Investigation) ([]*scientific.Hypothesis, error)
}
