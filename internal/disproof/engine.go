// Package disproof implements the Disproof Engine (§4.7): it drives a
// Hypothesis through an ordered list of falsification strategies,
// recording every attempt to the hypothesis's audit trail regardless of
// outcome.
package disproof

import (
	"context"

	"github.com/compass-investigate/compass/internal/cerrors"
	"github.com/compass-investigate/compass/internal/logging"
	"github.com/compass-investigate/compass/internal/scientific"
)

var log = logging.GetLogger("disproof")

// Outcome summarizes a ValidationResult.
type Outcome string

const (
	OutcomeSurvived     Outcome = "survived"
	OutcomeFailed       Outcome = "failed"
	OutcomeInconclusive Outcome = "inconclusive"
)

// ValidationResult is the engine's return value for one Validate call.
type ValidationResult struct {
	Hypothesis        *scientific.Hypothesis
	Outcome           Outcome
	Attempts          []scientific.DisproofAttempt
	UpdatedConfidence float64
}

// Strategy is one falsification test pluggable into the engine.
type Strategy interface {
	Name() string
	AttemptDisproof(ctx context.Context, h *scientific.Hypothesis) scientific.DisproofAttempt
}

// StrategyExecutor resolves a strategy name to an attempt, matching the
// §4.7 `strategy_executor(name, hypothesis) → DisproofAttempt` contract.
// Implementations must never panic or block past ctx's deadline;
// strategies that can't run produce a non-disprove attempt explaining
// why instead of raising.
type StrategyExecutor func(ctx context.Context, name string, h *scientific.Hypothesis) scientific.DisproofAttempt

// Engine runs an ordered list of strategies against a Hypothesis.
type Engine struct{}

// New returns a ready-to-use Engine.
func New() *Engine {
	return &Engine{}
}

// Validate calls executor once per strategy name, in order, appending
// each resulting attempt to h (which mutates h's status/confidence per
// §4.1) and continuing even after a disproven attempt so the full audit
// trail is preserved. It only stops early on ctx cancellation.
func (e *Engine) Validate(ctx context.Context, h *scientific.Hypothesis, strategyNames []string, executor StrategyExecutor) (ValidationResult, error) {
	attempts := make([]scientific.DisproofAttempt, 0, len(strategyNames))
	producedEvidence := false
	anyDisproven := false

	for _, name := range strategyNames {
		if err := ctx.Err(); err != nil {
			return ValidationResult{}, cerrors.Wrap(cerrors.KindCancellation, err, "disproof: cancelled mid-validation")
		}

		attempt := executor(ctx, name, h)
		h.AddDisproofAttempt(attempt)
		attempts = append(attempts, attempt)

		if len(attempt.Evidence) > 0 {
			producedEvidence = true
		}
		if attempt.Disproven {
			anyDisproven = true
		}

		log.InfoWithFields("disproof attempt completed",
			logging.Field("hypothesis_id", h.ID), logging.Field("strategy", name),
			logging.Field("disproven", attempt.Disproven))
	}

	outcome := OutcomeSurvived
	switch {
	case anyDisproven:
		outcome = OutcomeFailed
	case !producedEvidence:
		outcome = OutcomeInconclusive
	}

	return ValidationResult{
		Hypothesis:        h,
		Outcome:           outcome,
		Attempts:          attempts,
		UpdatedConfidence: h.CurrentConfidence,
	}, nil
}

// Registry resolves strategy names to Strategy implementations and
// builds a StrategyExecutor over them. A name with no registered
// Strategy produces a non-disprove attempt rather than erroring, per
// §4.7's "strategies must fail gracefully" rule.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds a Registry from a set of strategies, keyed by
// their own Name().
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Name()] = s
	}
	return r
}

// Executor returns a StrategyExecutor backed by this registry.
func (r *Registry) Executor() StrategyExecutor {
	return func(ctx context.Context, name string, h *scientific.Hypothesis) scientific.DisproofAttempt {
		s, ok := r.strategies[name]
		if !ok {
			return scientific.NewDisproofAttempt(scientific.DisproofAttemptParams{
				Strategy:       name,
				Method:         "strategy lookup",
				ExpectedIfTrue: "a registered strategy",
				Observed:       "no strategy registered under this name",
				Disproven:      false,
				Reasoning:      "disproof: unknown strategy \"" + name + "\", treated as inconclusive",
			})
		}
		return s.AttemptDisproof(ctx, h)
	}
}
