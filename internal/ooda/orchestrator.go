// Package ooda implements the OODA Orchestrator (§4.3): the four-phase
// Observe-Orient-Decide-Act state machine that drives a single
// Investigation from TRIGGERED to a terminal status, wiring together
// the Observation Coordinator, Hypothesis Ranker, Decision Interface,
// and Disproof Engine.
package ooda

import (
	"context"

	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/compass-investigate/compass/internal/cerrors"
	"github.com/compass-investigate/compass/internal/decision"
	"github.com/compass-investigate/compass/internal/disproof"
	"github.com/compass-investigate/compass/internal/investigation"
	"github.com/compass-investigate/compass/internal/logging"
	"github.com/compass-investigate/compass/internal/observation"
	"github.com/compass-investigate/compass/internal/ranker"
	"github.com/compass-investigate/compass/internal/scientific"
	"github.com/compass-investigate/compass/internal/tracing"
)

var log = logging.GetLogger("ooda")

// Phase identifies which of the four OODA phases produced a Result or
// an error.
type Phase string

const (
	PhaseObserve Phase = "observe"
	PhaseOrient  Phase = "orient"
	PhaseDecide  Phase = "decide"
	PhaseAct     Phase = "act"
)

// Result is the outcome of one full orchestrator Run.
type Result struct {
	Investigation     *investigation.Investigation
	ObservationResult *observation.Result
	Ranked            []ranker.Ranked
	DeduplicatedCount int
	Conflicts         []string
	Decision          decision.Decision
	Validation        disproof.ValidationResult
	Cancelled         bool
	CancelledAtPhase  Phase
}

// Orchestrator sequences the OODA phases for one Investigation,
// delegating each phase's real work to its dedicated subsystem.
type Orchestrator struct {
	Workers          []observation.Worker
	Coordinator      *observation.Coordinator
	Ranker           *ranker.Ranker
	Decider          decision.Interface
	DisproofEngine   *disproof.Engine
	StrategyNames    []string
	StrategyExecutor disproof.StrategyExecutor

	// Tracer, when set, wraps each phase in a span named
	// "investigation.<phase>". Left nil, phases run untraced.
	Tracer otelTrace.Tracer

	// LoopBackOnFailedValidation controls ACT's policy when the Disproof
	// Engine returns FAILED. v1's default (false) resolves immediately
	// so the audit trail always completes in one pass (spec §4.3); set
	// true to loop back to HYPOTHESIS_GENERATION instead.
	LoopBackOnFailedValidation bool
}

// New returns an Orchestrator wired with default Coordinator/Ranker
// instances. Decider, DisproofEngine, StrategyNames, and
// StrategyExecutor are left for the caller to set since they have no
// meaningful zero value.
func New(workers []observation.Worker) *Orchestrator {
	return &Orchestrator{
		Workers:     workers,
		Coordinator: observation.New(),
		Ranker:      ranker.New(),
	}
}

// Run drives inv through OBSERVE, ORIENT, DECIDE, and ACT in order. A
// single ctx cancellation is threaded through every blocking call:
// on cancellation the orchestrator aborts the current phase, attempts
// no further transition, and returns a Result with Cancelled set
// alongside the partially populated investigation, plus the
// cancellation error.
func (o *Orchestrator) Run(ctx context.Context, inv *investigation.Investigation) (*Result, error) {
	result := &Result{Investigation: inv}

	_, err := o.tracedPhase(ctx, inv, PhaseObserve, func(ctx context.Context) (int, error) {
		obsResult, obsErr := o.observe(ctx, inv)
		result.ObservationResult = obsResult
		if obsResult == nil {
			return 0, obsErr
		}
		return len(obsResult.Observations), obsErr
	})
	if err != nil {
		return o.abort(result, inv, PhaseObserve, err)
	}

	_, err = o.tracedPhase(ctx, inv, PhaseOrient, func(ctx context.Context) (int, error) {
		orientResult, orientErr := o.orient(ctx, inv, result.ObservationResult)
		result.Ranked = orientResult.Ranked
		result.DeduplicatedCount = orientResult.DeduplicatedCount
		result.Conflicts = orientResult.Conflicts
		return len(orientResult.Ranked), orientErr
	})
	if err != nil {
		return o.abort(result, inv, PhaseOrient, err)
	}
	if result.Ranked == nil {
		// Empty ranked set: already transitioned to INCONCLUSIVE inside orient.
		return result, nil
	}

	_, err = o.tracedPhase(ctx, inv, PhaseDecide, func(ctx context.Context) (int, error) {
		dec, decideErr := o.decide(ctx, inv, result.Ranked)
		result.Decision = dec
		return 1, decideErr
	})
	if err != nil {
		return o.abort(result, inv, PhaseDecide, err)
	}

	_, err = o.tracedPhase(ctx, inv, PhaseAct, func(ctx context.Context) (int, error) {
		validation, actErr := o.act(ctx, inv, result.Decision.Hypothesis)
		result.Validation = validation
		return len(validation.Attempts), actErr
	})
	if err != nil {
		return o.abort(result, inv, PhaseAct, err)
	}

	return result, nil
}

// tracedPhase wraps fn in a span (when o.Tracer is set) recording the
// investigation's cost delta and the count fn returns (hypothesis
// count, attempt count, or similar, depending on phase) before ending
// the span with fn's error.
func (o *Orchestrator) tracedPhase(ctx context.Context, inv *investigation.Investigation, phase Phase, fn func(context.Context) (int, error)) (int, error) {
	if o.Tracer == nil {
		return fn(ctx)
	}

	costBefore := inv.TotalCost()
	spanCtx, span := tracing.StartPhase(ctx, o.Tracer, inv.ID, inv.Context.Service, string(phase))
	count, err := fn(spanCtx)
	tracing.EndPhase(span, inv.TotalCost()-costBefore, count, err)
	return count, err
}

func (o *Orchestrator) abort(result *Result, inv *investigation.Investigation, phase Phase, err error) (*Result, error) {
	if cerrors.Is(err, cerrors.KindCancellation) {
		log.WarnWithFields("investigation cancelled mid-phase",
			logging.Field("investigation_id", inv.ID), logging.Field("phase", string(phase)))
		result.Cancelled = true
		result.CancelledAtPhase = phase
		return result, err
	}
	log.ErrorWithFields("investigation phase failed",
		logging.Field("investigation_id", inv.ID), logging.Field("phase", string(phase)), logging.Field("error", err.Error()))
	return result, err
}

// observe drives the OBSERVE phase: TRIGGERED→OBSERVING, fan out to
// workers, roll up cost, then OBSERVING→HYPOTHESIS_GENERATION.
func (o *Orchestrator) observe(ctx context.Context, inv *investigation.Investigation) (*observation.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, cerrors.Wrap(cerrors.KindCancellation, err, "ooda: cancelled before observe")
	}
	if err := inv.TransitionTo(investigation.StatusObserving); err != nil {
		return nil, err
	}

	obsResult, err := o.Coordinator.Observe(ctx, inv, o.Workers)
	if err != nil {
		return nil, err
	}

	var delta float64
	for _, obs := range obsResult.Observations {
		delta += obs.Cost
		inv.AddObservation(map[string]any{
			"worker_id":  obs.WorkerID,
			"data":       obs.Data,
			"confidence": obs.Confidence,
			"cost":       obs.Cost,
			"elapsed_ms": obs.ElapsedMS,
		})
	}
	if err := inv.AddCost(delta); err != nil {
		return nil, err
	}

	log.InfoWithFields("observe phase completed",
		logging.Field("investigation_id", inv.ID),
		logging.Field("observation_count", len(obsResult.Observations)),
		logging.Field("error_count", len(obsResult.Errors)),
		logging.Field("combined_confidence", obsResult.Confidence))

	if err := inv.TransitionTo(investigation.StatusHypothesisGeneration); err != nil {
		return nil, err
	}
	return obsResult, nil
}

// orient drives the ORIENT phase: ask every worker for hypotheses from
// its own observation, pool them, and rank. A zero Result with a nil
// error means the investigation was transitioned to INCONCLUSIVE
// because no hypothesis survived.
func (o *Orchestrator) orient(ctx context.Context, inv *investigation.Investigation, obsResult *observation.Result) (ranker.Result, error) {
	if err := ctx.Err(); err != nil {
		return ranker.Result{}, cerrors.Wrap(cerrors.KindCancellation, err, "ooda: cancelled before orient")
	}

	workerByID := make(map[string]observation.Worker, len(o.Workers))
	for _, w := range o.Workers {
		workerByID[w.ID()] = w
	}

	var pooled []*scientific.Hypothesis
	for _, obs := range obsResult.Observations {
		w, ok := workerByID[obs.WorkerID]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return ranker.Result{}, cerrors.Wrap(cerrors.KindCancellation, err, "ooda: cancelled during hypothesis generation")
		}

		hyps, err := w.GenerateHypotheses(ctx, obs, inv)
		if err != nil {
			if cerrors.Is(err, cerrors.KindBudgetExceeded) || cerrors.Is(err, cerrors.KindCancellation) {
				return ranker.Result{}, err
			}
			log.WarnWithFields("worker hypothesis generation failed",
				logging.Field("investigation_id", inv.ID), logging.Field("worker_id", obs.WorkerID), logging.Field("error", err.Error()))
			continue
		}
		for _, h := range hyps {
			inv.AddHypothesis(h)
			pooled = append(pooled, h)
		}
	}

	if len(pooled) == 0 {
		if err := inv.TransitionTo(investigation.StatusInconclusive); err != nil {
			return ranker.Result{}, err
		}
		log.InfoWithFields("orient phase produced no hypotheses, investigation inconclusive",
			logging.Field("investigation_id", inv.ID))
		return ranker.Result{}, nil
	}

	r := o.Ranker
	if r == nil {
		r = ranker.New()
	}
	rankResult := r.Rank(pooled)

	if len(rankResult.Ranked) == 0 {
		if err := inv.TransitionTo(investigation.StatusInconclusive); err != nil {
			return ranker.Result{}, err
		}
		return ranker.Result{}, nil
	}

	if len(rankResult.Conflicts) > 0 {
		log.WarnWithFields("orient phase detected conflicting hypotheses",
			logging.Field("investigation_id", inv.ID), logging.Field("conflicts", rankResult.Conflicts))
	}
	log.InfoWithFields("orient phase completed",
		logging.Field("investigation_id", inv.ID),
		logging.Field("pooled_count", len(pooled)),
		logging.Field("ranked_count", len(rankResult.Ranked)),
		logging.Field("deduplicated_count", rankResult.DeduplicatedCount))
	return rankResult, nil
}

// decide drives the DECIDE phase: AWAITING_HUMAN, invoke the Decision
// Interface, record the decision.
func (o *Orchestrator) decide(ctx context.Context, inv *investigation.Investigation, ranked []ranker.Ranked) (decision.Decision, error) {
	if err := inv.TransitionTo(investigation.StatusAwaitingHuman); err != nil {
		return decision.Decision{}, err
	}

	dec, err := o.Decider.Decide(ctx, ranked, inv)
	if err != nil {
		return decision.Decision{}, err
	}

	if dec.Reasoning == "" {
		log.WarnWithFields("decision recorded without reasoning",
			logging.Field("investigation_id", inv.ID), logging.Field("hypothesis_id", dec.Hypothesis.ID))
	}

	inv.RecordDecision(investigation.Decision{
		HypothesisID: dec.Hypothesis.ID,
		Reasoning:    dec.Reasoning,
		Timestamp:    dec.Timestamp,
	})

	log.InfoWithFields("decide phase completed",
		logging.Field("investigation_id", inv.ID), logging.Field("hypothesis_id", dec.Hypothesis.ID))
	return dec, nil
}

// act drives the ACT phase: VALIDATING, invoke the Disproof Engine,
// roll up attempt cost, and transition to RESOLVED (or, on a FAILED
// outcome with LoopBackOnFailedValidation set, to HYPOTHESIS_GENERATION).
func (o *Orchestrator) act(ctx context.Context, inv *investigation.Investigation, h *scientific.Hypothesis) (disproof.ValidationResult, error) {
	if err := inv.TransitionTo(investigation.StatusValidating); err != nil {
		return disproof.ValidationResult{}, err
	}

	validation, err := o.DisproofEngine.Validate(ctx, h, o.StrategyNames, o.StrategyExecutor)
	if err != nil {
		return disproof.ValidationResult{}, err
	}

	var delta float64
	for _, attempt := range validation.Attempts {
		for _, cost := range attempt.Cost {
			delta += cost
		}
	}
	if err := inv.AddCost(delta); err != nil {
		return disproof.ValidationResult{}, err
	}

	target := investigation.StatusResolved
	if validation.Outcome == disproof.OutcomeFailed && o.LoopBackOnFailedValidation {
		target = investigation.StatusHypothesisGeneration
	}
	if err := inv.TransitionTo(target); err != nil {
		return disproof.ValidationResult{}, err
	}

	log.InfoWithFields("act phase completed",
		logging.Field("investigation_id", inv.ID),
		logging.Field("outcome", string(validation.Outcome)),
		logging.Field("attempt_count", len(validation.Attempts)),
		logging.Field("resolved_status", string(target)))
	return validation, nil
}
