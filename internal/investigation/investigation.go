// Package investigation implements the Investigation root aggregate:
// its status state machine and per-investigation budget enforcement.
package investigation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/compass-investigate/compass/internal/cerrors"
	"github.com/compass-investigate/compass/internal/logging"
	"github.com/compass-investigate/compass/internal/scientific"
)

var log = logging.GetLogger("investigation")

// Status is one of the seven investigation lifecycle states.
type Status string

const (
	StatusTriggered             Status = "triggered"
	StatusObserving             Status = "observing"
	StatusHypothesisGeneration  Status = "hypothesis_generation"
	StatusAwaitingHuman         Status = "awaiting_human"
	StatusValidating            Status = "validating"
	StatusResolved              Status = "resolved"
	StatusInconclusive          Status = "inconclusive"
)

// validTransitions is the allowed-edges table from spec §4.2.
var validTransitions = map[Status][]Status{
	StatusTriggered:            {StatusObserving},
	StatusObserving:            {StatusHypothesisGeneration},
	StatusHypothesisGeneration: {StatusAwaitingHuman, StatusInconclusive},
	StatusAwaitingHuman:        {StatusValidating},
	StatusValidating:           {StatusResolved, StatusHypothesisGeneration, StatusInconclusive},
	StatusResolved:             {},
	StatusInconclusive:         {},
}

// Context is the incident context that triggered an investigation.
type Context struct {
	Service  string
	Symptom  string
	Severity string
	Metadata map[string]any
}

// Decision is a recorded human decision about which hypothesis to test.
type Decision struct {
	HypothesisID string
	Reasoning    string
	Timestamp    time.Time
}

// DefaultBudgetLimit is the routine-investigation budget ceiling in USD.
const DefaultBudgetLimit = 10.0

// Investigation is the root aggregate tracking one incident
// investigation's full lifecycle. Status, UpdatedAt, and TotalCost are
// serialized by mu; TransitionTo and AddCost are the only mutators.
type Investigation struct {
	ID          string
	Context     Context
	CreatedAt   time.Time
	BudgetLimit float64

	Observations []map[string]any
	Hypotheses   []*scientific.Hypothesis
	Decisions    []Decision

	mu        sync.Mutex
	status    Status
	updatedAt time.Time
	totalCost float64
}

// New creates an Investigation in StatusTriggered. budgetLimit <= 0
// defaults to DefaultBudgetLimit.
func New(ctx Context, budgetLimit float64) *Investigation {
	if budgetLimit <= 0 {
		budgetLimit = DefaultBudgetLimit
	}
	now := time.Now().UTC()
	inv := &Investigation{
		ID:          uuid.NewString(),
		Context:     ctx,
		CreatedAt:   now,
		updatedAt:   now,
		status:      StatusTriggered,
		BudgetLimit: budgetLimit,
	}
	log.InfoWithFields("investigation created", logging.Field("investigation_id", inv.ID),
		logging.Field("service", ctx.Service), logging.Field("symptom", ctx.Symptom),
		logging.Field("severity", ctx.Severity), logging.Field("budget_limit", budgetLimit))
	return inv
}

// Status returns the current status.
func (i *Investigation) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// UpdatedAt returns the timestamp of the last successful transition or
// cost addition.
func (i *Investigation) UpdatedAt() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.updatedAt
}

// TotalCost returns the accumulated cost so far.
func (i *Investigation) TotalCost() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.totalCost
}

// TransitionTo advances status to target if the edge is present in the
// transition table. Returns a cerrors.KindInvalidTransition error
// otherwise, leaving status and updatedAt unchanged.
func (i *Investigation) TransitionTo(target Status) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	valid := validTransitions[i.status]
	allowed := false
	for _, s := range valid {
		if s == target {
			allowed = true
			break
		}
	}
	if !allowed {
		return cerrors.New(cerrors.KindInvalidTransition,
			fmt.Sprintf("cannot transition from %s to %s (valid: %v)", i.status, target, valid))
	}

	old := i.status
	i.status = target
	i.updatedAt = time.Now().UTC()

	log.InfoWithFields("investigation state transition",
		logging.Field("investigation_id", i.ID),
		logging.Field("from_status", string(old)),
		logging.Field("to_status", string(target)),
		logging.Field("duration_seconds", i.updatedAt.Sub(i.CreatedAt).Seconds()))
	return nil
}

// AddCost adds delta to the accumulated cost, failing with
// cerrors.KindBudgetExceeded (and leaving TotalCost unchanged) if the
// candidate total would exceed BudgetLimit. Crossing 80% utilization
// logs a warning but still succeeds.
func (i *Investigation) AddCost(delta float64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	newTotal := i.totalCost + delta
	if newTotal > i.BudgetLimit {
		log.ErrorWithFields("investigation budget exceeded",
			logging.Field("investigation_id", i.ID),
			logging.Field("cost_added", delta),
			logging.Field("total_cost", i.totalCost),
			logging.Field("new_total", newTotal),
			logging.Field("budget_limit", i.BudgetLimit))
		return cerrors.New(cerrors.KindBudgetExceeded,
			fmt.Sprintf("investigation %s would exceed budget: $%.4f > $%.4f", i.ID, newTotal, i.BudgetLimit))
	}

	i.totalCost = newTotal
	i.updatedAt = time.Now().UTC()

	utilization := 100.0 * i.totalCost / i.BudgetLimit
	if utilization >= 80.0 {
		log.WarnWithFields("investigation budget warning",
			logging.Field("investigation_id", i.ID),
			logging.Field("total_cost", i.totalCost),
			logging.Field("budget_limit", i.BudgetLimit),
			logging.Field("utilization_pct", utilization))
	}
	return nil
}

// AddObservation records one worker's observation payload.
func (i *Investigation) AddObservation(obs map[string]any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Observations = append(i.Observations, obs)
}

// AddHypothesis records a candidate or validated hypothesis.
func (i *Investigation) AddHypothesis(h *scientific.Hypothesis) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Hypotheses = append(i.Hypotheses, h)
}

// RecordDecision appends a human decision to the investigation's log.
func (i *Investigation) RecordDecision(d Decision) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Decisions = append(i.Decisions, d)
}

// Duration returns the elapsed time between CreatedAt and the last
// recorded update.
func (i *Investigation) Duration() time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.updatedAt.Sub(i.CreatedAt)
}
