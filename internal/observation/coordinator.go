package observation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/compass-investigate/compass/internal/cerrors"
	"github.com/compass-investigate/compass/internal/investigation"
	"github.com/compass-investigate/compass/internal/logging"
)

var log = logging.GetLogger("observation")

// DefaultWorkerTimeout is the per-worker observation timeout applied
// when Coordinator.WorkerTimeout is zero.
const DefaultWorkerTimeout = 30 * time.Second

// Result is the outcome of one fan-out round: successful observations,
// errors keyed by worker ID, and an advisory combined confidence.
type Result struct {
	Observations []Observation
	Errors       map[string]error
	Confidence   float64
}

// Coordinator fans out Observe calls to a set of workers in parallel.
type Coordinator struct {
	// WorkerTimeout bounds each worker's Observe call. Zero means
	// DefaultWorkerTimeout.
	WorkerTimeout time.Duration
}

// New returns a Coordinator with default settings.
func New() *Coordinator {
	return &Coordinator{WorkerTimeout: DefaultWorkerTimeout}
}

type workerOutcome struct {
	workerID string
	obs      Observation
	err      error
}

// Observe runs workers concurrently against inv, each bounded by the
// coordinator's per-worker timeout. Any worker error other than
// cerrors.KindBudgetExceeded is recorded per-worker and the fan-out
// continues; a BudgetExceeded error cancels the shared group context
// (stopping the remaining in-flight workers) and is returned to the
// caller, since investigation-level budget violations are not
// recoverable (spec §4.4).
//
// Only the BudgetExceeded case is surfaced to errgroup.Group as a real
// error — that is the one failure mode where "cancel everything else"
// is the correct reaction to a single worker's outcome. Every other
// worker error is recorded and swallowed locally so the rest of the
// fan-out keeps running to completion.
func (c *Coordinator) Observe(ctx context.Context, inv *investigation.Investigation, workers []Worker) (*Result, error) {
	timeout := c.WorkerTimeout
	if timeout <= 0 {
		timeout = DefaultWorkerTimeout
	}

	g, fanoutCtx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	result := &Result{Errors: make(map[string]error)}
	var confidenceSum float64
	var successCount int

	for _, w := range workers {
		w := w
		g.Go(func() error {
			o := c.runOne(fanoutCtx, timeout, inv, w)

			mu.Lock()
			defer mu.Unlock()

			if o.err != nil {
				result.Errors[o.workerID] = o.err
				log.WarnWithFields("worker observation failed",
					logging.Field("worker_id", o.workerID), logging.Field("error", o.err.Error()))
				if cerrors.Is(o.err, cerrors.KindBudgetExceeded) {
					return o.err
				}
				return nil
			}

			result.Observations = append(result.Observations, o.obs)
			confidenceSum += o.obs.Confidence
			successCount++
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	if successCount > 0 {
		result.Confidence = confidenceSum / float64(successCount)
	}
	return result, nil
}

func (c *Coordinator) runOne(ctx context.Context, timeout time.Duration, inv *investigation.Investigation, w Worker) (outcome workerOutcome) {
	outcome.workerID = w.ID()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			outcome.err = cerrors.New(cerrors.KindTransport, fmt.Sprintf("worker %s panicked: %v", w.ID(), r))
		}
	}()

	start := time.Now()
	obs, err := w.Observe(callCtx, inv)
	elapsed := time.Since(start)

	if err != nil {
		if cerrors.Is(err, cerrors.KindBudgetExceeded) {
			outcome.err = err
			return outcome
		}
		if callCtx.Err() != nil {
			outcome.err = cerrors.Wrap(cerrors.KindCancellation, callCtx.Err(), fmt.Sprintf("worker %s timed out", w.ID()))
			return outcome
		}
		outcome.err = cerrors.Wrap(cerrors.KindTransport, err, fmt.Sprintf("worker %s observation failed", w.ID()))
		return outcome
	}

	obs.WorkerID = w.ID()
	obs.ElapsedMS = elapsed.Milliseconds()
	outcome.obs = obs
	return outcome
}
