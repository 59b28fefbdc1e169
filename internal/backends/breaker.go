package backends

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/compass-investigate/compass/internal/cerrors"
	"github.com/compass-investigate/compass/internal/logging"
)

// newBreaker returns a gobreaker.CircuitBreaker tuned for a single
// observability backend client: it trips after 5 consecutive failures
// and stays open for 30s before probing again, so a backend outage
// fails disproof-strategy and worker queries fast instead of piling up
// timeouts.
func newBreaker(name string, log *logging.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WarnWithFields("circuit breaker state change",
				logging.Field("breaker", name), logging.Field("from", from.String()), logging.Field("to", to.String()))
		},
	})
}

// breakerError wraps whatever the circuit breaker itself reports
// (ErrOpenState / ErrTooManyRequests) as a transport error so callers
// never need to import gobreaker to branch on it.
func breakerError(err error) error {
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return cerrors.Wrap(cerrors.KindTransport, err, "backend: circuit breaker rejected request")
	}
	return err
}
