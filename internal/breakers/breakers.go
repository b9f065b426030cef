// Package breakers wraps sony/gobreaker with the trip policy shared by all
// outbound calls: trip on short consecutive-failure bursts or on a sustained
// failure ratio once enough traffic has been seen.
package breakers

import (
	"time"

	"github.com/rs/zerolog"
	cb "github.com/sony/gobreaker"
)

type Breaker struct {
	cb *cb.CircuitBreaker
}

func New(name string, logger zerolog.Logger) *Breaker {
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	st.OnStateChange = func(name string, from, to cb.State) {
		logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state change")
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State reports the breaker's current state name for status surfaces.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
