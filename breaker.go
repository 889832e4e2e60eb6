package redline

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/mediocregopher/redline/resp"
)

// BreakerPool wraps a Pool with a circuit breaker so that a dead or
// misbehaving server fails fast instead of eating a dial timeout per call.
// Only socket and protocol failures count against the breaker; an error
// reply from the server is a successful round trip.
type BreakerPool struct {
	pool *Pool
	cb   *gobreaker.CircuitBreaker[*resp.Reply]
}

// BreakerSettings returns gobreaker settings with the given tuning:
// maxRequests allowed through in the half-open state, the interval on which
// failure counts reset while closed, and the timeout before an open breaker
// transitions to half-open.
func BreakerSettings(name string, maxRequests uint32, interval, timeout time.Duration) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,
	}
}

// NewBreakerPool wraps p with a circuit breaker built from st.
func NewBreakerPool(p *Pool, st gobreaker.Settings) *BreakerPool {
	return &BreakerPool{
		pool: p,
		cb:   gobreaker.NewCircuitBreaker[*resp.Reply](st),
	}
}

// Do dispatches one command through the breaker. When the breaker is open it
// returns gobreaker.ErrOpenState without touching the pool.
func (b *BreakerPool) Do(ctx context.Context, args ...interface{}) (*resp.Reply, error) {
	return b.cb.Execute(func() (*resp.Reply, error) {
		return b.pool.Do(ctx, args...)
	})
}

// State reports the breaker's current state.
func (b *BreakerPool) State() gobreaker.State {
	return b.cb.State()
}

// Counts reports the breaker's request counts.
func (b *BreakerPool) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// Close closes the underlying pool.
func (b *BreakerPool) Close(ctx context.Context) {
	b.pool.Close(ctx)
}
