package generation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrUnavailable matches service errors raised while the breaker is open.
var ErrUnavailable = errors.New("generation service temporarily unavailable")

// BreakerOptions configures a Breaker.
type BreakerOptions struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	// OnStateChange is called with the new state: 0 closed, 1 half-open, 2 open.
	OnStateChange func(name string, state int)
}

// Breaker stops calling the service after repeated failures. Quota refusals
// and caller cancellations do not count as failures.
type Breaker struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Client, opts BreakerOptions) *Breaker {
	if opts.Name == "" {
		opts.Name = "generation"
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	threshold := opts.FailureThreshold

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.MaxRequests,
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			if opts.OnStateChange != nil {
				opts.OnStateChange(name, int(to))
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrQuotaExceeded) || errors.Is(err, context.Canceled)
		},
	})
	return &Breaker{next: next, cb: cb}
}

// Generate forwards to the wrapped client unless the breaker is open.
func (b *Breaker) Generate(ctx context.Context, req Request) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", &ServiceError{Detail: "service temporarily unavailable", Err: ErrUnavailable}
		}
		return "", err
	}
	return out.(string), nil
}

// State returns the breaker's current state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
