package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hivescan/hivescan/internal/core/logger"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker guards calls to flaky external collaborators, e.g. registry pulls.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a circuit breaker with default settings.
func New(name string) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Second * 60,
		Timeout:     time.Second * 30,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn with circuit breaker protection.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState {
		return ErrCircuitOpen
	}
	return err
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
