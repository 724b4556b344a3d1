// Package circuit wraps gobreaker into a small circuit breaker shared by
// the outbound provider and speech-pipeline clients.
package circuit

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned when the circuit breaker is open and rejects requests
// to prevent cascading failures against an unhealthy backend.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds the configuration for a Breaker.
type Config struct {
	// MaxFailures is the number of consecutive failures that trip the circuit.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before going half-open.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of successes required in half-open
	// state to close the circuit again.
	HalfOpenMaxSuccesses uint32
}

// Breaker protects outbound calls. Closed passes requests through; after
// MaxFailures consecutive failures the circuit opens and rejects
// immediately; after Timeout it admits trial requests in half-open state.
type Breaker struct {
	breaker *gobreaker.CircuitBreaker
}

// New creates a breaker with the default settings: 3 consecutive failures
// to trip, 30s open interval, 2 successes to close.
func New(name string) *Breaker {
	return NewWithConfig(name, Config{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	})
}

// NewWithConfig creates a breaker with custom settings.
func NewWithConfig(name string, config Config) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.HalfOpenMaxSuccesses,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
	}

	return &Breaker{breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the circuit breaker. If the circuit is open it
// returns ErrOpen immediately. A cancelled context counts as a failure
// without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return fn()
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrOpen
	}

	return result, err
}

// State returns the current circuit state: "closed", "open", or "half-open".
func (b *Breaker) State() string {
	switch b.breaker.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
