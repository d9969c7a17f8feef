// Package resilience wraps providers with circuit breakers and ordered
// failover. Breakers are backed by github.com/sony/gobreaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when a call is rejected because the breaker is
// open or its half-open probe budget is used up.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// CircuitBreakerConfig configures a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting
	// probes. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probes admitted in half-open state, and
	// the number of consecutive successes that closes the breaker again.
	// Default: 3.
	HalfOpenMax int
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
}

// CircuitBreaker guards calls to one provider. It is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	cb  *gobreaker.CircuitBreaker
}

// NewCircuitBreaker returns a closed breaker configured by cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.applyDefaults()
	maxFailures := uint32(cfg.MaxFailures)
	return &CircuitBreaker{
		cfg: cfg,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: uint32(cfg.HalfOpenMax),
			Timeout:     cfg.ResetTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= maxFailures
			},
			// A caller walking away says nothing about the provider.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				level := slog.LevelInfo
				if to == gobreaker.StateOpen {
					level = slog.LevelWarn
				}
				slog.Log(context.Background(), level, "circuit breaker state change",
					"name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Name returns the breaker name.
func (b *CircuitBreaker) Name() string { return b.cfg.Name }

// Execute runs fn unless the breaker rejects the call, in which case the
// returned error wraps [ErrCircuitOpen].
func (b *CircuitBreaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, b.cfg.Name)
	}
	return err
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen].
func (b *CircuitBreaker) State() State { return b.cb.State() }
