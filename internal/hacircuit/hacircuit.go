// Package hacircuit wraps upstream calls (state proxy resync, websocket
// reconnect) in a sony/gobreaker circuit breaker so a degraded Home
// Assistant instance fails fast instead of retry-storming, adapted from the
// teacher's eventprocessor circuit breaker helper and generalized with a
// type parameter instead of the teacher's interface{} instantiation.
package hacircuit

import (
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Config mirrors the teacher's CircuitBreakerConfig.
type Config struct {
	Name             string
	MaxRequests      uint32        // allowed in half-open state
	Interval         time.Duration // reset interval for counts
	Timeout          time.Duration // time to stay open
	FailureThreshold uint32        // consecutive failures before opening
}

// DefaultConfig returns production defaults, matching the teacher's
// DefaultCircuitBreakerConfig.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// New constructs a generic breaker for result type T.
func New[T any](cfg Config) *gobreaker.CircuitBreaker[T] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return gobreaker.NewCircuitBreaker[T](settings)
}

// State reports the breaker's current state as a string for metrics/logs.
func State[T any](cb *gobreaker.CircuitBreaker[T]) string {
	return cb.State().String()
}
