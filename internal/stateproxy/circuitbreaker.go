package stateproxy

import (
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/hacircuit"
)

// circuitBreaker specializes hacircuit's generic breaker to the resync
// call's result type, []event.State.
type circuitBreaker struct {
	cb *gobreaker.CircuitBreaker[[]event.State]
}

func newCircuitBreaker(cfg hacircuit.Config) *circuitBreaker {
	return &circuitBreaker{cb: hacircuit.New[[]event.State](cfg)}
}

func (c *circuitBreaker) execute(fn func() ([]event.State, error)) ([]event.State, error) {
	return c.cb.Execute(fn)
}
