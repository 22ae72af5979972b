package resource

import (
	"context"
	"sync"
)

// signal is a resettable, broadcastable event — the Go analogue of
// asyncio.Event, which unlike a plain closed channel can be cleared and
// waited on again.
type signal struct {
	mu sync.Mutex
	ch chan struct{}
	// set tracks whether the signal is currently in the "set" state, since
	// a channel alone can't be inspected without risking a double-close.
	isSet bool
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isSet {
		return
	}
	s.isSet = true
	close(s.ch)
}

func (s *signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isSet {
		return
	}
	s.isSet = false
	s.ch = make(chan struct{})
}

func (s *signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSet
}

// Wait blocks until the signal is set or ctx is done.
func (s *signal) Wait(ctx context.Context) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
