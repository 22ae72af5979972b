package servicewatcher_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/resource"
	"github.com/NodeJSmith/hassette-go/internal/servicewatcher"
)

type fakeBus struct {
	mu      sync.Mutex
	handler func(ctx context.Context, e event.Event) error
}

func (f *fakeBus) On(opts servicewatcher.SubscribeOptions) (servicewatcher.Cancel, error) {
	f.mu.Lock()
	f.handler = opts.Handler
	f.mu.Unlock()
	return noopCancel{}, nil
}

func (f *fakeBus) fire(t *testing.T, payload event.ServiceStatus) {
	t.Helper()
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	require.NotNil(t, h, "watcher has not subscribed yet")
	require.NoError(t, h(context.Background(), event.New(event.TopicServiceStatus, payload)))
}

type noopCancel struct{}

func (noopCancel) Cancel() {}

type fakeRestartable struct {
	name       string
	role       resource.Role
	mu         sync.Mutex
	restarts   int
	restartErr error
}

func (f *fakeRestartable) UniqueName() string  { return f.name }
func (f *fakeRestartable) Role() resource.Role { return f.role }
func (f *fakeRestartable) Restart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return f.restartErr
}

func (f *fakeRestartable) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

type fakeRegistry struct {
	targets []servicewatcher.Restartable
}

func (r *fakeRegistry) FindByNameRole(name string, role resource.Role) []servicewatcher.Restartable {
	var out []servicewatcher.Restartable
	for _, t := range r.targets {
		if t.UniqueName() == name && t.Role() == role {
			out = append(out, t)
		}
	}
	return out
}

type fakeShutdowner struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeShutdowner) RequestGlobalShutdown(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

func (f *fakeShutdowner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reasons)
}

func startWatcher(t *testing.T, w *servicewatcher.Watcher) {
	t.Helper()
	w.Start(context.Background())
	require.NoError(t, w.WaitReady(context.Background()))
}

func TestFailedTriggersRestartAfterBackoff(t *testing.T) {
	bus := &fakeBus{}
	target := &fakeRestartable{name: "websocket", role: resource.RoleService}
	registry := &fakeRegistry{targets: []servicewatcher.Restartable{target}}

	w := servicewatcher.New(bus, registry, &fakeShutdowner{}, servicewatcher.Config{
		MaxAttempts:       5,
		BackoffSeconds:    0.01,
		BackoffMultiplier: 2,
		MaxBackoffSeconds: 1,
	}, nil)
	startWatcher(t, w)
	defer func() { _ = w.Shutdown(context.Background()) }()

	bus.fire(t, event.ServiceStatus{ResourceName: "websocket", Role: "service", Status: "failed"})

	assert.Eventually(t, func() bool { return target.restartCount() == 1 }, time.Second, time.Millisecond)
}

func TestAttemptsExhaustedGivesUpWithoutRestart(t *testing.T) {
	bus := &fakeBus{}
	target := &fakeRestartable{name: "websocket", role: resource.RoleService}
	registry := &fakeRegistry{targets: []servicewatcher.Restartable{target}}

	w := servicewatcher.New(bus, registry, &fakeShutdowner{}, servicewatcher.Config{
		MaxAttempts:       2,
		BackoffSeconds:    0.001,
		BackoffMultiplier: 1,
		MaxBackoffSeconds: 1,
	}, nil)
	startWatcher(t, w)
	defer func() { _ = w.Shutdown(context.Background()) }()

	for i := 0; i < 3; i++ {
		bus.fire(t, event.ServiceStatus{ResourceName: "websocket", Role: "service", Status: "failed"})
		time.Sleep(20 * time.Millisecond)
	}

	assert.LessOrEqual(t, target.restartCount(), 2, "attempts cap should stop restarts once max_attempts is reached")
}

func TestCrashedRequestsGlobalShutdown(t *testing.T) {
	bus := &fakeBus{}
	registry := &fakeRegistry{}
	shutdowner := &fakeShutdowner{}

	w := servicewatcher.New(bus, registry, shutdowner, servicewatcher.Config{
		MaxAttempts: 5, BackoffSeconds: 1, BackoffMultiplier: 2, MaxBackoffSeconds: 10,
	}, nil)
	startWatcher(t, w)
	defer func() { _ = w.Shutdown(context.Background()) }()

	bus.fire(t, event.ServiceStatus{ResourceName: "bus", Role: "core", Status: "crashed"})

	assert.Equal(t, 1, shutdowner.count())
}

func TestOtherTransitionsAreLoggedNotActedOn(t *testing.T) {
	bus := &fakeBus{}
	target := &fakeRestartable{name: "scheduler", role: resource.RoleService}
	registry := &fakeRegistry{targets: []servicewatcher.Restartable{target}}
	shutdowner := &fakeShutdowner{}

	w := servicewatcher.New(bus, registry, shutdowner, servicewatcher.Config{
		MaxAttempts: 5, BackoffSeconds: 1, BackoffMultiplier: 2, MaxBackoffSeconds: 10,
	}, nil)
	startWatcher(t, w)
	defer func() { _ = w.Shutdown(context.Background()) }()

	bus.fire(t, event.ServiceStatus{ResourceName: "scheduler", Role: "service", Status: "running"})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, target.restartCount())
	assert.Equal(t, 0, shutdowner.count())
}
