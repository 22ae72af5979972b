package resource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodeJSmith/hassette-go/internal/event"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []event.Event
}

func (e *recordingEmitter) Emit(ev event.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEmitter) statuses() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Payload.(event.ServiceStatus).Status
	}
	return out
}

func TestResourceLifecycleHappyPath(t *testing.T) {
	emitter := &recordingEmitter{}
	r := New(Options{ClassName: "TestResource", Role: RoleResource, Emitter: emitter})

	require.Equal(t, NotStarted, r.Status())

	r.Start(context.Background())
	require.Eventually(t, func() bool { return r.Status() == Running }, time.Second, time.Millisecond)

	assert.Equal(t, []string{"starting", "running"}, emitter.statuses())

	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, Stopped, r.Status())
	assert.False(t, r.IsReady())
}

func TestResourceInitializeFailureTransitionsToFailed(t *testing.T) {
	emitter := &recordingEmitter{}
	boom := errors.New("boom")
	r := New(Options{
		ClassName: "Failing",
		Role:      RoleResource,
		Emitter:   emitter,
		Hooks: Hooks{
			OnInitialize: func(ctx context.Context) error { return boom },
		},
	})

	r.Start(context.Background())
	require.Eventually(t, func() bool { return r.Status() == Failed }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"starting", "failed"}, emitter.statuses())
}

func TestShutdownContinuesAfterHookError(t *testing.T) {
	var secondHookRan bool
	r := New(Options{
		ClassName: "Shutdownable",
		Role:      RoleResource,
		Hooks: Hooks{
			BeforeShutdown: func(ctx context.Context) error { return errors.New("first hook failed") },
			OnShutdown: func(ctx context.Context) error {
				secondHookRan = true
				return nil
			},
		},
	})

	r.Start(context.Background())
	require.Eventually(t, func() bool { return r.Status() == Running }, time.Second, time.Millisecond)

	require.NoError(t, r.Shutdown(context.Background()))
	assert.True(t, secondHookRan)
	assert.Equal(t, Stopped, r.Status())
}

func TestMarkReadyAndWaitReady(t *testing.T) {
	r := New(Options{ClassName: "Ready", Role: RoleResource})
	assert.False(t, r.IsReady())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.WaitReady(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	r.MarkReady("done")
	assert.True(t, r.IsReady())
	require.NoError(t, r.WaitReady(context.Background()))
}

func TestEventSuppressedWhenStreamsClosed(t *testing.T) {
	emitter := &recordingEmitter{}
	closed := false
	r := New(Options{
		ClassName:          "Quiet",
		Role:               RoleResource,
		Emitter:            emitter,
		EventStreamsClosed: func() bool { return closed },
	})

	r.Start(context.Background())
	require.Eventually(t, func() bool { return r.Status() == Running }, time.Second, time.Millisecond)

	closed = true
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, Stopped, r.Status())
	assert.Equal(t, []string{"starting", "running"}, emitter.statuses())
}

func TestServiceCrashOnServeError(t *testing.T) {
	emitter := &recordingEmitter{}
	boom := errors.New("serve failed")
	svc := NewService(ServiceOptions{
		Options: Options{ClassName: "Crashy", Emitter: emitter},
		Serve: func(ctx context.Context) error {
			return boom
		},
	})

	svc.Start(context.Background())
	require.Eventually(t, func() bool { return svc.Status() == Crashed }, time.Second, time.Millisecond)
}

func TestServiceStopsOnShutdown(t *testing.T) {
	svc := NewService(ServiceOptions{
		Options: Options{ClassName: "LongRunning"},
		Serve: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
	})

	svc.Start(context.Background())
	require.Eventually(t, func() bool { return svc.IsRunning() }, time.Second, time.Millisecond)

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.False(t, svc.IsRunning())
	assert.Equal(t, Stopped, svc.Status())
}
