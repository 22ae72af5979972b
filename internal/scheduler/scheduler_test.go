package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodeJSmith/hassette-go/internal/scheduler"
)

func startService(t *testing.T) *scheduler.Service {
	t.Helper()
	svc := scheduler.New(scheduler.Options{
		MinDelay: time.Millisecond, MaxDelay: 50 * time.Millisecond, DefaultDelay: 20 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	require.NoError(t, svc.WaitReady(context.Background()))
	t.Cleanup(func() {
		cancel()
		_ = svc.Shutdown(context.Background())
	})
	return svc
}

func TestJobsFireInNextRunOrder(t *testing.T) {
	svc := startService(t)

	var mu sync.Mutex
	var order []string

	record := func(name string) scheduler.Job {
		return func(ctx context.Context, args map[string]any) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	now := time.Now()
	svc.AddJob("t", scheduler.IntervalTrigger{Start: now.Add(60 * time.Millisecond)}, record("third"), nil, false)
	svc.AddJob("t", scheduler.IntervalTrigger{Start: now.Add(10 * time.Millisecond)}, record("first"), nil, false)
	svc.AddJob("t", scheduler.IntervalTrigger{Start: now.Add(30 * time.Millisecond)}, record("second"), nil, false)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestIntervalJobReschedules(t *testing.T) {
	svc := startService(t)

	var calls int32
	svc.AddJob("t", scheduler.IntervalTrigger{Seconds: 0.02}, func(ctx context.Context, args map[string]any) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil, true)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, 5*time.Millisecond)
}

func TestRemoveJobPreventsFiring(t *testing.T) {
	svc := startService(t)

	var calls int32
	id := svc.AddJob("t", scheduler.IntervalTrigger{Start: time.Now().Add(30 * time.Millisecond)}, func(ctx context.Context, args map[string]any) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil, false)

	assert.True(t, svc.RemoveJob(id))
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestRemoveAllJobsScopedToOwner(t *testing.T) {
	svc := startService(t)

	noop := func(ctx context.Context, args map[string]any) error { return nil }
	svc.AddJob("owner-a", scheduler.IntervalTrigger{Start: time.Now().Add(time.Hour)}, noop, nil, false)
	svc.AddJob("owner-a", scheduler.IntervalTrigger{Start: time.Now().Add(time.Hour)}, noop, nil, false)
	svc.AddJob("owner-b", scheduler.IntervalTrigger{Start: time.Now().Add(time.Hour)}, noop, nil, false)

	require.Equal(t, 3, svc.Len())
	removed := svc.RemoveAllJobs("owner-a")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, svc.Len())
}

func TestJobAddedDuringSleepWakesLoopPromptly(t *testing.T) {
	svc := scheduler.New(scheduler.Options{
		MinDelay: time.Millisecond, MaxDelay: time.Second, DefaultDelay: 10 * time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	require.NoError(t, svc.WaitReady(context.Background()))
	defer func() {
		cancel()
		_ = svc.Shutdown(context.Background())
	}()

	// The scheduler starts empty, so its loop is asleep on defaultDelay
	// (10s). A job due almost immediately must still fire promptly because
	// AddJob signals the wakeup channel rather than waiting out the sleep.
	done := make(chan struct{})
	svc.AddJob("t", scheduler.IntervalTrigger{Start: time.Now().Add(15 * time.Millisecond)}, func(ctx context.Context, args map[string]any) error {
		close(done)
		return nil
	}, nil, false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not fire promptly despite wakeup signal")
	}
}

func TestFacadeRunCronSchedulesAndRemovesJob(t *testing.T) {
	svc := startService(t)
	f := scheduler.NewFacade(svc, "owner")

	id := f.RunCron("0", "*", "", "", "", "", func(ctx context.Context, args map[string]any) error { return nil }, nil)
	assert.NotZero(t, id)
	assert.True(t, f.RemoveJob(id))
}
