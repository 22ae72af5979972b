package taskbucket

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnTracksAndUntracksOnCompletion(t *testing.T) {
	b := New("test", zerolog.Nop(), time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	b.Spawn(context.Background(), "worker", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})

	<-started
	require.Equal(t, 1, b.Len())

	close(release)
	require.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, time.Millisecond)
}

func TestSpawnErrorDoesNotPropagate(t *testing.T) {
	b := New("test", zerolog.Nop(), time.Second)
	done := make(chan struct{})
	b.Spawn(context.Background(), "failing", func(ctx context.Context) error {
		defer close(done)
		return errors.New("boom")
	})
	<-done // must not panic or block the caller
}

func TestCancelAllCancelsAndWaits(t *testing.T) {
	b := New("test", zerolog.Nop(), time.Second)

	var cancelled atomic.Bool
	started := make(chan struct{})
	b.Spawn(context.Background(), "worker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})

	<-started
	b.CancelAll(context.Background())
	assert.True(t, cancelled.Load())
	assert.Equal(t, 0, b.Len())
}

func TestRunSyncTimesOut(t *testing.T) {
	err := RunSync(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
}

func TestRunSyncReturnsFnError(t *testing.T) {
	want := errors.New("failed")
	err := RunSync(context.Background(), time.Second, func(ctx context.Context) error {
		return want
	})
	require.ErrorIs(t, err, want)
}
