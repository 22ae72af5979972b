// Package taskbucket tracks the in-flight goroutines owned by a single
// resource so they can be cancelled and awaited together at shutdown.
//
// The source runtime this is ported from holds spawned tasks in a weak set
// so a finished task is immediately eligible for GC. Go has no weak
// references, so a bucket instead tracks tasks in an explicit map and
// removes each one via its own completion callback — the "prefer an
// explicit remove-on-completion callback over any reference-strength hack"
// approach the design notes call for.
package taskbucket

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Bucket owns a set of goroutines spawned on behalf of one resource.
type Bucket struct {
	name        string
	log         zerolog.Logger
	joinTimeout time.Duration

	mu     sync.Mutex
	nextID uint64
	tasks  map[uint64]*task
}

// New creates a bucket. joinTimeout bounds how long CancelAll waits for
// spawned goroutines to settle after being cancelled.
func New(name string, log zerolog.Logger, joinTimeout time.Duration) *Bucket {
	return &Bucket{
		name:        name,
		log:         log.With().Str("task_bucket", name).Logger(),
		joinTimeout: joinTimeout,
		tasks:       make(map[uint64]*task),
	}
}

// Len returns the number of currently tracked goroutines.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

// Spawn runs fn on its own goroutine under a context derived from parent,
// tracking it until fn returns. If fn returns a non-nil error (and the
// context wasn't simply cancelled), the error is logged but never
// propagated to the caller — spawned work is isolated by design.
func (b *Bucket) Spawn(parent context.Context, name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(parent)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	t := &task{name: name, cancel: cancel, done: make(chan struct{})}
	b.tasks[id] = t
	b.mu.Unlock()

	go func() {
		defer close(t.done)
		defer func() {
			b.mu.Lock()
			delete(b.tasks, id)
			b.mu.Unlock()
			cancel()
		}()

		err := fn(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			b.log.Debug().Str("task", name).Err(err).Msg("task ended on cancellation")
			return
		}
		b.log.Error().Str("task", name).Err(err).Msg("task crashed")
	}()
}

// CancelAll cancels every tracked goroutine and waits up to the bucket's
// join timeout (or until ctx is done, whichever is sooner) for them to
// settle. Goroutines still running past that point are logged by name.
func (b *Bucket) CancelAll(ctx context.Context) {
	b.mu.Lock()
	snapshot := make([]*task, 0, len(b.tasks))
	for _, t := range b.tasks {
		snapshot = append(snapshot, t)
	}
	b.mu.Unlock()

	for _, t := range snapshot {
		t.cancel()
	}

	deadline := time.NewTimer(b.joinTimeout)
	defer deadline.Stop()

	for _, t := range snapshot {
		select {
		case <-t.done:
		case <-ctx.Done():
			b.logPending(snapshot)
			return
		case <-deadline.C:
			b.logPending(snapshot)
			return
		}
	}
}

func (b *Bucket) logPending(snapshot []*task) {
	for _, t := range snapshot {
		select {
		case <-t.done:
		default:
			b.log.Warn().Str("task", t.name).Dur("timeout", b.joinTimeout).
				Msg("task refused to die within timeout")
		}
	}
}

// RunSync runs fn to completion with a bound, returning its error or a
// timeout error if the bound elapses first.
func RunSync(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- fn(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
