package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/resource"
	"github.com/NodeJSmith/hassette-go/internal/router"
)

// wrapHandler builds the dispatch-ready router.Handler for a listener: it
// layers debounce or throttle (never both — validated in On) around the
// user's handler, and always performs once-removal after the handler
// actually runs, whether that happens synchronously (the common case) or
// later, from a debounce timer.
func (b *Bus) wrapHandler(l *router.Listener, original HandlerFunc) router.Handler {
	invoke := func(ctx context.Context, e event.Event) error {
		err := original(ctx, e)
		if l.Once {
			b.router.RemoveListenerByID(l.Topic, l.ID)
		}
		return err
	}

	switch {
	case l.DebounceSeconds != nil:
		return b.debounceWrap(l, *l.DebounceSeconds, invoke)
	case l.ThrottleSeconds != nil:
		return b.throttleWrap(l, *l.ThrottleSeconds, invoke)
	default:
		return invoke
	}
}

// debounceWrap restarts a quiet-window timer on every call and only invokes
// the handler once the window elapses without a further call, passing the
// most recent event (§4.4 debounce semantics).
func (b *Bus) debounceWrap(l *router.Listener, seconds float64, invoke router.Handler) router.Handler {
	window := time.Duration(seconds * float64(time.Second))

	var mu sync.Mutex
	var timer *time.Timer
	var latest event.Event

	fire := func() {
		if b.ShutdownRequested() || b.Status() == resource.Stopped {
			return
		}
		mu.Lock()
		e := latest
		mu.Unlock()
		b.TaskBucket.Spawn(context.Background(), fmt.Sprintf("bus.debounce.%d", l.ID), func(ctx context.Context) error {
			return invoke(ctx, e)
		})
	}

	return func(_ context.Context, e event.Event) error {
		mu.Lock()
		latest = e
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(window, fire)
		mu.Unlock()
		return nil
	}
}

// throttleWrap fires on the first call immediately and drops (does not
// queue) every call within the throttle window, using a token-bucket
// limiter configured for burst 1 so the window naturally resets on each
// successful fire (§4.4 throttle semantics).
func (b *Bus) throttleWrap(_ *router.Listener, seconds float64, invoke router.Handler) router.Handler {
	period := time.Duration(seconds * float64(time.Second))
	limiter := rate.NewLimiter(rate.Every(period), 1)

	return func(ctx context.Context, e event.Event) error {
		if !limiter.Allow() {
			return nil
		}
		return invoke(ctx, e)
	}
}
