// Package servicewatcher implements the restart policy described in §4.8:
// a service subscribed to every service-status transition, restarting
// failed resources with an exponential backoff and requesting a global
// shutdown on a crash. Grounded on the scheduler service's resource.Service
// wiring and the stateproxy package's local Subscriber/SubscribeOptions
// decoupling from internal/bus.
package servicewatcher

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/herror"
	"github.com/NodeJSmith/hassette-go/internal/hlog"
	"github.com/NodeJSmith/hassette-go/internal/resource"
)

// Restartable is the subset of *resource.Resource (or *resource.Service)
// the watcher needs to restart a failed resource. Declared locally rather
// than importing a concrete resource type, following the
// stateproxy/hawebsocket local-interface pattern.
type Restartable interface {
	UniqueName() string
	Role() resource.Role
	Restart(ctx context.Context) error
}

// Registry resolves every currently-registered resource matching a
// (name, role) pair, supplied by the orchestrator which owns the full
// resource tree.
type Registry interface {
	FindByNameRole(name string, role resource.Role) []Restartable
}

// Bus is the subset of bus.Bus the watcher subscribes through. Declared
// locally, matching the stateproxy.Subscriber convention, to avoid a
// servicewatcher -> bus import cycle; the orchestrator adapts bus.Bus to
// this interface when wiring the watcher up.
type Bus interface {
	On(opts SubscribeOptions) (Cancel, error)
}

// SubscribeOptions mirrors the fields of bus.SubscribeOptions this package
// needs, keeping it decoupled from the bus package's concrete types.
type SubscribeOptions struct {
	Topic   string
	Owner   string
	Handler func(ctx context.Context, e event.Event) error
	Where   func(e event.Event) bool
}

// Cancel removes a subscription installed through Bus.On. *bus.Subscription
// satisfies this.
type Cancel interface {
	Cancel()
}

// ShutdownRequester requests the core orchestrator begin a global shutdown,
// per §4.8's "On Crashed: request global shutdown" policy.
type ShutdownRequester interface {
	RequestGlobalShutdown(reason string)
}

// Config bounds the backoff policy, mirroring hconfig.ServiceRestartConfig.
type Config struct {
	MaxAttempts       int
	BackoffSeconds    float64
	BackoffMultiplier float64
	MaxBackoffSeconds float64
}

type attemptKey struct {
	name string
	role resource.Role
}

// Watcher is the service-watcher resource.
type Watcher struct {
	*resource.Service

	bus      Bus
	registry Registry
	shutdown ShutdownRequester
	cfg      Config
	log      zerolog.Logger

	mu       chan struct{} // binary semaphore guarding attempts
	attempts map[attemptKey]int

	cancel Cancel
}

// New constructs a service watcher. It subscribes to service-status events
// once started and unsubscribes on shutdown.
func New(b Bus, registry Registry, shutdown ShutdownRequester, cfg Config, log *zerolog.Logger) *Watcher {
	w := &Watcher{
		bus:      b,
		registry: registry,
		shutdown: shutdown,
		cfg:      cfg,
		mu:       make(chan struct{}, 1),
		attempts: make(map[attemptKey]int),
	}
	w.mu <- struct{}{}

	w.Service = resource.NewService(resource.ServiceOptions{
		Options: resource.Options{
			ClassName: "ServiceWatcher",
			Role:      resource.RoleService,
			Logger:    log,
			Hooks: resource.Hooks{
				OnInitialize: w.subscribe,
				OnShutdown:   w.unsubscribe,
			},
		},
		Serve: w.serve,
	})
	if log != nil {
		w.log = *log
	} else {
		w.log = hlog.Named("ServiceWatcher")
	}
	return w
}

func (w *Watcher) subscribe(ctx context.Context) error {
	cancel, err := w.bus.On(SubscribeOptions{
		Topic:   event.TopicServiceStatus,
		Owner:   "service-watcher",
		Handler: w.handleServiceStatus,
	})
	if err != nil {
		return fmt.Errorf("servicewatcher: subscribe: %w", err)
	}
	w.cancel = cancel
	w.MarkReady("subscribed")
	return nil
}

func (w *Watcher) unsubscribe(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel.Cancel()
	}
	return nil
}

// serve is a no-op run loop: all work happens in subscription callbacks,
// spawned as background goroutines so the restart's backoff sleep never
// blocks the bus's dispatch goroutine.
func (w *Watcher) serve(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// handleServiceStatus implements §4.8's three-way policy: restart-with-backoff
// on Failed, request global shutdown on Crashed, log only otherwise.
func (w *Watcher) handleServiceStatus(ctx context.Context, e event.Event) error {
	ss, ok := e.Payload.(event.ServiceStatus)
	if !ok {
		return nil
	}

	switch ss.Status {
	case "failed":
		go w.restartWithBackoff(ss.ResourceName, resource.Role(ss.Role))
	case "crashed":
		w.log.Error().
			Str("resource", ss.ResourceName).
			Str("role", ss.Role).
			Err(ss.Err).
			Msg("service crashed, requesting global shutdown")
		if w.shutdown != nil {
			w.shutdown.RequestGlobalShutdown(fmt.Sprintf("%s crashed", ss.ResourceName))
		}
	default:
		w.log.Debug().
			Str("resource", ss.ResourceName).
			Str("role", ss.Role).
			Str("status", ss.Status).
			Str("previous_status", ss.PreviousStatus).
			Msg("service status transition")
	}
	return nil
}

// restartWithBackoff implements §4.8's restart policy. attempts and the
// backoff computed from it are read pre-increment; the counter is then
// incremented before the backoff sleep (and before Restart is called),
// because the restarted service's Serve() runs asynchronously and could
// fail again before the counter would otherwise be updated.
func (w *Watcher) restartWithBackoff(name string, role resource.Role) {
	key := attemptKey{name: name, role: role}

	<-w.mu
	attempts := w.attempts[key]
	w.mu <- struct{}{}

	if attempts >= w.cfg.MaxAttempts {
		w.log.Error().
			Str("resource", name).
			Str("role", string(role)).
			Int("attempts", attempts).
			Msg("giving up on restart, attempts exhausted")
		return
	}

	backoff := w.backoffFor(attempts)

	<-w.mu
	w.attempts[key] = attempts + 1
	w.mu <- struct{}{}

	w.log.Warn().
		Str("resource", name).
		Str("role", string(role)).
		Int("attempt", attempts+1).
		Dur("backoff", backoff).
		Msg("restarting failed service after backoff")

	select {
	case <-time.After(backoff):
	case <-w.ShutdownSignalCh():
		return
	}

	targets := w.registry.FindByNameRole(name, role)
	if len(targets) == 0 {
		w.log.Warn().Str("resource", name).Str("role", string(role)).
			Err(herror.ErrUnknownResource).Msg("no resources matched for restart")
		return
	}

	for _, t := range targets {
		restartCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := t.Restart(restartCtx); err != nil {
			w.log.Error().Str("resource", t.UniqueName()).Err(err).Msg("restart failed")
		}
		cancel()
	}
}

// backoffFor computes base * multiplier^attempts, capped at max, per §4.8.
func (w *Watcher) backoffFor(attempts int) time.Duration {
	base := w.cfg.BackoffSeconds
	mult := w.cfg.BackoffMultiplier
	max := w.cfg.MaxBackoffSeconds

	seconds := base * math.Pow(mult, float64(attempts))
	if seconds > max {
		seconds = max
	}
	return time.Duration(seconds * float64(time.Second))
}
