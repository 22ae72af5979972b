// Package stateproxy maintains a local cache of entity states, kept current
// by state_changed events and rebuilt from the REST API collaborator on
// reconnect, per §4.9.
package stateproxy

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/hacircuit"
	"github.com/NodeJSmith/hassette-go/internal/herror"
	"github.com/NodeJSmith/hassette-go/internal/hlog"
	"github.com/NodeJSmith/hassette-go/internal/resource"
)

// Subscriber is the subset of bus.Bus the proxy needs to install its three
// subscriptions. Declared locally to avoid a stateproxy -> bus import cycle.
type Subscriber interface {
	On(opts SubscribeOptions) (Cancel, error)
}

// SubscribeOptions and Cancel let this package stay decoupled from the bus
// package's concrete Subscription/HandlerFunc types; the orchestrator
// adapts bus.Bus to this interface when wiring the proxy up (see
// internal/orchestrator).
type SubscribeOptions struct {
	Topic   string
	Owner   string
	Handler func(ctx context.Context, e event.Event) error
}

// Cancel removes a subscription installed through Subscriber.On.
type Cancel interface{ Cancel() }

// StateFetcher resyncs the authoritative state list from the REST API
// collaborator, wrapped by the caller in a circuit breaker.
type StateFetcher interface {
	GetStates(ctx context.Context) ([]event.State, error)
}

// Options configures a new Proxy.
type Options struct {
	Bus     Subscriber
	Fetcher StateFetcher
	Logger  *zerolog.Logger
	Emitter resource.Emitter
	Breaker hacircuit.Config

	// DisconnectTopic/ReconnectTopic are the topics the websocket
	// collaborator (or test harness) publishes connectivity signals on.
	DisconnectTopic string
	ReconnectTopic  string
}

const (
	defaultDisconnectTopic = "hassette.signal.disconnect"
	defaultReconnectTopic  = "hassette.signal.reconnect"
)

// Proxy is the state proxy resource.
type Proxy struct {
	*resource.Resource

	fetcher StateFetcher
	breaker *circuitBreaker

	mu    sync.RWMutex
	cache map[string]event.State
}

// New constructs a Proxy and installs its three bus subscriptions.
// Subscriptions are installed immediately (not deferred to Start) since the
// proxy has no Serve loop of its own — it is driven entirely by bus events.
func New(opts Options) (*Proxy, error) {
	log := hlog.Named("stateproxy")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	cfg := opts.Breaker
	if cfg.Name == "" {
		cfg = hacircuit.DefaultConfig("stateproxy-resync")
	}
	disconnectTopic := opts.DisconnectTopic
	if disconnectTopic == "" {
		disconnectTopic = defaultDisconnectTopic
	}
	reconnectTopic := opts.ReconnectTopic
	if reconnectTopic == "" {
		reconnectTopic = defaultReconnectTopic
	}

	p := &Proxy{
		fetcher: opts.Fetcher,
		breaker: newCircuitBreaker(cfg),
		cache:   make(map[string]event.State),
	}
	p.Resource = resource.New(resource.Options{
		ClassName: "stateproxy",
		Role:      resource.RoleResource,
		Emitter:   opts.Emitter,
		Logger:    &log,
	})

	if opts.Bus != nil {
		if _, err := opts.Bus.On(SubscribeOptions{
			Topic: event.TopicStateChanged, Owner: "stateproxy", Handler: p.onStateChanged,
		}); err != nil {
			return nil, err
		}
		if _, err := opts.Bus.On(SubscribeOptions{
			Topic: disconnectTopic, Owner: "stateproxy", Handler: p.onDisconnect,
		}); err != nil {
			return nil, err
		}
		if _, err := opts.Bus.On(SubscribeOptions{
			Topic: reconnectTopic, Owner: "stateproxy", Handler: p.onReconnect,
		}); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *Proxy) onStateChanged(ctx context.Context, e event.Event) error {
	sc, ok := e.Payload.(event.StateChanged)
	if !ok {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case sc.NewState == nil:
		delete(p.cache, sc.EntityID)
	default:
		p.cache[sc.EntityID] = *sc.NewState
	}
	return nil
}

func (p *Proxy) onDisconnect(ctx context.Context, e event.Event) error {
	p.mu.Lock()
	p.cache = make(map[string]event.State)
	p.mu.Unlock()
	p.MarkNotReady("upstream disconnected")
	return nil
}

func (p *Proxy) onReconnect(ctx context.Context, e event.Event) error {
	states, err := p.breaker.execute(func() ([]event.State, error) {
		return p.fetcher.GetStates(ctx)
	})
	if err != nil {
		p.Logger().Warn().Err(err).Msg("state proxy resync failed, remaining not ready")
		return nil
	}

	rebuilt := make(map[string]event.State, len(states))
	for _, s := range states {
		rebuilt[s.EntityID] = s
	}

	p.mu.Lock()
	p.cache = rebuilt
	p.mu.Unlock()
	p.MarkReady("resync complete")
	return nil
}

// GetState returns the cached state for entityID. Returns
// herror.ErrResourceNotReady if the proxy has not completed its initial
// resync (or is between disconnect and reconnect).
func (p *Proxy) GetState(entityID string) (event.State, bool, error) {
	if !p.IsReady() {
		return event.State{}, false, herror.ErrResourceNotReady
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.cache[entityID]
	return s, ok, nil
}

// Len returns the number of cached entities, for tests and metrics.
func (p *Proxy) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}
