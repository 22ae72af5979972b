package bus

import (
	"context"
	"fmt"

	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/predicate"
	"github.com/NodeJSmith/hassette-go/internal/router"
)

// HandlerFunc is a user automation callback.
type HandlerFunc func(ctx context.Context, e event.Event) error

// SubscribeOptions configures a call to On. Topic, Owner, and Handler are
// required; the rest default to "no filter, fire every time, stay
// subscribed".
type SubscribeOptions struct {
	Topic   string
	Owner   string
	Handler HandlerFunc
	Where   predicate.Predicate
	Once    bool

	// DebounceSeconds and ThrottleSeconds are mutually exclusive; setting
	// both returns a configuration error.
	DebounceSeconds *float64
	ThrottleSeconds *float64
}

// Subscription is the cancellable handle returned by every On* call.
type Subscription struct {
	bus      *Bus
	listener *router.Listener
}

// Cancel removes the listener. Idempotent.
func (s *Subscription) Cancel() {
	s.bus.router.RemoveListener(s.listener)
}

// ListenerID returns the subscription's stable numeric id.
func (s *Subscription) ListenerID() int64 { return s.listener.ID }

// On is the base subscription primitive every other On* helper delegates
// to.
func (b *Bus) On(opts SubscribeOptions) (*Subscription, error) {
	if opts.DebounceSeconds != nil && opts.ThrottleSeconds != nil {
		return nil, errDebounceAndThrottle
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("bus: On requires a Handler")
	}

	id := b.nextListenerID.Add(1)
	listener := &router.Listener{
		ID:              id,
		Owner:           opts.Owner,
		Topic:           opts.Topic,
		Predicate:       opts.Where,
		Once:            opts.Once,
		DebounceSeconds: opts.DebounceSeconds,
		ThrottleSeconds: opts.ThrottleSeconds,
	}
	listener.Handler = b.wrapHandler(listener, opts.Handler)

	b.router.AddRoute(opts.Topic, listener)
	return &Subscription{bus: b, listener: listener}, nil
}

// OnEntity subscribes to state_changed events for a single entity.
func (b *Bus) OnEntity(owner, entityID string, handler HandlerFunc, extra ...predicate.Predicate) (*Subscription, error) {
	preds := append([]predicate.Predicate{predicate.EntityIs(entityID)}, extra...)
	return b.On(SubscribeOptions{
		Topic: event.TopicStateChanged, Owner: owner, Handler: handler,
		Where: predicate.Where(preds...),
	})
}

// OnAttribute subscribes to state_changed events where a named attribute
// changed.
func (b *Bus) OnAttribute(owner, attribute string, handler HandlerFunc, opts ...predicate.AttrChangedOption) (*Subscription, error) {
	return b.On(SubscribeOptions{
		Topic: event.TopicStateChanged, Owner: owner, Handler: handler,
		Where: predicate.AttrChanged(attribute, opts...),
	})
}

// OnCallService subscribes to call_service events, optionally filtered to
// one domain/service.
func (b *Bus) OnCallService(owner string, handler HandlerFunc, domain, service string) (*Subscription, error) {
	var preds []predicate.Predicate
	if domain != "" {
		preds = append(preds, func(e event.Event) bool {
			cs, ok := e.Payload.(event.CallService)
			return ok && cs.Domain == domain
		})
	}
	if service != "" {
		preds = append(preds, func(e event.Event) bool {
			cs, ok := e.Payload.(event.CallService)
			return ok && cs.Service == service
		})
	}
	return b.On(SubscribeOptions{
		Topic: event.TopicCallService, Owner: owner, Handler: handler,
		Where: predicate.Where(preds...),
	})
}

// OnComponentLoaded subscribes to component_loaded events.
func (b *Bus) OnComponentLoaded(owner string, handler HandlerFunc) (*Subscription, error) {
	return b.On(SubscribeOptions{Topic: event.TopicComponentLoaded, Owner: owner, Handler: handler})
}

// OnServiceRegistered subscribes to service_registered events.
func (b *Bus) OnServiceRegistered(owner string, handler HandlerFunc) (*Subscription, error) {
	return b.On(SubscribeOptions{Topic: event.TopicServiceRegistered, Owner: owner, Handler: handler})
}

// OnHassetteServiceStatus subscribes to every service-status transition.
func (b *Bus) OnHassetteServiceStatus(owner string, handler HandlerFunc) (*Subscription, error) {
	return b.On(SubscribeOptions{Topic: event.TopicServiceStatus, Owner: owner, Handler: handler})
}

func serviceStatusIs(status string) predicate.Predicate {
	return func(e event.Event) bool {
		ss, ok := e.Payload.(event.ServiceStatus)
		return ok && ss.Status == status
	}
}

// OnHassetteServiceFailed subscribes to service-status transitions into Failed.
func (b *Bus) OnHassetteServiceFailed(owner string, handler HandlerFunc) (*Subscription, error) {
	return b.On(SubscribeOptions{
		Topic: event.TopicServiceStatus, Owner: owner, Handler: handler,
		Where: serviceStatusIs("failed"),
	})
}

// OnHassetteServiceCrashed subscribes to service-status transitions into Crashed.
func (b *Bus) OnHassetteServiceCrashed(owner string, handler HandlerFunc) (*Subscription, error) {
	return b.On(SubscribeOptions{
		Topic: event.TopicServiceStatus, Owner: owner, Handler: handler,
		Where: serviceStatusIs("crashed"),
	})
}

// OnHassetteServiceStarted subscribes to service-status transitions into Running.
func (b *Bus) OnHassetteServiceStarted(owner string, handler HandlerFunc) (*Subscription, error) {
	return b.On(SubscribeOptions{
		Topic: event.TopicServiceStatus, Owner: owner, Handler: handler,
		Where: serviceStatusIs("running"),
	})
}

// OnHomeAssistantRestart subscribes to component_loaded events for the
// "homeassistant" component, the signal the upstream sends after a core
// restart completes.
func (b *Bus) OnHomeAssistantRestart(owner string, handler HandlerFunc) (*Subscription, error) {
	return b.On(SubscribeOptions{
		Topic: event.TopicComponentLoaded, Owner: owner, Handler: handler,
		Where: func(e event.Event) bool {
			cl, ok := e.Payload.(event.ComponentLoaded)
			return ok && cl.Component == "homeassistant"
		},
	})
}

// OnFileWatcher subscribes to file-watcher events.
func (b *Bus) OnFileWatcher(owner string, handler HandlerFunc) (*Subscription, error) {
	return b.On(SubscribeOptions{Topic: event.TopicFileWatcher, Owner: owner, Handler: handler})
}

// ClearOwner removes every listener owned by owner, used by app-handler
// teardown and app restart.
func (b *Bus) ClearOwner(owner string) {
	b.router.ClearOwner(owner)
}
