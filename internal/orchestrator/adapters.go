package orchestrator

import (
	"context"

	"github.com/NodeJSmith/hassette-go/internal/bus"
	"github.com/NodeJSmith/hassette-go/internal/resource"
	"github.com/NodeJSmith/hassette-go/internal/servicewatcher"
	"github.com/NodeJSmith/hassette-go/internal/stateproxy"
)

// stateProxyBus and serviceWatcherBus adapt *bus.Bus's named
// SubscribeOptions/HandlerFunc/Subscription types into stateproxy's and
// servicewatcher's own locally-declared decoupling interfaces. Go requires
// exact type identity for interface satisfaction, so *bus.Bus's On method
// (which takes bus.SubscribeOptions) does not itself satisfy
// stateproxy.Subscriber or servicewatcher.Bus even though the field shapes
// match; these tiny wrapper types perform the conversion explicitly. No
// adapter is needed for the Cancel side: *bus.Subscription's Cancel()
// method already structurally satisfies both packages' local Cancel
// interfaces directly.
type stateProxyBus struct{ b *bus.Bus }

func (a stateProxyBus) On(opts stateproxy.SubscribeOptions) (stateproxy.Cancel, error) {
	sub, err := a.b.On(bus.SubscribeOptions{
		Topic:   opts.Topic,
		Owner:   opts.Owner,
		Handler: bus.HandlerFunc(opts.Handler),
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

type serviceWatcherBus struct{ b *bus.Bus }

func (a serviceWatcherBus) On(opts servicewatcher.SubscribeOptions) (servicewatcher.Cancel, error) {
	sub, err := a.b.On(bus.SubscribeOptions{
		Topic:   opts.Topic,
		Owner:   opts.Owner,
		Handler: bus.HandlerFunc(opts.Handler),
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// restartable is the subset of every Hassette resource used to satisfy
// servicewatcher.Restartable: UniqueName/Role/Restart are defined directly
// on *resource.Resource and *resource.Service, so every collaborator
// constructed by this package already has this method set with no
// adapter needed.
type restartable interface {
	UniqueName() string
	Role() resource.Role
	Restart(ctx context.Context) error
}

// registry implements servicewatcher.Registry over the fixed set of
// resources the orchestrator constructs. Built once, after every resource
// exists, since the watcher's restart targets never change at runtime (this
// runtime has no dynamic resource registration outside of apps, which are
// restarted by the app handler's own reconciliation, not the watcher).
type registry struct {
	resources []restartable
}

func newRegistry(resources ...restartable) *registry {
	return &registry{resources: resources}
}

func (r *registry) FindByNameRole(name string, role resource.Role) []servicewatcher.Restartable {
	var out []servicewatcher.Restartable
	for _, res := range r.resources {
		if res.UniqueName() == name && res.Role() == role {
			out = append(out, res)
		}
	}
	return out
}

// shutdownRequester implements servicewatcher.ShutdownRequester by
// delegating to Core.RequestGlobalShutdown, which cancels the root context
// every resource's Serve loop and every bus subscription selects on. Holds
// a back-reference to core rather than a bound context.CancelFunc because
// it is constructed before Run assigns core.cancel.
type shutdownRequester struct {
	core *Core
}

func (s shutdownRequester) RequestGlobalShutdown(reason string) {
	s.core.RequestGlobalShutdown(reason)
}
