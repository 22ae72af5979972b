// Package orchestrator implements the core orchestrator described in §2:
// it constructs the bus, scheduler, websocket collaborator, state proxy,
// app handler, health server, and service watcher in dependency order,
// wires every cross-component decoupling interface, and composes the whole
// tree under a suture supervisor as a restart-policy backstop beneath the
// service watcher's own policy (§7). Grounded on the teacher's
// internal/supervisor.SupervisorTree for the suture wiring and on the
// bus/stateproxy/servicewatcher/apphandler packages themselves for
// everything they are constructed from.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/NodeJSmith/hassette-go/internal/apphandler"
	"github.com/NodeJSmith/hassette-go/internal/bus"
	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/hacircuit"
	"github.com/NodeJSmith/hassette-go/internal/hassapi"
	"github.com/NodeJSmith/hassette-go/internal/hawebsocket"
	"github.com/NodeJSmith/hassette-go/internal/hconfig"
	"github.com/NodeJSmith/hassette-go/internal/health"
	"github.com/NodeJSmith/hassette-go/internal/hlog"
	"github.com/NodeJSmith/hassette-go/internal/scheduler"
	"github.com/NodeJSmith/hassette-go/internal/servicewatcher"
	"github.com/NodeJSmith/hassette-go/internal/stateproxy"
)

// Core owns the fully-wired runtime: every collaborator, the suture
// supervision tree they run under, and the root context cancelled by a
// global shutdown request.
type Core struct {
	log zerolog.Logger

	bus        *bus.Bus
	scheduler  *scheduler.Service
	rest       *hassapi.Client
	ws         *hawebsocket.Collaborator
	proxy      *stateproxy.Proxy
	apps       *apphandler.Handler
	watcher    *servicewatcher.Watcher
	health     *health.Server
	natsBridge *bus.NATSBridge

	tree *tree

	cancel context.CancelFunc
}

// New constructs every collaborator from cfg and wires the full dependency
// graph, but starts nothing: call Run to start the suture tree.
func New(cfg hconfig.Config) (*Core, error) {
	log := hlog.Named("orchestrator")

	b := bus.New(bus.Options{Logger: &log})

	sched := scheduler.New(scheduler.Options{
		Logger:       &log,
		Emitter:      b,
		MinDelay:     time.Duration(cfg.Scheduler.MinDelaySeconds) * time.Second,
		MaxDelay:     time.Duration(cfg.Scheduler.MaxDelaySeconds) * time.Second,
		DefaultDelay: time.Duration(cfg.Scheduler.DefaultDelaySeconds) * time.Second,
	})

	rest := hassapi.New(hassapi.Options{
		BaseURL: cfg.Hass.URL,
		Token:   cfg.Hass.Token,
		Breaker: hacircuit.DefaultConfig("hassapi"),
	})

	ws := hawebsocket.New(hawebsocket.Options{
		URL:       cfg.Hass.URL,
		Token:     cfg.Hass.Token,
		Publisher: b,
		Emitter:   b,
		Logger:    &log,
		Breaker:   hacircuit.DefaultConfig("hawebsocket"),
	})

	proxy, err := stateproxy.New(stateproxy.Options{
		Bus:     stateProxyBus{b: b},
		Fetcher: rest,
		Emitter: b,
		Logger:  &log,
		Breaker: hacircuit.DefaultConfig("stateproxy"),
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: construct state proxy: %w", err)
	}

	apps := apphandler.New(apphandler.Options{
		AppDir:             cfg.AppDir,
		Manifests:          cfg.Apps,
		Bus:                b,
		Websocket:          ws,
		Emitter:            b,
		Logger:             &log,
		AppInitTimeout:     time.Duration(cfg.AppStartupTimeoutSeconds) * time.Second,
		AppShutdownTimeout: time.Duration(cfg.AppShutdownTimeoutSeconds) * time.Second,
		DevMode:            cfg.DevMode,
		AllowOnlyAppInProd: cfg.AllowOnlyAppInProd,
	})

	// The health server is optional (run_health_service); when disabled,
	// healthSrv stays nil and is excluded from both the restart registry
	// and the suture tree below.
	var healthSrv *health.Server
	if cfg.Health.Run {
		healthSrv = health.New(cfg.Health.Port, ws, log)
	}

	// The NATS bridge is optional (natsbridge.enabled) and requires the
	// natsbridge build tag; when disabled, natsBridge stays nil and is
	// excluded from the suture tree below.
	var natsBridge *bus.NATSBridge
	if cfg.NATSBridge.Enabled {
		natsBridge, err = bus.NewNATSBridge(b, bus.NATSBridgeOptions{
			URL:     cfg.NATSBridge.URL,
			Subject: cfg.NATSBridge.Subject,
		})
		if err != nil {
			return nil, fmt.Errorf("orchestrator: construct nats bridge: %w", err)
		}
		if _, err := b.On(bus.SubscribeOptions{
			Topic: "*",
			Owner: "orchestrator.natsbridge",
			Handler: func(_ context.Context, e event.Event) error {
				return natsBridge.Publish(e)
			},
		}); err != nil {
			return nil, fmt.Errorf("orchestrator: subscribe nats bridge mirror: %w", err)
		}
	}

	c := &Core{
		log:       log,
		bus:       b,
		scheduler: sched,
		rest:      rest,
		ws:        ws,
		proxy:     proxy,
		apps:      apps,
	}

	restartables := []restartable{b, sched, ws, proxy, apps}
	if healthSrv != nil {
		restartables = append(restartables, healthSrv)
	}

	watcher := servicewatcher.New(
		serviceWatcherBus{b: b},
		newRegistry(restartables...),
		shutdownRequester{core: c},
		servicewatcher.Config{
			MaxAttempts:       cfg.ServiceRestart.MaxAttempts,
			BackoffSeconds:    cfg.ServiceRestart.BackoffSeconds,
			BackoffMultiplier: cfg.ServiceRestart.BackoffMultiplier,
			MaxBackoffSeconds: cfg.ServiceRestart.MaxBackoffSeconds,
		},
		&log,
	)

	c.watcher = watcher
	c.health = healthSrv
	c.natsBridge = natsBridge
	c.tree = newTree(log, DefaultTreeConfig())
	return c, nil
}

// Run starts the suture tree and blocks until ctx is cancelled or a crash
// propagates past the tree's own restart backoff. Resources are grouped
// bus+scheduler / infra / apps per §2's Domain Stack Wiring entry; the
// actual startup sequencing within a layer is handled by each resource's
// own boot hook waiting on the collaborators it depends on (e.g. the app
// handler waits for the bus and websocket to be ready before loading apps).
func (c *Core) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	c.tree.addBusScheduler(newSuturedService(c.bus, 0))
	c.tree.addBusScheduler(newSuturedService(c.scheduler, 0))

	c.tree.addInfra(newSuturedService(c.ws, 0))
	c.tree.addInfra(newSuturedService(c.watcher, 0))
	if c.health != nil {
		c.tree.addInfra(newSuturedService(c.health, 0))
	}
	if c.natsBridge != nil {
		c.tree.addInfra(&natsBridgeService{bridge: c.natsBridge})
	}

	c.tree.addApp(newSuturedService(c.proxy, 0))
	c.tree.addApp(newSuturedService(c.apps, 0))

	return c.tree.serve(runCtx)
}

// RequestGlobalShutdown cancels the root context started by Run, the same
// mechanism the service watcher uses on a crash (servicewatcher.ShutdownRequester).
func (c *Core) RequestGlobalShutdown(reason string) {
	c.log.Warn().Str("reason", reason).Msg("global shutdown requested")
	if c.cancel != nil {
		c.cancel()
	}
}

// Bus exposes the constructed bus, e.g. for a CLI REPL or tests that
// publish synthetic events.
func (c *Core) Bus() *bus.Bus { return c.bus }

// natsBridgeService adapts *bus.NATSBridge into a suture.Service: unlike the
// other collaborators it has no resource.Status to poll, just a blocking Run
// and a Close, so it gets its own tiny Serve instead of going through
// suturedService.
type natsBridgeService struct {
	bridge *bus.NATSBridge
}

func (s *natsBridgeService) Serve(ctx context.Context) error {
	defer s.bridge.Close()
	return s.bridge.Run(ctx)
}

func (s *natsBridgeService) String() string { return "nats-bridge" }
