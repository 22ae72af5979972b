package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/NodeJSmith/hassette-go/internal/hlog"
)

// TreeConfig bounds the suture tree's own restart-backoff policy, a
// backstop beneath the service watcher's policy (§7). Defaults match
// suture's own built-in defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig returns suture's own documented defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// tree is the three-layer suture supervision tree described in §2's Domain
// Stack Wiring entry for suture/sutureslog: root -> infra/bus+scheduler/apps.
// A crash confined to one layer (say, an app instance panicking its way
// through a service) never tears down the other layers' supervisors.
type tree struct {
	root         *suture.Supervisor
	busScheduler *suture.Supervisor
	infra        *suture.Supervisor
	apps         *suture.Supervisor
}

func newTree(log zerolog.Logger, cfg TreeConfig) *tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5.0
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30.0
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	eventHook := (&sutureslog.Handler{Logger: hlog.NewSlogLogger(log)}).MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	t := &tree{
		root:         suture.New("hassette", rootSpec),
		busScheduler: suture.New("bus-scheduler", childSpec),
		infra:        suture.New("infra", childSpec),
		apps:         suture.New("apps", childSpec),
	}
	t.root.Add(t.busScheduler)
	t.root.Add(t.infra)
	t.root.Add(t.apps)
	return t
}

func (t *tree) addBusScheduler(svc suture.Service) suture.ServiceToken { return t.busScheduler.Add(svc) }
func (t *tree) addInfra(svc suture.Service) suture.ServiceToken        { return t.infra.Add(svc) }
func (t *tree) addApp(svc suture.Service) suture.ServiceToken          { return t.apps.Add(svc) }

// serve starts the whole tree and blocks until ctx is cancelled.
func (t *tree) serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *tree) unstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
