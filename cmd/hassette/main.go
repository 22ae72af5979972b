// Command hassette runs the Hassette automation runtime: it loads
// configuration, bootstraps structured logging, constructs the orchestrator
// described in SPEC_FULL.md §2, and runs it under a suture supervision tree
// until a shutdown signal arrives or an unrecoverable error propagates past
// the tree's own restart backoff.
//
// Signal handling is grounded on the teacher's cmd/server/main.go:
// SIGINT/SIGTERM cancel the root context, and Core.Run's blocking return is
// the single point where a clean shutdown is told apart from a tree failure.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/NodeJSmith/hassette-go/internal/hconfig"
	"github.com/NodeJSmith/hassette-go/internal/hlog"
	"github.com/NodeJSmith/hassette-go/internal/orchestrator"
)

func main() {
	cfg, err := hconfig.Load()
	if err != nil {
		hlog.Logger().Fatal().Err(err).Msg("failed to load configuration")
	}

	hlog.Init(hlog.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	log := hlog.Named("main")

	log.Info().
		Str("hass_url", cfg.Hass.URL).
		Bool("dev_mode", cfg.DevMode).
		Bool("health_service", cfg.Health.Run).
		Msg("starting hassette")

	core, err := orchestrator.New(*cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct orchestrator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	runErr := core.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error().Err(runErr).Msg("orchestrator exited with error")
		os.Exit(1)
	}

	log.Info().Msg("hassette stopped gracefully")
}
