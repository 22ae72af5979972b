package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/NodeJSmith/hassette-go/internal/resource"
)

// statusPollInterval is how often a suturedService polls its wrapped
// resource's status to detect a terminal transition. resource.Resource
// exposes no "reached a terminal status" channel -- only Status() (a
// getter), WaitReady/ShutdownSignalCh (different semantics), and the
// service-status events the service watcher already consumes from the bus.
// Polling is the simpler, self-contained option and mirrors the precedent
// already accepted for the app handler's source-file watcher
// (internal/apphandler/filewatch.go); see DESIGN.md.
const statusPollInterval = 250 * time.Millisecond

const defaultStopTimeout = 10 * time.Second

// suturedResource is the subset of *resource.Resource/*resource.Service a
// suturedService needs: start, observe status, and shut down. Declared
// locally so this package adapts any Hassette resource without importing
// each collaborator package's concrete type.
type suturedResource interface {
	UniqueName() string
	Status() resource.Status
	Start(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// suturedService adapts a Hassette resource into a suture.Service (the
// orchestrator's restart-policy backstop beneath the service watcher's own
// policy, per §7). Serve starts the resource and blocks until either ctx is
// cancelled (graceful stop) or the resource reaches Crashed/Failed, in which
// case it returns an error so suture's own backoff-and-restart applies.
type suturedService struct {
	name        string
	res         suturedResource
	stopTimeout time.Duration
}

func newSuturedService(res suturedResource, stopTimeout time.Duration) *suturedService {
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	return &suturedService{name: res.UniqueName(), res: res, stopTimeout: stopTimeout}
}

// Serve implements suture.Service.
func (s *suturedService) Serve(ctx context.Context) error {
	s.res.Start(ctx)

	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
			defer cancel()
			return s.res.Shutdown(shutdownCtx)
		case <-ticker.C:
			switch s.res.Status() {
			case resource.Crashed:
				return fmt.Errorf("orchestrator: %s crashed", s.name)
			case resource.Failed:
				return fmt.Errorf("orchestrator: %s failed to initialize", s.name)
			case resource.Stopped:
				return nil
			}
		}
	}
}

// String implements fmt.Stringer, surfaced in suture's own event log.
func (s *suturedService) String() string { return s.name }
