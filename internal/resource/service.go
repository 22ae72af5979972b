package resource

import (
	"context"
	"sync"
)

// ServeFunc is the long-running body of a Service. It should return nil on
// a graceful stop, or an error if it crashed.
type ServeFunc func(ctx context.Context) error

// Service is a Resource that additionally owns a continuous serve loop.
// OnInitialize spawns the loop into the task bucket; OnShutdown cancels it
// and waits for it to return. Construct with NewService, which wires these
// hooks around whatever hooks the caller also wants to run.
type Service struct {
	*Resource

	serve ServeFunc

	mu          sync.Mutex
	cancelServe context.CancelFunc
	serveDone   chan struct{}
}

// ServiceOptions configures a new Service.
type ServiceOptions struct {
	Options
	Serve ServeFunc
}

// NewService constructs a Service whose OnInitialize/OnShutdown hooks wrap
// the caller-supplied Serve function, composed with any hooks the caller
// also passed in Options.Hooks.
func NewService(opts ServiceOptions) *Service {
	s := &Service{serve: opts.Serve}

	userHooks := opts.Options.Hooks
	opts.Options.Hooks = Hooks{
		BeforeInitialize: userHooks.BeforeInitialize,
		OnInitialize: func(ctx context.Context) error {
			if err := runHook(ctx, userHooks.OnInitialize); err != nil {
				return err
			}
			s.startServe(ctx)
			return nil
		},
		AfterInitialize: userHooks.AfterInitialize,
		BeforeShutdown:  userHooks.BeforeShutdown,
		OnShutdown: func(ctx context.Context) error {
			s.stopServe()
			return runHook(ctx, userHooks.OnShutdown)
		},
		AfterShutdown: userHooks.AfterShutdown,
	}
	if opts.Options.Role == "" {
		opts.Options.Role = RoleService
	}

	s.Resource = New(opts.Options)
	return s
}

func (s *Service) startServe(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancelServe = cancel
	done := make(chan struct{})
	s.serveDone = done
	s.mu.Unlock()

	s.TaskBucket.Spawn(ctx, s.UniqueName()+".serve", func(ctx context.Context) error {
		defer close(done)
		err := s.serve(ctx)
		if err == nil {
			s.handleStop()
			return nil
		}
		if ctx.Err() != nil {
			s.handleStop()
			return nil
		}
		s.HandleCrash(err)
		return nil
	})
}

func (s *Service) stopServe() {
	s.mu.Lock()
	cancel := s.cancelServe
	done := s.serveDone
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// IsRunning reports whether the serve loop is currently active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serveDone == nil {
		return false
	}
	select {
	case <-s.serveDone:
		return false
	default:
		return true
	}
}
