// Package resource implements the base lifecycle every long-lived Hassette
// component shares: a status state machine, a readiness signal independent
// of status, a task bucket for spawned work, and hierarchical parent/child
// bookkeeping for the service watcher's (name, role) lookups.
//
// The source material polices "don't override the terminal lifecycle
// methods" with a metaclass over a deep inheritance hierarchy. Go has no
// inheritance to police in the first place, so this package inverts the
// shape: Resource is a concrete struct, initialize/shutdown are unexported
// and therefore un-overridable, and behavior is supplied through a Hooks
// vtable at construction.
package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/hlog"
	"github.com/NodeJSmith/hassette-go/internal/taskbucket"
)

// Emitter publishes resource lifecycle events onto the bus. The bus package
// implements this; resource does not import bus to avoid a cycle, since the
// bus's own service is itself built on top of Resource.
type Emitter interface {
	Emit(e event.Event)
}

// noopEmitter is used when a resource is constructed before the bus exists
// (e.g. in unit tests, or the bus's own resource itself during boot).
type noopEmitter struct{}

func (noopEmitter) Emit(event.Event) {}

// Options configures a new Resource.
type Options struct {
	// ClassName is the logical type name reported in service-status events
	// and used by the service watcher's (name, role) lookup.
	ClassName string
	Role      Role
	Emitter   Emitter
	// Logger overrides the default component logger derived from
	// ClassName. Nil uses hlog.Named(ClassName).
	Logger *zerolog.Logger
	Hooks  Hooks

	// JoinTimeout bounds how long shutdown waits for the task bucket to
	// drain. Defaults to 5s per §5.
	JoinTimeout time.Duration

	// EventStreamsClosed reports whether the bus's ingress has been torn
	// down; when true, transition emission is skipped (recorded locally
	// only) per the "emission is best-effort" contract.
	EventStreamsClosed func() bool
}

// Resource is the base lifecycle every supervised component embeds.
type Resource struct {
	uniqueID   string
	uniqueName string
	className  string
	role       Role

	emitter            Emitter
	log                zerolog.Logger
	hooks              Hooks
	eventStreamsClosed func() bool

	TaskBucket *taskbucket.Bucket

	mu             sync.Mutex
	status         Status
	previousStatus Status
	initializing   bool
	shuttingDown   bool

	ready    *signal
	shutdown *signal

	parentMu sync.Mutex
	parent   *Resource
	children []*Resource

	runCtxMu sync.Mutex
	runCtx   context.Context
}

// New constructs a Resource in NotStarted status.
func New(opts Options) *Resource {
	if opts.Emitter == nil {
		opts.Emitter = noopEmitter{}
	}
	if opts.JoinTimeout == 0 {
		opts.JoinTimeout = 5 * time.Second
	}
	if opts.EventStreamsClosed == nil {
		opts.EventStreamsClosed = func() bool { return false }
	}
	className := opts.ClassName
	if className == "" {
		className = string(opts.Role)
	}

	id := uuid.New().String()
	shortID := id
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	uniqueName := fmt.Sprintf("%s.%s", className, shortID)

	var log zerolog.Logger
	if opts.Logger != nil {
		log = *opts.Logger
	} else {
		log = hlog.Named(className)
	}

	r := &Resource{
		uniqueID:           id,
		uniqueName:         uniqueName,
		className:          className,
		role:               opts.Role,
		emitter:            opts.Emitter,
		log:                log.With().Str("resource", uniqueName).Logger(),
		hooks:              opts.Hooks,
		eventStreamsClosed: opts.EventStreamsClosed,
		status:             NotStarted,
		previousStatus:     NotStarted,
		ready:              newSignal(),
		shutdown:           newSignal(),
	}
	r.TaskBucket = taskbucket.New(uniqueName, r.log, opts.JoinTimeout)
	return r
}

// UniqueID returns the resource's generated identifier.
func (r *Resource) UniqueID() string { return r.uniqueID }

// UniqueName returns "<class_name>.<short_id>".
func (r *Resource) UniqueName() string { return r.uniqueName }

// ClassName returns the logical type name used for service-watcher lookups.
func (r *Resource) ClassName() string { return r.className }

// Role returns the resource's role.
func (r *Resource) Role() Role { return r.role }

// Logger returns the resource-scoped logger.
func (r *Resource) Logger() zerolog.Logger { return r.log }

// Status returns the current lifecycle status.
func (r *Resource) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// PreviousStatus returns the status the resource transitioned from most
// recently.
func (r *Resource) PreviousStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.previousStatus
}

// AddChild registers a child resource for service-watcher lookups and
// hierarchical shutdown ordering.
func (r *Resource) AddChild(child *Resource) {
	r.parentMu.Lock()
	defer r.parentMu.Unlock()
	child.parent = r
	r.children = append(r.children, child)
}

// Children returns the resource's registered children.
func (r *Resource) Children() []*Resource {
	r.parentMu.Lock()
	defer r.parentMu.Unlock()
	out := make([]*Resource, len(r.children))
	copy(out, r.children)
	return out
}

// IsReady reports whether MarkReady has been called more recently than
// MarkNotReady.
func (r *Resource) IsReady() bool { return r.ready.IsSet() }

// MarkReady signals readiness independently of status.
func (r *Resource) MarkReady(reason string) {
	r.log.Debug().Str("reason", reason).Msg("marked ready")
	r.ready.Set()
}

// MarkNotReady clears readiness independently of status.
func (r *Resource) MarkNotReady(reason string) {
	if !r.ready.IsSet() {
		r.log.Debug().Str("reason", reason).Msg("already not ready")
		return
	}
	r.log.Debug().Str("reason", reason).Msg("marked not ready")
	r.ready.Clear()
}

// WaitReady blocks until readiness or ctx is done.
func (r *Resource) WaitReady(ctx context.Context) error {
	return r.ready.Wait(ctx)
}

// RequestShutdown sets the shutdown signal without running the full
// shutdown hook sequence; long-running loops select on ShutdownRequested()
// to notice it promptly. Idempotent.
func (r *Resource) RequestShutdown(reason string) {
	if r.shutdown.IsSet() {
		return
	}
	r.log.Debug().Str("reason", reason).Msg("shutdown requested")
	r.shutdown.Set()
	r.MarkNotReady(reason)
}

// ShutdownRequested reports whether RequestShutdown has been called.
func (r *Resource) ShutdownRequested() bool { return r.shutdown.IsSet() }

// ShutdownSignalCh exposes the shutdown signal's underlying channel for
// select statements in long-running loops (e.g. the scheduler's sleep).
func (r *Resource) ShutdownSignalCh() <-chan struct{} {
	r.shutdown.mu.Lock()
	defer r.shutdown.mu.Unlock()
	return r.shutdown.ch
}

func (r *Resource) setStatus(s Status) (previous Status) {
	r.mu.Lock()
	previous = r.status
	r.previousStatus = previous
	r.status = s
	r.mu.Unlock()
	return previous
}

// emit publishes a service-status event unless the event streams have been
// torn down, per the best-effort emission contract.
func (r *Resource) emit(status Status, previous Status, err error) {
	if r.eventStreamsClosed() {
		r.log.Debug().Str("status", string(status)).Msg("event streams closed, skipping status event")
		return
	}
	r.emitter.Emit(event.New(event.TopicServiceStatus, event.ServiceStatus{
		ResourceName:   r.className,
		Role:           string(r.role),
		Status:         string(status),
		PreviousStatus: string(previous),
		Err:            err,
	}))
}

func (r *Resource) handleStarting() {
	if r.Status() == Starting {
		r.log.Warn().Msg("already starting")
		return
	}
	previous := r.setStatus(Starting)
	r.emit(Starting, previous, nil)
}

func (r *Resource) handleRunning() {
	previous := r.setStatus(Running)
	r.emit(Running, previous, nil)
}

func (r *Resource) handleStop() {
	if r.Status() == Stopped {
		r.log.Debug().Msg("already stopped")
		return
	}
	previous := r.setStatus(Stopped)
	r.emit(Stopped, previous, nil)
	r.MarkNotReady("stopped")
}

func (r *Resource) handleFailed(err error) {
	previous := r.setStatus(Failed)
	r.emit(Failed, previous, err)
	r.MarkNotReady("failed")
}

// HandleCrash transitions the resource to Crashed. Exported because a
// Service's serve-loop wrapper lives in this package but is driven from the
// service package's goroutine.
func (r *Resource) HandleCrash(err error) {
	r.log.Error().Err(err).Msg("resource crashed")
	previous := r.setStatus(Crashed)
	r.emit(Crashed, previous, err)
	r.MarkNotReady("crashed")
}

// Start begins initialization asynchronously: it spawns initialize() into
// the task bucket and returns immediately, mirroring the source runtime's
// start() which does not block on the init hooks completing.
func (r *Resource) Start(ctx context.Context) {
	r.shutdown.Clear()
	r.TaskBucket.Spawn(ctx, r.uniqueName+".initialize", func(ctx context.Context) error {
		return r.initialize(ctx)
	})
}

// initialize runs the before/on/after initialize hooks exactly once at a
// time; re-entrant calls while already initializing are a no-op. This
// method is intentionally unexported: it is the FinalMeta-protected
// terminal method from the source design, and embedders configure behavior
// through Hooks instead of overriding it.
func (r *Resource) initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.initializing {
		r.mu.Unlock()
		return nil
	}
	r.initializing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.initializing = false
		r.mu.Unlock()
	}()

	r.handleStarting()

	for _, hook := range []Hook{r.hooks.BeforeInitialize, r.hooks.OnInitialize, r.hooks.AfterInitialize} {
		if err := runHook(ctx, hook); err != nil {
			r.handleFailed(err)
			return err
		}
	}

	r.handleRunning()
	return nil
}

// shutdown runs the before/on/after shutdown hooks. Unlike initialize, a
// hook returning a (non-cancellation) error is logged and swallowed so
// later hooks still run; cancellation aborts the remaining hooks early.
// cleanup and the Stopped transition always happen in the equivalent of a
// finally block. Unexported for the same reason as initialize.
func (r *Resource) shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return nil
	}
	r.shuttingDown = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.shuttingDown = false
		r.mu.Unlock()
	}()

	for _, hook := range []Hook{r.hooks.BeforeShutdown, r.hooks.OnShutdown, r.hooks.AfterShutdown} {
		err := runHook(ctx, hook)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			r.log.Warn().Err(err).Msg("shutdown hook cancelled")
			r.handleFailed(err)
			break
		}
		r.log.Error().Err(err).Msg("shutdown hook failed, continuing")
		r.handleFailed(err)
	}

	r.cleanup(ctx)
	// handleStop always records Stopped; emit skips the event itself when
	// the event streams are closed.
	r.handleStop()
	return nil
}

func (r *Resource) cleanup(ctx context.Context) {
	r.TaskBucket.CancelAll(ctx)
}

// Shutdown runs the shutdown sequence to completion, blocking the caller.
func (r *Resource) Shutdown(ctx context.Context) error {
	return r.shutdown(ctx)
}

// Restart shuts the resource down and re-initializes it.
func (r *Resource) Restart(ctx context.Context) error {
	if err := r.Shutdown(ctx); err != nil {
		return err
	}
	r.Start(ctx)
	return nil
}
