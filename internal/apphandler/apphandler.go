// Package apphandler implements the app handler described in §4.7: it
// loads user apps from their manifests, constructs and initializes their
// per-instance configs, watches for source and config changes, and
// reconciles the running set of instances against each change. Grounded on
// the scheduler service's resource.Service wiring for its boot/shutdown
// lifecycle and on the teacher's eventprocessor.EventRegistry for the
// static type registry in registry.go.
package apphandler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/NodeJSmith/hassette-go/internal/event"
	"github.com/NodeJSmith/hassette-go/internal/hconfig"
	"github.com/NodeJSmith/hassette-go/internal/herror"
	"github.com/NodeJSmith/hassette-go/internal/hlog"
	"github.com/NodeJSmith/hassette-go/internal/hmetrics"
	"github.com/NodeJSmith/hassette-go/internal/resource"
)

// ReadyWaiter is the subset of resource.Resource the boot sequence needs to
// wait on: *resource.Service and *resource.Resource both satisfy it
// directly, so no adapter is needed when wiring the bus and websocket
// collaborator in.
type ReadyWaiter interface {
	WaitReady(ctx context.Context) error
}

var knownInstanceStatuses = []string{"starting", "running", "stopped", "failed"}

const defaultAppTimeout = 10 * time.Second

// Options configures a new Handler.
type Options struct {
	AppDir    string
	Manifests map[string]hconfig.AppManifest

	// Bus and Websocket are waited on before any app is initialized, per
	// §4.7 step 1. The REST API collaborator (internal/hassapi) carries no
	// Resource lifecycle of its own -- it is a stateless HTTP facade -- so
	// there is nothing to wait ready for it; apps that call it simply see
	// circuit-breaker failures until the upstream answers.
	Bus       ReadyWaiter
	Websocket ReadyWaiter

	Emitter resource.Emitter
	Logger  *zerolog.Logger

	AppInitTimeout     time.Duration
	AppShutdownTimeout time.Duration

	DevMode            bool
	AllowOnlyAppInProd bool

	// DisableFileWatch skips the polling file watcher, for tests and for
	// deployments that only ever reload via config changes.
	DisableFileWatch bool
}

// instance is one constructed, (possibly) initialized app instance.
type instance struct {
	appKey string
	index  int
	app    App
	status string
}

// Handler is the app handler resource.
type Handler struct {
	*resource.Service

	bus ReadyWaiter
	ws  ReadyWaiter

	initTimeout     time.Duration
	shutdownTimeout time.Duration
	devMode         bool
	allowOnlyInProd bool

	watcher *fileWatcher

	emitter resource.Emitter

	mu        sync.Mutex
	manifests map[string]hconfig.AppManifest
	instances map[string][]*instance
	onlyApp   string
	failed    []string

	log zerolog.Logger
}

// New constructs a Handler in NotStarted status.
func New(opts Options) *Handler {
	initTimeout := opts.AppInitTimeout
	if initTimeout <= 0 {
		initTimeout = defaultAppTimeout
	}
	shutdownTimeout := opts.AppShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultAppTimeout
	}

	log := hlog.Named("apphandler")
	if opts.Logger != nil {
		log = *opts.Logger
	}

	h := &Handler{
		bus:             opts.Bus,
		ws:              opts.Websocket,
		initTimeout:     initTimeout,
		shutdownTimeout: shutdownTimeout,
		devMode:         opts.DevMode,
		allowOnlyInProd: opts.AllowOnlyAppInProd,
		emitter:         opts.Emitter,
		manifests:       make(map[string]hconfig.AppManifest),
		instances:       make(map[string][]*instance),
		log:             log,
	}

	if opts.Manifests != nil {
		h.manifests = opts.Manifests
	}
	if opts.AppDir != "" && !opts.DisableFileWatch {
		h.watcher = newFileWatcher(opts.AppDir)
	}

	h.Service = resource.NewService(resource.ServiceOptions{
		Options: resource.Options{
			ClassName: "AppHandler",
			Role:      resource.RoleService,
			Emitter:   opts.Emitter,
			Logger:    &log,
			Hooks: resource.Hooks{
				OnInitialize: h.boot,
				OnShutdown:   h.shutdownAll,
			},
		},
		Serve: h.serve,
	})
	return h
}

// boot implements §4.7's four-step boot sequence.
func (h *Handler) boot(ctx context.Context) error {
	if h.bus != nil {
		if err := h.bus.WaitReady(ctx); err != nil {
			return fmt.Errorf("apphandler: bus not ready: %w", err)
		}
	}
	if h.ws != nil {
		if err := h.ws.WaitReady(ctx); err != nil {
			return fmt.Errorf("apphandler: websocket not ready: %w", err)
		}
	}

	h.mu.Lock()
	manifests := h.manifests
	h.mu.Unlock()

	onlyApp, err := computeOnlyApp(manifests, h.devMode, h.allowOnlyInProd)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.onlyApp = onlyApp
	h.mu.Unlock()

	var wg sync.WaitGroup
	for appKey, manifest := range manifests {
		if !manifest.Enabled {
			continue
		}
		if onlyApp != "" && appKey != onlyApp {
			continue
		}
		wg.Add(1)
		go func(appKey string, manifest hconfig.AppManifest) {
			defer wg.Done()
			h.startApp(ctx, appKey, manifest)
		}(appKey, manifest)
	}
	wg.Wait()

	h.emit(event.New(event.TopicAppLoadCompleted, event.AppLoadCompleted{}))
	h.MarkReady("apps loaded")
	return nil
}

// computeOnlyApp implements §4.7 step 2: exactly one Only manifest runs
// alone; more than one is a configuration error; an Only app outside dev
// mode requires allowOnlyInProd.
func computeOnlyApp(manifests map[string]hconfig.AppManifest, devMode, allowOnlyInProd bool) (string, error) {
	var onlyKeys []string
	for appKey, m := range manifests {
		if m.Enabled && m.Only {
			onlyKeys = append(onlyKeys, appKey)
		}
	}
	if len(onlyKeys) == 0 {
		return "", nil
	}
	if len(onlyKeys) > 1 {
		return "", fmt.Errorf("apphandler: %w: multiple apps declared only: %v", herror.ErrConfiguration, onlyKeys)
	}
	if !devMode && !allowOnlyInProd {
		return "", fmt.Errorf("apphandler: %w: only app %q requires dev_mode or allow_only_app_in_prod",
			herror.ErrConfiguration, onlyKeys[0])
	}
	return onlyKeys[0], nil
}

// startApp constructs and initializes every instance of appKey's manifest,
// isolating each instance's failure per §4.7's "a failure in one app never
// aborts the batch".
func (h *Handler) startApp(ctx context.Context, appKey string, manifest hconfig.AppManifest) {
	configs := manifest.AppConfig
	if len(configs) == 0 {
		configs = []map[string]any{{}}
	}

	var built []*instance
	for idx, raw := range configs {
		inst := h.startInstance(ctx, appKey, manifest, idx, raw)
		built = append(built, inst)
	}

	h.mu.Lock()
	h.instances[appKey] = built
	h.mu.Unlock()
}

// startInstance builds and initializes one instance, with a per-app
// timeout. On timeout or construction/initialize error, the instance is
// marked Stopped/Failed and recorded in failedApps (§5 Timeouts).
func (h *Handler) startInstance(ctx context.Context, appKey string, manifest hconfig.AppManifest, idx int, raw map[string]any) *instance {
	inst := &instance{appKey: appKey, index: idx, status: "starting"}
	hmetrics.SetAppStatus(instanceLabel(appKey, idx), "starting", knownInstanceStatuses)

	app, err := build(manifest.Filename, manifest.ClassName, raw)
	if err != nil {
		h.markFailed(appKey, idx, "failed", err)
		return inst
	}
	inst.app = app

	initCtx, cancel := context.WithTimeout(ctx, h.initTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- app.Initialize(initCtx) }()

	select {
	case err := <-done:
		if err != nil {
			h.markFailed(appKey, idx, "failed", err)
			return inst
		}
		inst.status = "running"
		hmetrics.SetAppStatus(instanceLabel(appKey, idx), "running", knownInstanceStatuses)
	case <-initCtx.Done():
		// §5 Timeouts: a timed-out initialize marks the instance Stopped,
		// not Failed -- it never ran, rather than having run and errored.
		h.markFailed(appKey, idx, "stopped", herror.ErrTimeout)
	}
	return inst
}

func (h *Handler) markFailed(appKey string, idx int, status string, err error) {
	label := instanceLabel(appKey, idx)
	h.log.Error().Str("app", label).Err(err).Msg("app instance failed to initialize")
	hmetrics.SetAppStatus(label, status, knownInstanceStatuses)

	h.mu.Lock()
	h.failed = append(h.failed, label)
	h.mu.Unlock()
}

// stopApp shuts down every instance of appKey, per instance timeout;
// a timed-out shutdown is logged and abandoned (§5 Timeouts), never blocks
// the rest of the batch.
func (h *Handler) stopApp(ctx context.Context, appKey string) {
	h.mu.Lock()
	insts := h.instances[appKey]
	delete(h.instances, appKey)
	h.mu.Unlock()

	for _, inst := range insts {
		h.stopInstance(ctx, inst)
	}
}

func (h *Handler) stopInstance(ctx context.Context, inst *instance) {
	if inst.app == nil {
		return
	}
	label := instanceLabel(inst.appKey, inst.index)
	shutdownCtx, cancel := context.WithTimeout(ctx, h.shutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- inst.app.Shutdown(shutdownCtx) }()

	select {
	case err := <-done:
		if err != nil {
			h.log.Warn().Str("app", label).Err(err).Msg("app instance shutdown returned an error")
		}
	case <-shutdownCtx.Done():
		h.log.Warn().Str("app", label).Msg("app instance shutdown timed out, abandoning")
	}
	hmetrics.SetAppStatus(label, "stopped", knownInstanceStatuses)
}

func instanceLabel(appKey string, idx int) string {
	return fmt.Sprintf("%s[%d]", appKey, idx)
}

func (h *Handler) emit(e event.Event) {
	if h.emitter != nil {
		h.emitter.Emit(e)
	}
}

// serve is a no-op run loop except for the polling file watcher: all other
// work happens synchronously during boot or via ReconcileConfig/ReconcileFiles.
func (h *Handler) serve(ctx context.Context) error {
	if h.watcher == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			changed := h.watcher.poll()
			if len(changed) > 0 {
				h.reconcileSourceChange(ctx, changed)
			}
		}
	}
}

// shutdownAll stops every running app instance, per appKey, isolating each
// app's shutdown so one slow app never prevents the rest from stopping.
func (h *Handler) shutdownAll(ctx context.Context) error {
	h.mu.Lock()
	appKeys := make([]string, 0, len(h.instances))
	for appKey := range h.instances {
		appKeys = append(appKeys, appKey)
	}
	h.mu.Unlock()

	for _, appKey := range appKeys {
		appKey := appKey
		h.safely(appKey, func() { h.stopApp(ctx, appKey) })
	}
	return nil
}

// FailedApps returns the instance labels that failed to initialize during
// the most recent boot or reconciliation, for tests and diagnostics.
func (h *Handler) FailedApps() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.failed))
	copy(out, h.failed)
	return out
}

// InstanceCount returns the number of live instances for appKey, for tests.
func (h *Handler) InstanceCount(appKey string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.instances[appKey])
}

// OnlyApp returns the app key running in exclusive-only mode, or "" if
// none was declared, per §4.7 step 2.
func (h *Handler) OnlyApp() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.onlyApp
}
