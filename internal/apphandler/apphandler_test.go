package apphandler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodeJSmith/hassette-go/internal/apphandler"
	"github.com/NodeJSmith/hassette-go/internal/hconfig"
)

type alwaysReady struct{}

func (alwaysReady) WaitReady(ctx context.Context) error { return nil }

type fakeApp struct {
	mu          sync.Mutex
	initialized bool
	shutdown    bool
	initErr     error
	initDelay   time.Duration
}

func (f *fakeApp) Initialize(ctx context.Context) error {
	if f.initDelay > 0 {
		select {
		case <-time.After(f.initDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.initialized = true
	f.mu.Unlock()
	return f.initErr
}

func (f *fakeApp) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	f.shutdown = true
	f.mu.Unlock()
	return nil
}

func (f *fakeApp) wasInitialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

func startHandler(t *testing.T, h *apphandler.Handler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.Start(ctx)
	require.NoError(t, h.WaitReady(ctx))
}

func TestBootInitializesEnabledAppInstances(t *testing.T) {
	apps := make(map[string]*fakeApp)
	apphandler.Register("lights.go", "LightsApp", func(raw map[string]any) (apphandler.App, error) {
		a := &fakeApp{}
		apps[fakeKey(raw)] = a
		return a, nil
	})

	h := apphandler.New(apphandler.Options{
		Bus:       alwaysReady{},
		Websocket: alwaysReady{},
		Manifests: map[string]hconfig.AppManifest{
			"lights": {
				Filename: "lights.go", ClassName: "LightsApp", Enabled: true,
				AppConfig: []map[string]any{{"room": "kitchen"}, {"room": "office"}},
			},
			"disabled": {Filename: "lights.go", ClassName: "LightsApp", Enabled: false},
		},
		DisableFileWatch: true,
	})
	startHandler(t, h)
	defer func() { _ = h.Shutdown(context.Background()) }()

	assert.Equal(t, 2, h.InstanceCount("lights"))
	assert.Equal(t, 0, h.InstanceCount("disabled"))
	assert.Empty(t, h.FailedApps())
}

func TestOnlyAppBootFailsWithMultipleOnlyDeclarations(t *testing.T) {
	apphandler.Register("a.go", "A", func(raw map[string]any) (apphandler.App, error) { return &fakeApp{}, nil })
	apphandler.Register("b.go", "B", func(raw map[string]any) (apphandler.App, error) { return &fakeApp{}, nil })

	h := apphandler.New(apphandler.Options{
		Bus:       alwaysReady{},
		Websocket: alwaysReady{},
		Manifests: map[string]hconfig.AppManifest{
			"a": {Filename: "a.go", ClassName: "A", Enabled: true, Only: true},
			"b": {Filename: "b.go", ClassName: "B", Enabled: true, Only: true},
		},
		DisableFileWatch: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	h.Start(ctx)

	err := h.WaitReady(ctx)
	assert.Error(t, err, "boot should never reach ready with two only apps declared")
}

func TestFailedInitializeIsRecordedInFailedApps(t *testing.T) {
	boom := &fakeApp{}
	apphandler.Register("boom.go", "Boom", func(raw map[string]any) (apphandler.App, error) { return boom, nil })

	h := apphandler.New(apphandler.Options{
		Bus:            alwaysReady{},
		Websocket:      alwaysReady{},
		AppInitTimeout: 50 * time.Millisecond,
		Manifests: map[string]hconfig.AppManifest{
			"boom": {Filename: "boom.go", ClassName: "Boom", Enabled: true},
		},
		DisableFileWatch: true,
	})
	boom.initDelay = time.Second // exceeds the 50ms app init timeout

	startHandler(t, h)
	defer func() { _ = h.Shutdown(context.Background()) }()

	assert.NotEmpty(t, h.FailedApps())
}

func TestReconcileConfigStopsRemovedApp(t *testing.T) {
	live := &fakeApp{}
	apphandler.Register("r.go", "R", func(raw map[string]any) (apphandler.App, error) { return live, nil })

	manifests := map[string]hconfig.AppManifest{
		"r": {Filename: "r.go", ClassName: "R", Enabled: true},
	}
	h := apphandler.New(apphandler.Options{
		Bus: alwaysReady{}, Websocket: alwaysReady{},
		Manifests:        manifests,
		DisableFileWatch: true,
	})
	startHandler(t, h)
	defer func() { _ = h.Shutdown(context.Background()) }()

	require.Equal(t, 1, h.InstanceCount("r"))

	h.ReconcileConfig(context.Background(), map[string]hconfig.AppManifest{})

	assert.Eventually(t, func() bool { return h.InstanceCount("r") == 0 }, time.Second, 10*time.Millisecond)
	assert.True(t, live.shutdown)
}

func fakeKey(raw map[string]any) string {
	if room, ok := raw["room"]; ok {
		if s, ok := room.(string); ok {
			return s
		}
	}
	return "default"
}
