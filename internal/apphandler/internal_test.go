package apphandler

import (
	"errors"
	"testing"

	"github.com/NodeJSmith/hassette-go/internal/hconfig"
)

func TestComputeOnlyAppNoneDeclared(t *testing.T) {
	manifests := map[string]hconfig.AppManifest{
		"a": {Enabled: true},
		"b": {Enabled: true},
	}
	only, err := computeOnlyApp(manifests, false, false)
	if err != nil || only != "" {
		t.Fatalf("got (%q, %v), want (\"\", nil)", only, err)
	}
}

func TestComputeOnlyAppSingleInDevMode(t *testing.T) {
	manifests := map[string]hconfig.AppManifest{
		"a": {Enabled: true, Only: true},
		"b": {Enabled: true},
	}
	only, err := computeOnlyApp(manifests, true, false)
	if err != nil || only != "a" {
		t.Fatalf("got (%q, %v), want (\"a\", nil)", only, err)
	}
}

func TestComputeOnlyAppMultipleIsConfigError(t *testing.T) {
	manifests := map[string]hconfig.AppManifest{
		"a": {Enabled: true, Only: true},
		"b": {Enabled: true, Only: true},
	}
	_, err := computeOnlyApp(manifests, true, false)
	if err == nil {
		t.Fatal("expected an error for multiple only apps")
	}
}

func TestComputeOnlyAppRequiresDevModeOrFlagInProd(t *testing.T) {
	manifests := map[string]hconfig.AppManifest{"a": {Enabled: true, Only: true}}

	if _, err := computeOnlyApp(manifests, false, false); err == nil {
		t.Fatal("expected an error: only app outside dev mode without allow_only_app_in_prod")
	}
	if only, err := computeOnlyApp(manifests, false, true); err != nil || only != "a" {
		t.Fatalf("allow_only_app_in_prod should permit it, got (%q, %v)", only, err)
	}
}

func TestBuildRecoversFactoryPanic(t *testing.T) {
	Register("panicky.go", "Boom", func(raw map[string]any) (App, error) {
		panic("kaboom")
	})

	_, err := build("panicky.go", "Boom", nil)
	if err == nil {
		t.Fatal("expected an error from a panicking factory")
	}
}

func TestBuildUnknownAppReturnsError(t *testing.T) {
	_, err := build("nope.go", "Nope", nil)
	if err == nil {
		t.Fatal("expected an error for an unregistered app")
	}
}

func TestDiffInstancesDetectsAddRemoveReload(t *testing.T) {
	prev := []map[string]any{{"a": 1}, {"a": 2}}
	curr := []map[string]any{{"a": 1}, {"a": 99}, {"a": 3}}

	removed, added, reloaded := diffInstances(prev, curr)
	if len(removed) != 0 {
		t.Errorf("removed = %v, want none", removed)
	}
	if len(added) != 1 || added[0] != 2 {
		t.Errorf("added = %v, want [2]", added)
	}
	if len(reloaded) != 1 || reloaded[0] != 1 {
		t.Errorf("reloaded = %v, want [1]", reloaded)
	}
}

func TestComputeChangeSetAppLifecycle(t *testing.T) {
	prev := map[string]hconfig.AppManifest{
		"kept":    {Filename: "k.go", ClassName: "K", Enabled: true},
		"removed": {Filename: "r.go", ClassName: "R", Enabled: true},
	}
	curr := map[string]hconfig.AppManifest{
		"kept": {Filename: "k.go", ClassName: "K", Enabled: true},
		"new":  {Filename: "n.go", ClassName: "N", Enabled: true},
	}

	cs := computeChangeSet(prev, curr, nil)
	if len(cs.RemovedApps) != 1 || cs.RemovedApps[0] != "removed" {
		t.Errorf("RemovedApps = %v", cs.RemovedApps)
	}
	if len(cs.NewApps) != 1 || cs.NewApps[0] != "new" {
		t.Errorf("NewApps = %v", cs.NewApps)
	}
}

func TestComputeChangeSetReimportOnSourceChange(t *testing.T) {
	manifests := map[string]hconfig.AppManifest{
		"a": {Filename: "a.go", ClassName: "A", Enabled: true},
	}
	cs := computeChangeSet(manifests, manifests, func(appKey string) bool { return appKey == "a" })
	if len(cs.ReimportApps) != 1 || cs.ReimportApps[0] != "a" {
		t.Errorf("ReimportApps = %v, want [a]", cs.ReimportApps)
	}
	if cs.IsEmpty() {
		t.Error("change set should not be empty")
	}
}

func TestComputeChangeSetReloadAppsOnMetadataChange(t *testing.T) {
	prev := map[string]hconfig.AppManifest{"a": {Filename: "a.go", ClassName: "A", Enabled: true}}
	curr := map[string]hconfig.AppManifest{"a": {Filename: "a.go", ClassName: "A", Enabled: false}}

	cs := computeChangeSet(prev, curr, nil)
	if len(cs.ReloadApps) != 1 || cs.ReloadApps[0] != "a" {
		t.Errorf("ReloadApps = %v, want [a]", cs.ReloadApps)
	}
}

var errFactory = errors.New("factory error")

func TestBuildPropagatesFactoryError(t *testing.T) {
	Register("erroring.go", "Bad", func(raw map[string]any) (App, error) {
		return nil, errFactory
	})
	_, err := build("erroring.go", "Bad", nil)
	if !errors.Is(err, errFactory) {
		t.Fatalf("got %v, want %v", err, errFactory)
	}
}
