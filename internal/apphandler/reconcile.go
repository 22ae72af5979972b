package apphandler

import (
	"context"

	"github.com/NodeJSmith/hassette-go/internal/hconfig"
)

// reconcileSourceChange is driven by the polling file watcher: it recomputes
// the change set against the *same* manifest map, flagging only apps whose
// backing file was among the changed paths, and applies any resulting
// ReimportApps entries.
func (h *Handler) reconcileSourceChange(ctx context.Context, changedFiles []string) {
	changedSet := make(map[string]bool, len(changedFiles))
	for _, f := range changedFiles {
		changedSet[f] = true
	}

	h.mu.Lock()
	manifests := h.manifests
	h.mu.Unlock()

	sourceChanged := func(appKey string) bool {
		return changedSet[manifests[appKey].Filename]
	}

	cs := computeChangeSet(manifests, manifests, sourceChanged)
	if cs.IsEmpty() {
		return
	}
	h.apply(ctx, cs, manifests)
}

// ReconcileConfig is driven by a configuration reload (e.g. the
// orchestrator re-running hconfig.Load and noticing the apps key changed).
// It diffs newManifests against the currently running set and applies the
// resulting change set, per §4.7's file-watching subsection.
func (h *Handler) ReconcileConfig(ctx context.Context, newManifests map[string]hconfig.AppManifest) {
	h.mu.Lock()
	prev := h.manifests
	h.mu.Unlock()

	cs := computeChangeSet(prev, newManifests, nil)

	h.mu.Lock()
	h.manifests = newManifests
	h.mu.Unlock()

	if !cs.IsEmpty() {
		h.apply(ctx, cs, newManifests)
	}
}

// apply runs every change-set category in §4.7's stated order: stop
// orphaned apps/instances, start new ones, reimport changed-source apps,
// reload changed-config instances. Each app key is isolated by safely so a
// panic or failure in one never stops the rest of the batch from applying.
func (h *Handler) apply(ctx context.Context, cs AppChangeSet, manifests map[string]hconfig.AppManifest) {
	for _, appKey := range cs.RemovedApps {
		appKey := appKey
		h.safely(appKey, func() { h.stopApp(ctx, appKey) })
	}
	for appKey, idxs := range cs.RemovedInstances {
		appKey, idxs := appKey, idxs
		h.safely(appKey, func() { h.stopInstances(ctx, appKey, idxs) })
	}

	for _, appKey := range cs.NewApps {
		appKey := appKey
		manifest := manifests[appKey]
		if !manifest.Enabled {
			continue
		}
		h.safely(appKey, func() { h.startApp(ctx, appKey, manifest) })
	}
	for appKey, idxs := range cs.NewInstances {
		appKey, idxs := appKey, idxs
		manifest := manifests[appKey]
		h.safely(appKey, func() { h.addInstances(ctx, appKey, manifest, idxs) })
	}

	for _, appKey := range cs.ReimportApps {
		appKey := appKey
		manifest := manifests[appKey]
		h.safely(appKey, func() { h.reimport(ctx, appKey, manifest) })
	}
	for _, appKey := range cs.ReloadApps {
		appKey := appKey
		manifest := manifests[appKey]
		h.safely(appKey, func() { h.reimport(ctx, appKey, manifest) })
	}

	for appKey, idxs := range cs.ReloadInstances {
		appKey, idxs := appKey, idxs
		manifest := manifests[appKey]
		h.safely(appKey, func() { h.reloadInstances(ctx, appKey, manifest, idxs) })
	}
}

// reimport stops every instance of appKey and, if still enabled,
// reconstructs them from manifest. In a compiled binary there is no
// dynamic re-import of the underlying Go type (see registry.go): what
// actually changes here is the per-instance config and the restart itself,
// which is enough to pick up a rebuilt binary's registered factory after a
// process restart, and is a no-op-but-safe restart otherwise.
func (h *Handler) reimport(ctx context.Context, appKey string, manifest hconfig.AppManifest) {
	h.stopApp(ctx, appKey)
	if manifest.Enabled {
		h.startApp(ctx, appKey, manifest)
	}
}

func (h *Handler) stopInstances(ctx context.Context, appKey string, idxs []int) {
	remove := make(map[int]bool, len(idxs))
	for _, i := range idxs {
		remove[i] = true
	}

	h.mu.Lock()
	insts := h.instances[appKey]
	kept := insts[:0:0]
	var toStop []*instance
	for _, inst := range insts {
		if remove[inst.index] {
			toStop = append(toStop, inst)
		} else {
			kept = append(kept, inst)
		}
	}
	h.instances[appKey] = kept
	h.mu.Unlock()

	for _, inst := range toStop {
		h.stopInstance(ctx, inst)
	}
}

func (h *Handler) addInstances(ctx context.Context, appKey string, manifest hconfig.AppManifest, idxs []int) {
	for _, idx := range idxs {
		if idx < 0 || idx >= len(manifest.AppConfig) {
			continue
		}
		inst := h.startInstance(ctx, appKey, manifest, idx, manifest.AppConfig[idx])

		h.mu.Lock()
		h.instances[appKey] = append(h.instances[appKey], inst)
		h.mu.Unlock()
	}
}

func (h *Handler) reloadInstances(ctx context.Context, appKey string, manifest hconfig.AppManifest, idxs []int) {
	h.stopInstances(ctx, appKey, idxs)
	h.addInstances(ctx, appKey, manifest, idxs)
}

// safely runs fn, recovering and logging any panic so one app's
// reconciliation failure never aborts the rest of the batch.
func (h *Handler) safely(appKey string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Str("app", appKey).Interface("panic", r).Msg("reconcile operation panicked, app skipped")
		}
	}()
	fn()
}
