package apphandler

import (
	"reflect"

	"github.com/NodeJSmith/hassette-go/internal/hconfig"
)

// AppChangeSet is the result of diffing the previous and current set of app
// manifests, per §4.7's file-watching subsection.
type AppChangeSet struct {
	RemovedApps      []string // app key present before, gone now
	RemovedInstances map[string][]int
	NewApps          []string // app key absent before, present now
	NewInstances     map[string][]int
	ReimportApps     []string // source file changed and still declares the app's type
	ReloadApps       []string // manifest metadata changed (filename, class name, enabled); no display name is compared
	ReloadInstances  map[string][]int
}

func newChangeSet() AppChangeSet {
	return AppChangeSet{
		RemovedInstances: make(map[string][]int),
		NewInstances:     make(map[string][]int),
		ReloadInstances:  make(map[string][]int),
	}
}

// IsEmpty reports whether the change set has no actionable work.
func (c AppChangeSet) IsEmpty() bool {
	return len(c.RemovedApps) == 0 && len(c.RemovedInstances) == 0 &&
		len(c.NewApps) == 0 && len(c.NewInstances) == 0 &&
		len(c.ReimportApps) == 0 && len(c.ReloadApps) == 0 && len(c.ReloadInstances) == 0
}

// computeChangeSet diffs prev against curr. sourceChanged reports whether an
// app key's backing source file changed on disk (used to decide
// ReimportApps vs. ReloadApps for a metadata-only change); it is consulted
// only for app keys present in both maps.
func computeChangeSet(prev, curr map[string]hconfig.AppManifest, sourceChanged func(appKey string) bool) AppChangeSet {
	cs := newChangeSet()

	for appKey := range prev {
		if _, ok := curr[appKey]; !ok {
			cs.RemovedApps = append(cs.RemovedApps, appKey)
		}
	}
	for appKey := range curr {
		if _, ok := prev[appKey]; !ok {
			cs.NewApps = append(cs.NewApps, appKey)
		}
	}

	for appKey, currManifest := range curr {
		prevManifest, ok := prev[appKey]
		if !ok {
			continue // already recorded as NewApps
		}

		if sourceChanged != nil && sourceChanged(appKey) {
			cs.ReimportApps = append(cs.ReimportApps, appKey)
			continue
		}

		if prevManifest.Filename != currManifest.Filename ||
			prevManifest.ClassName != currManifest.ClassName ||
			prevManifest.Enabled != currManifest.Enabled {
			cs.ReloadApps = append(cs.ReloadApps, appKey)
			continue
		}

		removedIdx, newIdx, reloadIdx := diffInstances(prevManifest.AppConfig, currManifest.AppConfig)
		if len(removedIdx) > 0 {
			cs.RemovedInstances[appKey] = removedIdx
		}
		if len(newIdx) > 0 {
			cs.NewInstances[appKey] = newIdx
		}
		if len(reloadIdx) > 0 {
			cs.ReloadInstances[appKey] = reloadIdx
		}
	}

	return cs
}

// diffInstances compares two apps' per-instance config slices by index:
// an index present in both with a differing config is a reload; an index
// only in curr is new; an index only in prev is removed. This mirrors how
// the manifest loader assigns instance indices (position within
// AppConfig), since instances carry no other stable identity.
func diffInstances(prev, curr []map[string]any) (removed, added, reloaded []int) {
	for i := len(curr); i < len(prev); i++ {
		removed = append(removed, i)
	}
	for i := len(prev); i < len(curr); i++ {
		added = append(added, i)
	}
	n := len(prev)
	if len(curr) < n {
		n = len(curr)
	}
	for i := 0; i < n; i++ {
		if !reflect.DeepEqual(prev[i], curr[i]) {
			reloaded = append(reloaded, i)
		}
	}
	return removed, added, reloaded
}
