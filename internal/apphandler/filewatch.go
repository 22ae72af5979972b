package apphandler

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// pollInterval is how often the hand-rolled watcher re-stats the app
// directory. No file-watching library is part of this runtime's dependency
// set (see DESIGN.md), so source-change detection falls back to polling
// mtimes, the same reduction already accepted for the bus's debounce timer.
const pollInterval = 2 * time.Second

// fileWatcher polls a directory tree for regular files whose mtime advanced
// since the previous scan. It has no Resource lifecycle of its own; the
// Handler drives it from its own Serve loop.
type fileWatcher struct {
	dir string

	mu     sync.Mutex
	mtimes map[string]time.Time
}

func newFileWatcher(dir string) *fileWatcher {
	w := &fileWatcher{dir: dir, mtimes: make(map[string]time.Time)}
	w.mtimes, _ = w.scan()
	return w
}

// scan walks dir and returns every regular file's mtime, keyed by path
// relative to dir.
func (w *fileWatcher) scan() (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	err := filepath.WalkDir(w.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: a transient stat error shouldn't abort the scan
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(w.dir, path)
		if err != nil {
			rel = path
		}
		out[rel] = info.ModTime()
		return nil
	})
	return out, err
}

// poll re-scans the directory and returns the set of files whose mtime
// changed (added, modified, or removed) since the last call.
func (w *fileWatcher) poll() []string {
	current, err := w.scan()
	if err != nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var changed []string
	for path, mtime := range current {
		if prev, ok := w.mtimes[path]; !ok || !prev.Equal(mtime) {
			changed = append(changed, path)
		}
	}
	for path := range w.mtimes {
		if _, ok := current[path]; !ok {
			changed = append(changed, path)
		}
	}
	w.mtimes = current
	return changed
}
