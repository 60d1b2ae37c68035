package watcher

import (
	"fmt"
	"sort"
	"sync"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// Registry tracks watchers keyed by (fileSystemId, entryPath)
type Registry struct {
	mu       sync.RWMutex
	watchers map[string]map[string]*types.WatcherInfo // Protected by mu
}

// NewRegistry creates an empty watcher registry
func NewRegistry() *Registry {
	return &Registry{watchers: make(map[string]map[string]*types.WatcherInfo)}
}

// Add registers a watcher. Recursive and non-recursive watchers on the same
// path share the same identity.
func (r *Registry) Add(fileSystemID, entryPath string, recursive bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byPath, ok := r.watchers[fileSystemID]
	if !ok {
		byPath = make(map[string]*types.WatcherInfo)
		r.watchers[fileSystemID] = byPath
	}
	if _, exists := byPath[entryPath]; exists {
		return fmt.Errorf("watch %s on %s: %w", entryPath, fileSystemID, types.ErrWatcherExists)
	}
	byPath[entryPath] = &types.WatcherInfo{EntryPath: entryPath, Recursive: recursive}
	return nil
}

// Remove unregisters a watcher and returns what was registered
func (r *Registry) Remove(fileSystemID, entryPath string) (types.WatcherInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byPath := r.watchers[fileSystemID]
	w, ok := byPath[entryPath]
	if !ok {
		return types.WatcherInfo{}, fmt.Errorf("unwatch %s on %s: %w", entryPath, fileSystemID, types.ErrWatcherNotFound)
	}
	delete(byPath, entryPath)
	if len(byPath) == 0 {
		delete(r.watchers, fileSystemID)
	}
	return *w, nil
}

// UpdateTag records the last tag seen for a watcher. It does nothing when
// the file system does not support tags or the watcher is gone.
func (r *Registry) UpdateTag(fileSystemID, entryPath, tag string, supportsTag bool) bool {
	if !supportsTag {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.watchers[fileSystemID][entryPath]
	if !ok {
		return false
	}
	w.LastTag = tag
	return true
}

// Get returns the watcher registered on exactly entryPath
func (r *Registry) Get(fileSystemID, entryPath string) (types.WatcherInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.watchers[fileSystemID][entryPath]
	if !ok {
		return types.WatcherInfo{}, false
	}
	return *w, true
}

// List returns a file system's watchers ordered by path
func (r *Registry) List(fileSystemID string) []types.WatcherInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byPath := r.watchers[fileSystemID]
	out := make([]types.WatcherInfo, 0, len(byPath))
	for _, w := range byPath {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryPath < out[j].EntryPath })
	return out
}

// Count returns how many watchers are registered across all file systems
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, byPath := range r.watchers {
		n += len(byPath)
	}
	return n
}

// Drop removes every watcher of a file system and returns how many there were
func (r *Registry) Drop(fileSystemID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.watchers[fileSystemID])
	delete(r.watchers, fileSystemID)
	return n
}

// Restore replaces a file system's watchers with persisted records, keeping
// their last tags. Duplicate paths keep the first record.
func (r *Registry) Restore(fileSystemID string, records []types.WatcherInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byPath := make(map[string]*types.WatcherInfo, len(records))
	for _, rec := range records {
		if _, dup := byPath[rec.EntryPath]; dup {
			continue
		}
		w := rec
		byPath[rec.EntryPath] = &w
	}
	if len(byPath) == 0 {
		delete(r.watchers, fileSystemID)
		return
	}
	r.watchers[fileSystemID] = byPath
}
