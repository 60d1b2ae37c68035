package openfile

import (
	"fmt"
	"sort"
	"sync"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// handles holds the open files of one mounted file system
type handles struct {
	seq     *id.Sequence
	entries map[types.RequestID]*types.OpenedFile
}

// Table tracks open file handles per mounted file system
type Table struct {
	mu  sync.RWMutex
	fss map[string]*handles // Protected by mu
}

// NewTable creates an empty open file table
func NewTable() *Table {
	return &Table{fss: make(map[string]*handles)}
}

func (t *Table) scope(fileSystemID string) *handles {
	h, ok := t.fss[fileSystemID]
	if !ok {
		h = &handles{
			seq:     id.NewSequence(),
			entries: make(map[types.RequestID]*types.OpenedFile),
		}
		t.fss[fileSystemID] = h
	}
	return h
}

// Open reserves a handle for a pending open. Unconfirmed reservations count
// against limit; a limit of 0 means unlimited.
func (t *Table) Open(fileSystemID, filePath string, mode types.OpenMode, limit int) (types.RequestID, error) {
	if !mode.Valid() {
		return 0, fmt.Errorf("%w: open mode %q", types.ErrInvalidArgument, mode)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.scope(fileSystemID)
	if limit > 0 && len(h.entries) >= limit {
		return 0, fmt.Errorf("open %s on %s: %d of %d handles in use: %w",
			filePath, fileSystemID, len(h.entries), limit, types.ErrTooManyOpened)
	}

	handle := types.RequestID(h.seq.Next())
	h.entries[handle] = &types.OpenedFile{
		OpenRequestID: handle,
		FilePath:      filePath,
		Mode:          mode,
	}
	return handle, nil
}

// Confirm marks a reservation as usable once the provider accepted the open.
// It returns false when the reservation no longer exists.
func (t *Table) Confirm(fileSystemID string, handle types.RequestID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.fss[fileSystemID]
	if !ok {
		return false
	}
	f, ok := h.entries[handle]
	if !ok {
		return false
	}
	f.Confirmed = true
	return true
}

// Release drops an unconfirmed reservation after the open failed or was aborted.
func (t *Table) Release(fileSystemID string, handle types.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.fss[fileSystemID]
	if !ok {
		return
	}
	if f, ok := h.entries[handle]; ok && !f.Confirmed {
		delete(h.entries, handle)
	}
}

// Close removes a confirmed handle. The entry is gone whatever the provider
// later answers to the close request.
func (t *Table) Close(fileSystemID string, handle types.RequestID) (types.OpenedFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.fss[fileSystemID]
	if !ok {
		return types.OpenedFile{}, fmt.Errorf("close %d on %s: %w", handle, fileSystemID, types.ErrHandleNotFound)
	}
	f, ok := h.entries[handle]
	if !ok || !f.Confirmed {
		return types.OpenedFile{}, fmt.Errorf("close %d on %s: %w", handle, fileSystemID, types.ErrHandleNotFound)
	}
	delete(h.entries, handle)
	return *f, nil
}

// Lookup returns a confirmed handle opened in mode. An empty mode skips the
// mode check.
func (t *Table) Lookup(fileSystemID string, handle types.RequestID, mode types.OpenMode) (types.OpenedFile, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.fss[fileSystemID]
	if !ok {
		return types.OpenedFile{}, fmt.Errorf("handle %d on %s: %w", handle, fileSystemID, types.ErrInvalidHandle)
	}
	f, ok := h.entries[handle]
	if !ok || !f.Confirmed {
		return types.OpenedFile{}, fmt.Errorf("handle %d on %s: %w", handle, fileSystemID, types.ErrInvalidHandle)
	}
	if mode != "" && f.Mode != mode {
		return types.OpenedFile{}, fmt.Errorf("handle %d opened for %s: %w", handle, f.Mode, types.ErrWrongMode)
	}
	return *f, nil
}

// List returns every handle of a file system, reservations included, ordered by id
func (t *Table) List(fileSystemID string) []types.OpenedFile {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.fss[fileSystemID]
	if !ok {
		return []types.OpenedFile{}
	}
	out := make([]types.OpenedFile, 0, len(h.entries))
	for _, f := range h.entries {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenRequestID < out[j].OpenRequestID })
	return out
}

// Count returns the number of handles held by a file system
func (t *Table) Count(fileSystemID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if h, ok := t.fss[fileSystemID]; ok {
		return len(h.entries)
	}
	return 0
}

// Drop forgets every handle of a file system and returns how many were
// dropped. The sequence survives so a remount never hands out an id a stale
// caller may still hold.
func (t *Table) Drop(fileSystemID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.fss[fileSystemID]
	if !ok {
		return 0
	}
	n := len(h.entries)
	h.entries = make(map[types.RequestID]*types.OpenedFile)
	return n
}
