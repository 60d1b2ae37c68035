package mount

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/utils"
)

// Filesystem is one mounted file system as recorded by the table.
type Filesystem struct {
	Options   types.MountOptions
	MountID   id.MountID
	MountedAt time.Time
}

// Table is the single source of truth for mounted file system identities.
type Table struct {
	mu     sync.RWMutex
	mounts map[string]*Filesystem // Protected by mu
	now    func() time.Time
}

// NewTable creates an empty mount table
func NewTable() *Table {
	return &Table{
		mounts: make(map[string]*Filesystem),
		now:    time.Now,
	}
}

// Validate checks mount options without touching the table.
func Validate(opts types.MountOptions) error {
	if err := utils.ValidateFileSystemID(opts.FileSystemID); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	if err := utils.ValidateDisplayName(opts.DisplayName); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	if opts.OpenedFilesLimit < 0 {
		return fmt.Errorf("%w: openedFilesLimit must not be negative", types.ErrInvalidArgument)
	}
	return nil
}

// Mount records a new file system. Capability flags are stored verbatim.
func (t *Table) Mount(opts types.MountOptions) (Filesystem, error) {
	if err := Validate(opts); err != nil {
		return Filesystem{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.mounts[opts.FileSystemID]; exists {
		return Filesystem{}, fmt.Errorf("mount %s: %w", opts.FileSystemID, types.ErrAlreadyMounted)
	}

	fs := &Filesystem{
		Options:   opts,
		MountID:   id.NewMountID(),
		MountedAt: t.now(),
	}
	t.mounts[opts.FileSystemID] = fs
	return *fs, nil
}

// Unmount removes a file system and returns its last record. Cascading
// cleanup of handles and watchers is the caller's job.
func (t *Table) Unmount(fileSystemID string) (Filesystem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fs, exists := t.mounts[fileSystemID]
	if !exists {
		return Filesystem{}, fmt.Errorf("unmount %s: %w", fileSystemID, types.ErrNotMounted)
	}
	delete(t.mounts, fileSystemID)
	return *fs, nil
}

// Get retrieves a mounted file system by id
func (t *Table) Get(fileSystemID string) (Filesystem, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	fs, ok := t.mounts[fileSystemID]
	if !ok {
		return Filesystem{}, false
	}
	return *fs, true
}

// Has reports whether the id is mounted
func (t *Table) Has(fileSystemID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.mounts[fileSystemID]
	return ok
}

// List returns every mounted file system ordered by id
func (t *Table) List() []Filesystem {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Filesystem, 0, len(t.mounts))
	for _, fs := range t.mounts {
		out = append(out, *fs)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Options.FileSystemID < out[j].Options.FileSystemID
	})
	return out
}

// Persistent returns the mounts that must survive a restart
func (t *Table) Persistent() []Filesystem {
	all := t.List()
	out := all[:0]
	for _, fs := range all {
		if fs.Options.Persistent {
			out = append(out, fs)
		}
	}
	return out
}

// Len returns the number of mounted file systems
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.mounts)
}
