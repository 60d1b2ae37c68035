package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// StateStore keeps persistent mount records across restarts. Save must not
// block on I/O: it is called under the bridge lock.
type StateStore interface {
	Save(records []types.MountRecord)
	Load(ctx context.Context) ([]types.MountRecord, error)
}

type nopStore struct{}

func (nopStore) Save([]types.MountRecord) {}

func (nopStore) Load(context.Context) ([]types.MountRecord, error) { return nil, nil }

// persistLocked snapshots every persistent mount with its watchers
func (b *Bridge) persistLocked() {
	persistent := b.mounts.Persistent()
	records := make([]types.MountRecord, 0, len(persistent))
	now := time.Now().UTC()
	for _, fs := range persistent {
		records = append(records, types.MountRecord{
			Options:  fs.Options,
			Watchers: b.watchers.List(fs.Options.FileSystemID),
			SavedAt:  now,
		})
	}
	b.store.Save(records)
}

// Restore mounts the persistent file systems recorded by the state store,
// together with their watchers and last tags. A provider reattaching later
// can replay changes since those tags. Records already mounted are skipped.
func (b *Bridge) Restore(ctx context.Context) (int, error) {
	records, err := b.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load mount records: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	restored := 0
	for _, rec := range records {
		opts := rec.Options
		opts.Persistent = true

		if _, err := b.mounts.Mount(opts); err != nil {
			if !errors.Is(err, types.ErrAlreadyMounted) {
				b.logger.Warn("Skipping invalid mount record",
					zap.String("file_system_id", opts.FileSystemID), zap.Error(err))
			}
			continue
		}
		b.watchers.Restore(opts.FileSystemID, rec.Watchers)
		restored++

		b.logger.Info("File system restored",
			zap.String("file_system_id", opts.FileSystemID),
			zap.Int("watchers", len(rec.Watchers)),
			zap.Time("saved_at", rec.SavedAt))
	}
	b.updateGaugesLocked()
	return restored, nil
}
