package bridge

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// Notify accepts a change notification from the provider. Notifications for
// paths without a watcher are accepted and dropped.
func (b *Bridge) Notify(opts types.NotifyOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	fs, ok := b.mounts.Get(opts.FileSystemID)
	if !ok {
		return fmt.Errorf("notify %s: %w", opts.FileSystemID, types.ErrNotMounted)
	}

	result, err := b.notifier.Notify(opts, fs.Options.SupportsNotifyTag)
	if err != nil {
		b.logger.Debug("Notification rejected",
			zap.String("file_system_id", opts.FileSystemID),
			zap.String("observed_path", opts.ObservedPath),
			zap.Error(err))
		return err
	}
	b.metrics.Notification(result.Delivered)

	if fs.Options.Persistent && result.Delivered && (fs.Options.SupportsNotifyTag || len(result.Removed) > 0) {
		b.persistLocked()
	}
	if len(result.Removed) > 0 {
		b.updateGaugesLocked()
	}
	return nil
}
