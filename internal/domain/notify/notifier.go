package notify

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/domain/watcher"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/paths"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// Result describes what an accepted notification did
type Result struct {
	Event types.ChangeEvent
	// Delivered is false when no watcher matched the observed path
	Delivered bool
	// Removed lists watcher paths dropped because their entry was deleted
	Removed []string
}

// Notifier validates provider change notifications and fans them out.
type Notifier struct {
	watchers *watcher.Registry
	bus      *Bus[types.ChangeEvent]
	logger   *zap.Logger
	now      func() time.Time
}

// NewNotifier creates a notifier publishing on bus
func NewNotifier(watchers *watcher.Registry, bus *Bus[types.ChangeEvent], logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		watchers: watchers,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// Validate normalizes a notification against the file system's capabilities.
// A tag is required when tags are supported and dropped otherwise.
func Validate(opts types.NotifyOptions, supportsTag bool) (types.NotifyOptions, error) {
	observed, err := paths.Normalize(opts.ObservedPath)
	if err != nil {
		return opts, fmt.Errorf("%w: observedPath: %v", types.ErrInvalidArgument, err)
	}
	opts.ObservedPath = observed

	if opts.ChangeType != types.ChangeChanged && opts.ChangeType != types.ChangeDeleted {
		return opts, fmt.Errorf("%w: change type %q", types.ErrInvalidArgument, opts.ChangeType)
	}

	changes := make([]types.Change, 0, len(opts.Changes))
	for _, ch := range opts.Changes {
		p, err := paths.Normalize(ch.EntryPath)
		if err != nil {
			return opts, fmt.Errorf("%w: change entryPath: %v", types.ErrInvalidArgument, err)
		}
		if ch.ChangeType != types.ChangeChanged && ch.ChangeType != types.ChangeDeleted {
			return opts, fmt.Errorf("%w: change type %q", types.ErrInvalidArgument, ch.ChangeType)
		}
		changes = append(changes, types.Change{EntryPath: p, ChangeType: ch.ChangeType})
	}
	opts.Changes = changes

	if supportsTag {
		if opts.Tag == "" {
			return opts, fmt.Errorf("notify %s on %s: %w", opts.ObservedPath, opts.FileSystemID, types.ErrMissingTag)
		}
	} else {
		opts.Tag = ""
	}
	return opts, nil
}

// Notify applies one notification: fan-out to subscribers, tag advance and
// removal of watchers whose entry was deleted. Calls must be serialized by
// the caller so events for a path are published in arrival order.
func (n *Notifier) Notify(opts types.NotifyOptions, supportsTag bool) (Result, error) {
	opts, err := Validate(opts, supportsTag)
	if err != nil {
		return Result{}, err
	}

	event := types.ChangeEvent{
		FileSystemID: opts.FileSystemID,
		ObservedPath: opts.ObservedPath,
		Recursive:    opts.Recursive,
		ChangeType:   opts.ChangeType,
		Changes:      opts.Changes,
		Tag:          opts.Tag,
		ReceivedAt:   n.now(),
	}

	w, ok := n.watchers.Get(opts.FileSystemID, opts.ObservedPath)
	if !ok {
		n.logger.Debug("Notification for unwatched path",
			zap.String("file_system_id", opts.FileSystemID),
			zap.String("observed_path", opts.ObservedPath))
		return Result{Event: event}, nil
	}
	if w.Recursive != opts.Recursive {
		n.logger.Debug("Notification recursive flag differs from watcher",
			zap.String("file_system_id", opts.FileSystemID),
			zap.String("observed_path", opts.ObservedPath),
			zap.Bool("watcher_recursive", w.Recursive),
			zap.Bool("notify_recursive", opts.Recursive))
	}

	n.bus.Publish(event)
	n.watchers.UpdateTag(opts.FileSystemID, opts.ObservedPath, opts.Tag, supportsTag)

	result := Result{Event: event, Delivered: true}
	if opts.ChangeType == types.ChangeDeleted {
		if _, err := n.watchers.Remove(opts.FileSystemID, opts.ObservedPath); err == nil {
			result.Removed = append(result.Removed, opts.ObservedPath)
		}
	}
	for _, ch := range opts.Changes {
		if ch.ChangeType != types.ChangeDeleted || ch.EntryPath == opts.ObservedPath {
			continue
		}
		if _, err := n.watchers.Remove(opts.FileSystemID, ch.EntryPath); err == nil {
			result.Removed = append(result.Removed, ch.EntryPath)
		}
	}
	if len(result.Removed) > 0 {
		n.logger.Info("Dropped watchers of deleted entries",
			zap.String("file_system_id", opts.FileSystemID),
			zap.Strings("paths", result.Removed))
	}
	return result, nil
}

// Subscribe returns change events for a file system whose observed path or
// changed entries match pattern. Empty fileSystemID or pattern match all.
func (n *Notifier) Subscribe(fileSystemID, pattern string) (<-chan types.ChangeEvent, func(), error) {
	if err := paths.ValidatePattern(pattern); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", types.ErrInvalidArgument, err)
	}
	ch, cancel := n.bus.SubscribeFiltered(func(ev types.ChangeEvent) bool {
		return Matches(ev, fileSystemID, pattern)
	})
	return ch, cancel, nil
}

// Matches reports whether an event passes a subscription filter
func Matches(ev types.ChangeEvent, fileSystemID, pattern string) bool {
	if fileSystemID != "" && ev.FileSystemID != fileSystemID {
		return false
	}
	if pattern == "" || paths.Match(pattern, ev.ObservedPath) {
		return true
	}
	for _, ch := range ev.Changes {
		if paths.Match(pattern, ch.EntryPath) {
			return true
		}
	}
	return false
}

// Bus exposes the underlying event bus
func (n *Notifier) Bus() *Bus[types.ChangeEvent] {
	return n.bus
}
