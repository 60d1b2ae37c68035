package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/domain/dispatch"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/domain/mount"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/domain/notify"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/domain/openfile"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/domain/watcher"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// Provider receives requests from the bridge. Deliver must not block on the
// provider's work: replies come back later through Respond and Fail, and may
// arrive before Deliver returns.
type Provider interface {
	Deliver(ctx context.Context, req types.ProviderRequest) error
}

// Metrics receives bridge level measurements
type Metrics interface {
	dispatch.Observer
	SetGauges(mounts, openFiles, watchers, pending int)
	Notification(delivered bool)
	DeliveryFailed()
	EventDropped()
}

type nopMetrics struct{}

func (nopMetrics) Dispatched(types.OperationKind)                              {}
func (nopMetrics) Finished(types.OperationKind, dispatch.State, time.Duration) {}
func (nopMetrics) Violation(string)                                            {}
func (nopMetrics) SetGauges(int, int, int, int)                                {}
func (nopMetrics) Notification(bool)                                           {}
func (nopMetrics) DeliveryFailed()                                             {}
func (nopMetrics) EventDropped()                                               {}

// Options configures a Bridge
type Options struct {
	Logger  *zap.Logger
	Metrics Metrics
	Store   StateStore
	Breaker *resilience.Breaker
	// EventBuffer is the per-subscriber change event buffer
	EventBuffer int
	// EventHistory is how many change events are kept for late subscribers
	EventHistory int
}

// Bridge is the façade the OS front end and the provider talk to. One
// coarse lock serializes every state change; provider delivery and waiting
// on results happen outside it.
type Bridge struct {
	mu sync.Mutex

	mounts     *mount.Table
	files      *openfile.Table
	watchers   *watcher.Registry
	dispatcher *dispatch.Dispatcher
	notifier   *notify.Notifier
	bus        *notify.Bus[types.ChangeEvent]

	provider Provider // Protected by mu
	store    StateStore
	breaker  *resilience.Breaker
	metrics  Metrics
	logger   *zap.Logger
}

// New creates a bridge with no provider attached
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	store := opts.Store
	if store == nil {
		store = nopStore{}
	}

	bus := notify.NewBus[types.ChangeEvent](notify.BusOptions{
		Name:                 "changes",
		SubscriberBufferSize: opts.EventBuffer,
		HistorySize:          opts.EventHistory,
		Logger:               logger,
		OnDrop:               metrics.EventDropped,
	})
	watchers := watcher.NewRegistry()

	return &Bridge{
		mounts:     mount.NewTable(),
		files:      openfile.NewTable(),
		watchers:   watchers,
		dispatcher: dispatch.NewDispatcher(logger.Named("dispatch"), metrics),
		notifier:   notify.NewNotifier(watchers, bus, logger.Named("notify")),
		bus:        bus,
		store:      store,
		breaker:    opts.Breaker,
		metrics:    metrics,
		logger:     logger,
	}
}

// Close stops change event delivery. Pending requests are left as they are.
func (b *Bridge) Close() {
	b.bus.Close()
}

// Mount registers a file system offered by the provider
func (b *Bridge) Mount(opts types.MountOptions) (types.FileSystemInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fs, err := b.mounts.Mount(opts)
	if err != nil {
		return types.FileSystemInfo{}, err
	}
	if opts.Persistent {
		b.persistLocked()
	}
	b.updateGaugesLocked()

	b.logger.Info("File system mounted",
		zap.String("file_system_id", opts.FileSystemID),
		zap.String("display_name", opts.DisplayName),
		zap.String("mount_id", fs.MountID.String()),
		zap.Bool("writable", opts.Writable),
		zap.Bool("watchable", opts.Watchable),
		zap.Bool("persistent", opts.Persistent))
	return b.infoLocked(fs), nil
}

// Unmount removes a file system. Its pending requests resolve with ABORT
// before its open files and watchers are dropped.
func (b *Bridge) Unmount(fileSystemID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unmountLocked(fileSystemID)
}

func (b *Bridge) unmountLocked(fileSystemID string) error {
	fs, err := b.mounts.Unmount(fileSystemID)
	if err != nil {
		return err
	}

	aborted := b.dispatcher.AbortScope(fileSystemID)
	closed := b.files.Drop(fileSystemID)
	unwatched := b.watchers.Drop(fileSystemID)
	if fs.Options.Persistent {
		b.persistLocked()
	}
	b.updateGaugesLocked()

	b.logger.Info("File system unmounted",
		zap.String("file_system_id", fileSystemID),
		zap.Int("aborted_requests", aborted),
		zap.Int("closed_files", closed),
		zap.Int("removed_watchers", unwatched))
	return nil
}

// Get returns the current view of one file system
func (b *Bridge) Get(fileSystemID string) (types.FileSystemInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fs, ok := b.mounts.Get(fileSystemID)
	if !ok {
		return types.FileSystemInfo{}, fmt.Errorf("get %s: %w", fileSystemID, types.ErrNotMounted)
	}
	return b.infoLocked(fs), nil
}

// List returns every mounted file system ordered by id
func (b *Bridge) List() []types.FileSystemInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	all := b.mounts.List()
	out := make([]types.FileSystemInfo, 0, len(all))
	for _, fs := range all {
		out = append(out, b.infoLocked(fs))
	}
	return out
}

// Pending lists in-flight requests of a file system; "" lists provider scope requests
func (b *Bridge) Pending(fileSystemID string) []dispatch.PendingInfo {
	return b.dispatcher.Pending(fileSystemID)
}

func (b *Bridge) infoLocked(fs mount.Filesystem) types.FileSystemInfo {
	return types.FileSystemInfo{
		MountOptions: fs.Options,
		MountID:      fs.MountID.String(),
		MountedAt:    fs.MountedAt,
		OpenedFiles:  b.files.List(fs.Options.FileSystemID),
		Watchers:     b.watchers.List(fs.Options.FileSystemID),
	}
}

// AttachProvider connects the provider that serves every mounted file system
func (b *Bridge) AttachProvider(p Provider) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.provider != nil {
		return types.ErrProviderAttached
	}
	b.provider = p
	b.logger.Info("Provider attached")
	return nil
}

// DetachProvider disconnects p. Non-persistent file systems are unmounted;
// persistent ones stay mounted with their pending requests aborted.
func (b *Bridge) DetachProvider(p Provider) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.provider == nil || b.provider != p {
		return
	}
	b.provider = nil

	unmounted, kept := 0, 0
	for _, fs := range b.mounts.List() {
		id := fs.Options.FileSystemID
		if fs.Options.Persistent {
			b.dispatcher.AbortScope(id)
			b.files.Drop(id)
			kept++
			continue
		}
		if err := b.unmountLocked(id); err == nil {
			unmounted++
		}
	}
	b.dispatcher.AbortScope(providerScope)
	b.updateGaugesLocked()

	b.logger.Info("Provider detached",
		zap.Int("unmounted", unmounted),
		zap.Int("persistent_kept", kept))
}

// HasProvider reports whether a provider is attached
func (b *Bridge) HasProvider() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.provider != nil
}

// Subscribe streams change events of a file system ("" for all) whose paths
// match a doublestar pattern ("" for all).
func (b *Bridge) Subscribe(fileSystemID, pattern string) (<-chan types.ChangeEvent, func(), error) {
	return b.notifier.Subscribe(fileSystemID, pattern)
}

// RecentEvents returns up to count change events kept for late subscribers
func (b *Bridge) RecentEvents(count int) []types.ChangeEvent {
	return b.bus.History(count)
}

func (b *Bridge) updateGaugesLocked() {
	openFiles := 0
	for _, fs := range b.mounts.List() {
		openFiles += b.files.Count(fs.Options.FileSystemID)
	}
	b.metrics.SetGauges(b.mounts.Len(), openFiles, b.watchers.Count(), b.dispatcher.PendingCount())
}
