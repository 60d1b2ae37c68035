package notify

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const defaultSubscriberBufferSize = 128

// BusOptions configures a Bus
type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	MaxSubscribers       int
	HistorySize          int
	Logger               *zap.Logger
	// OnDrop is called for every event a full subscriber missed
	OnDrop func()
}

type subscription[T any] struct {
	id     uint64
	ch     chan T
	filter func(T) bool
}

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Bus[T any] struct {
	mu           sync.Mutex
	subscribers  map[uint64]subscription[T]
	nextSubID    uint64
	closed       bool
	closeOnce    sync.Once
	options      BusOptions
	logger       *zap.Logger
	published    atomic.Int64
	dropped      atomic.Int64
	history      []T
	historyNext  int
	historyCount int
}

// NewBus creates a bus
func NewBus[T any](opts BusOptions) *Bus[T] {
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	if opts.Name == "" {
		opts.Name = "event_bus"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus[T]{
		subscribers: make(map[uint64]subscription[T]),
		options:     opts,
		logger:      logger.With(zap.String("bus", opts.Name)),
	}
	if opts.HistorySize > 0 {
		b.history = make([]T, opts.HistorySize)
	}
	return b
}

// Subscribe returns a channel receiving every event and a cancel function
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

// SubscribeFiltered returns a channel receiving events the filter accepts.
// The channel is closed by cancel or when the bus closes.
func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	ch := make(chan T, b.options.SubscriberBufferSize)

	b.mu.Lock()
	if b.closed || (b.options.MaxSubscribers > 0 && len(b.subscribers) >= b.options.MaxSubscribers) {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextSubID++
	subID := b.nextSubID
	b.subscribers[subID] = subscription[T]{id: subID, ch: ch, filter: filter}
	b.mu.Unlock()

	return ch, func() { b.removeSubscriber(subID) }
}

// Publish delivers event to every matching subscriber without blocking
func (b *Bus[T]) Publish(event T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.appendHistoryLocked(event)
	subscribers := make([]subscription[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	b.published.Add(1)
	for _, sub := range subscribers {
		if !b.filterAllows(sub, event) {
			continue
		}
		if !b.safeSend(sub, event) {
			b.dropped.Add(1)
			if b.options.OnDrop != nil {
				b.options.OnDrop()
			}
		}
	}
}

func (b *Bus[T]) safeSend(sub subscription[T], event T) (delivered bool) {
	defer func() {
		// Subscriber cancelled between snapshot and send
		if recover() != nil {
			delivered = false
		}
	}()
	select {
	case sub.ch <- event:
		return true
	default:
		return false
	}
}

func (b *Bus[T]) filterAllows(sub subscription[T], event T) (allowed bool) {
	if sub.filter == nil {
		return true
	}
	defer func() {
		if recover() != nil {
			b.logger.Warn("Subscriber filter panicked, removing subscriber", zap.Uint64("subscriber", sub.id))
			b.removeSubscriber(sub.id)
			allowed = false
		}
	}()
	return sub.filter(event)
}

func (b *Bus[T]) removeSubscriber(subID uint64) {
	b.mu.Lock()
	sub, ok := b.subscribers[subID]
	if ok {
		delete(b.subscribers, subID)
	}
	b.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus[T]) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription[T])
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
	})
}

// SubscriberCount returns the number of live subscribers
func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Published returns how many events were published
func (b *Bus[T]) Published() int64 {
	return b.published.Load()
}

// Dropped returns how many deliveries were skipped because a buffer was full
func (b *Bus[T]) Dropped() int64 {
	return b.dropped.Load()
}

// History returns up to count recent events in publication order; 0 means all kept.
func (b *Bus[T]) History(count int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.historyCount == 0 {
		return nil
	}
	if count <= 0 || count > b.historyCount {
		count = b.historyCount
	}
	out := make([]T, 0, count)
	start := b.historyNext - count
	if start < 0 {
		start += len(b.history)
	}
	for i := 0; i < count; i++ {
		out = append(out, b.history[(start+i)%len(b.history)])
	}
	return out
}

func (b *Bus[T]) appendHistoryLocked(event T) {
	if len(b.history) == 0 {
		return
	}
	b.history[b.historyNext] = event
	b.historyNext = (b.historyNext + 1) % len(b.history)
	if b.historyCount < len(b.history) {
		b.historyCount++
	}
}
