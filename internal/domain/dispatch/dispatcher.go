package dispatch

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// Observer receives request lifecycle events for metrics
type Observer interface {
	Dispatched(kind types.OperationKind)
	Finished(kind types.OperationKind, state State, elapsed time.Duration)
	Violation(reason string)
}

type nopObserver struct{}

func (nopObserver) Dispatched(types.OperationKind)                     {}
func (nopObserver) Finished(types.OperationKind, State, time.Duration) {}
func (nopObserver) Violation(string)                                   {}

// Violation reasons
const (
	ViolationDoubleResolve = "double_resolve"
	ViolationUnknownID     = "unknown_request"
)

// maxTombstones bounds the aborted ids a scope remembers. Providers are not
// required to answer an aborted request, so the oldest ids are forgotten and
// a reply for one of them counts as a double resolution.
const maxTombstones = 1024

// scope is the request id space of one file system. The empty scope belongs
// to the provider itself.
type scope struct {
	seq        *id.Sequence
	pending    map[types.RequestID]*Completion
	tombstones map[types.RequestID]types.OperationKind
	aborted    []types.RequestID // tombstone ids, oldest first
}

// bury records an aborted request whose late replies are swallowed
func (s *scope) bury(c *Completion) {
	s.tombstones[c.ID] = c.Kind
	s.aborted = append(s.aborted, c.ID)
	for len(s.aborted) > maxTombstones {
		delete(s.tombstones, s.aborted[0])
		s.aborted[0] = 0
		s.aborted = s.aborted[1:]
	}
}

// PendingInfo describes an in-flight request
type PendingInfo struct {
	Scope     string              `json:"fileSystemId"`
	RequestID types.RequestID     `json:"requestId"`
	Kind      types.OperationKind `json:"kind"`
	CreatedAt time.Time           `json:"createdAt"`
}

// Dispatcher allocates request ids and routes replies to their completions.
type Dispatcher struct {
	mu       sync.Mutex
	scopes   map[string]*scope // Protected by mu
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. A nil observer disables metrics.
func NewDispatcher(logger *zap.Logger, observer Observer) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Dispatcher{
		scopes:   make(map[string]*scope),
		logger:   logger,
		observer: observer,
		now:      time.Now,
	}
}

func (d *Dispatcher) scope(name string) *scope {
	s, ok := d.scopes[name]
	if !ok {
		s = &scope{
			seq:        id.NewSequence(),
			pending:    make(map[types.RequestID]*Completion),
			tombstones: make(map[types.RequestID]types.OperationKind),
		}
		d.scopes[name] = s
	}
	return s
}

// Dispatch allocates the next id of a scope and registers its pending slot.
// onFinal, if set, runs once the request is terminal.
func (d *Dispatcher) Dispatch(scopeName string, kind types.OperationKind, onFinal FinalFunc) *Completion {
	d.mu.Lock()
	s := d.scope(scopeName)
	reqID := types.RequestID(s.seq.Next())
	c := newCompletion(scopeName, reqID, kind, d.now(), onFinal)
	s.pending[reqID] = c
	d.mu.Unlock()

	d.observer.Dispatched(kind)
	d.logger.Debug("Request dispatched",
		zap.String("file_system_id", scopeName),
		zap.Uint64("request_id", uint64(reqID)),
		zap.String("kind", string(kind)))
	return c
}

// Resolve routes a success reply. Pages of a paginated request accumulate
// until hasMore is false; hasMore is ignored for unary kinds. A reply for a
// request aborted by the bridge is accepted and discarded, returning nil.
func (d *Dispatcher) Resolve(scopeName string, reqID types.RequestID, payload types.Payload, hasMore bool) (*Completion, error) {
	d.mu.Lock()
	c, err := d.lookup(scopeName, reqID, !hasMore)
	if err != nil || c == nil {
		d.mu.Unlock()
		return nil, err
	}

	if !c.Kind.Paginated() {
		hasMore = false
	}
	c.push(payload)
	if hasMore {
		d.mu.Unlock()
		return c, nil
	}
	delete(d.scopes[scopeName].pending, reqID)
	c.settle(StateSucceeded, nil)
	d.mu.Unlock()

	d.finish(c, StateSucceeded)
	return c, nil
}

// Reject routes an error reply. An error ends the request whatever pages
// arrived before it.
func (d *Dispatcher) Reject(scopeName string, reqID types.RequestID, code types.ProviderError) (*Completion, error) {
	if code == types.CodeOK || !code.Valid() {
		code = types.CodeFailed
	}
	return d.Fail(scopeName, reqID, code)
}

// Fail ends a request with err, which waiters receive unchanged. The state
// follows types.CodeOf(err).
func (d *Dispatcher) Fail(scopeName string, reqID types.RequestID, err error) (*Completion, error) {
	code := types.CodeOf(err)
	if code == types.CodeOK {
		code, err = types.CodeFailed, types.CodeFailed
	}

	d.mu.Lock()
	c, lerr := d.lookup(scopeName, reqID, true)
	if lerr != nil || c == nil {
		d.mu.Unlock()
		return nil, lerr
	}

	state := StateFailed
	if code == types.CodeAbort {
		state = StateAborted
	}
	delete(d.scopes[scopeName].pending, reqID)
	c.settle(state, err)
	d.mu.Unlock()

	d.finish(c, state)
	return c, nil
}

// lookup finds the pending completion for a reply. Caller must hold d.mu.
func (d *Dispatcher) lookup(scopeName string, reqID types.RequestID, final bool) (*Completion, error) {
	s, ok := d.scopes[scopeName]
	if !ok {
		d.observer.Violation(ViolationUnknownID)
		return nil, fmt.Errorf("request %d on %q: %w", reqID, scopeName, types.ErrRequestNotFound)
	}

	if c, ok := s.pending[reqID]; ok {
		return c, nil
	}

	if kind, aborted := s.tombstones[reqID]; aborted {
		if final || !kind.Paginated() {
			delete(s.tombstones, reqID)
		}
		d.logger.Debug("Discarding reply for aborted request",
			zap.String("file_system_id", scopeName),
			zap.Uint64("request_id", uint64(reqID)))
		return nil, nil
	}

	if s.seq.Issued(uint64(reqID)) {
		d.observer.Violation(ViolationDoubleResolve)
		d.logger.Warn("Request already resolved",
			zap.String("file_system_id", scopeName),
			zap.Uint64("request_id", uint64(reqID)))
		return nil, fmt.Errorf("request %d on %q: %w", reqID, scopeName, types.ErrAlreadyResolved)
	}

	d.observer.Violation(ViolationUnknownID)
	return nil, fmt.Errorf("request %d on %q: %w", reqID, scopeName, types.ErrRequestNotFound)
}

// MarkAborted force-transitions a pending request to Aborted. Later replies
// for it are swallowed. It reports whether the request was still pending.
func (d *Dispatcher) MarkAborted(scopeName string, reqID types.RequestID) bool {
	d.mu.Lock()
	s, ok := d.scopes[scopeName]
	if !ok {
		d.mu.Unlock()
		return false
	}
	c, ok := s.pending[reqID]
	if !ok {
		d.mu.Unlock()
		return false
	}
	delete(s.pending, reqID)
	s.bury(c)
	c.settle(StateAborted, types.CodeAbort)
	d.mu.Unlock()

	d.finish(c, StateAborted)
	return true
}

// AbortScope resolves every pending request of a scope with ABORT and
// returns how many there were.
func (d *Dispatcher) AbortScope(scopeName string) int {
	d.mu.Lock()
	s, ok := d.scopes[scopeName]
	if !ok {
		d.mu.Unlock()
		return 0
	}
	aborted := make([]*Completion, 0, len(s.pending))
	for reqID, c := range s.pending {
		delete(s.pending, reqID)
		c.settle(StateAborted, types.CodeAbort)
		aborted = append(aborted, c)
	}
	sort.Slice(aborted, func(i, j int) bool { return aborted[i].ID < aborted[j].ID })
	for _, c := range aborted {
		s.bury(c)
	}
	d.mu.Unlock()

	for _, c := range aborted {
		d.finish(c, StateAborted)
	}
	return len(aborted)
}

func (d *Dispatcher) finish(c *Completion, state State) {
	c.release()
	d.observer.Finished(c.Kind, state, d.now().Sub(c.CreatedAt))
	d.logger.Debug("Request finished",
		zap.String("file_system_id", c.Scope),
		zap.Uint64("request_id", uint64(c.ID)),
		zap.String("kind", string(c.Kind)),
		zap.Stringer("state", state))
}

// Get returns the pending completion for a request
func (d *Dispatcher) Get(scopeName string, reqID types.RequestID) (*Completion, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.scopes[scopeName]
	if !ok {
		return nil, false
	}
	c, ok := s.pending[reqID]
	return c, ok
}

// Issued reports whether reqID was ever allocated in the scope
func (d *Dispatcher) Issued(scopeName string, reqID types.RequestID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.scopes[scopeName]
	return ok && s.seq.Issued(uint64(reqID))
}

// Pending lists in-flight requests of a scope ordered by id
func (d *Dispatcher) Pending(scopeName string) []PendingInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.scopes[scopeName]
	if !ok {
		return []PendingInfo{}
	}
	out := make([]PendingInfo, 0, len(s.pending))
	for _, c := range s.pending {
		out = append(out, PendingInfo{
			Scope:     c.Scope,
			RequestID: c.ID,
			Kind:      c.Kind,
			CreatedAt: c.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	return out
}

// PendingCount returns the number of in-flight requests across all scopes
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, s := range d.scopes {
		n += len(s.pending)
	}
	return n
}
