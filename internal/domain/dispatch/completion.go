package dispatch

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// State is the lifecycle position of a dispatched request
type State int

const (
	StateDispatched State = iota
	StateSucceeded
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateDispatched:
		return "dispatched"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s != StateDispatched
}

// FinalFunc runs once when a completion reaches a terminal state, before
// waiters are released.
type FinalFunc func(c *Completion)

// Completion is the slot a provider reply is routed into. Pages of a
// paginated reply queue up until the consumer takes them.
type Completion struct {
	ID        types.RequestID
	Scope     string
	Kind      types.OperationKind
	CreatedAt time.Time

	mu      sync.Mutex
	state   State
	pages   []types.Payload
	last    types.Payload
	err     error
	onFinal FinalFunc

	notify chan struct{}
	done   chan struct{}
}

func newCompletion(scope string, reqID types.RequestID, kind types.OperationKind, now time.Time, onFinal FinalFunc) *Completion {
	return &Completion{
		ID:        reqID,
		Scope:     scope,
		Kind:      kind,
		CreatedAt: now,
		onFinal:   onFinal,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Finished returns a completion that is already terminal. It is used for
// answers the bridge can give without contacting the provider.
func Finished(kind types.OperationKind, payload types.Payload, err error) *Completion {
	c := newCompletion("", 0, kind, time.Now(), nil)
	state := StateSucceeded
	if err != nil {
		state = StateFailed
		if types.CodeOf(err) == types.CodeAbort {
			state = StateAborted
		}
	}
	if payload != nil {
		c.pages = append(c.pages, payload)
		c.last = payload
	}
	c.state = state
	c.err = err
	close(c.done)
	return c
}

// State returns the current lifecycle state
func (c *Completion) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the terminal error, nil on success or while pending
func (c *Completion) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the completion is terminal and its final hook ran
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// push queues a page. Caller must hold the dispatcher lock.
func (c *Completion) push(p types.Payload) {
	if p == nil {
		return
	}
	c.mu.Lock()
	c.pages = append(c.pages, p)
	c.last = p
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// settle moves to a terminal state. Caller must hold the dispatcher lock,
// which guarantees settle runs once.
func (c *Completion) settle(state State, err error) {
	c.mu.Lock()
	c.state = state
	c.err = err
	c.mu.Unlock()
}

// release runs the final hook and wakes every waiter. It is called outside
// the dispatcher lock.
func (c *Completion) release() {
	if c.onFinal != nil {
		c.onFinal(c)
	}
	close(c.done)
}

// take pops the oldest queued page
func (c *Completion) take() (types.Payload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pages) == 0 {
		return nil, false
	}
	p := c.pages[0]
	c.pages[0] = nil
	c.pages = c.pages[1:]
	return p, true
}

// result returns the last page together with the terminal error
func (c *Completion) result() (types.Payload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.err
}
