package dispatch

import (
	"context"
	"fmt"
	"io"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// Future is the caller's view of a unary request.
type Future[T any] struct {
	c    *Completion
	then func(T, error) (T, error)
}

// NewFuture wraps a completion
func NewFuture[T any](c *Completion) *Future[T] {
	return &Future[T]{c: c}
}

// Resolved returns a future that is already settled
func Resolved[T any](kind types.OperationKind, err error) *Future[T] {
	return NewFuture[T](Finished(kind, nil, err))
}

// Then installs a hook that may rewrite the outcome seen by Wait
func (f *Future[T]) Then(fn func(T, error) (T, error)) *Future[T] {
	f.then = fn
	return f
}

// ID returns the request id, 0 for futures settled without a request
func (f *Future[T]) ID() types.RequestID {
	return f.c.ID
}

// Done is closed when the outcome is available
func (f *Future[T]) Done() <-chan struct{} {
	return f.c.Done()
}

// State returns the underlying request state
func (f *Future[T]) State() State {
	return f.c.State()
}

// Wait blocks until the request settles or ctx ends. Giving up on ctx does
// not abort the request.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	var zero T

	select {
	case <-f.c.Done():
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	p, err := f.c.result()
	var v T
	if err == nil {
		v, err = convert[T](p)
	}
	if f.then != nil {
		return f.then(v, err)
	}
	return v, err
}

// Stream is the caller's view of a paginated request.
type Stream[T any] struct {
	c *Completion
}

// NewStream wraps a completion
func NewStream[T any](c *Completion) *Stream[T] {
	return &Stream[T]{c: c}
}

// ID returns the request id
func (s *Stream[T]) ID() types.RequestID {
	return s.c.ID
}

// Done is closed when the last page or an error arrived
func (s *Stream[T]) Done() <-chan struct{} {
	return s.c.Done()
}

// Next returns the next page in arrival order. It returns io.EOF after the
// final page, or the request's error once buffered pages are drained.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T

	for {
		if p, ok := s.c.take(); ok {
			return convert[T](p)
		}

		select {
		case <-s.c.notify:
			continue
		case <-s.c.Done():
			if p, ok := s.c.take(); ok {
				return convert[T](p)
			}
			if err := s.c.Err(); err != nil {
				return zero, err
			}
			return zero, io.EOF
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Collect drains the stream. Pages received before a failure are returned
// along with the error.
func (s *Stream[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for {
		page, err := s.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, page)
	}
}

func convert[T any](p types.Payload) (T, error) {
	var zero T
	if p == nil {
		return zero, nil
	}
	v, ok := any(p).(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %T", types.ErrUnexpectedReply, p, zero)
	}
	return v, nil
}
