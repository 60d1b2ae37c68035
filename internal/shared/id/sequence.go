package id

import "sync/atomic"

// Sequence allocates monotonically increasing identifiers starting at 1.
// Zero is never returned so it can mean "unset" on the wire.
type Sequence struct {
	last atomic.Uint64
}

// NewSequence creates a sequence whose first value is 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next identifier.
func (s *Sequence) Next() uint64 {
	return s.last.Add(1)
}

// Last returns the most recently allocated identifier, or 0.
func (s *Sequence) Last() uint64 {
	return s.last.Load()
}

// Issued reports whether v has already been handed out.
func (s *Sequence) Issued(v uint64) bool {
	return v != 0 && v <= s.last.Load()
}
