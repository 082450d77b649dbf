package gaze

import "sync/atomic"

// Cell is a single-slot, overwrite-only holder. Writers never block and
// readers always get the most recent value; nothing is queued.
type Cell[T any] struct {
	v   atomic.Pointer[T]
	seq atomic.Uint64
}

// Store overwrites the slot.
func (c *Cell[T]) Store(v T) {
	c.v.Store(&v)
	c.seq.Add(1)
}

// Load returns the latest value and whether one has been stored.
func (c *Cell[T]) Load() (T, bool) {
	p := c.v.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// Seq returns the number of stores so far. Readers compare it to skip
// values they have already seen.
func (c *Cell[T]) Seq() uint64 {
	return c.seq.Load()
}

// Reset empties the slot. Seq keeps counting.
func (c *Cell[T]) Reset() {
	c.v.Store(nil)
}
