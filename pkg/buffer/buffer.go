// Package buffer provides a generic circular buffer with configurable overflow
// policies and always-on statistics.
//
// Buffers are not safe for concurrent mutation. stagegraph inlets own their
// buffer and touch it only from inside the graph's signal queue; statistics may
// be read from any goroutine.
package buffer

import (
	stderrors "errors"
)

// ErrBufferFull is returned by Write under the Reject policy when the buffer is full.
var ErrBufferFull = stderrors.New("buffer full")

// Buffer represents a generic FIFO buffer parameterized by item type T.
type Buffer[T any] interface {
	// Write adds an item to the buffer. Behavior on a full buffer depends on the
	// overflow policy.
	Write(item T) error

	// Read retrieves and removes the oldest item.
	// Returns the zero value and false if the buffer is empty.
	Read() (T, bool)

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull returns true if the buffer is at maximum capacity.
	IsFull() bool

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// Reject refuses new items with ErrBufferFull when the buffer is full.
	Reject OverflowPolicy = iota

	// DropOldest removes the oldest item to make room for new items.
	DropOldest

	// DropNewest silently drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case Reject:
		return "Reject"
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called when an item is dropped due to overflow policy.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a new circular buffer with the specified capacity and options.
// A capacity below one is raised to one.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) Buffer[T] {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
