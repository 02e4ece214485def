package buffer

import (
	"sync/atomic"
)

// Statistics tracks buffer activity. Counters are atomic so they can be read
// while the owner keeps writing.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	overflows atomic.Int64
	drops     atomic.Int64
	size      atomic.Int64
	peak      atomic.Int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) write(size int) {
	s.writes.Add(1)
	s.setSize(size)
}

func (s *Statistics) read(size int) {
	s.reads.Add(1)
	s.setSize(size)
}

func (s *Statistics) overflow(dropped bool) {
	s.overflows.Add(1)
	if dropped {
		s.drops.Add(1)
	}
}

func (s *Statistics) setSize(size int) {
	s.size.Store(int64(size))
	for {
		peak := s.peak.Load()
		if int64(size) <= peak || s.peak.CompareAndSwap(peak, int64(size)) {
			return
		}
	}
}

// Writes returns the number of accepted writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of successful reads.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Overflows returns the number of writes attempted on a full buffer.
func (s *Statistics) Overflows() int64 { return s.overflows.Load() }

// Drops returns the number of items discarded by the overflow policy.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// CurrentSize returns the size observed at the last operation.
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }

// PeakSize returns the largest size observed.
func (s *Statistics) PeakSize() int64 { return s.peak.Load() }
