package buffer

import "sync/atomic"

// Statistics tracks buffer activity with atomic counters. Statistics are
// always collected; Prometheus metrics are layered on top when enabled.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	unreads   atomic.Int64
	rejects   atomic.Int64
	highWater atomic.Int64
}

// NewStatistics creates a zeroed statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Write records n items written.
func (s *Statistics) Write(n int) {
	s.writes.Add(int64(n))
}

// Read records n items read.
func (s *Statistics) Read(n int) {
	s.reads.Add(int64(n))
}

// Unread records n items pushed back onto the head.
func (s *Statistics) Unread(n int) {
	s.unreads.Add(int64(n))
}

// Reject records one rejected write.
func (s *Statistics) Reject() {
	s.rejects.Add(1)
}

// Observe updates the high-water mark with the current size.
func (s *Statistics) Observe(size int) {
	for {
		current := s.highWater.Load()
		if int64(size) <= current {
			return
		}
		if s.highWater.CompareAndSwap(current, int64(size)) {
			return
		}
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Writes    int64 `json:"writes"`
	Reads     int64 `json:"reads"`
	Unreads   int64 `json:"unreads"`
	Rejects   int64 `json:"rejects"`
	HighWater int64 `json:"high_water"`
}

// Snapshot returns a copy of the current counters.
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		Writes:    s.writes.Load(),
		Reads:     s.reads.Load(),
		Unreads:   s.unreads.Load(),
		Rejects:   s.rejects.Load(),
		HighWater: s.highWater.Load(),
	}
}
