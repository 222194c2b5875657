package resumable

import (
	"sync/atomic"
	"time"
)

// Stats counts acknowledged chunks across all uploads of an Uploader.
type Stats struct {
	chunks  atomic.Int64
	bytes   atomic.Int64
	elapsed atomic.Int64 // nanoseconds spent in acknowledged chunk requests
}

// NewStats ...
func NewStats() *Stats {
	return &Stats{}
}

// Update adds one acknowledged chunk of size bytes that took d.
func (s *Stats) Update(d time.Duration, size int64) {
	s.elapsed.Add(int64(d))
	s.bytes.Add(size)
	s.chunks.Add(1)
}

// FinishedCount ...
func (s *Stats) FinishedCount() int64 {
	return s.chunks.Load()
}

// TotalBytes ...
func (s *Stats) TotalBytes() int64 {
	return s.bytes.Load()
}

// TotalDuration ...
func (s *Stats) TotalDuration() time.Duration {
	return time.Duration(s.elapsed.Load())
}

// Average is the mean request time of an acknowledged chunk.
func (s *Stats) Average() time.Duration {
	n := s.chunks.Load()
	if n == 0 {
		return 0
	}
	return s.TotalDuration() / time.Duration(n)
}

// Throughput is acknowledged bytes per second of chunk request time.
func (s *Stats) Throughput() float64 {
	elapsed := s.TotalDuration()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.bytes.Load()) / elapsed.Seconds()
}
