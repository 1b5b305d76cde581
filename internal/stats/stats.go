package stats

import (
	"sync/atomic"

	"cabinetbench/internal/cluster"
)

// Stats holds real-time counters for progress display. The authoritative
// numbers come from Reduce once the pool has joined.
type Stats struct {
	Attempted uint64
	Success   uint64
	Fail      uint64
	Skipped   uint64

	// Successful write latency (microseconds)
	Latency *SafeHistogram
}

func NewStats() *Stats {
	return &Stats{Latency: NewSafeHistogram()}
}

func (s *Stats) Record(o cluster.Outcome) {
	atomic.AddUint64(&s.Attempted, 1)
	if o.Success {
		atomic.AddUint64(&s.Success, 1)
		s.Latency.Record(o.Latency)
	} else {
		atomic.AddUint64(&s.Fail, 1)
	}
}

func (s *Stats) Skip() {
	atomic.AddUint64(&s.Skipped, 1)
}

// Done counts operations that are finished either way.
func (s *Stats) Done() uint64 {
	return atomic.LoadUint64(&s.Attempted) + atomic.LoadUint64(&s.Skipped)
}

func (s *Stats) ErrorRate() float64 {
	reqs := atomic.LoadUint64(&s.Attempted)
	if reqs == 0 {
		return 0
	}
	fails := atomic.LoadUint64(&s.Fail)
	return (float64(fails) / float64(reqs)) * 100
}
