package tswatch

import (
	"math"
	"sync/atomic"
	"time"
)

// fetchStats counts cache outcomes and fetch latencies.
type fetchStats struct {
	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64

	totalNanos atomic.Uint64
	minNanos   atomic.Uint64
	maxNanos   atomic.Uint64
}

func newFetchStats() *fetchStats {
	s := &fetchStats{}
	s.minNanos.Store(math.MaxUint64)
	return s
}

func (s *fetchStats) hit() { s.hits.Add(1) }

func (s *fetchStats) observe(d time.Duration, err error) {
	if err != nil {
		s.errors.Add(1)
		return
	}
	if d < 0 {
		d = 0
	}
	n := uint64(d)
	s.misses.Add(1)
	s.totalNanos.Add(n)

	for {
		cur := s.minNanos.Load()
		if n >= cur || s.minNanos.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxNanos.Load()
		if n <= cur || s.maxNanos.CompareAndSwap(cur, n) {
			break
		}
	}
}

// CacheStats is a point-in-time view of cache activity. Misses count
// successful fetches; failed fetches are counted in Errors only.
type CacheStats struct {
	Entries  int
	Hits     uint64
	Misses   uint64
	Errors   uint64
	MinFetch time.Duration
	AvgFetch time.Duration
	MaxFetch time.Duration
}

func (s *fetchStats) snapshot() CacheStats {
	out := CacheStats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Errors: s.errors.Load(),
	}
	if out.Misses == 0 {
		return out
	}
	minv := s.minNanos.Load()
	if minv == math.MaxUint64 {
		minv = 0
	}
	out.MinFetch = time.Duration(minv)
	out.MaxFetch = time.Duration(s.maxNanos.Load())
	out.AvgFetch = time.Duration(s.totalNanos.Load() / out.Misses)
	return out
}

// formatFetch rounds a latency for log lines.
func formatFetch(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(100 * time.Microsecond).String()
	default:
		return d.Round(time.Microsecond).String()
	}
}
