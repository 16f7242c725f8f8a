package metrics

import (
	"sync"
	"time"
)

// TimeBucket holds the activity observed during one emitter interval.
type TimeBucket struct {
	Timestamp  time.Time     `json:"timestamp"`
	Requests   int64         `json:"requests"`
	Failures   int64         `json:"failures"`
	Bytes      int64         `json:"bytes"`
	Iterations int64         `json:"iterations"`
	Dropped    int64         `json:"dropped"`
	RPS        float64       `json:"rps"`
	P95        time.Duration `json:"p95"`
	ActiveVUs  int           `json:"activeVUs"`
	Phase      Phase         `json:"phase"`
}

// totals are the cumulative counters a bucket is derived from.
type totals struct {
	requests   int64
	failures   int64
	bytes      int64
	iterations int64
	dropped    int64
}

// TimeBucketStore keeps a bounded series of time buckets.
// Buckets store deltas between consecutive cumulative readings.
type TimeBucketStore struct {
	mu         sync.RWMutex
	buckets    []*TimeBucket
	maxBuckets int
	last       totals
	lastTime   time.Time
}

// NewTimeBucketStore creates a store that retains at most maxBuckets buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}
	return &TimeBucketStore{
		buckets:    make([]*TimeBucket, 0, 64),
		maxBuckets: maxBuckets,
		lastTime:   time.Now(),
	}
}

// add appends a bucket computed from the cumulative totals.
func (s *TimeBucketStore) add(now time.Time, cur totals, p95 time.Duration, vus int, phase Phase) *TimeBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	interval := now.Sub(s.lastTime).Seconds()
	b := &TimeBucket{
		Timestamp:  now,
		Requests:   cur.requests - s.last.requests,
		Failures:   cur.failures - s.last.failures,
		Bytes:      cur.bytes - s.last.bytes,
		Iterations: cur.iterations - s.last.iterations,
		Dropped:    cur.dropped - s.last.dropped,
		P95:        p95,
		ActiveVUs:  vus,
		Phase:      phase,
	}
	if interval > 0 {
		b.RPS = float64(b.Requests) / interval
	}

	s.buckets = append(s.buckets, b)
	if len(s.buckets) > s.maxBuckets {
		s.buckets = s.buckets[len(s.buckets)-s.maxBuckets:]
	}
	s.last = cur
	s.lastTime = now
	return b
}

// Buckets returns a copy of the retained buckets, oldest first.
func (s *TimeBucketStore) Buckets() []*TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*TimeBucket, len(s.buckets))
	copy(out, s.buckets)
	return out
}

// Latest returns the most recent bucket, or nil before the first emission.
func (s *TimeBucketStore) Latest() *TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.buckets) == 0 {
		return nil
	}
	return s.buckets[len(s.buckets)-1]
}

// SteadyStateRPS averages RPS across buckets emitted in the steady phase.
func (s *TimeBucketStore) SteadyStateRPS() (float64, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum float64
	n := 0
	for _, b := range s.buckets {
		if b.Phase != PhaseSteady {
			continue
		}
		sum += b.RPS
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// Reset drops all buckets.
func (s *TimeBucketStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets = s.buckets[:0]
	s.last = totals{}
	s.lastTime = time.Now()
}
