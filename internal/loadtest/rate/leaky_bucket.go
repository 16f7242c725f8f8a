// Package rate schedules iteration starts at a fixed arrival rate.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LeakyBucket decides when the next iteration should start.
//
// It keeps a virtual drip time that advances by 1/rate per call. When the
// caller falls behind, Next returns a time in the past and the iteration
// runs immediately; accumulated credit is capped at one iteration so a stall
// never turns into a burst.
//
// LeakyBucket is safe for concurrent use.
type LeakyBucket struct {
	rate        float64
	lastDrip    time.Time
	accumulated float64
	mu          sync.Mutex

	totalIterations atomic.Int64
	totalWaitTime   atomic.Int64
}

// PerSecond converts "rate iterations every unit" into iterations per second.
// A non-positive unit is treated as one second.
func PerSecond(rate float64, unit time.Duration) float64 {
	if unit <= 0 {
		unit = time.Second
	}
	return rate * float64(time.Second) / float64(unit)
}

// NewLeakyBucket creates a limiter producing rate iterations per second.
// A non-positive rate falls back to 1/s. The first Next returns immediately.
func NewLeakyBucket(rate float64) *LeakyBucket {
	if rate <= 0 {
		rate = 1.0
	}
	return &LeakyBucket{
		rate:        rate,
		lastDrip:    time.Now(),
		accumulated: 1.0,
	}
}

// Next returns when the next iteration should start.
// The returned time may be in the past if scheduling is behind.
func (lb *LeakyBucket) Next() time.Time {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(lb.lastDrip).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	lb.accumulated += elapsed * lb.rate
	if lb.accumulated > 1.0 {
		lb.accumulated = 1.0
	}

	lb.totalIterations.Add(1)

	if lb.accumulated >= 1.0 {
		lb.accumulated -= 1.0
		lb.lastDrip = now
		return now
	}

	wait := time.Duration((1.0 - lb.accumulated) / lb.rate * float64(time.Second))
	lb.accumulated = 0

	// lastDrip moves to the scheduled slot so waking up at that time does
	// not count the same interval twice.
	next := now.Add(wait)
	lb.lastDrip = next
	lb.totalWaitTime.Add(int64(wait))

	return next
}

// Wait blocks until the next iteration should execute or ctx is done.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	d := time.Until(lb.Next())
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Rate returns the target rate in iterations per second.
func (lb *LeakyBucket) Rate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.rate
}

// Stats contains statistics about the bucket's operation.
type Stats struct {
	Rate            float64       `json:"rate"`
	TotalIterations int64         `json:"totalIterations"`
	TotalWaitTime   time.Duration `json:"totalWaitTime"`
}

// Stats returns statistics about the bucket's operation.
func (lb *LeakyBucket) Stats() Stats {
	return Stats{
		Rate:            lb.Rate(),
		TotalIterations: lb.totalIterations.Load(),
		TotalWaitTime:   time.Duration(lb.totalWaitTime.Load()),
	}
}
