package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/invload/internal/loadtest"
	"github.com/wesleyorama2/invload/internal/loadtest/metrics"
	"github.com/wesleyorama2/invload/internal/loadtest/rate"
)

// ConstantArrivalRate starts iterations at a fixed rate (open model).
//
// Throughput does not depend on response time: a LeakyBucket schedules
// iteration starts and each start takes an idle VU from the pool. When none
// is idle the pool grows up to MaxVUs; past that the iteration is dropped
// and counted in dropped_iterations.
//
// Example:
//
//	executor: constant-arrival-rate
//	rate: 500
//	timeUnit: 1s
//	duration: 10s
//	preAllocatedVUs: 500
type ConstantArrivalRate struct {
	config  *Config
	pool    *loadtest.Pool
	metrics *metrics.Engine

	bucket *rate.LeakyBucket

	idle   chan *loadtest.VirtualUser
	allVUs []*loadtest.VirtualUser
	vusMu  sync.Mutex

	clock      clock
	iterations atomic.Int64
	dropped    atomic.Int64
	running    atomic.Bool

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate() *ConstantArrivalRate {
	return &ConstantArrivalRate{done: make(chan struct{})}
}

// Type returns the executor type.
func (e *ConstantArrivalRate) Type() Type {
	return TypeConstantArrivalRate
}

// Init initializes the executor with configuration.
func (e *ConstantArrivalRate) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantArrivalRate {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantArrivalRate, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	if config.TimeUnit == 0 {
		config.TimeUnit = time.Second
	}
	if config.PreAllocatedVUs <= 0 {
		config.PreAllocatedVUs = 1
	}
	if config.MaxVUs < config.PreAllocatedVUs {
		config.MaxVUs = config.PreAllocatedVUs
	}

	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantArrivalRate) Run(ctx context.Context, pool *loadtest.Pool, metricsEngine *metrics.Engine) error {
	defer close(e.done)

	e.pool = pool
	e.metrics = metricsEngine
	e.bucket = rate.NewLeakyBucket(e.config.RatePerSecond())
	e.idle = make(chan *loadtest.VirtualUser, e.config.MaxVUs)
	e.allVUs = make([]*loadtest.VirtualUser, 0, e.config.MaxVUs)

	// Iterations outlive the scheduling window by up to GracefulStop.
	iterCtx, iterCancel := context.WithCancel(ctx)
	defer iterCancel()

	schedCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()

	for i := 0; i < e.config.PreAllocatedVUs; i++ {
		e.idle <- e.spawn()
	}

	e.clock.begin()
	e.running.Store(true)

	for {
		if err := e.bucket.Wait(schedCtx); err != nil {
			break
		}

		vu := e.acquire()
		if vu == nil {
			e.dropped.Add(1)
			e.metrics.RecordDroppedIteration()
			continue
		}

		e.wg.Add(1)
		go e.runIteration(iterCtx, vu)
	}

	drain(&e.wg, e.gracefulStop(), iterCancel)
	e.running.Store(false)

	e.vusMu.Lock()
	for _, vu := range e.allVUs {
		pool.Release(vu)
	}
	e.vusMu.Unlock()

	return nil
}

func (e *ConstantArrivalRate) spawn() *loadtest.VirtualUser {
	vu := e.pool.Spawn()
	e.vusMu.Lock()
	e.allVUs = append(e.allVUs, vu)
	e.vusMu.Unlock()
	return vu
}

// acquire returns an idle VU, spawning one if the pool may still grow.
// It returns nil when every VU is busy and MaxVUs is reached.
func (e *ConstantArrivalRate) acquire() *loadtest.VirtualUser {
	select {
	case vu := <-e.idle:
		return vu
	default:
	}

	e.vusMu.Lock()
	n := len(e.allVUs)
	e.vusMu.Unlock()

	if n < e.config.MaxVUs {
		return e.spawn()
	}
	return nil
}

func (e *ConstantArrivalRate) runIteration(ctx context.Context, vu *loadtest.VirtualUser) {
	defer e.wg.Done()

	if err := vu.RunIteration(ctx, e.pool.Iteration()); !errors.Is(err, loadtest.ErrVUNotIdle) {
		e.iterations.Add(1)
	}

	select {
	case e.idle <- vu:
	default:
	}
}

func (e *ConstantArrivalRate) gracefulStop() time.Duration {
	if e.config.GracefulStop > 0 {
		return e.config.GracefulStop
	}
	return DefaultGracefulStop
}

// Progress returns current progress (0.0 to 1.0).
func (e *ConstantArrivalRate) Progress() float64 {
	return progress(e.clock.started(), e.config.Duration, e.running.Load())
}

// Stats returns executor statistics.
func (e *ConstantArrivalRate) Stats() *Stats {
	e.vusMu.Lock()
	vus := len(e.allVUs)
	e.vusMu.Unlock()

	return &Stats{
		Name:              e.config.Name,
		Type:              TypeConstantArrivalRate,
		StartTime:         e.clock.started(),
		Elapsed:           e.clock.elapsed(),
		TotalDuration:     e.config.Duration,
		ActiveVUs:         vus,
		TargetVUs:         e.config.MaxVUs,
		Iterations:        e.iterations.Load(),
		DroppedIterations: e.dropped.Load(),
		TargetRate:        e.config.RatePerSecond(),
	}
}

// Stop ends scheduling and waits for Run to return or ctx to end.
func (e *ConstantArrivalRate) Stop(ctx context.Context) error {
	e.cancelMu.Lock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	started := e.cancelFunc != nil
	e.cancelMu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Executor = (*ConstantArrivalRate)(nil)
