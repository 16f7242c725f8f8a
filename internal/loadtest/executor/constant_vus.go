package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wesleyorama2/invload/internal/loadtest"
	"github.com/wesleyorama2/invload/internal/loadtest/metrics"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// Each VU loops over the iteration as fast as it can (closed model), so
// throughput follows response time. A VU does not start a new iteration
// after Duration; the one in flight gets GracefulStop to finish.
type ConstantVUs struct {
	config  *Config
	pool    *loadtest.Pool
	metrics *metrics.Engine

	clock      clock
	activeVUs  atomic.Int32
	iterations atomic.Int64
	running    atomic.Bool

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
	wg         sync.WaitGroup
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{done: make(chan struct{})}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *ConstantVUs) Run(ctx context.Context, pool *loadtest.Pool, metricsEngine *metrics.Engine) error {
	defer close(e.done)

	e.pool = pool
	e.metrics = metricsEngine

	iterCtx, iterCancel := context.WithCancel(ctx)
	defer iterCancel()

	schedCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()

	e.clock.begin()
	e.running.Store(true)

	for i := 0; i < e.config.VUs; i++ {
		vu := pool.Spawn()
		e.wg.Add(1)
		go e.runVU(schedCtx, iterCtx, vu)
	}

	<-schedCtx.Done()

	grace := e.config.GracefulStop
	if grace <= 0 {
		grace = DefaultGracefulStop
	}
	drain(&e.wg, grace, iterCancel)
	e.running.Store(false)

	return nil
}

// runVU loops until schedCtx ends. Iterations run on iterCtx so the
// last one can finish during the graceful stop.
func (e *ConstantVUs) runVU(schedCtx, iterCtx context.Context, vu *loadtest.VirtualUser) {
	defer e.wg.Done()
	defer e.pool.Release(vu)

	e.activeVUs.Add(1)
	defer e.activeVUs.Add(-1)

	it := e.pool.Iteration()
	for {
		select {
		case <-schedCtx.Done():
			return
		case <-vu.Stopping():
			return
		default:
		}

		if vu.State() != loadtest.VUStateIdle {
			return
		}
		err := vu.RunIteration(iterCtx, it)
		if !errors.Is(err, loadtest.ErrVUNotIdle) {
			e.iterations.Add(1)
		}
		if err != nil {
			return
		}
	}
}

// Progress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) Progress() float64 {
	return progress(e.clock.started(), e.config.Duration, e.running.Load())
}

// Stats returns executor statistics.
func (e *ConstantVUs) Stats() *Stats {
	return &Stats{
		Name:          e.config.Name,
		Type:          TypeConstantVUs,
		StartTime:     e.clock.started(),
		Elapsed:       e.clock.elapsed(),
		TotalDuration: e.config.Duration,
		ActiveVUs:     int(e.activeVUs.Load()),
		TargetVUs:     e.config.VUs,
		Iterations:    e.iterations.Load(),
	}
}

// Stop ends the scenario early and waits for Run to return or ctx to end.
func (e *ConstantVUs) Stop(ctx context.Context) error {
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

var _ Executor = (*ConstantVUs)(nil)
