// Package metrics collects and aggregates load test samples.
package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine collects and aggregates performance metrics using HDR histograms.
//
// Counters are atomic, histograms are mutex protected, and a background
// emitter writes one time bucket per interval.
type Engine struct {
	reqHist   *hdrhistogram.Histogram
	iterHist  *hdrhistogram.Histogram
	histMu    sync.Mutex
	perReq    map[string]*hdrhistogram.Histogram
	perReqMu  sync.RWMutex
	checks    map[string]*checkCounter
	checkList []string
	checksMu  sync.RWMutex

	totalRequests  atomic.Int64
	failedRequests atomic.Int64
	totalBytes     atomic.Int64
	iterations     atomic.Int64
	dropped        atomic.Int64
	checksPassed   atomic.Int64
	checksFailed   atomic.Int64

	activeVUs atomic.Int32
	maxVUs    atomic.Int32

	buckets *TimeBucketStore

	phase   Phase
	phaseMu sync.RWMutex

	startTime time.Time
	observer  Observer

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once

	config EngineConfig
}

type checkCounter struct {
	passes atomic.Int64
	fails  atomic.Int64
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the maximum number of buckets to retain (default: 3600)
	MaxBuckets int

	// HistogramMin and HistogramMax bound recorded values in microseconds.
	HistogramMin int64
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// Observer, if set, receives every sample.
	Observer Observer
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine and starts its emitter.
// Call Stop to release the emitter goroutine.
func NewEngineWithConfig(config EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = def.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		reqHist:       config.newHistogram(),
		iterHist:      config.newHistogram(),
		perReq:        make(map[string]*hdrhistogram.Histogram),
		checks:        make(map[string]*checkCounter),
		buckets:       NewTimeBucketStore(config.MaxBuckets),
		phase:         PhaseInit,
		startTime:     time.Now(),
		observer:      config.Observer,
		emitterCancel: cancel,
		config:        config,
	}

	e.emitterWg.Add(1)
	go e.runEmitter(ctx)

	return e
}

func (c EngineConfig) newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(c.HistogramMin, c.HistogramMax, c.HistogramSigFigs)
}

func (e *Engine) clamp(d time.Duration) int64 {
	v := d.Microseconds()
	if v < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if v > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return v
}

// RecordRequest records one HTTP request.
//
// name selects the per-request breakdown; an empty name skips it.
func (e *Engine) RecordRequest(name string, duration time.Duration, failed bool, bytes int64) {
	v := e.clamp(duration)

	e.histMu.Lock()
	_ = e.reqHist.RecordValue(v)
	e.histMu.Unlock()

	if name != "" {
		e.perReqMu.Lock()
		h, ok := e.perReq[name]
		if !ok {
			h = e.config.newHistogram()
			e.perReq[name] = h
		}
		_ = h.RecordValue(v)
		e.perReqMu.Unlock()
	}

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)
	if failed {
		e.failedRequests.Add(1)
	}

	if e.observer != nil {
		e.observer.ObserveRequest(name, duration, failed, bytes)
	}
}

// RecordCheck records the outcome of one named check.
// Checks sharing a name are tallied together.
func (e *Engine) RecordCheck(name string, passed bool) {
	e.checksMu.RLock()
	c, ok := e.checks[name]
	e.checksMu.RUnlock()

	if !ok {
		e.checksMu.Lock()
		if c, ok = e.checks[name]; !ok {
			c = &checkCounter{}
			e.checks[name] = c
			e.checkList = append(e.checkList, name)
		}
		e.checksMu.Unlock()
	}

	if passed {
		c.passes.Add(1)
		e.checksPassed.Add(1)
	} else {
		c.fails.Add(1)
		e.checksFailed.Add(1)
	}

	if e.observer != nil {
		e.observer.ObserveCheck(name, passed)
	}
}

// RecordIteration records one completed iteration.
func (e *Engine) RecordIteration(duration time.Duration) {
	v := e.clamp(duration)

	e.histMu.Lock()
	_ = e.iterHist.RecordValue(v)
	e.histMu.Unlock()

	e.iterations.Add(1)

	if e.observer != nil {
		e.observer.ObserveIteration(duration)
	}
}

// RecordDroppedIteration counts an iteration the executor could not start
// because no VU was available.
func (e *Engine) RecordDroppedIteration() {
	e.dropped.Add(1)
	if e.observer != nil {
		e.observer.ObserveDroppedIteration()
	}
}

// SetPhase updates the current test phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	e.phase = phase
	e.phaseMu.Unlock()
}

// Phase returns the current test phase.
func (e *Engine) Phase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.phase
}

// AddActiveVUs adjusts the active VU gauge by delta.
func (e *Engine) AddActiveVUs(delta int) {
	n := e.activeVUs.Add(int32(delta))
	for {
		cur := e.maxVUs.Load()
		if n <= cur || e.maxVUs.CompareAndSwap(cur, n) {
			break
		}
	}
	if e.observer != nil {
		e.observer.ObserveActiveVUs(int(n))
	}
}

// ActiveVUs returns the current active VU count.
func (e *Engine) ActiveVUs() int {
	return int(e.activeVUs.Load())
}

func (e *Engine) runEmitter(ctx context.Context) {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.histMu.Lock()
	p95 := time.Duration(e.reqHist.ValueAtQuantile(95)) * time.Microsecond
	e.histMu.Unlock()

	e.buckets.add(time.Now(), totals{
		requests:   e.totalRequests.Load(),
		failures:   e.failedRequests.Load(),
		bytes:      e.totalBytes.Load(),
		iterations: e.iterations.Load(),
		dropped:    e.dropped.Load(),
	}, p95, e.ActiveVUs(), e.Phase())
}

// Snapshot returns a point-in-time view of all metrics.
func (e *Engine) Snapshot() *Snapshot {
	e.histMu.Lock()
	latency := newTrend(e.reqHist)
	iter := newTrend(e.iterHist)
	e.histMu.Unlock()

	elapsed := time.Since(e.startTime)
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()
	iterations := e.iterations.Load()
	passed := e.checksPassed.Load()
	checkFails := e.checksFailed.Load()

	snap := &Snapshot{
		TotalRequests:     total,
		FailedRequests:    failed,
		TotalBytes:        e.totalBytes.Load(),
		Iterations:        iterations,
		DroppedIterations: e.dropped.Load(),
		ChecksPassed:      passed,
		ChecksFailed:      checkFails,
		ActiveVUs:         e.ActiveVUs(),
		MaxVUs:            int(e.maxVUs.Load()),
		CurrentPhase:      e.Phase(),
		Elapsed:           elapsed,
		StartTime:         e.startTime,
		Timestamp:         time.Now(),
		Latency:           latency,
		IterationDuration: iter,
	}

	if secs := elapsed.Seconds(); secs > 0 {
		snap.RPS = float64(total) / secs
		snap.IterationRate = float64(iterations) / secs
	}
	if total > 0 {
		snap.ErrorRate = float64(failed) / float64(total)
	}
	if n := passed + checkFails; n > 0 {
		snap.CheckRate = float64(passed) / float64(n)
	}

	return snap
}

// CurrentRPS returns the RPS of the latest bucket, falling back to the
// overall average before the first bucket is emitted.
func (e *Engine) CurrentRPS() float64 {
	if b := e.buckets.Latest(); b != nil {
		return b.RPS
	}
	secs := time.Since(e.startTime).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(e.totalRequests.Load()) / secs
}

// RequestStats returns latency statistics per request name.
func (e *Engine) RequestStats() map[string]LatencyStats {
	e.perReqMu.RLock()
	defer e.perReqMu.RUnlock()

	out := make(map[string]LatencyStats, len(e.perReq))
	for name, h := range e.perReq {
		out[name] = statsOf(h)
	}
	return out
}

// CheckStats returns per-check tallies in the order checks were first seen.
func (e *Engine) CheckStats() []CheckStat {
	e.checksMu.RLock()
	defer e.checksMu.RUnlock()

	out := make([]CheckStat, 0, len(e.checkList))
	for _, name := range e.checkList {
		c := e.checks[name]
		out = append(out, CheckStat{
			Name:   name,
			Passes: c.passes.Load(),
			Fails:  c.fails.Load(),
		})
	}
	return out
}

// RequestNames returns the recorded request names, sorted.
func (e *Engine) RequestNames() []string {
	e.perReqMu.RLock()
	defer e.perReqMu.RUnlock()

	names := make([]string, 0, len(e.perReq))
	for name := range e.perReq {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TimeSeries returns all time-series buckets.
func (e *Engine) TimeSeries() []*TimeBucket {
	return e.buckets.Buckets()
}

// SteadyStateRPS averages throughput over buckets emitted in PhaseSteady.
func (e *Engine) SteadyStateRPS() float64 {
	rps, _ := e.buckets.SteadyStateRPS()
	return rps
}

// Stop stops the emitter and writes a final bucket. Safe to call twice.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()
	})
}
