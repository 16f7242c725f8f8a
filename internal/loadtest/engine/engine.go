// Package engine is the main orchestrator for a load run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wesleyorama2/invload/internal/config"
	"github.com/wesleyorama2/invload/internal/loadtest"
	"github.com/wesleyorama2/invload/internal/loadtest/executor"
	"github.com/wesleyorama2/invload/internal/loadtest/metrics"
	"github.com/wesleyorama2/invload/internal/loadtest/threshold"
)

// ErrAlreadyRunning is returned by Run while a run is in progress.
var ErrAlreadyRunning = errors.New("engine is already running")

// shutdownTimeout bounds how long the pool waits for VUs after every
// scenario has returned.
const shutdownTimeout = 5 * time.Second

// Engine coordinates a load run:
//   - one executor per configured scenario, all running concurrently
//   - a shared VU pool and HTTP client
//   - metrics collection and threshold evaluation
//
// Example usage:
//
//	cfg := config.Default()
//	eng, _ := engine.New(cfg, scenario.New(cfg, logger))
//	result, _ := eng.Run(ctx)
//	fmt.Printf("passed: %v\n", result.Passed)
type Engine struct {
	config     *config.TestConfig
	iteration  loadtest.Iteration
	thresholds []*threshold.Expression
	httpConfig loadtest.HTTPConfig
	logger     zerolog.Logger
	observer   metrics.Observer

	mu        sync.RWMutex
	running   bool
	metrics   *metrics.Engine
	executors []executor.Executor
	cancel    context.CancelFunc
	last      *metrics.Snapshot
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithObserver forwards every recorded sample to o.
func WithObserver(o metrics.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// Result contains the outcome of a run.
type Result struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	// Interrupted is set when the run was cancelled before its scenarios
	// completed.
	Interrupted bool `json:"interrupted,omitempty"`

	Scenarios []*executor.Stats `json:"scenarios"`

	Metrics    *metrics.Snapshot               `json:"metrics"`
	Requests   map[string]metrics.LatencyStats `json:"requests"`
	Checks     []metrics.CheckStat             `json:"checks"`
	TimeSeries []*metrics.TimeBucket           `json:"timeSeries,omitempty"`

	Thresholds []threshold.Result `json:"thresholds,omitempty"`
	Passed     bool               `json:"passed"`
}

// New creates an engine running it under cfg. Defaults are applied to cfg
// before it is validated.
func New(cfg *config.TestConfig, it loadtest.Iteration, opts ...Option) (*Engine, error) {
	if it == nil {
		return nil, errors.New("iteration is required")
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	exprs, err := threshold.ParseAll(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	e := &Engine{
		config:     cfg,
		iteration:  it,
		thresholds: exprs,
		httpConfig: loadtest.HTTPConfig{
			Timeout:             cfg.Settings.Timeout.GetDuration(config.DefaultTimeout),
			UserAgent:           cfg.Settings.UserAgent,
			Headers:             cfg.Settings.Headers,
			MaxIdleConnsPerHost: cfg.Settings.MaxIdleConnsPerHost,
			MaxConnsPerHost:     cfg.Settings.MaxConnectionsPerHost,
			InsecureSkipVerify:  cfg.Settings.InsecureSkipVerify,
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes every scenario and returns the result. Cancelling ctx ends
// the run early; the partial result is still returned.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		e.mu.Unlock()
	}()

	runID := uuid.New().String()
	logger := e.logger.With().Str("run", runID).Logger()

	m := metrics.NewEngineWithConfig(metrics.EngineConfig{Observer: e.observer})
	defer m.Stop()

	execs, err := executor.FromConfig(ctx, e.config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scenarios: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.metrics = m
	e.executors = execs
	e.cancel = cancel
	e.mu.Unlock()

	pool := loadtest.NewPool(e.iteration, m, e.httpConfig, logger)

	startTime := time.Now()
	logger.Info().
		Str("name", e.config.Name).
		Int("scenarios", len(execs)).
		Str("baseUrl", e.config.Settings.BaseURL).
		Msg("run started")

	m.SetPhase(metrics.PhaseSteady)
	phaseTimer := time.AfterFunc(e.longestDuration(execs), func() {
		m.SetPhase(metrics.PhaseGraceful)
	})

	runErr := e.runConcurrently(runCtx, execs, pool, m, logger)

	phaseTimer.Stop()
	m.SetPhase(metrics.PhaseDone)
	pool.Shutdown(shutdownTimeout)

	endTime := time.Now()
	snap := m.Snapshot()
	interrupted := runCtx.Err() != nil

	result := &Result{
		RunID:       runID,
		Name:        e.config.Name,
		Description: e.config.Description,
		StartTime:   startTime,
		EndTime:     endTime,
		Duration:    endTime.Sub(startTime),
		Interrupted: interrupted,
		Metrics:     snap,
		Requests:    m.RequestStats(),
		Checks:      m.CheckStats(),
		TimeSeries:  m.TimeSeries(),
	}
	for _, exec := range execs {
		result.Scenarios = append(result.Scenarios, exec.Stats())
	}

	result.Thresholds = threshold.Evaluate(e.thresholds, snap)
	result.Passed = threshold.AllPassed(result.Thresholds)

	e.mu.Lock()
	e.last = snap
	e.mu.Unlock()

	ev := logger.Info()
	if !result.Passed {
		ev = logger.Warn()
	}
	ev.Int64("requests", snap.TotalRequests).
		Int64("iterations", snap.Iterations).
		Int64("dropped", snap.DroppedIterations).
		Float64("errorRate", snap.ErrorRate).
		Bool("interrupted", result.Interrupted).
		Bool("passed", result.Passed).
		Dur("duration", result.Duration).
		Msg("run finished")

	return result, runErr
}

func (e *Engine) runConcurrently(ctx context.Context, execs []executor.Executor, pool *loadtest.Pool, m *metrics.Engine, logger zerolog.Logger) error {
	var wg sync.WaitGroup
	var errMu sync.Mutex
	var errs []error

	for _, exec := range execs {
		wg.Add(1)
		go func(exec executor.Executor) {
			defer wg.Done()

			name := exec.Stats().Name
			logger.Debug().Str("scenario", name).Str("executor", string(exec.Type())).Msg("scenario started")

			if err := exec.Run(ctx, pool, m); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("scenario %s failed: %w", name, err))
				errMu.Unlock()
				return
			}

			stats := exec.Stats()
			logger.Debug().
				Str("scenario", name).
				Int64("iterations", stats.Iterations).
				Int64("dropped", stats.DroppedIterations).
				Msg("scenario finished")
		}(exec)
	}

	wg.Wait()
	return errors.Join(errs...)
}

func (e *Engine) longestDuration(execs []executor.Executor) time.Duration {
	var longest time.Duration
	for _, exec := range execs {
		if d := exec.Stats().TotalDuration; d > longest {
			longest = d
		}
	}
	return longest
}

// Progress returns the mean progress of all scenarios (0.0 to 1.0).
func (e *Engine) Progress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.executors) == 0 {
		return 0
	}
	var sum float64
	for _, exec := range e.executors {
		sum += exec.Progress()
	}
	return sum / float64(len(e.executors))
}

// Snapshot returns current metrics during a run, or the final metrics
// after one. It returns nil before the first run.
func (e *Engine) Snapshot() *metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.running && e.metrics != nil {
		return e.metrics.Snapshot()
	}
	return e.last
}

// CurrentRPS returns the request rate of the latest second.
func (e *Engine) CurrentRPS() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.metrics == nil {
		return 0
	}
	return e.metrics.CurrentRPS()
}

// Stop ends a run early. In-flight iterations are cancelled.
func (e *Engine) Stop() {
	e.mu.RLock()
	cancel := e.cancel
	e.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
}

// Config returns the defaulted configuration.
func (e *Engine) Config() *config.TestConfig {
	return e.config
}
