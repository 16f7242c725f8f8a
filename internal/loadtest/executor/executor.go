// Package executor provides load generation strategies.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/invload/internal/loadtest"
	"github.com/wesleyorama2/invload/internal/loadtest/metrics"
	"github.com/wesleyorama2/invload/internal/loadtest/rate"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeConstantArrivalRate starts iterations at a fixed rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"
)

// DefaultGracefulStop is how long in-flight iterations may run past the
// scenario duration before they are cancelled.
const DefaultGracefulStop = 30 * time.Second

// Executor defines the interface for load generation strategies.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until completion, including the
	// graceful stop period. VUs come from pool and are released on return.
	Run(ctx context.Context, pool *loadtest.Pool, metrics *metrics.Engine) error

	// Progress returns current progress (0.0 to 1.0).
	Progress() float64

	// Stats returns executor-specific statistics.
	Stats() *Stats

	// Stop ends the scenario early. In-flight iterations still get the
	// graceful stop period.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the scenario name
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// VU-based executors
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Arrival-rate executors: Rate iterations every TimeUnit
	Rate            float64       `json:"rate,omitempty" yaml:"rate,omitempty"`
	TimeUnit        time.Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`
	PreAllocatedVUs int           `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int           `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Graceful stop timeout
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// RatePerSecond returns the arrival rate in iterations per second.
func (c *Config) RatePerSecond() float64 {
	return rate.PerSecond(c.Rate, c.TimeUnit)
}

// Stats contains real-time executor statistics.
type Stats struct {
	Name          string        `json:"name"`
	Type          Type          `json:"type"`
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	Iterations        int64 `json:"iterations"`
	DroppedIterations int64 `json:"droppedIterations"`

	// Arrival-rate executors, per second
	TargetRate float64 `json:"targetRate,omitempty"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.TimeUnit < 0 {
			return &ValidationError{Field: "timeUnit", Message: "timeUnit must be > 0"}
		}
	case "":
		return &ValidationError{Field: "type", Message: "executor type is required"}
	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	if c.Duration <= 0 {
		return &ValidationError{Field: "duration", Message: "duration must be > 0"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop cannot be negative"}
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// drain waits for wg up to grace, then calls cancel and waits for the rest.
// It reports whether every iteration finished within grace.
func drain(wg *sync.WaitGroup, grace time.Duration, cancel context.CancelFunc) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		cancel()
		<-done
		return false
	}
}

// clock records when an executor started; safe for concurrent reads.
type clock struct {
	start atomic.Int64
}

func (c *clock) begin() {
	c.start.Store(time.Now().UnixNano())
}

func (c *clock) started() time.Time {
	n := c.start.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (c *clock) elapsed() time.Duration {
	start := c.started()
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}

func progress(start time.Time, total time.Duration, running bool) float64 {
	if !running {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}
	if total <= 0 {
		return 0.0
	}
	p := float64(time.Since(start)) / float64(total)
	if p > 1.0 {
		p = 1.0
	}
	return p
}
