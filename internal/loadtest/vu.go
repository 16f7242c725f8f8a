// Package loadtest runs virtual users against an HTTP API.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	ihttp "github.com/wesleyorama2/invload/internal/http"
	"github.com/wesleyorama2/invload/internal/loadtest/metrics"
)

// ErrVUNotIdle is returned by RunIteration when the VU cannot start an
// iteration because it is already running, stopping or stopped.
var ErrVUNotIdle = errors.New("vu not idle")

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is running an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VU is what an iteration sees of the virtual user running it.
type VU interface {
	// ID is the VU's identifier, unique within a run.
	ID() int

	// IterationNumber is the 1-based count of iterations this VU started.
	IterationNumber() int64

	// Get issues a GET request recorded under name. It never fails; a
	// transport error is carried in Response.Error.
	Get(ctx context.Context, name, url string) *Response

	// Check evaluates checks against res and records each outcome.
	// It returns true if all passed.
	Check(res *Response, checks ...Check) bool

	// Sleep pauses for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration)
}

// Iteration is the body a VU repeats.
type Iteration interface {
	Run(ctx context.Context, vu VU)
}

// IterationFunc adapts a function to Iteration.
type IterationFunc func(ctx context.Context, vu VU)

// Run calls f(ctx, vu).
func (f IterationFunc) Run(ctx context.Context, vu VU) { f(ctx, vu) }

// Response is the outcome of one request plus the checks evaluated on it.
type Response struct {
	Name    string
	URL     string
	Status  int
	Body    []byte
	Timings ihttp.Timings
	Error   error

	// Checks maps check name to outcome.
	Checks map[string]bool
}

// Failed reports whether the request counts toward http_req_failed.
func (r *Response) Failed() bool {
	return r.Error != nil || r.Status == 0 || r.Status >= 400
}

// VirtualUser represents a single simulated user executing iterations.
//
// VUs are created by a Pool and share its HTTP client. A VU runs at most
// one iteration at a time.
type VirtualUser struct {
	id      int
	client  *ihttp.Client
	metrics *metrics.Engine
	logger  zerolog.Logger

	state     atomic.Int32
	iteration atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewVirtualUser creates a new Virtual User.
func NewVirtualUser(id int, client *ihttp.Client, metricsEngine *metrics.Engine, logger zerolog.Logger) *VirtualUser {
	return &VirtualUser{
		id:      id,
		client:  client,
		metrics: metricsEngine,
		logger:  logger.With().Int("vu", id).Logger(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// ID implements VU.
func (vu *VirtualUser) ID() int { return vu.id }

// IterationNumber implements VU.
func (vu *VirtualUser) IterationNumber() int64 { return vu.iteration.Load() }

// State returns the current VU state.
func (vu *VirtualUser) State() VUState {
	return VUState(vu.state.Load())
}

// RunIteration executes it once and records iteration_duration.
//
// An iteration cut short by ctx is still recorded; k6 counts interrupted
// iterations the same way.
func (vu *VirtualUser) RunIteration(ctx context.Context, it Iteration) error {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return fmt.Errorf("%w: vu %d is %s", ErrVUNotIdle, vu.id, vu.State())
	}
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	vu.iteration.Add(1)
	start := time.Now()
	it.Run(ctx, vu)
	vu.metrics.RecordIteration(time.Since(start))

	return ctx.Err()
}

// Get implements VU.
func (vu *VirtualUser) Get(ctx context.Context, name, url string) *Response {
	res := &Response{
		Name:   name,
		URL:    url,
		Checks: make(map[string]bool),
	}

	httpResp, err := vu.client.Get(ctx, url)
	if httpResp != nil {
		res.Status = httpResp.StatusCode
		res.Body = httpResp.Body
		res.Timings = httpResp.Timings
	}
	if err != nil {
		res.Error = err
		vu.logger.Debug().Err(err).Str("request", name).Str("url", url).Msg("request failed")
	}

	vu.metrics.RecordRequest(name, res.Timings.Duration, res.Failed(), int64(len(res.Body)))
	return res
}

// Check implements VU. A nil response fails every check.
func (vu *VirtualUser) Check(res *Response, checks ...Check) bool {
	all := true
	for _, c := range checks {
		ok := res != nil && c.Fn(res)
		if res != nil {
			res.Checks[c.Name] = ok
		}
		vu.metrics.RecordCheck(c.Name, ok)
		if !ok {
			all = false
			ev := vu.logger.Debug().Str("check", c.Name)
			if res != nil {
				ev = ev.Str("request", res.Name).Int("status", res.Status)
			}
			ev.Msg("check failed")
		}
	}
	return all
}

// Sleep implements VU.
func (vu *VirtualUser) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// RequestStop asks the VU to stop after its current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// Stopping returns a channel closed once RequestStop has been called.
func (vu *VirtualUser) Stopping() <-chan struct{} {
	return vu.stopCh
}

// MarkStopped marks the VU as fully stopped.
func (vu *VirtualUser) MarkStopped() {
	prev := VUState(vu.state.Swap(int32(VUStateStopped)))
	if prev == VUStateIdle || prev == VUStateRunning {
		close(vu.stopCh)
	}
	select {
	case <-vu.doneCh:
	default:
		close(vu.doneCh)
	}
}

// WaitForStop waits for the VU to stop with a timeout.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}
