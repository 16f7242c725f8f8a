package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Phase represents a phase of the load test.
type Phase string

const (
	// PhaseInit is the phase before any executor has started.
	PhaseInit Phase = "init"

	// PhaseSteady is set while executors are producing load.
	PhaseSteady Phase = "steady"

	// PhaseGraceful is set while in-flight iterations drain after the duration ends.
	PhaseGraceful Phase = "graceful-stop"

	// PhaseDone indicates the test has completed.
	PhaseDone Phase = "done"
)

// Metric names, as reported in summaries and referenced by thresholds.
const (
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"
	Checks            = "checks"
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	DroppedIterations = "dropped_iterations"
	DataReceived      = "data_received"
)

// Observer receives every sample recorded by the Engine.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveRequest(name string, duration time.Duration, failed bool, bytes int64)
	ObserveCheck(name string, passed bool)
	ObserveIteration(duration time.Duration)
	ObserveDroppedIteration()
	ObserveActiveVUs(count int)
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// Trend is a frozen copy of a latency histogram. It answers arbitrary
// percentile queries after the run, which thresholds such as p(99.9) need.
type Trend struct {
	LatencyStats
	hist *hdrhistogram.Histogram
}

// Percentile returns the value at quantile q (0-100).
func (t *Trend) Percentile(q float64) time.Duration {
	if t == nil || t.hist == nil {
		return 0
	}
	return time.Duration(t.hist.ValueAtQuantile(q)) * time.Microsecond
}

func newTrend(h *hdrhistogram.Histogram) *Trend {
	cp := hdrhistogram.Import(h.Export())
	return &Trend{
		LatencyStats: statsOf(cp),
		hist:         cp,
	}
}

func statsOf(h *hdrhistogram.Histogram) LatencyStats {
	us := time.Microsecond
	return LatencyStats{
		Min:    time.Duration(h.Min()) * us,
		Max:    time.Duration(h.Max()) * us,
		Mean:   time.Duration(h.Mean()) * us,
		StdDev: time.Duration(h.StdDev()) * us,
		P50:    time.Duration(h.ValueAtQuantile(50)) * us,
		P90:    time.Duration(h.ValueAtQuantile(90)) * us,
		P95:    time.Duration(h.ValueAtQuantile(95)) * us,
		P99:    time.Duration(h.ValueAtQuantile(99)) * us,
		Count:  h.TotalCount(),
	}
}

// CheckStat is the pass/fail tally for one named check.
type CheckStat struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// Rate returns the fraction of evaluations that passed.
func (c CheckStat) Rate() float64 {
	total := c.Passes + c.Fails
	if total == 0 {
		return 0
	}
	return float64(c.Passes) / float64(total)
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests     int64         `json:"totalRequests"`
	FailedRequests    int64         `json:"failedRequests"`
	TotalBytes        int64         `json:"totalBytes"`
	Iterations        int64         `json:"iterations"`
	DroppedIterations int64         `json:"droppedIterations"`
	ChecksPassed      int64         `json:"checksPassed"`
	ChecksFailed      int64         `json:"checksFailed"`
	RPS               float64       `json:"rps"`
	IterationRate     float64       `json:"iterationRate"`
	ErrorRate         float64       `json:"errorRate"`
	CheckRate         float64       `json:"checkRate"`
	ActiveVUs         int           `json:"activeVUs"`
	MaxVUs            int           `json:"maxVUs"`
	CurrentPhase      Phase         `json:"currentPhase"`
	Elapsed           time.Duration `json:"elapsed"`
	StartTime         time.Time     `json:"startTime"`
	Timestamp         time.Time     `json:"timestamp"`

	// Latency is the http_req_duration trend.
	Latency *Trend `json:"latency"`

	// IterationDuration is the iteration_duration trend.
	IterationDuration *Trend `json:"iterationDuration"`
}
