package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/wesleyorama2/invload/internal/loadtest/engine"
	"github.com/wesleyorama2/invload/internal/loadtest/metrics"
	"github.com/wesleyorama2/invload/internal/loadtest/threshold"
)

const metricWidth = 32

// PrintSummary prints the end-of-run summary in k6's layout: checks,
// then one line per metric, then thresholds.
func (c *Console) PrintSummary(result *engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLine {
		c.writeln("")
		c.liveLine = false
	}

	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.Pass.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Fail.Sprint("FAILED"))
		}
		return
	}

	rule := c.colors.Rule.Sprint(strings.Repeat("━", ruleWidth))
	status := c.colors.Pass.Sprint("Completed ✓")
	if !result.Passed {
		status = c.colors.Fail.Sprint("Failed ✗")
	}
	if result.Interrupted {
		status += c.colors.Warn.Sprint(" (interrupted)")
	}

	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(result.Name), status))
	c.writeln(rule)
	c.writeln(c.colors.Dim.Sprintf("run %s, %s", result.RunID, formatDuration(result.Duration)))
	c.writeln("")

	c.printChecks(result.Checks)
	c.printMetrics(result)
	c.printThresholds(result.Thresholds)
}

func (c *Console) printChecks(checks []metrics.CheckStat) {
	if len(checks) == 0 {
		return
	}
	for _, ch := range checks {
		c.writeln(fmt.Sprintf("     %s %s", c.colors.Mark(ch.Fails == 0), ch.Name))
		if ch.Fails > 0 {
			c.writeln(c.colors.Dim.Sprintf("      ↳  %.0f%% ✓ %d / ✗ %d", ch.Rate()*100, ch.Passes, ch.Fails))
		}
	}
	c.writeln("")
}

func (c *Console) printMetrics(result *engine.Result) {
	snap := result.Metrics
	if snap == nil {
		return
	}
	secs := snap.Elapsed.Seconds()
	perSec := func(n int64) float64 {
		if secs <= 0 {
			return 0
		}
		return float64(n) / secs
	}

	failed := thresholdFailures(result.Thresholds)
	line := func(name, value string) {
		mark := " "
		if _, ok := failed[name]; ok {
			mark = c.colors.Fail.Sprint("✗")
		}
		c.writeln(fmt.Sprintf("   %s %s %s", mark, c.colors.Metric.Sprint(leader(name, metricWidth)), value))
	}

	checks := snap.ChecksPassed + snap.ChecksFailed
	if checks > 0 {
		line(metrics.Checks, fmt.Sprintf("%s %s %s",
			c.colors.Value.Sprint(formatPercent(snap.CheckRate)),
			c.colors.Pass.Sprintf("✓ %d", snap.ChecksPassed),
			c.colors.Fail.Sprintf("✗ %d", snap.ChecksFailed)))
	}
	line(metrics.DataReceived, fmt.Sprintf("%s %s",
		c.colors.Value.Sprint(formatBytes(float64(snap.TotalBytes))),
		c.colors.Dim.Sprint(formatBytes(perSec(snap.TotalBytes))+"/s")))
	line(metrics.DroppedIterations, fmt.Sprintf("%s %s",
		c.colors.Value.Sprint(snap.DroppedIterations),
		c.colors.Dim.Sprint(formatRate(perSec(snap.DroppedIterations)))))
	line(metrics.HTTPReqDuration, c.trend(snap.Latency))
	line(metrics.HTTPReqFailed, fmt.Sprintf("%s %s %s",
		c.colors.rateColor(snap.ErrorRate).Sprint(formatPercent(snap.ErrorRate)),
		c.colors.Pass.Sprintf("✓ %d", snap.FailedRequests),
		c.colors.Fail.Sprintf("✗ %d", snap.TotalRequests-snap.FailedRequests)))
	line(metrics.HTTPReqs, fmt.Sprintf("%s %s",
		c.colors.Value.Sprint(snap.TotalRequests),
		c.colors.Dim.Sprint(formatRate(perSec(snap.TotalRequests)))))
	line(metrics.IterationDuration, c.trend(snap.IterationDuration))
	line(metrics.Iterations, fmt.Sprintf("%s %s",
		c.colors.Value.Sprint(snap.Iterations),
		c.colors.Dim.Sprint(formatRate(perSec(snap.Iterations)))))
	line("vus_max", c.colors.Value.Sprint(snap.MaxVUs))
	c.writeln("")

	if len(result.Requests) > 1 {
		names := make([]string, 0, len(result.Requests))
		for name := range result.Requests {
			names = append(names, name)
		}
		sort.Strings(names)
		c.writeln(c.colors.Title.Sprint("   per request:"))
		for _, name := range names {
			st := result.Requests[name]
			c.writeln(fmt.Sprintf("     %s %s", c.colors.Metric.Sprint(leader(name, metricWidth-2)), c.latency(st, st.Count)))
		}
		c.writeln("")
	}
}

func (c *Console) trend(t *metrics.Trend) string {
	if t == nil {
		return c.latency(metrics.LatencyStats{}, 0)
	}
	return c.latency(t.LatencyStats, t.Count)
}

func (c *Console) latency(s metrics.LatencyStats, count int64) string {
	v := c.colors.Value
	return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s %s",
		v.Sprint(formatTrendValue(s.Mean)),
		v.Sprint(formatTrendValue(s.Min)),
		v.Sprint(formatTrendValue(s.P50)),
		v.Sprint(formatTrendValue(s.Max)),
		v.Sprint(formatTrendValue(s.P90)),
		v.Sprint(formatTrendValue(s.P95)),
		c.colors.Dim.Sprintf("count=%d", count))
}

func (c *Console) printThresholds(results []threshold.Result) {
	if len(results) == 0 {
		return
	}
	c.writeln(c.colors.Title.Sprint("   thresholds:"))
	for _, r := range results {
		c.writeln(fmt.Sprintf("     %s %s %s %s",
			c.colors.Mark(r.Passed),
			r.Metric,
			r.Expression,
			c.colors.Dim.Sprintf("(actual=%s)", formatActual(r))))
	}
	c.writeln("")
}

func formatActual(r threshold.Result) string {
	kind, _ := threshold.KindOf(r.Metric)
	switch kind {
	case threshold.KindTrend:
		return fmt.Sprintf("%.2fms", r.Actual)
	case threshold.KindRate:
		return fmt.Sprintf("%.4f", r.Actual)
	default:
		return strconv.FormatFloat(r.Actual, 'f', -1, 64)
	}
}

func thresholdFailures(results []threshold.Result) map[string]struct{} {
	failed := make(map[string]struct{})
	for _, r := range results {
		if !r.Passed {
			failed[r.Metric] = struct{}{}
		}
	}
	return failed
}

// WriteJSON writes result as indented JSON.
func WriteJSON(w io.Writer, result *engine.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// SaveJSON writes result to path as indented JSON.
func SaveJSON(path string, result *engine.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteJSON(f, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
