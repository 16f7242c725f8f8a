package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/invload/internal/config"
	"github.com/wesleyorama2/invload/internal/loadtest/metrics"
)

const (
	clearLine     = "\r\033[2K"
	ruleWidth     = 56
	progressWidth = 30
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress float64
	Elapsed  time.Duration
	Total    time.Duration

	ActiveVUs int
	MaxVUs    int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64
	Iterations    int64
	Dropped       int64

	LatencyP95 time.Duration
	Phase      metrics.Phase
}

// StatsFromSnapshot creates LiveStats from a metrics snapshot.
func StatsFromSnapshot(snap *metrics.Snapshot, progress, currentRPS float64, total time.Duration) *LiveStats {
	if snap == nil {
		return &LiveStats{Progress: progress, Total: total, Phase: metrics.PhaseInit}
	}
	stats := &LiveStats{
		Progress:      progress,
		Elapsed:       snap.Elapsed,
		Total:         total,
		ActiveVUs:     snap.ActiveVUs,
		MaxVUs:        snap.MaxVUs,
		CurrentRPS:    currentRPS,
		TotalRequests: snap.TotalRequests,
		Errors:        snap.FailedRequests,
		ErrorRate:     snap.ErrorRate,
		Iterations:    snap.Iterations,
		Dropped:       snap.DroppedIterations,
		Phase:         snap.CurrentPhase,
	}
	if snap.Latency != nil {
		stats.LatencyP95 = snap.Latency.P95
	}
	return stats
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// Console writes run progress and the summary to a terminal or a log.
//
// On a terminal the progress line is redrawn in place; otherwise one line
// is appended per update.
type Console struct {
	writer io.Writer
	colors *ColorScheme
	isTTY  bool
	quiet  bool

	mu       sync.Mutex
	liveLine bool
}

// NewConsole creates a console writer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || IsTerminal(cfg.Writer)

	var colors *ColorScheme
	switch {
	case cfg.NoColor:
		colors = NoColorScheme()
	case cfg.ForceColors || (isTTY && supportsColors()):
		colors = DefaultColorScheme().EnableAll()
	default:
		colors = NoColorScheme()
	}

	return &Console{
		writer: cfg.Writer,
		colors: colors,
		isTTY:  isTTY,
		quiet:  cfg.Quiet,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// Colors returns the scheme in use.
func (c *Console) Colors() *ColorScheme {
	return c.colors
}

// PrintHeader prints the run header: target and scenarios.
func (c *Console) PrintHeader(cfg *config.TestConfig) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.colors.Rule.Sprint(strings.Repeat("━", ruleWidth))
	c.writeln(rule)
	c.writeln(c.colors.Title.Sprintf("%s - Running", cfg.Name))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("  target:    %s", c.colors.Value.Sprint(cfg.Settings.BaseURL)))
	c.writeln(fmt.Sprintf("  store:     %s", c.colors.Value.Sprint(cfg.Settings.StoreID)))

	for _, name := range cfg.ScenarioNames() {
		sc := cfg.Scenarios[name]
		c.writeln(fmt.Sprintf("  scenario:  %s %s", c.colors.Highlight.Sprint(name), c.colors.Dim.Sprint(describeScenario(sc))))
	}
	c.writeln("")
}

func describeScenario(sc *config.ScenarioConfig) string {
	switch sc.Executor {
	case config.ExecutorConstantArrivalRate:
		maxVUs := ""
		if sc.MaxVUs > sc.PreAllocatedVUs {
			maxVUs = fmt.Sprintf(" maxVUs=%d", sc.MaxVUs)
		}
		return fmt.Sprintf("(%s, %g iterations/%s for %s, preAllocatedVUs=%d%s, gracefulStop=%s)",
			sc.Executor, sc.Rate, sc.TimeUnit, sc.Duration, sc.PreAllocatedVUs, maxVUs, sc.GracefulStop)
	default:
		return fmt.Sprintf("(%s, %d VUs for %s, gracefulStop=%s)", sc.Executor, sc.VUs, sc.Duration, sc.GracefulStop)
	}
}

// PrintWarnings prints configuration warnings.
func (c *Console) PrintWarnings(warnings []config.Warning) {
	if c.quiet || len(warnings) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, w := range warnings {
		c.writeln(fmt.Sprintf("%s %s", c.colors.Warn.Sprint("⚠"), w.String()))
	}
	c.writeln("")
}

// Update shows the latest progress.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.renderProgress(stats)
	if c.isTTY {
		c.write(clearLine + line)
		c.liveLine = true
		return
	}
	c.writeln(line)
}

func (c *Console) renderProgress(stats *LiveStats) string {
	p := stats.Progress
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	filled := int(p * progressWidth)
	bar := "[" + strings.Repeat("=", filled) + strings.Repeat("-", progressWidth-filled) + "]"

	errColor := c.colors.rateColor(stats.ErrorRate)

	return fmt.Sprintf("%s %s %3.0f%% %s/%s | %s | VUs %d/%d | reqs %s | %s | err %s | p95 %s | dropped %s",
		c.colors.Highlight.Sprintf("%-8s", stats.Phase),
		c.colors.Pass.Sprint(bar),
		p*100,
		formatDuration(stats.Elapsed),
		formatDuration(stats.Total),
		c.colors.Value.Sprint(formatRate(stats.CurrentRPS)),
		stats.ActiveVUs,
		stats.MaxVUs,
		formatNumber(stats.TotalRequests),
		formatNumber(stats.Iterations)+" iters",
		errColor.Sprint(formatPercent(stats.ErrorRate)),
		formatTrendValue(stats.LatencyP95),
		formatNumber(stats.Dropped),
	)
}

// EndProgress terminates an in-place progress line.
func (c *Console) EndProgress() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLine {
		c.writeln("")
		c.liveLine = false
	}
}

// write writes to the output without a newline.
func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

// writeln writes to the output with a newline.
func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}
