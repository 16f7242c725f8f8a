// Package threshold parses and evaluates pass/fail criteria on run metrics.
//
// Expressions follow k6: "p(95)<500", "avg<200", "rate<0.01", "count>100".
// The older "p95 < 500ms" form is accepted too. A unitless value on a trend
// metric is milliseconds.
package threshold

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/invload/internal/loadtest/metrics"
)

// ErrInvalidExpression is returned for expressions that cannot be parsed or
// do not apply to their metric.
var ErrInvalidExpression = errors.New("invalid threshold expression")

// Kind classifies a metric for the aggregations it supports.
type Kind int

const (
	KindTrend Kind = iota
	KindRate
	KindCounter
)

func (k Kind) String() string {
	switch k {
	case KindTrend:
		return "trend"
	case KindRate:
		return "rate"
	case KindCounter:
		return "counter"
	default:
		return "unknown"
	}
}

var metricKinds = map[string]Kind{
	metrics.HTTPReqDuration:   KindTrend,
	metrics.IterationDuration: KindTrend,
	metrics.HTTPReqFailed:     KindRate,
	metrics.Checks:            KindRate,
	metrics.HTTPReqs:          KindCounter,
	metrics.Iterations:        KindCounter,
	metrics.DroppedIterations: KindCounter,
	metrics.DataReceived:      KindCounter,
}

// KindOf returns the kind of a known metric.
func KindOf(metric string) (Kind, bool) {
	k, ok := metricKinds[metric]
	return k, ok
}

// Metrics returns the metric names thresholds may reference, sorted.
func Metrics() []string {
	names := make([]string, 0, len(metricKinds))
	for name := range metricKinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var exprPattern = regexp.MustCompile(
	`^\s*(avg|min|max|med|rate|count|p\(\s*[0-9]+(?:\.[0-9]+)?\s*\)|p[0-9]+(?:\.[0-9]+)?)\s*(<=|>=|==|!=|<|>)\s*([0-9]*\.?[0-9]+)\s*(ms|us|µs|s|m)?\s*$`,
)

// Expression is one parsed threshold.
type Expression struct {
	Metric string
	Source string

	// Aggregation is avg, min, max, med, p, rate or count.
	Aggregation string

	// Percentile is set when Aggregation is "p".
	Percentile float64

	Operator string

	// Value is in milliseconds for trend metrics.
	Value float64
}

// Parse parses expr as a threshold on metric.
func Parse(metric, expr string) (*Expression, error) {
	kind, ok := KindOf(metric)
	if !ok {
		return nil, fmt.Errorf("%w: unknown metric %q", ErrInvalidExpression, metric)
	}

	m := exprPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
	}

	e := &Expression{
		Metric:   metric,
		Source:   strings.TrimSpace(expr),
		Operator: m[2],
	}

	agg := m[1]
	if strings.HasPrefix(agg, "p") {
		num := strings.Trim(strings.TrimPrefix(agg, "p"), "() ")
		p, err := strconv.ParseFloat(num, 64)
		if err != nil || p < 0 || p > 100 {
			return nil, fmt.Errorf("%w: percentile out of range in %q", ErrInvalidExpression, expr)
		}
		e.Aggregation = "p"
		e.Percentile = p
	} else {
		e.Aggregation = agg
	}

	value, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad value in %q", ErrInvalidExpression, expr)
	}
	unit := m[4]

	switch kind {
	case KindTrend:
		switch e.Aggregation {
		case "avg", "min", "max", "med", "p":
		default:
			return nil, fmt.Errorf("%w: %s is not valid for trend metric %s", ErrInvalidExpression, e.Aggregation, metric)
		}
		e.Value = toMillis(value, unit)
	case KindRate:
		if e.Aggregation != "rate" {
			return nil, fmt.Errorf("%w: %s is not valid for rate metric %s", ErrInvalidExpression, e.Aggregation, metric)
		}
		if unit != "" {
			return nil, fmt.Errorf("%w: rate values take no unit in %q", ErrInvalidExpression, expr)
		}
		e.Value = value
	case KindCounter:
		if e.Aggregation != "count" && e.Aggregation != "rate" {
			return nil, fmt.Errorf("%w: %s is not valid for counter metric %s", ErrInvalidExpression, e.Aggregation, metric)
		}
		if unit != "" {
			return nil, fmt.Errorf("%w: counter values take no unit in %q", ErrInvalidExpression, expr)
		}
		e.Value = value
	}

	return e, nil
}

func toMillis(v float64, unit string) float64 {
	switch unit {
	case "us", "µs":
		return v / 1000
	case "s":
		return v * 1000
	case "m":
		return v * 60 * 1000
	default:
		return v
	}
}

// ParseAll parses every expression in set, ordered by metric name and then
// declaration order. All errors are joined.
func ParseAll(set map[string][]string) ([]*Expression, error) {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*Expression
	var errs []error
	for _, name := range names {
		for _, src := range set[name] {
			e, err := Parse(name, src)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out = append(out, e)
		}
	}
	return out, errors.Join(errs...)
}

// Result is the outcome of evaluating one expression.
type Result struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Actual     float64 `json:"actual"`
	Passed     bool    `json:"passed"`
}

// String renders the result as "metric: expr (actual=...)".
func (r Result) String() string {
	return fmt.Sprintf("%s: %s (actual=%s)", r.Metric, r.Expression, strconv.FormatFloat(r.Actual, 'f', -1, 64))
}

// Evaluate checks e against snap.
func (e *Expression) Evaluate(snap *metrics.Snapshot) Result {
	actual := e.actual(snap)
	return Result{
		Metric:     e.Metric,
		Expression: e.Source,
		Actual:     actual,
		Passed:     compare(actual, e.Operator, e.Value),
	}
}

func (e *Expression) actual(snap *metrics.Snapshot) float64 {
	switch e.Metric {
	case metrics.HTTPReqDuration:
		return trendValue(snap.Latency, e.Aggregation, e.Percentile)
	case metrics.IterationDuration:
		return trendValue(snap.IterationDuration, e.Aggregation, e.Percentile)
	case metrics.HTTPReqFailed:
		return snap.ErrorRate
	case metrics.Checks:
		return snap.CheckRate
	}

	var count int64
	switch e.Metric {
	case metrics.HTTPReqs:
		count = snap.TotalRequests
	case metrics.Iterations:
		count = snap.Iterations
	case metrics.DroppedIterations:
		count = snap.DroppedIterations
	case metrics.DataReceived:
		count = snap.TotalBytes
	}
	if e.Aggregation == "rate" {
		secs := snap.Elapsed.Seconds()
		if secs <= 0 {
			return 0
		}
		return float64(count) / secs
	}
	return float64(count)
}

func trendValue(t *metrics.Trend, agg string, p float64) float64 {
	if t == nil {
		return 0
	}
	var d time.Duration
	switch agg {
	case "avg":
		d = t.Mean
	case "min":
		d = t.Min
	case "max":
		d = t.Max
	case "med":
		d = t.P50
	case "p":
		d = t.Percentile(p)
	}
	return float64(d) / float64(time.Millisecond)
}

func compare(actual float64, op string, want float64) bool {
	switch op {
	case "<":
		return actual < want
	case "<=":
		return actual <= want
	case ">":
		return actual > want
	case ">=":
		return actual >= want
	case "==":
		return actual == want
	case "!=":
		return actual != want
	default:
		return false
	}
}

// Evaluate checks every expression against snap.
func Evaluate(exprs []*Expression, snap *metrics.Snapshot) []Result {
	results := make([]Result, 0, len(exprs))
	for _, e := range exprs {
		results = append(results, e.Evaluate(snap))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
