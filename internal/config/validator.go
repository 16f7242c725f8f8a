package config

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/invload/internal/loadtest/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire configuration. Call ApplyDefaults first.
//
// Returns nil if valid, or a *ValidationErrors containing all problems.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateSettings(&c.Settings, errs)

	if c.VUs < 0 {
		errs.Add("vus", "vus cannot be negative")
	}
	if c.Think != nil && *c.Think < 0 {
		errs.Add("think", "think cannot be negative")
	}
	if c.Checks.MaxListDuration < 0 {
		errs.Add("checks.maxListDuration", "maxListDuration cannot be negative")
	}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}
	for _, name := range c.ScenarioNames() {
		validateScenario(name, c.Scenarios[name], errs)
	}

	validateThresholds(c.Thresholds, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ScenarioNames returns scenario names, sorted.
func (c *TestConfig) ScenarioNames() []string {
	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateSettings(s *Settings, errs *ValidationErrors) {
	if s.BaseURL == "" {
		errs.Add("settings.baseUrl", "baseUrl is required")
	} else if u, err := url.Parse(s.BaseURL); err != nil {
		errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("settings.baseUrl", fmt.Sprintf("unsupported scheme %q (want http or https)", u.Scheme))
	} else if u.Host == "" {
		errs.Add("settings.baseUrl", "host is required")
	}

	if _, err := uuid.Parse(s.StoreID); err != nil {
		errs.Add("settings.storeId", fmt.Sprintf("storeId must be a UUID: %v", err))
	}

	if s.Timeout < 0 {
		errs.Add("settings.timeout", "timeout cannot be negative")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "maxConnectionsPerHost cannot be negative")
	}
}

// validateScenario validates a single scenario configuration.
func validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)
	if sc == nil {
		errs.Add(prefix, "scenario is empty")
		return
	}

	switch sc.Executor {
	case ExecutorConstantVUs:
		if sc.VUs <= 0 {
			errs.Add(prefix+".vus", "vus must be greater than 0")
		}
	case ExecutorConstantArrivalRate:
		if sc.Rate <= 0 {
			errs.Add(prefix+".rate", "rate must be greater than 0")
		}
		validatePositiveDuration(prefix+".timeUnit", sc.TimeUnit, errs)
		if sc.PreAllocatedVUs < 0 {
			errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be negative")
		}
		if sc.MaxVUs > 0 && sc.PreAllocatedVUs > sc.MaxVUs {
			errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be greater than maxVUs")
		}
	case "":
		errs.Add(prefix+".executor", "executor type is required")
	default:
		errs.Add(prefix+".executor", fmt.Sprintf("unsupported executor type: %s (want %s or %s)",
			sc.Executor, ExecutorConstantArrivalRate, ExecutorConstantVUs))
	}

	if sc.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else {
		validatePositiveDuration(prefix+".duration", sc.Duration, errs)
	}

	if sc.GracefulStop != "" {
		if d, err := ParseDurationString(sc.GracefulStop); err != nil {
			errs.Add(prefix+".gracefulStop", fmt.Sprintf("invalid gracefulStop: %v", err))
		} else if d < 0 {
			errs.Add(prefix+".gracefulStop", "gracefulStop cannot be negative")
		}
	}
}

func validatePositiveDuration(field, s string, errs *ValidationErrors) {
	d, err := ParseDurationString(s)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
		return
	}
	if d <= 0 {
		errs.Add(field, "must be greater than 0")
	}
}

func validateThresholds(set map[string][]string, errs *ValidationErrors) {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for i, expr := range set[name] {
			if _, err := threshold.Parse(name, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", name, i), err.Error())
			}
		}
	}
}

// Warning is a configuration problem that does not stop a run.
type Warning struct {
	Field   string
	Message string
}

func (w Warning) String() string {
	return w.Field + ": " + w.Message
}

// CapacityWarnings reports arrival-rate scenarios whose VU ceiling is below
// the concurrency the rate needs. An iteration is estimated as the think
// time plus two requests of avgResponse each.
//
// Such a run is still valid; the executor drops the iterations it cannot
// start and counts them as dropped_iterations.
func CapacityWarnings(c *TestConfig, avgResponse time.Duration) []Warning {
	iteration := c.ThinkTime() + 2*avgResponse

	var out []Warning
	for _, name := range c.ScenarioNames() {
		sc := c.Scenarios[name]
		if sc == nil || sc.Executor != ExecutorConstantArrivalRate || sc.Rate <= 0 {
			continue
		}
		unit, err := ParseDurationString(sc.TimeUnit)
		if err != nil || unit <= 0 {
			continue
		}

		perSecond := sc.Rate * float64(time.Second) / float64(unit)
		needed := int(math.Ceil(perSecond * iteration.Seconds()))

		limit := sc.MaxVUs
		if limit < sc.PreAllocatedVUs {
			limit = sc.PreAllocatedVUs
		}
		if limit < needed {
			out = append(out, Warning{
				Field: fmt.Sprintf("scenarios.%s.maxVUs", name),
				Message: fmt.Sprintf("%d VUs cannot sustain %.4g iterations/s at ~%s per iteration (needs %d); expect dropped_iterations",
					limit, perSecond, iteration, needed),
			})
		}
	}
	return out
}
