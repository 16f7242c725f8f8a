// Package config provides configuration parsing and validation for load runs.
package config

import (
	"time"
)

// TestConfig is the root configuration for a load run.
//
// Example YAML:
//
//	name: inventory-load
//	settings:
//	  baseUrl: http://localhost:3000/api
//	  storeId: ba954e3f-6242-4910-bf24-e369e1dbfb68
//	think: 1s
//	scenarios:
//	  constant_request_rate:
//	    executor: constant-arrival-rate
//	    rate: 500
//	    timeUnit: 1s
//	    duration: 10s
//	    preAllocatedVUs: 500
//	thresholds:
//	  http_req_duration: ["p(95)<500"]
//	  http_req_failed: ["rate<0.01"]
type TestConfig struct {
	// Name of the run (for reporting and history)
	Name string `json:"name" yaml:"name"`

	// Description of the run (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains target and HTTP settings
	Settings Settings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// VUs is the top-level VU count. Arrival-rate scenarios ignore it.
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration, together with VUs, declares a constant-vus run when no
	// scenarios are given.
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Think is the pause at the end of each iteration.
	Think *Duration `json:"think,omitempty" yaml:"think,omitempty"`

	// Checks tunes the per-response checks.
	Checks ChecksConfig `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Scenarios defines the load profiles to run concurrently
	Scenarios map[string]*ScenarioConfig `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`

	// Thresholds maps a metric name to its pass/fail expressions
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// Settings contains the target API and HTTP client settings.
type Settings struct {
	// BaseURL is the API root, e.g. http://localhost:3000/api
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// StoreID is the store whose inventory every iteration reads
	StoreID string `json:"storeId,omitempty" yaml:"storeId,omitempty"`

	// Timeout is the HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host (0 = unlimited)
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are sent with every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ChecksConfig tunes the checks run on each response.
type ChecksConfig struct {
	// MaxListDuration bounds the product listing's response time
	MaxListDuration Duration `json:"maxListDuration,omitempty" yaml:"maxListDuration,omitempty"`

	// Body enables JSON body checks on both responses
	Body bool `json:"body,omitempty" yaml:"body,omitempty"`
}

// ScenarioConfig defines a single load profile.
type ScenarioConfig struct {
	// Executor is "constant-arrival-rate" or "constant-vus"
	Executor string `json:"executor" yaml:"executor"`

	// VUs is the number of virtual users (constant-vus)
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is how long to run (e.g., "30s", "2m", "1h")
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Rate is iterations started per TimeUnit (constant-arrival-rate)
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// TimeUnit is the period Rate applies to (default 1s)
	TimeUnit string `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// PreAllocatedVUs is the number of VUs created before the run starts
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// MaxVUs is the ceiling the pool may grow to (default preAllocatedVUs)
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// GracefulStop is how long in-flight iterations may run past Duration
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// ThinkTime returns the configured think time, or DefaultThink when unset.
func (c *TestConfig) ThinkTime() time.Duration {
	if c.Think == nil {
		return DefaultThink
	}
	return time.Duration(*c.Think)
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
