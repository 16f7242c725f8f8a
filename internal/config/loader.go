package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults reproducing the original inventory load script.
const (
	DefaultName            = "inventory-load"
	DefaultBaseURL         = "http://localhost:3000/api"
	DefaultStoreID         = "ba954e3f-6242-4910-bf24-e369e1dbfb68"
	DefaultScenario        = "constant_request_rate"
	DefaultVUs             = 50
	DefaultRate            = 500
	DefaultTimeUnit        = "1s"
	DefaultDuration        = "10s"
	DefaultPreAllocatedVUs = 500
	DefaultGracefulStop    = "30s"
	DefaultThink           = time.Second
	DefaultMaxListDuration = 500 * time.Millisecond
	DefaultTimeout         = 60 * time.Second
	DefaultUserAgent       = "invload/1.0"

	ExecutorConstantArrivalRate = "constant-arrival-rate"
	ExecutorConstantVUs         = "constant-vus"
)

// Environment variables read by ApplyEnv and the CLI.
const (
	EnvBaseURL  = "BASE_URL"
	EnvStoreID  = "STORE_ID"
	EnvLogLevel = "LOG_LEVEL"
)

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() map[string][]string {
	return map[string][]string{
		"http_req_duration": {"p(95)<500"},
		"http_req_failed":   {"rate<0.01"},
	}
}

// Default returns the built-in configuration: 500 iterations/s for 10s
// from a pool of 500 VUs against the local inventory API.
func Default() *TestConfig {
	c := &TestConfig{Name: DefaultName}
	ApplyDefaults(c)
	return c
}

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Defaults are not applied; call ApplyDefaults.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var seconds int
	var rest string
	if n, _ := fmt.Sscanf(s, "%d%s", &seconds, &rest); n == 1 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults fills unset fields.
//
// With no scenarios, a top-level vus+duration pair becomes a single
// constant-vus scenario named "default"; otherwise the built-in
// constant_request_rate scenario is used. Thresholds are only defaulted
// when absent, so an explicit empty map disables them.
func ApplyDefaults(c *TestConfig) {
	if c.Name == "" {
		c.Name = DefaultName
	}

	s := &c.Settings
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	if s.StoreID == "" {
		s.StoreID = DefaultStoreID
	}
	if s.Timeout == 0 {
		s.Timeout = Duration(DefaultTimeout)
	}
	if s.MaxIdleConnsPerHost == 0 {
		s.MaxIdleConnsPerHost = 100
	}
	if s.UserAgent == "" {
		s.UserAgent = DefaultUserAgent
	}

	if c.VUs == 0 {
		c.VUs = DefaultVUs
	}
	if c.Think == nil {
		think := Duration(DefaultThink)
		c.Think = &think
	}
	if c.Checks.MaxListDuration == 0 {
		c.Checks.MaxListDuration = Duration(DefaultMaxListDuration)
	}

	if len(c.Scenarios) == 0 {
		if c.Duration != "" {
			c.Scenarios = map[string]*ScenarioConfig{
				"default": {Executor: ExecutorConstantVUs, VUs: c.VUs, Duration: c.Duration},
			}
		} else {
			c.Scenarios = map[string]*ScenarioConfig{
				DefaultScenario: {
					Executor:        ExecutorConstantArrivalRate,
					Rate:            DefaultRate,
					TimeUnit:        DefaultTimeUnit,
					Duration:        DefaultDuration,
					PreAllocatedVUs: DefaultPreAllocatedVUs,
				},
			}
		}
	}

	for _, sc := range c.Scenarios {
		applyScenarioDefaults(sc, c.VUs)
	}

	if c.Thresholds == nil {
		c.Thresholds = DefaultThresholds()
	}
}

// applyScenarioDefaults applies default values to a scenario.
func applyScenarioDefaults(sc *ScenarioConfig, vus int) {
	if sc == nil {
		return
	}
	if sc.Executor == "" {
		sc.Executor = ExecutorConstantVUs
	}
	if sc.GracefulStop == "" {
		sc.GracefulStop = DefaultGracefulStop
	}

	switch sc.Executor {
	case ExecutorConstantVUs:
		if sc.VUs == 0 {
			sc.VUs = vus
		}
	case ExecutorConstantArrivalRate:
		if sc.TimeUnit == "" {
			sc.TimeUnit = DefaultTimeUnit
		}
		if sc.PreAllocatedVUs == 0 {
			sc.PreAllocatedVUs = 1
		}
		if sc.MaxVUs == 0 {
			sc.MaxVUs = sc.PreAllocatedVUs
		}
	}
}

// LoadEnv loads .env files into the process environment. Missing files are
// skipped and variables already set are never overridden.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from environment variables. lookup is
// normally os.LookupEnv.
func ApplyEnv(c *TestConfig, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		c.Settings.BaseURL = v
	}
	if v, ok := lookup(EnvStoreID); ok && v != "" {
		c.Settings.StoreID = v
	}
}
