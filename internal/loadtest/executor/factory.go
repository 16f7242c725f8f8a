package executor

import (
	"context"
	"fmt"

	"github.com/wesleyorama2/invload/internal/config"
)

// New creates a new executor of the specified type.
//
// Returns an uninitialized executor. Call Init() before Run().
func New(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// Create creates and initializes an executor with the given config.
func Create(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := New(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor %s: %w", cfg.Name, err)
	}

	return exec, nil
}

// FromScenario converts a scenario from the configuration file into an
// executor config.
func FromScenario(name string, sc *config.ScenarioConfig) (*Config, error) {
	cfg := &Config{
		Name:            name,
		Type:            Type(sc.Executor),
		VUs:             sc.VUs,
		Rate:            sc.Rate,
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
	}

	var err error
	if cfg.Duration, err = config.ParseDurationString(sc.Duration); err != nil {
		return nil, fmt.Errorf("invalid duration: %w", err)
	}
	if cfg.TimeUnit, err = config.ParseDurationString(sc.TimeUnit); err != nil {
		return nil, fmt.Errorf("invalid timeUnit: %w", err)
	}
	if cfg.GracefulStop, err = config.ParseDurationString(sc.GracefulStop); err != nil {
		return nil, fmt.Errorf("invalid gracefulStop: %w", err)
	}

	return cfg, nil
}

// FromConfig builds and initializes one executor per scenario, in scenario
// name order.
func FromConfig(ctx context.Context, c *config.TestConfig) ([]Executor, error) {
	var out []Executor
	for _, name := range c.ScenarioNames() {
		cfg, err := FromScenario(name, c.Scenarios[name])
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		exec, err := Create(ctx, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}
