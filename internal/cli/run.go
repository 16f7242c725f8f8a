package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/invload/internal/config"
	"github.com/wesleyorama2/invload/internal/history"
	"github.com/wesleyorama2/invload/internal/loadtest/engine"
	"github.com/wesleyorama2/invload/internal/output"
	"github.com/wesleyorama2/invload/internal/scenario"
	"github.com/wesleyorama2/invload/internal/telemetry"
)

// defaultAvgResponse is the response time assumed by capacity warnings.
const defaultAvgResponse = 50 * time.Millisecond

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the inventory load scenario",
		Long: `Run the inventory load scenario and evaluate its thresholds.

Without --config the built-in profile is used:
  invload run

From a configuration file:
  invload run --config inventory.yaml

Quick overrides:
  invload run --base-url http://staging:3000/api --rate 200 --duration 1m

Constant VUs instead of an arrival rate:
  invload run --executor constant-vus --vus 20 --duration 30s

The process exits with 99 when a threshold fails and 1 on errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, a)
		},
	}

	addConfigFlags(cmd)

	cmd.Flags().StringP("out", "o", "", "Write the JSON summary to this file")
	cmd.Flags().BoolP("quiet", "q", false, "Print only PASSED or FAILED")
	cmd.Flags().String("history", "", "History database (default ~/.invload/history.db)")
	cmd.Flags().Bool("no-history", false, "Do not record the run in the history database")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")

	return cmd
}

// addConfigFlags registers the flags that build the test configuration.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Configuration file (YAML or JSON)")
	cmd.Flags().String("base-url", "", "API root (overrides BASE_URL)")
	cmd.Flags().String("store-id", "", "Store whose inventory is read (overrides STORE_ID)")
	cmd.Flags().String("executor", "", "Replace the scenarios with one of this executor (constant-arrival-rate, constant-vus)")
	cmd.Flags().Float64("rate", 0, "Iterations per time unit for arrival-rate scenarios")
	cmd.Flags().String("duration", "", "Scenario duration (e.g. 30s, 2m)")
	cmd.Flags().Int("vus", 0, "VUs for constant-vus scenarios")
	cmd.Flags().Int("pre-allocated-vus", 0, "Pre-allocated VUs for arrival-rate scenarios")
	cmd.Flags().Int("max-vus", 0, "VU ceiling for arrival-rate scenarios")
	cmd.Flags().Duration("think", 0, "Pause at the end of each iteration")
	cmd.Flags().Bool("body-checks", false, "Also validate response bodies")
	cmd.Flags().Duration("avg-response", defaultAvgResponse, "Response time assumed when warning about VU capacity")
}

// buildConfig loads the configuration file (or the built-in profile), then
// applies environment variables and flags, in that order.
func buildConfig(cmd *cobra.Command) (*config.TestConfig, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.TestConfig
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &config.TestConfig{}
	}

	config.ApplyEnv(cfg, os.LookupEnv)
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	config.ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.TestConfig) error {
	flags := cmd.Flags()

	if v, _ := flags.GetString("base-url"); v != "" {
		cfg.Settings.BaseURL = v
	}
	if v, _ := flags.GetString("store-id"); v != "" {
		cfg.Settings.StoreID = v
	}
	if flags.Changed("think") {
		v, _ := flags.GetDuration("think")
		think := config.Duration(v)
		cfg.Think = &think
	}
	if v, _ := flags.GetBool("body-checks"); v {
		cfg.Checks.Body = true
	}

	if executor, _ := flags.GetString("executor"); executor != "" {
		switch executor {
		case config.ExecutorConstantArrivalRate:
			cfg.Scenarios = map[string]*config.ScenarioConfig{
				config.DefaultScenario: {
					Executor:        executor,
					Rate:            config.DefaultRate,
					TimeUnit:        config.DefaultTimeUnit,
					Duration:        config.DefaultDuration,
					PreAllocatedVUs: config.DefaultPreAllocatedVUs,
				},
			}
		case config.ExecutorConstantVUs:
			cfg.Scenarios = map[string]*config.ScenarioConfig{
				"default": {Executor: executor, VUs: config.DefaultVUs, Duration: config.DefaultDuration},
			}
		default:
			return fmt.Errorf("unknown executor %q (want %s or %s)",
				executor, config.ExecutorConstantArrivalRate, config.ExecutorConstantVUs)
		}
	}

	// Scenario overrides need the scenario set to exist.
	if len(cfg.Scenarios) == 0 && (flags.Changed("rate") || flags.Changed("duration") ||
		flags.Changed("vus") || flags.Changed("pre-allocated-vus") || flags.Changed("max-vus")) {
		config.ApplyDefaults(cfg)
	}

	for _, sc := range cfg.Scenarios {
		if v, _ := flags.GetString("duration"); v != "" {
			sc.Duration = v
		}
		switch sc.Executor {
		case config.ExecutorConstantArrivalRate:
			if flags.Changed("rate") {
				sc.Rate, _ = flags.GetFloat64("rate")
			}
			if flags.Changed("pre-allocated-vus") {
				sc.PreAllocatedVUs, _ = flags.GetInt("pre-allocated-vus")
				if sc.MaxVUs < sc.PreAllocatedVUs && !flags.Changed("max-vus") {
					sc.MaxVUs = sc.PreAllocatedVUs
				}
			}
			if flags.Changed("max-vus") {
				sc.MaxVUs, _ = flags.GetInt("max-vus")
			}
		case config.ExecutorConstantVUs:
			if flags.Changed("vus") {
				sc.VUs, _ = flags.GetInt("vus")
			}
		}
	}
	return nil
}

// plannedDuration is the longest scenario duration, used for the progress bar.
func plannedDuration(cfg *config.TestConfig) time.Duration {
	var longest time.Duration
	for _, sc := range cfg.Scenarios {
		if d, err := config.ParseDurationString(sc.Duration); err == nil && d > longest {
			longest = d
		}
	}
	return longest
}

func runLoad(cmd *cobra.Command, a *app) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	outPath, _ := cmd.Flags().GetString("out")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	avgResponse, _ := cmd.Flags().GetDuration("avg-response")

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   quiet,
		NoColor: a.noColor,
	})

	opts := []engine.Option{engine.WithLogger(a.logger)}

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	if metricsAddr != "" {
		exporter := telemetry.NewExporter(a.logger)
		opts = append(opts, engine.WithObserver(exporter))
		go func() {
			if err := exporter.Serve(metricsCtx, metricsAddr); err != nil {
				a.logger.Error().Err(err).Str("addr", metricsAddr).Msg("metrics endpoint failed")
			}
		}()
	}

	eng, err := engine.New(cfg, scenario.New(cfg, a.logger), opts...)
	if err != nil {
		return err
	}

	console.PrintHeader(cfg)
	console.PrintWarnings(config.CapacityWarnings(cfg, avgResponse))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		result *engine.Result
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = eng.Run(ctx)
	}()

	total := plannedDuration(cfg)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

progressLoop:
	for {
		select {
		case <-done:
			break progressLoop
		case <-ticker.C:
			console.Update(output.StatsFromSnapshot(eng.Snapshot(), eng.Progress(), eng.CurrentRPS(), total))
		}
	}
	console.EndProgress()

	if result == nil {
		return runErr
	}

	console.PrintSummary(result)

	if outPath != "" {
		if err := output.SaveJSON(outPath, result); err != nil {
			a.logger.Error().Err(err).Str("path", outPath).Msg("failed to write summary")
		}
	}

	recordHistory(cmd, a, result, cfg)

	if runErr != nil {
		return runErr
	}
	if !result.Passed {
		return &ExitCodeError{Code: ExitThresholds, Err: errors.New("thresholds failed")}
	}
	return nil
}

// recordHistory stores the run summary. Failures are logged, not returned.
func recordHistory(cmd *cobra.Command, a *app, result *engine.Result, cfg *config.TestConfig) {
	if skip, _ := cmd.Flags().GetBool("no-history"); skip {
		return
	}

	path, _ := cmd.Flags().GetString("history")
	if path == "" {
		p, err := history.DefaultPath()
		if err != nil {
			a.logger.Warn().Err(err).Msg("history disabled")
			return
		}
		path = p
	}

	store, err := history.Open(path)
	if err != nil {
		a.logger.Warn().Err(err).Msg("history disabled")
		return
	}
	defer store.Close()

	if err := store.Save(history.FromResult(result, cfg)); err != nil {
		a.logger.Warn().Err(err).Str("run", result.RunID).Msg("failed to record run")
		return
	}
	a.logger.Debug().Str("run", result.RunID).Str("path", path).Msg("run recorded")
}
