package cli

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/invload/internal/config"
	"github.com/wesleyorama2/invload/internal/history"
	"github.com/wesleyorama2/invload/internal/mockapi"
)

func parsedRunCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := newRunCmd(&app{logger: zerolog.Nop()})
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestBuildConfig(t *testing.T) {
	t.Setenv(config.EnvBaseURL, "")
	t.Setenv(config.EnvStoreID, "")

	tests := []struct {
		name          string
		args          []string
		wantErr       bool
		checkBaseURL  string
		checkStoreID  string
		checkExecutor string
		checkRate     float64
		checkDuration string
		checkVUs      int
		checkPrealloc int
		checkMaxVUs   int
	}{
		{
			name:          "Built-in profile",
			args:          nil,
			checkBaseURL:  config.DefaultBaseURL,
			checkStoreID:  config.DefaultStoreID,
			checkExecutor: config.ExecutorConstantArrivalRate,
			checkRate:     500,
			checkDuration: "10s",
			checkPrealloc: 500,
			checkMaxVUs:   500,
		},
		{
			name:          "Target and arrival overrides",
			args:          []string{"--base-url", "http://staging:3000/api", "--store-id", "0f8fad5b-d9cb-469f-a165-70867728950e", "--rate", "200", "--duration", "1m", "--pre-allocated-vus", "50"},
			checkBaseURL:  "http://staging:3000/api",
			checkStoreID:  "0f8fad5b-d9cb-469f-a165-70867728950e",
			checkExecutor: config.ExecutorConstantArrivalRate,
			checkRate:     200,
			checkDuration: "1m",
			checkPrealloc: 50,
			checkMaxVUs:   500,
		},
		{
			name:          "Max VUs raised with pre-allocated",
			args:          []string{"--pre-allocated-vus", "800"},
			checkExecutor: config.ExecutorConstantArrivalRate,
			checkPrealloc: 800,
			checkMaxVUs:   800,
		},
		{
			name:          "Constant VUs executor",
			args:          []string{"--executor", "constant-vus", "--vus", "20", "--duration", "30s"},
			checkExecutor: config.ExecutorConstantVUs,
			checkDuration: "30s",
			checkVUs:      20,
		},
		{
			name:    "Unknown executor",
			args:    []string{"--executor", "ramping-vus"},
			wantErr: true,
		},
		{
			name:    "Pre-allocated above max",
			args:    []string{"--pre-allocated-vus", "20", "--max-vus", "10"},
			wantErr: true,
		},
		{
			name:    "Zero rate",
			args:    []string{"--rate", "0"},
			wantErr: true,
		},
		{
			name:    "Store ID not a UUID",
			args:    []string{"--store-id", "store-1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := buildConfig(parsedRunCmd(t, tt.args...))
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}

			if tt.checkBaseURL != "" && cfg.Settings.BaseURL != tt.checkBaseURL {
				t.Errorf("buildConfig() BaseURL = %v, want %v", cfg.Settings.BaseURL, tt.checkBaseURL)
			}
			if tt.checkStoreID != "" && cfg.Settings.StoreID != tt.checkStoreID {
				t.Errorf("buildConfig() StoreID = %v, want %v", cfg.Settings.StoreID, tt.checkStoreID)
			}

			require.Len(t, cfg.Scenarios, 1)
			for _, sc := range cfg.Scenarios {
				if sc.Executor != tt.checkExecutor {
					t.Errorf("buildConfig() Executor = %v, want %v", sc.Executor, tt.checkExecutor)
				}
				if tt.checkRate != 0 && sc.Rate != tt.checkRate {
					t.Errorf("buildConfig() Rate = %v, want %v", sc.Rate, tt.checkRate)
				}
				if tt.checkDuration != "" && sc.Duration != tt.checkDuration {
					t.Errorf("buildConfig() Duration = %v, want %v", sc.Duration, tt.checkDuration)
				}
				if tt.checkVUs != 0 && sc.VUs != tt.checkVUs {
					t.Errorf("buildConfig() VUs = %v, want %v", sc.VUs, tt.checkVUs)
				}
				if tt.checkPrealloc != 0 && sc.PreAllocatedVUs != tt.checkPrealloc {
					t.Errorf("buildConfig() PreAllocatedVUs = %v, want %v", sc.PreAllocatedVUs, tt.checkPrealloc)
				}
				if tt.checkMaxVUs != 0 && sc.MaxVUs != tt.checkMaxVUs {
					t.Errorf("buildConfig() MaxVUs = %v, want %v", sc.MaxVUs, tt.checkMaxVUs)
				}
			}
		})
	}
}

func TestBuildConfig_EnvAndFlagPrecedence(t *testing.T) {
	t.Setenv(config.EnvBaseURL, "http://env:3000/api")
	t.Setenv(config.EnvStoreID, "7c9e6679-7425-40de-944b-e07fc1f90ae7")

	cfg, err := buildConfig(parsedRunCmd(t))
	require.NoError(t, err)
	assert.Equal(t, "http://env:3000/api", cfg.Settings.BaseURL)
	assert.Equal(t, "7c9e6679-7425-40de-944b-e07fc1f90ae7", cfg.Settings.StoreID)

	cfg, err = buildConfig(parsedRunCmd(t, "--base-url", "http://flag:3000/api"))
	require.NoError(t, err)
	assert.Equal(t, "http://flag:3000/api", cfg.Settings.BaseURL)
	assert.Equal(t, "7c9e6679-7425-40de-944b-e07fc1f90ae7", cfg.Settings.StoreID)
}

func TestBuildConfig_File(t *testing.T) {
	t.Setenv(config.EnvBaseURL, "")
	t.Setenv(config.EnvStoreID, "")

	path := filepath.Join(t.TempDir(), "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: nightly
settings:
  baseUrl: http://file:3000/api
think: 250ms
checks:
  body: true
scenarios:
  steady:
    executor: constant-vus
    vus: 5
    duration: 20s
thresholds:
  http_req_duration: ["p(99)<800"]
`), 0644))

	cfg, err := buildConfig(parsedRunCmd(t, "--config", path, "--vus", "8"))
	require.NoError(t, err)
	assert.Equal(t, "nightly", cfg.Name)
	assert.Equal(t, "http://file:3000/api", cfg.Settings.BaseURL)
	assert.Equal(t, config.DefaultStoreID, cfg.Settings.StoreID)
	assert.Equal(t, 250*time.Millisecond, cfg.ThinkTime())
	assert.True(t, cfg.Checks.Body)
	assert.Equal(t, 8, cfg.Scenarios["steady"].VUs)
	assert.Equal(t, map[string][]string{"http_req_duration": {"p(99)<800"}}, cfg.Thresholds)

	_, err = buildConfig(parsedRunCmd(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func TestBuildConfig_Think(t *testing.T) {
	cfg, err := buildConfig(parsedRunCmd(t, "--think", "0s"))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.ThinkTime())
}

func TestPlannedDuration(t *testing.T) {
	cfg := &config.TestConfig{Scenarios: map[string]*config.ScenarioConfig{
		"a": {Duration: "30s"},
		"b": {Duration: "2m"},
		"c": {Duration: "bogus"},
	}}
	if got := plannedDuration(cfg); got != 2*time.Minute {
		t.Errorf("plannedDuration() = %v, want %v", got, 2*time.Minute)
	}
}

func startMock(t *testing.T, opts mockapi.Options) string {
	t.Helper()
	server := httptest.NewServer(mockapi.New(opts, zerolog.Nop()).Handler())
	t.Cleanup(server.Close)
	return server.URL + "/api"
}

func quickRunArgs(baseURL string, extra ...string) []string {
	args := []string{"run",
		"--base-url", baseURL,
		"--rate", "20",
		"--duration", "300ms",
		"--pre-allocated-vus", "5",
		"--think", "0s",
	}
	return append(args, extra...)
}

func TestRunCommand_Passes(t *testing.T) {
	baseURL := startMock(t, mockapi.Options{})
	outPath := filepath.Join(t.TempDir(), "summary.json")

	root, stdout, stderr := newTestRoot(quickRunArgs(baseURL, "--no-history", "-q", "--out", outPath)...)
	err := execute(root, stderr)
	require.NoError(t, err, stderr.String())
	assert.Equal(t, "PASSED\n", stdout.String())

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, true, summary["passed"])
	assert.NotEmpty(t, summary["runId"])
}

func TestRunCommand_Summary(t *testing.T) {
	baseURL := startMock(t, mockapi.Options{})

	root, stdout, stderr := newTestRoot(quickRunArgs(baseURL, "--no-history", "--no-color")...)
	require.NoError(t, execute(root, stderr), stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "inventory-load - Running")
	assert.Contains(t, out, baseURL)
	assert.Contains(t, out, "inventory-load - Completed ✓")
	assert.Contains(t, out, "http_req_duration")
	assert.Contains(t, out, "status is 200")
}

func TestRunCommand_ThresholdFailure(t *testing.T) {
	baseURL := startMock(t, mockapi.Options{ErrorRate: 1})
	historyPath := filepath.Join(t.TempDir(), "history.db")

	root, stdout, stderr := newTestRoot(quickRunArgs(baseURL, "-q", "--history", historyPath)...)
	err := execute(root, stderr)
	require.Error(t, err)
	assert.Equal(t, ExitThresholds, ExitCode(err))
	assert.Equal(t, "FAILED\n", stdout.String())
	assert.NotContains(t, stderr.String(), "Error:")

	store, err := history.Open(historyPath)
	require.NoError(t, err)
	records, err := store.List(0)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.Len(t, records, 1)
	assert.False(t, records[0].Passed)
	assert.Equal(t, 1.0, records[0].ErrorRate)
	assert.Equal(t, baseURL, records[0].BaseURL)

	root, stdout, stderr = newTestRoot("history", "--path", historyPath)
	require.NoError(t, execute(root, stderr))
	assert.Contains(t, stdout.String(), records[0].RunID)
	assert.Contains(t, stdout.String(), "FAILED")

	root, stdout, stderr = newTestRoot("history", "show", records[0].RunID, "--path", historyPath)
	require.NoError(t, execute(root, stderr))
	var shown history.Record
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &shown))
	assert.Equal(t, records[0].RunID, shown.RunID)
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	root, _, stderr := newTestRoot("run", "--executor", "ramping-vus")
	err := execute(root, stderr)
	assert.Equal(t, ExitError, ExitCode(err))
	assert.Contains(t, stderr.String(), "unknown executor")
}

func TestHistoryCommand_Empty(t *testing.T) {
	root, stdout, stderr := newTestRoot("history", "--path", filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, execute(root, stderr))
	assert.Equal(t, "No runs recorded\n", stdout.String())

	root, _, stderr = newTestRoot("history", "show", "missing", "--path", filepath.Join(t.TempDir(), "h.db"))
	err := execute(root, stderr)
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestValidateCommand(t *testing.T) {
	t.Setenv(config.EnvBaseURL, "")

	root, stdout, stderr := newTestRoot("validate", "--no-color")
	require.NoError(t, execute(root, stderr))
	assert.Contains(t, stdout.String(), "constant_request_rate")
	assert.Contains(t, stdout.String(), "configuration is valid")

	// 500 iterations/s at ~1.1s each needs more than 100 VUs.
	root, stdout, stderr = newTestRoot("validate", "--no-color", "--pre-allocated-vus", "100", "--max-vus", "100")
	require.NoError(t, execute(root, stderr))
	assert.Contains(t, stdout.String(), "⚠ scenarios.constant_request_rate.maxVUs")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  http_req_duration: [\"p(95)<<500\"]\n"), 0644))
	root, _, stderr = newTestRoot("validate", "--config", path)
	assert.Error(t, execute(root, stderr))
}

func TestMockCommand(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	root, _, stderr := newTestRoot("mock", "--addr", addr, "--products", "3", "--log-level", "error")

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/ListarProductos")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var products []mockapi.Product
		return json.NewDecoder(resp.Body).Decode(&products) == nil && len(products) == 3
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("mock did not stop after cancel")
	}
}
