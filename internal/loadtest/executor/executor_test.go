package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/invload/internal/config"
	"github.com/wesleyorama2/invload/internal/loadtest"
	"github.com/wesleyorama2/invload/internal/loadtest/metrics"
)

func newPool(t *testing.T, fn func(ctx context.Context, vu loadtest.VU)) (*loadtest.Pool, *metrics.Engine) {
	t.Helper()
	engine := metrics.NewEngine()
	t.Cleanup(engine.Stop)
	return loadtest.NewPool(loadtest.IterationFunc(fn), engine, loadtest.DefaultHTTPConfig(), zerolog.Nop()), engine
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid arrival rate", Config{Type: TypeConstantArrivalRate, Rate: 10, Duration: time.Second}, false},
		{"valid constant vus", Config{Type: TypeConstantVUs, VUs: 2, Duration: time.Second}, false},
		{"missing type", Config{Duration: time.Second}, true},
		{"unknown type", Config{Type: "ramping-vus", Duration: time.Second}, true},
		{"zero rate", Config{Type: TypeConstantArrivalRate, Duration: time.Second}, true},
		{"zero vus", Config{Type: TypeConstantVUs, Duration: time.Second}, true},
		{"zero duration", Config{Type: TypeConstantVUs, VUs: 1}, true},
		{"negative graceful", Config{Type: TypeConstantVUs, VUs: 1, Duration: time.Second, GracefulStop: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRatePerSecond(t *testing.T) {
	c := Config{Rate: 30, TimeUnit: time.Minute}
	assert.InDelta(t, 0.5, c.RatePerSecond(), 1e-9)

	c = Config{Rate: 500, TimeUnit: time.Second}
	assert.InDelta(t, 500.0, c.RatePerSecond(), 1e-9)
}

func TestNew(t *testing.T) {
	e, err := New(TypeConstantArrivalRate)
	require.NoError(t, err)
	assert.Equal(t, TypeConstantArrivalRate, e.Type())

	e, err = New(TypeConstantVUs)
	require.NoError(t, err)
	assert.Equal(t, TypeConstantVUs, e.Type())

	_, err = New("ramping-arrival-rate")
	assert.Error(t, err)
}

func TestFromScenario(t *testing.T) {
	cfg, err := FromScenario("constant_request_rate", &config.ScenarioConfig{
		Executor:        "constant-arrival-rate",
		Rate:            500,
		TimeUnit:        "1s",
		Duration:        "10s",
		PreAllocatedVUs: 500,
		GracefulStop:    "30s",
	})
	require.NoError(t, err)

	assert.Equal(t, "constant_request_rate", cfg.Name)
	assert.Equal(t, TypeConstantArrivalRate, cfg.Type)
	assert.Equal(t, 10*time.Second, cfg.Duration)
	assert.Equal(t, time.Second, cfg.TimeUnit)
	assert.Equal(t, 30*time.Second, cfg.GracefulStop)
	assert.Equal(t, 500, cfg.PreAllocatedVUs)

	_, err = FromScenario("bad", &config.ScenarioConfig{Executor: "constant-vus", Duration: "later"})
	assert.Error(t, err)
}

func TestFromConfig_Default(t *testing.T) {
	execs, err := FromConfig(context.Background(), config.Default())
	require.NoError(t, err)
	require.Len(t, execs, 1)

	car, ok := execs[0].(*ConstantArrivalRate)
	require.True(t, ok)
	assert.Equal(t, 500, car.config.PreAllocatedVUs)
	assert.Equal(t, 500, car.config.MaxVUs)
	assert.Equal(t, 0.0, car.Progress())
}

func TestConstantArrivalRate_Init(t *testing.T) {
	e := NewConstantArrivalRate()
	require.Error(t, e.Init(context.Background(), &Config{Type: TypeConstantVUs, VUs: 1, Duration: time.Second}))

	cfg := &Config{Type: TypeConstantArrivalRate, Rate: 5, Duration: time.Second, PreAllocatedVUs: 3}
	require.NoError(t, e.Init(context.Background(), cfg))
	assert.Equal(t, time.Second, cfg.TimeUnit)
	assert.Equal(t, 3, cfg.MaxVUs)
}

func TestConstantArrivalRate_Run(t *testing.T) {
	var runs atomic.Int64
	pool, engine := newPool(t, func(ctx context.Context, vu loadtest.VU) {
		runs.Add(1)
	})

	e := NewConstantArrivalRate()
	require.NoError(t, e.Init(context.Background(), &Config{
		Name:            "steady",
		Type:            TypeConstantArrivalRate,
		Rate:            50,
		TimeUnit:        time.Second,
		Duration:        500 * time.Millisecond,
		PreAllocatedVUs: 2,
		MaxVUs:          5,
	}))

	start := time.Now()
	require.NoError(t, e.Run(context.Background(), pool, engine))
	elapsed := time.Since(start)

	// 50/s for 0.5s is about 25 iterations.
	assert.InDelta(t, 25, runs.Load(), 6)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, 1.0, e.Progress())

	stats := e.Stats()
	assert.Equal(t, runs.Load(), stats.Iterations)
	assert.Equal(t, int64(0), stats.DroppedIterations)
	assert.Equal(t, 50.0, stats.TargetRate)
	assert.Equal(t, 0, pool.Size())
	assert.Equal(t, runs.Load(), engine.Snapshot().Iterations)
}

func TestConstantArrivalRate_DropsWhenPoolExhausted(t *testing.T) {
	pool, engine := newPool(t, func(ctx context.Context, vu loadtest.VU) {
		vu.Sleep(ctx, 300*time.Millisecond)
	})

	e := NewConstantArrivalRate()
	require.NoError(t, e.Init(context.Background(), &Config{
		Type:            TypeConstantArrivalRate,
		Rate:            100,
		TimeUnit:        time.Second,
		Duration:        200 * time.Millisecond,
		PreAllocatedVUs: 1,
		MaxVUs:          2,
		GracefulStop:    time.Second,
	}))

	require.NoError(t, e.Run(context.Background(), pool, engine))

	stats := e.Stats()
	assert.Equal(t, int64(2), stats.Iterations)
	assert.Greater(t, stats.DroppedIterations, int64(10))
	assert.Equal(t, 2, stats.ActiveVUs)
	assert.Equal(t, stats.DroppedIterations, engine.Snapshot().DroppedIterations)
	assert.Equal(t, 2, engine.Snapshot().MaxVUs)
}

func TestConstantArrivalRate_GracefulStopLetsIterationsFinish(t *testing.T) {
	var finished atomic.Int64
	pool, engine := newPool(t, func(ctx context.Context, vu loadtest.VU) {
		vu.Sleep(ctx, 150*time.Millisecond)
		if ctx.Err() == nil {
			finished.Add(1)
		}
	})

	e := NewConstantArrivalRate()
	require.NoError(t, e.Init(context.Background(), &Config{
		Type:            TypeConstantArrivalRate,
		Rate:            10,
		Duration:        50 * time.Millisecond,
		PreAllocatedVUs: 2,
		GracefulStop:    time.Second,
	}))

	require.NoError(t, e.Run(context.Background(), pool, engine))
	assert.Equal(t, int64(1), finished.Load())
}

func TestConstantArrivalRate_GracefulStopCancels(t *testing.T) {
	var cancelled atomic.Int64
	pool, engine := newPool(t, func(ctx context.Context, vu loadtest.VU) {
		vu.Sleep(ctx, 10*time.Second)
		if ctx.Err() != nil {
			cancelled.Add(1)
		}
	})

	e := NewConstantArrivalRate()
	require.NoError(t, e.Init(context.Background(), &Config{
		Type:            TypeConstantArrivalRate,
		Rate:            10,
		Duration:        50 * time.Millisecond,
		PreAllocatedVUs: 1,
		GracefulStop:    50 * time.Millisecond,
	}))

	start := time.Now()
	require.NoError(t, e.Run(context.Background(), pool, engine))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int64(1), cancelled.Load())
}

func TestConstantArrivalRate_Stop(t *testing.T) {
	pool, engine := newPool(t, func(ctx context.Context, vu loadtest.VU) {})

	e := NewConstantArrivalRate()
	require.NoError(t, e.Init(context.Background(), &Config{
		Type:     TypeConstantArrivalRate,
		Rate:     10,
		Duration: time.Minute,
	}))

	go func() {
		time.Sleep(50 * time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, e.Stop(ctx))
	}()

	start := time.Now()
	require.NoError(t, e.Run(context.Background(), pool, engine))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConstantVUs_Run(t *testing.T) {
	var maxSeen atomic.Int32
	var current atomic.Int32
	pool, engine := newPool(t, func(ctx context.Context, vu loadtest.VU) {
		n := current.Add(1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
		vu.Sleep(ctx, 20*time.Millisecond)
		current.Add(-1)
	})

	e := NewConstantVUs()
	require.NoError(t, e.Init(context.Background(), &Config{
		Type:     TypeConstantVUs,
		VUs:      3,
		Duration: 200 * time.Millisecond,
	}))

	require.NoError(t, e.Run(context.Background(), pool, engine))

	assert.Equal(t, int32(3), maxSeen.Load())
	stats := e.Stats()
	assert.Greater(t, stats.Iterations, int64(15))
	assert.Equal(t, 0, stats.ActiveVUs)
	assert.Equal(t, 3, stats.TargetVUs)
	assert.Equal(t, 0, pool.Size())
	assert.Equal(t, 3, engine.Snapshot().MaxVUs)
}

func TestConstantVUs_InitWrongType(t *testing.T) {
	e := NewConstantVUs()
	err := e.Init(context.Background(), &Config{Type: TypeConstantArrivalRate, Rate: 1, Duration: time.Second})
	assert.Error(t, err)
}

func TestConstantArrivalRate_StoppingVUNotCounted(t *testing.T) {
	var calls atomic.Int32
	pool, _ := newPool(t, func(ctx context.Context, vu loadtest.VU) {
		calls.Add(1)
	})

	e := NewConstantArrivalRate()
	e.pool = pool

	stopping := pool.Spawn()
	stopping.RequestStop()
	e.wg.Add(1)
	e.runIteration(context.Background(), stopping)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, int64(0), e.iterations.Load())

	idle := pool.Spawn()
	e.wg.Add(1)
	e.runIteration(context.Background(), idle)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), e.iterations.Load())

	// A cancelled context still runs the body and counts it.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.wg.Add(1)
	e.runIteration(ctx, idle)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(2), e.iterations.Load())
}
