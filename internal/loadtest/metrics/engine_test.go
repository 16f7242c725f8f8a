package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	require.NotNil(t, engine)
	defer engine.Stop()

	snapshot := engine.Snapshot()
	assert.Equal(t, int64(0), snapshot.TotalRequests)
	assert.Equal(t, PhaseInit, snapshot.CurrentPhase)
	assert.Equal(t, 0.0, snapshot.ErrorRate)
	assert.Equal(t, 0.0, snapshot.CheckRate)
}

func TestEngine_RecordRequest(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.RecordRequest("ListarProductos", 10*time.Millisecond, false, 1000)
	engine.RecordRequest("ListarProductos", 20*time.Millisecond, false, 2000)
	engine.RecordRequest("store_inventory", 30*time.Millisecond, true, 500)

	snapshot := engine.Snapshot()
	assert.Equal(t, int64(3), snapshot.TotalRequests)
	assert.Equal(t, int64(1), snapshot.FailedRequests)
	assert.Equal(t, int64(3500), snapshot.TotalBytes)
	assert.InDelta(t, 1.0/3.0, snapshot.ErrorRate, 0.0001)

	stats := engine.RequestStats()
	require.Len(t, stats, 2)
	assert.Equal(t, int64(2), stats["ListarProductos"].Count)
	assert.Equal(t, int64(1), stats["store_inventory"].Count)
	assert.Equal(t, []string{"ListarProductos", "store_inventory"}, engine.RequestNames())
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	for i := 1; i <= 100; i++ {
		engine.RecordRequest("req", time.Duration(i)*time.Millisecond, false, 0)
	}

	snapshot := engine.Snapshot()
	lat := snapshot.Latency
	require.NotNil(t, lat)

	assert.InDelta(t, float64(50*time.Millisecond), float64(lat.P50), float64(time.Millisecond))
	assert.InDelta(t, float64(95*time.Millisecond), float64(lat.P95), float64(time.Millisecond))
	assert.InDelta(t, float64(100*time.Millisecond), float64(lat.Max), float64(time.Millisecond))
	assert.InDelta(t, float64(99*time.Millisecond), float64(lat.Percentile(99)), float64(time.Millisecond))
	assert.Equal(t, int64(100), lat.Count)
}

func TestEngine_TrendIsFrozen(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.RecordRequest("req", 5*time.Millisecond, false, 0)
	snap := engine.Snapshot()
	engine.RecordRequest("req", 500*time.Millisecond, false, 0)

	assert.Equal(t, int64(1), snap.Latency.Count)
	assert.Less(t, snap.Latency.Percentile(100), 10*time.Millisecond)
}

func TestEngine_RecordCheck(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.RecordCheck("status is 200", true)
	engine.RecordCheck("response time < 500ms", false)
	engine.RecordCheck("status is 200", true)
	engine.RecordCheck("status is 200", false)

	checks := engine.CheckStats()
	require.Len(t, checks, 2)
	assert.Equal(t, "status is 200", checks[0].Name)
	assert.Equal(t, int64(2), checks[0].Passes)
	assert.Equal(t, int64(1), checks[0].Fails)
	assert.InDelta(t, 2.0/3.0, checks[0].Rate(), 0.0001)
	assert.Equal(t, "response time < 500ms", checks[1].Name)

	snap := engine.Snapshot()
	assert.Equal(t, int64(2), snap.ChecksPassed)
	assert.Equal(t, int64(2), snap.ChecksFailed)
	assert.InDelta(t, 0.5, snap.CheckRate, 0.0001)
}

func TestEngine_IterationsAndDropped(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.RecordIteration(time.Second)
	engine.RecordIteration(2 * time.Second)
	engine.RecordDroppedIteration()

	snap := engine.Snapshot()
	assert.Equal(t, int64(2), snap.Iterations)
	assert.Equal(t, int64(1), snap.DroppedIterations)
	assert.Equal(t, int64(2), snap.IterationDuration.Count)
}

func TestEngine_ActiveVUsTracksMax(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.AddActiveVUs(5)
	engine.AddActiveVUs(3)
	engine.AddActiveVUs(-6)

	snap := engine.Snapshot()
	assert.Equal(t, 2, snap.ActiveVUs)
	assert.Equal(t, 8, snap.MaxVUs)
}

func TestEngine_ConcurrentRecording(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				engine.RecordRequest("req", time.Millisecond, i%10 == 0, 10)
				engine.RecordCheck("status is 200", i%10 != 0)
			}
		}()
	}
	wg.Wait()

	snap := engine.Snapshot()
	assert.Equal(t, int64(2000), snap.TotalRequests)
	assert.Equal(t, int64(200), snap.FailedRequests)
	assert.Equal(t, int64(1800), snap.ChecksPassed)
}

func TestEngine_TimeBuckets(t *testing.T) {
	config := DefaultEngineConfig()
	config.BucketInterval = 20 * time.Millisecond
	engine := NewEngineWithConfig(config)

	engine.SetPhase(PhaseSteady)
	engine.RecordRequest("req", time.Millisecond, false, 0)
	time.Sleep(70 * time.Millisecond)
	engine.Stop()

	buckets := engine.TimeSeries()
	require.NotEmpty(t, buckets)

	var total int64
	for _, b := range buckets {
		total += b.Requests
	}
	assert.Equal(t, int64(1), total)
	assert.GreaterOrEqual(t, engine.SteadyStateRPS(), 0.0)
}

type recordingObserver struct {
	mu       sync.Mutex
	requests int
	checks   int
	iters    int
	dropped  int
	vus      int
}

func (o *recordingObserver) ObserveRequest(string, time.Duration, bool, int64) {
	o.mu.Lock()
	o.requests++
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveCheck(string, bool) {
	o.mu.Lock()
	o.checks++
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveIteration(time.Duration) {
	o.mu.Lock()
	o.iters++
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveDroppedIteration() {
	o.mu.Lock()
	o.dropped++
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveActiveVUs(n int) {
	o.mu.Lock()
	o.vus = n
	o.mu.Unlock()
}

func TestEngine_Observer(t *testing.T) {
	obs := &recordingObserver{}
	config := DefaultEngineConfig()
	config.Observer = obs
	engine := NewEngineWithConfig(config)
	defer engine.Stop()

	engine.RecordRequest("req", time.Millisecond, false, 0)
	engine.RecordCheck("ok", true)
	engine.RecordIteration(time.Millisecond)
	engine.RecordDroppedIteration()
	engine.AddActiveVUs(4)

	assert.Equal(t, 1, obs.requests)
	assert.Equal(t, 1, obs.checks)
	assert.Equal(t, 1, obs.iters)
	assert.Equal(t, 1, obs.dropped)
	assert.Equal(t, 4, obs.vus)
}

func TestEngine_StopTwice(t *testing.T) {
	engine := NewEngine()
	engine.Stop()
	assert.NotPanics(t, engine.Stop)
}
