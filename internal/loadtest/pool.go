package loadtest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	ihttp "github.com/wesleyorama2/invload/internal/http"
	"github.com/wesleyorama2/invload/internal/loadtest/metrics"
)

// HTTPConfig contains HTTP client configuration shared by all VUs.
type HTTPConfig struct {
	Timeout             time.Duration
	UserAgent           string
	Headers             map[string]string
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	InsecureSkipVerify  bool
}

// DefaultHTTPConfig returns the defaults used for load generation.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:             60 * time.Second,
		UserAgent:           "invload/1.0",
		MaxIdleConnsPerHost: 100,
	}
}

// Pool manages the lifecycle of Virtual Users.
//
// All VUs share one keep-alive HTTP client. Executors spawn VUs from the
// pool and release them when they stop.
type Pool struct {
	iteration Iteration
	metrics   *metrics.Engine
	client    *ihttp.Client
	logger    zerolog.Logger

	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextID atomic.Int32
}

// NewPool creates a pool whose VUs run it.
func NewPool(it Iteration, metricsEngine *metrics.Engine, cfg HTTPConfig, logger zerolog.Logger) *Pool {
	opts := []ihttp.ClientOption{
		ihttp.WithTimeout(cfg.Timeout),
		ihttp.WithUserAgent(cfg.UserAgent),
		ihttp.WithConnLimits(cfg.MaxIdleConnsPerHost, cfg.MaxConnsPerHost),
		ihttp.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
	}
	for k, v := range cfg.Headers {
		opts = append(opts, ihttp.WithHeader(k, v))
	}

	return &Pool{
		iteration: it,
		metrics:   metricsEngine,
		client:    ihttp.NewClient(opts...),
		logger:    logger,
		vus:       make(map[int]*VirtualUser),
	}
}

// Iteration returns the iteration every VU of this pool runs.
func (p *Pool) Iteration() Iteration {
	return p.iteration
}

// Spawn creates and registers a new VU. The caller runs it and must
// call Release when done.
func (p *Pool) Spawn() *VirtualUser {
	id := int(p.nextID.Add(1))
	vu := NewVirtualUser(id, p.client, p.metrics, p.logger)

	p.vusMu.Lock()
	p.vus[id] = vu
	p.vusMu.Unlock()

	p.metrics.AddActiveVUs(1)
	return vu
}

// Release marks vu stopped and removes it from the pool.
func (p *Pool) Release(vu *VirtualUser) {
	p.vusMu.Lock()
	_, ok := p.vus[vu.ID()]
	delete(p.vus, vu.ID())
	p.vusMu.Unlock()

	vu.MarkStopped()
	if ok {
		p.metrics.AddActiveVUs(-1)
	}
}

// Size returns the number of VUs that have not been released.
func (p *Pool) Size() int {
	p.vusMu.RLock()
	defer p.vusMu.RUnlock()
	return len(p.vus)
}

// Spawned returns the number of VUs ever created by this pool.
func (p *Pool) Spawned() int {
	return int(p.nextID.Load())
}

// StopAll asks every VU to stop after its current iteration.
func (p *Pool) StopAll() {
	p.vusMu.RLock()
	defer p.vusMu.RUnlock()

	for _, vu := range p.vus {
		vu.RequestStop()
	}
}

// WaitForAll waits for all VUs to stop and returns how many did not
// stop before timeout.
func (p *Pool) WaitForAll(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)

	p.vusMu.RLock()
	vus := make([]*VirtualUser, 0, len(p.vus))
	for _, vu := range p.vus {
		vus = append(vus, vu)
	}
	p.vusMu.RUnlock()

	notStopped := 0
	for _, vu := range vus {
		remaining := time.Until(deadline)
		if remaining <= 0 || !vu.WaitForStop(remaining) {
			notStopped++
		}
	}
	return notStopped
}

// Shutdown stops all VUs, waits up to timeout and closes idle connections.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.StopAll()
	if n := p.WaitForAll(timeout); n > 0 {
		p.logger.Warn().Int("vus", n).Dur("timeout", timeout).Msg("VUs still running at shutdown")
	}
	p.client.CloseIdleConnections()
}
