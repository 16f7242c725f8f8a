package telemetry

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/invload/internal/loadtest/metrics"
)

func scrape(t *testing.T, e *Exporter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestExporter_Observe(t *testing.T) {
	e := NewExporter(zerolog.Nop())

	e.ObserveRequest("ListarProductos", 20*time.Millisecond, false, 1500)
	e.ObserveRequest("ListarProductos", 30*time.Millisecond, true, 0)
	e.ObserveRequest("store_inventory", 10*time.Millisecond, false, 500)
	e.ObserveCheck("status is 200", true)
	e.ObserveCheck("status is 200", false)
	e.ObserveCheck("status is 200", true)
	e.ObserveIteration(time.Second)
	e.ObserveDroppedIteration()
	e.ObserveActiveVUs(7)

	out := scrape(t, e)
	for _, line := range []string{
		`invload_http_reqs_total{request="ListarProductos"} 2`,
		`invload_http_req_failed_total{request="ListarProductos"} 1`,
		`invload_http_req_failed_total{request="store_inventory"} 0`,
		`invload_http_req_duration_seconds_count{request="store_inventory"} 1`,
		`invload_data_received_bytes_total 2000`,
		`invload_checks_total{check="status is 200",result="pass"} 2`,
		`invload_checks_total{check="status is 200",result="fail"} 1`,
		`invload_iterations_total 1`,
		`invload_iteration_duration_seconds_count 1`,
		`invload_dropped_iterations_total 1`,
		`invload_vus 7`,
	} {
		if !strings.Contains(out, line+"\n") {
			t.Errorf("scrape missing %q", line)
		}
	}
}

func TestExporter_Handler(t *testing.T) {
	e := NewExporter(zerolog.Nop())
	e.ObserveRequest("store_inventory", 5*time.Millisecond, false, 10)

	server := httptest.NewServer(e.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `invload_http_reqs_total{request="store_inventory"} 1`)
	assert.Contains(t, string(body), "invload_http_req_duration_seconds_bucket")
	assert.Contains(t, string(body), "invload_vus 0")
	assert.Contains(t, string(body), "# HELP invload_vus Virtual users currently allocated\n")
}

func TestExporter_WiredIntoEngine(t *testing.T) {
	e := NewExporter(zerolog.Nop())
	m := metrics.NewEngineWithConfig(metrics.EngineConfig{Observer: e})
	defer m.Stop()

	m.RecordRequest("ListarProductos", time.Millisecond, false, 0)
	m.RecordCheck("status is 200", true)

	out := scrape(t, e)
	assert.Contains(t, out, `invload_http_reqs_total{request="ListarProductos"} 1`)
	assert.Contains(t, out, `invload_checks_total{check="status is 200",result="pass"} 1`)
}

func TestExporter_Serve(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	e := NewExporter(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx, addr) }()

	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
