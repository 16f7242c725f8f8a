// Package telemetry exposes live run metrics in the Prometheus text format.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wesleyorama2/invload/internal/loadtest/metrics"
)

const namespace = "invload"

// Exporter mirrors engine samples into a private Prometheus registry.
type Exporter struct {
	registry *prometheus.Registry
	logger   zerolog.Logger

	requests          *prometheus.CounterVec
	failedRequests    *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	dataReceived      prometheus.Counter
	checks            *prometheus.CounterVec
	iterations        prometheus.Counter
	iterationDuration prometheus.Histogram
	dropped           prometheus.Counter
	vus               prometheus.Gauge
}

// NewExporter registers the run metrics on a fresh registry.
func NewExporter(logger zerolog.Logger) *Exporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Exporter{
		registry: reg,
		logger:   logger,

		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_reqs_total",
				Help:      "Total number of HTTP requests issued",
			},
			[]string{"request"},
		),
		failedRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_req_failed_total",
				Help:      "HTTP requests that errored or returned status >= 400",
			},
			[]string{"request"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_req_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"request"},
		),
		dataReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_received_bytes_total",
			Help:      "Response body bytes received",
		}),
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Check evaluations by name and outcome",
			},
			[]string{"check", "result"},
		),
		iterations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Completed scenario iterations",
		}),
		iterationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Scenario iteration duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_iterations_total",
			Help:      "Iterations skipped because no VU was available",
		}),
		vus: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vus",
			Help:      "Virtual users currently allocated",
		}),
	}
}

func (e *Exporter) ObserveRequest(name string, duration time.Duration, failed bool, bytes int64) {
	e.requests.WithLabelValues(name).Inc()
	if failed {
		e.failedRequests.WithLabelValues(name).Inc()
	} else {
		// Keep the series present so rate() queries see zero.
		e.failedRequests.WithLabelValues(name).Add(0)
	}
	e.requestDuration.WithLabelValues(name).Observe(duration.Seconds())
	if bytes > 0 {
		e.dataReceived.Add(float64(bytes))
	}
}

func (e *Exporter) ObserveCheck(name string, passed bool) {
	result := "fail"
	if passed {
		result = "pass"
	}
	e.checks.WithLabelValues(name, result).Inc()
}

func (e *Exporter) ObserveIteration(duration time.Duration) {
	e.iterations.Inc()
	e.iterationDuration.Observe(duration.Seconds())
}

func (e *Exporter) ObserveDroppedIteration() {
	e.dropped.Inc()
}

func (e *Exporter) ObserveActiveVUs(count int) {
	e.vus.Set(float64(count))
}

// Registry returns the registry backing the exporter.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var _ metrics.Observer = (*Exporter)(nil)
