// Package metrics exposes crawl progress as Prometheus metrics.
//
// All Collector methods are safe on a nil receiver, so components can take an
// optional *Collector without checking whether metrics are enabled.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"twcrawl/pkg/logger"
)

const namespace = "twcrawl"

// Collector holds the crawler metrics on a private registry
type Collector struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateWait        *prometheus.HistogramVec
	items           *prometheus.CounterVec
	sentinels       *prometheus.CounterVec
	transientErrors *prometheus.CounterVec
	checkpointLine  *prometheus.GaugeVec
	runs            *prometheus.CounterVec
}

// NewCollector creates a collector with every metric registered
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "API requests by endpoint and HTTP status (0 for transport failures)",
		}, []string{"endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		rateWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_gate_wait_seconds",
			Help:      "Time spent waiting on the rate gate",
			Buckets:   []float64{0, 0.5, 1, 2, 3, 5, 10, 30, 60, 120},
		}, []string{"class"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Items committed to storage",
		}, []string{"job"}),
		sentinels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentinels_total",
			Help:      "Items marked as permanently unavailable",
		}, []string{"job", "sentinel"}),
		transientErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transient_errors_total",
			Help:      "Batches that failed with a retryable error",
		}, []string{"job"}),
		checkpointLine: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_line",
			Help:      "Last committed input line",
		}, []string{"job"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished job runs by final state",
		}, []string{"job", "state"}),
	}

	c.registry.MustRegister(
		c.requests,
		c.requestDuration,
		c.rateWait,
		c.items,
		c.sentinels,
		c.transientErrors,
		c.checkpointLine,
		c.runs,
	)
	return c
}

// ObserveRequest records one API call
func (c *Collector) ObserveRequest(endpoint string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveRateWait records the wait computed by the rate gate
func (c *Collector) ObserveRateWait(class string, d time.Duration) {
	if c == nil {
		return
	}
	c.rateWait.WithLabelValues(class).Observe(d.Seconds())
}

// AddItems counts committed items
func (c *Collector) AddItems(job string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.items.WithLabelValues(job).Add(float64(n))
}

// RecordSentinel counts an item marked unavailable
func (c *Collector) RecordSentinel(job, sentinel string) {
	if c == nil {
		return
	}
	c.sentinels.WithLabelValues(job, sentinel).Inc()
}

// RecordTransientError counts a failed batch
func (c *Collector) RecordTransientError(job string) {
	if c == nil {
		return
	}
	c.transientErrors.WithLabelValues(job).Inc()
}

// SetCheckpoint publishes the committed line of a job
func (c *Collector) SetCheckpoint(job string, line int64) {
	if c == nil {
		return
	}
	c.checkpointLine.WithLabelValues(job).Set(float64(line))
}

// RecordRun counts a finished run
func (c *Collector) RecordRun(job, state string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(job, state).Inc()
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is done
func (c *Collector) Serve(ctx context.Context, addr string, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.LogComponentStart(log, "metrics", map[string]interface{}{"address": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		logger.LogComponentStop(log, "metrics", "shutdown")
		return err
	}
}
