package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/hostel-allocation-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface
// and the allocation engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	allocationAttempts *prometheus.CounterVec
	allocationTx       *prometheus.HistogramVec
	lockSkips          prometheus.Counter
	runOutcomes        *prometheus.CounterVec
	runDuration        prometheus.Histogram
	notifications      *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	allocationAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_attempts_total",
		Help: "Single-application allocation attempts by outcome",
	}, []string{"mode", "outcome"})

	allocationTx := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "allocation_transaction_seconds",
		Help:    "Duration of allocation transactions",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	lockSkips := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "allocation_lock_skips_total",
		Help: "Candidate beds skipped because a concurrent allocator held the row lock",
	})

	runOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_run_applications_total",
		Help: "Applications processed by batch runs, by result",
	}, []string{"result"})

	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "allocation_run_duration_seconds",
		Help:    "Duration of batch allocation runs",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Student notifications by kind and delivery result",
	}, []string{"kind", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheHits, cacheMisses,
		allocationAttempts, allocationTx, lockSkips, runOutcomes, runDuration, notifications, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:           registry,
		handler:            handler,
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		allocationAttempts: allocationAttempts,
		allocationTx:       allocationTx,
		lockSkips:          lockSkips,
		runOutcomes:        runOutcomes,
		runDuration:        runDuration,
		notifications:      notifications,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveAllocation records one allocation transaction.
func (m *MetricsService) ObserveAllocation(mode models.AllocationMode, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.allocationAttempts.WithLabelValues(string(mode), outcome).Inc()
	m.allocationTx.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordLockSkip counts a candidate bed skipped due to a concurrent lock holder.
func (m *MetricsService) RecordLockSkip() {
	if m == nil {
		return
	}
	m.lockSkips.Inc()
}

// ObserveRun records batch run totals.
func (m *MetricsService) ObserveRun(stats models.AllocationRunStats) {
	if m == nil {
		return
	}
	m.runOutcomes.WithLabelValues("allocated").Add(float64(stats.Allocated))
	m.runOutcomes.WithLabelValues("waitlisted").Add(float64(stats.Waitlisted))
	m.runOutcomes.WithLabelValues("retained").Add(float64(stats.Retained))
	m.runOutcomes.WithLabelValues("skipped").Add(float64(stats.Skipped))
	m.runOutcomes.WithLabelValues("error").Add(float64(stats.Errors))
	m.runDuration.Observe(stats.FinishedAt.Sub(stats.StartedAt).Seconds())
}

// ObserveQueueDepth exports the number of jobs waiting in the named queue.
func (m *MetricsService) ObserveQueueDepth(queue string, depth func() int) {
	if m == nil || depth == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "job_queue_depth",
		Help:        "Jobs waiting in an in-process queue",
		ConstLabels: prometheus.Labels{"queue": queue},
	}, func() float64 {
		return float64(depth())
	}))
}

// RecordNotification counts a delivered or failed notification.
func (m *MetricsService) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}
