package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the global metrics container for the daemon: gRPC surface
// metrics plus pool/cache/child-lifecycle metrics specific to the
// worker-pool dispatch core.
type Metrics struct {
	// gRPC metrics (data plane and admin plane share these).
	GRPCRequestsTotal    *prometheus.CounterVec
	GRPCRequestDuration  *prometheus.HistogramVec
	GRPCRequestsInFlight prometheus.Gauge

	// Pool / dispatch metrics.
	PoolActiveWorkers prometheus.Gauge
	PoolIdleWorkers   prometheus.Gauge
	PoolWaitingQueue  prometheus.Gauge
	PoolPressure      prometheus.Gauge
	DispatchTotal     *prometheus.CounterVec
	DispatchWaitTime  prometheus.Histogram
	DispatchExecTime  *prometheus.HistogramVec

	// Child lifecycle metrics.
	ChildSpawnsTotal        *prometheus.CounterVec
	ChildKillsTotal         *prometheus.CounterVec
	ChildBannerTimeoutTotal prometheus.Counter
	ChildFailurePressure    *prometheus.GaugeVec

	// Cache metrics, per child.
	CacheEntriesTotal *prometheus.GaugeVec
	CacheHitsTotal    *prometheus.CounterVec
	CacheMissesTotal  *prometheus.CounterVec
	CacheEvictions    *prometheus.CounterVec

	// Process metrics, sampled via gopsutil.
	ChildRSSBytes *prometheus.GaugeVec
	ChildCPUPct   *prometheus.GaugeVec

	// Service information.
	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics registers and returns the process-wide Metrics instance.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		GRPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_requests_total",
				Help:      "Total number of gRPC requests",
			},
			[]string{"method", "status"},
		),

		GRPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_request_duration_seconds",
				Help:      "Duration of gRPC requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),

		GRPCRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_requests_in_flight",
				Help:      "Current number of gRPC requests being processed",
			},
		),

		PoolActiveWorkers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pool_active_workers",
				Help:      "Number of children currently busy handling a request",
			},
		),

		PoolIdleWorkers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pool_idle_workers",
				Help:      "Number of children currently idle and eligible for dispatch",
			},
		),

		PoolWaitingQueue: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pool_waiting_queue",
				Help:      "Number of requests currently waiting for an idle child",
			},
		),

		PoolPressure: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pool_pressure_ratio",
				Help:      "Waiting queue depth divided by max_waiting",
			},
		),

		DispatchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dispatch_total",
				Help:      "Total number of dispatched requests by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		DispatchWaitTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dispatch_wait_seconds",
				Help:      "Time a request spent in the waiting queue before assignment",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		DispatchExecTime: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dispatch_exec_seconds",
				Help:      "Time a request spent executing inside a child",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),

		ChildSpawnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "child_spawns_total",
				Help:      "Total number of child processes spawned, by reason",
			},
			[]string{"reason"},
		),

		ChildKillsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "child_kills_total",
				Help:      "Total number of child processes killed, by reason",
			},
			[]string{"reason"},
		),

		ChildBannerTimeoutTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "child_banner_timeout_total",
				Help:      "Total number of child startup handshakes that timed out",
			},
		),

		ChildFailurePressure: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "child_failure_pressure",
				Help:      "EWMA-decayed failure pressure per child",
			},
			[]string{"child_id"},
		),

		CacheEntriesTotal: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cache_entries_total",
				Help:      "Number of cached projects held by a child",
			},
			[]string{"child_id"},
		),

		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits, by child",
			},
			[]string{"child_id"},
		),

		CacheMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses, by child",
			},
			[]string{"child_id"},
		),

		CacheEvictions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cache_evictions_total",
				Help:      "Total number of LRU evictions, by child",
			},
			[]string{"child_id"},
		),

		ChildRSSBytes: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "child_rss_bytes",
				Help:      "Resident set size of a child process",
			},
			[]string{"child_id"},
		),

		ChildCPUPct: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "child_cpu_percent",
				Help:      "CPU utilization of a child process",
			},
			[]string{"child_id"},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service build information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the process-wide Metrics, initializing with defaults if needed.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("qjazz", "")
	}
	return defaultMetrics
}

// RecordGRPCRequest records a completed gRPC call.
func (m *Metrics) RecordGRPCRequest(method string, status string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordDispatch records a request's queueing and execution against a kind/outcome pair.
func (m *Metrics) RecordDispatch(kind, outcome string, waitTime, execTime time.Duration) {
	m.DispatchTotal.WithLabelValues(kind, outcome).Inc()
	m.DispatchWaitTime.Observe(waitTime.Seconds())
	m.DispatchExecTime.WithLabelValues(kind).Observe(execTime.Seconds())
}

// SetPoolGauges updates the pool-level gauges from a dispatcher stats snapshot.
func (m *Metrics) SetPoolGauges(active, idle, waiting int, pressure float64) {
	m.PoolActiveWorkers.Set(float64(active))
	m.PoolIdleWorkers.Set(float64(idle))
	m.PoolWaitingQueue.Set(float64(waiting))
	m.PoolPressure.Set(pressure)
}

// RecordChildSpawn increments the spawn counter for the given reason (e.g. "startup", "replace", "respawn").
func (m *Metrics) RecordChildSpawn(reason string) {
	m.ChildSpawnsTotal.WithLabelValues(reason).Inc()
}

// RecordChildKill increments the kill counter for the given reason (e.g. "timeout", "drain", "shutdown").
func (m *Metrics) RecordChildKill(reason string) {
	m.ChildKillsTotal.WithLabelValues(reason).Inc()
}

// RecordBannerTimeout increments the banner-handshake-timeout counter.
func (m *Metrics) RecordBannerTimeout() {
	m.ChildBannerTimeoutTotal.Inc()
}

// SetChildFailurePressure records the current EWMA failure pressure for a child.
func (m *Metrics) SetChildFailurePressure(childID string, pressure float64) {
	m.ChildFailurePressure.WithLabelValues(childID).Set(pressure)
}

// SetCacheStats updates the cache gauges for a single child.
func (m *Metrics) SetCacheStats(childID string, entries int) {
	m.CacheEntriesTotal.WithLabelValues(childID).Set(float64(entries))
}

// RecordCacheHit increments the cache-hit counter for a child.
func (m *Metrics) RecordCacheHit(childID string) {
	m.CacheHitsTotal.WithLabelValues(childID).Inc()
}

// RecordCacheMiss increments the cache-miss counter for a child.
func (m *Metrics) RecordCacheMiss(childID string) {
	m.CacheMissesTotal.WithLabelValues(childID).Inc()
}

// RecordCacheEviction increments the eviction counter for a child.
func (m *Metrics) RecordCacheEviction(childID string) {
	m.CacheEvictions.WithLabelValues(childID).Inc()
}

// SetChildProcessStats records RSS/CPU samples gathered via gopsutil.
func (m *Metrics) SetChildProcessStats(childID string, rssBytes uint64, cpuPercent float64) {
	m.ChildRSSBytes.WithLabelValues(childID).Set(float64(rssBytes))
	m.ChildCPUPct.WithLabelValues(childID).Set(cpuPercent)
}

// SetServiceInfo sets the service_info gauge to 1 for the given version/environment pair.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts the HTTP server exposing /metrics and /health.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
