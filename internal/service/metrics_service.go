package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/theftclaim-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	cacheLatency     prometheus.Observer
	cacheWrite       prometheus.Observer
	cacheHitRatio    prometheus.Gauge
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	ticketOutcomes   *prometheus.CounterVec
	provisioning     *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	activeBatches    prometheus.Gauge

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	completedCount       uint64
	failedCount          uint64
	rejectedCount        uint64
	provisionedCount     uint64
	provisionFailures    uint64
	activeBatchCount     int64
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

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	ticketOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_ticket_outcomes_total",
		Help: "Evidence tickets reaching a terminal state",
	}, []string{"state", "category"})

	provisioning := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_record_provisioning_total",
		Help: "Destination records created during ingestion",
	}, []string{"result"})

	transferDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evidence_transfer_duration_seconds",
		Help:    "Duration of evidence file transfers",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"result"})

	activeBatches := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evidence_batches_active",
		Help: "Ingestion batches currently held in memory",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		ticketOutcomes, provisioning, transferDuration, activeBatches, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:         registry,
		handler:          handler,
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheHitRatio:    cacheHitRatio,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		ticketOutcomes:   ticketOutcomes,
		provisioning:     provisioning,
		transferDuration: transferDuration,
		activeBatches:    activeBatches,
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

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordTicketOutcome counts a ticket reaching a terminal state.
func (m *MetricsService) RecordTicketOutcome(state models.TicketState, category models.EvidenceCategory) {
	if m == nil {
		return
	}
	m.ticketOutcomes.WithLabelValues(string(state), string(category)).Inc()
	switch state {
	case models.TicketStateCompleted:
		atomic.AddUint64(&m.completedCount, 1)
	case models.TicketStateFailed:
		atomic.AddUint64(&m.failedCount, 1)
	case models.TicketStateRejected:
		atomic.AddUint64(&m.rejectedCount, 1)
	}
}

// RecordProvisioning counts destination record creation attempts.
func (m *MetricsService) RecordProvisioning(success bool) {
	if m == nil {
		return
	}
	m.provisioning.WithLabelValues(resultLabel(success)).Inc()
	if success {
		atomic.AddUint64(&m.provisionedCount, 1)
	} else {
		atomic.AddUint64(&m.provisionFailures, 1)
	}
}

// ObserveTransfer records the duration of one file transfer.
func (m *MetricsService) ObserveTransfer(duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.transferDuration.WithLabelValues(resultLabel(success)).Observe(duration.Seconds())
}

// TrackQueueDepth exports the number of jobs waiting in a named queue.
func (m *MetricsService) TrackQueueDepth(queue string, depth func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "job_queue_pending",
		Help:        "Jobs buffered but not yet picked up by a worker",
		ConstLabels: prometheus.Labels{"queue": queue},
	}, func() float64 {
		return float64(depth())
	}))
}

// SetActiveBatches reports how many batches the registry holds.
func (m *MetricsService) SetActiveBatches(count int) {
	if m == nil {
		return
	}
	m.activeBatches.Set(float64(count))
	atomic.StoreInt64(&m.activeBatchCount, int64(count))
}

// Snapshot returns aggregated metrics suitable for the metrics endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		TicketsCompleted:         atomic.LoadUint64(&m.completedCount),
		TicketsFailed:            atomic.LoadUint64(&m.failedCount),
		TicketsRejected:          atomic.LoadUint64(&m.rejectedCount),
		RecordsProvisioned:       atomic.LoadUint64(&m.provisionedCount),
		ProvisioningFailures:     atomic.LoadUint64(&m.provisionFailures),
		ActiveBatches:            int(atomic.LoadInt64(&m.activeBatchCount)),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
