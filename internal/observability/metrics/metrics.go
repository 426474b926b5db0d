// Package metrics exposes prometheus instrumentation for the gateway.
package metrics

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	QuotaOutcomeAllowed = "allowed"
	QuotaOutcomeDenied  = "denied"
	QuotaOutcomeError   = "error"

	ChunkOutcomeSuccess = "success"
	ChunkOutcomeFailed  = "failed"
	ChunkOutcomeSkipped = "skipped"
)

// Metrics captures gateway health signals: request traffic, quota decisions,
// cache effectiveness and ingestion progress.
type Metrics struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	quotaDecisions  *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	budgetDenials   *prometheus.CounterVec
	chunkOutcomes   *prometheus.CounterVec
	chunkDuration   *prometheus.HistogramVec
	recordsIngested *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Gateway returns the singleton gateway metrics registry.
func Gateway() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return metrics
}

// ResetForTest resets the metrics singleton for tests.
func ResetForTest() {
	metricsOnce = sync.Once{}
	metrics = nil
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statedge_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "statedge_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statedge_quota_decisions_total",
			Help: "Quota ledger admission decisions by tier and outcome.",
		}, []string{"tier", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statedge_cache_lookups_total",
			Help: "Response cache lookups by class and result.",
		}, []string{"class", "result"}),
		budgetDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statedge_budget_denials_total",
			Help: "External rate budget denials by operation class.",
		}, []string{"class"}),
		chunkOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statedge_ingestion_chunks_total",
			Help: "Ingestion chunk outcomes by source.",
		}, []string{"source", "outcome"}),
		chunkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "statedge_ingestion_chunk_duration_seconds",
			Help:    "Ingestion chunk processing time by source.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"source"}),
		recordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statedge_ingestion_records_total",
			Help: "Records written to the backing store by source.",
		}, []string{"source"}),
	}

	for _, collector := range []prometheus.Collector{
		m.httpRequests,
		m.httpDuration,
		m.quotaDecisions,
		m.cacheLookups,
		m.budgetDenials,
		m.chunkOutcomes,
		m.chunkDuration,
		m.recordsIngested,
	} {
		if err := registerer.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			zap.L().Error("metric registration failed", zap.Error(err))
		}
	}

	return m
}

func (m *Metrics) IncQuotaDecision(tier, outcome string) {
	if m == nil {
		return
	}
	m.quotaDecisions.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) IncCacheHit(class string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(class, "hit").Inc()
}

func (m *Metrics) IncCacheMiss(class string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(class, "miss").Inc()
}

func (m *Metrics) IncBudgetDenied(class string) {
	if m == nil {
		return
	}
	m.budgetDenials.WithLabelValues(class).Inc()
}

func (m *Metrics) IncChunkOutcome(source, outcome string) {
	if m == nil {
		return
	}
	m.chunkOutcomes.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) ObserveChunkDuration(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.chunkDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) AddRecordsIngested(source string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.recordsIngested.WithLabelValues(source).Add(float64(count))
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
