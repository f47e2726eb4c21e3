package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sealogRecordsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealog_records_submitted_total",
		Help: "Total records accepted for ingestion.",
	})

	sealogBatchesCommittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealog_batches_committed_total",
		Help: "Total batches sealed and committed.",
	})

	sealogBatchEntries = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sealog_batch_entries",
		Help:    "Entries per committed batch.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	})

	sealogAnchorResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealog_anchor_results_total",
		Help: "Anchoring results by backend and status.",
	}, []string{"backend", "status"})

	sealogRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sealog_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	sealogRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sealog_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		sealogRequestsTotal.WithLabelValues(method, path, status).Inc()
		sealogRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordSubmit records one accepted record.
func RecordSubmit() {
	sealogRecordsSubmittedTotal.Inc()
}

// RecordBatchCommit records a sealed batch and its size.
func RecordBatchCommit(entryCount int) {
	sealogBatchesCommittedTotal.Inc()
	sealogBatchEntries.Observe(float64(entryCount))
}

// RecordAnchorResult records one anchoring outcome.
func RecordAnchorResult(backend, status string) {
	sealogAnchorResultsTotal.WithLabelValues(backend, status).Inc()
}
