package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded for best-effort file cleanup.
const (
	CleanupRemoved = "removed"
	CleanupAbsent  = "absent"
	CleanupSkipped = "skipped"
	CleanupFailed  = "failed"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelhub_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelhub_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	FileCleanupTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelhub_file_cleanup_total",
			Help: "Stored file removals by outcome",
		},
		[]string{"outcome"},
	)

	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelhub_uploads_total",
			Help: "File uploads by status",
		},
		[]string{"status"},
	)

	OrphanFilesSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelhub_orphan_files_swept_total",
			Help: "Unreferenced upload files removed by the sweep",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		FileCleanupTotal,
		UploadsTotal,
		OrphanFilesSwept,
	)
}

// RecordCleanup counts one file removal attempt.
func RecordCleanup(outcome string) {
	FileCleanupTotal.WithLabelValues(outcome).Inc()
}

// RecordUpload counts one upload attempt.
func RecordUpload(ok bool) {
	status := "stored"
	if !ok {
		status = "rejected"
	}
	UploadsTotal.WithLabelValues(status).Inc()
}

// Middleware records request count and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		RequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry for scraping.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
