// Package metrics holds the Prometheus collectors shared by the API and the
// mail worker.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailcode_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mailcode_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	codesIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailcode_codes_issued_total",
		Help: "Issuance requests by result (issued, cooldown).",
	}, []string{"result"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailcode_verifications_total",
		Help: "Verification attempts by outcome.",
	}, []string{"outcome"})

	publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailcode_publish_total",
		Help: "Producer events by outcome (published, retry, failed).",
	}, []string{"outcome"})

	consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailcode_consumed_total",
		Help: "Consumed deliveries by outcome (acked, rejected).",
	}, []string{"outcome"})

	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailcode_broker_health_checks_total",
		Help: "Broker health probes by result.",
	}, []string{"result"})

	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mailcode_pending_records",
		Help: "Verification records held in memory after the last sweep.",
	})
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
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordIssue records an issuance request; cooldown refusals pass false.
func RecordIssue(issued bool) {
	if issued {
		codesIssuedTotal.WithLabelValues("issued").Inc()
	} else {
		codesIssuedTotal.WithLabelValues("cooldown").Inc()
	}
}

// RecordVerification records one verification outcome label.
func RecordVerification(outcome string) {
	verificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordPublish matches delivery.MetricsRecorder.
func RecordPublish(outcome string) {
	publishTotal.WithLabelValues(outcome).Inc()
}

// RecordConsume matches delivery.MetricsRecorder.
func RecordConsume(outcome string) {
	consumedTotal.WithLabelValues(outcome).Inc()
}

// RecordHealthCheck records a broker probe result.
func RecordHealthCheck(success bool) {
	if success {
		healthChecksTotal.WithLabelValues("success").Inc()
	} else {
		healthChecksTotal.WithLabelValues("failure").Inc()
	}
}

// SetPendingRecords sets the in-memory record gauge.
func SetPendingRecords(n int) {
	pendingRecords.Set(float64(n))
}
