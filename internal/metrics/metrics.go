// Package metrics exposes Prometheus metrics for HTTP requests and
// certificate lifecycle events.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on one registry
type Metrics struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	issued          prometheus.Counter
	verifications   *prometheus.CounterVec
	statusChanges   *prometheus.CounterVec
	rotations       *prometheus.CounterVec
}

// New creates a registry with the standard process and Go collectors and the
// certseal collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "http",
			Name:      "request_duration_seconds",
			Help:      "A histogram of duration, in seconds, handling HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"method", "path", "status"}),
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "certseal",
			Name:      "certificates_issued_total",
			Help:      "Number of certificates issued.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certseal",
			Name:      "verifications_total",
			Help:      "Number of verification requests by resulting status.",
		}, []string{"status"}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certseal",
			Name:      "status_changes_total",
			Help:      "Number of manual certificate status changes by target status.",
		}, []string{"status"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "certseal",
			Name:      "rotations_total",
			Help:      "Number of re-encrypted certificate objects by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	m.registry.MustRegister(
		m.requestDuration,
		m.issued,
		m.verifications,
		m.statusChanges,
		m.rotations,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware returns a middleware that observes request_duration_seconds on every request
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.requestDuration.With(prometheus.Labels{
			"method": c.Request.Method,
			"path":   path,
			"status": strconv.Itoa(c.Writer.Status()),
		}).Observe(time.Since(t).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() gin.HandlerFunc {
	handler := promhttp.InstrumentMetricHandler(
		m.registry,
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return gin.WrapH(handler)
}

// CertificateIssued counts a newly issued certificate
func (m *Metrics) CertificateIssued() {
	if m == nil {
		return
	}
	m.issued.Inc()
}

// Verified counts a verification with the given result status
func (m *Metrics) Verified(status string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(status).Inc()
}

// StatusChanged counts a manual status change
func (m *Metrics) StatusChanged(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

// Rotated counts one re-encrypted object
func (m *Metrics) Rotated(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.rotations.WithLabelValues(kind, outcome).Inc()
}
