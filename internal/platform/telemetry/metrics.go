// Package telemetry exposes Prometheus metrics for the HTTP layer and for the
// portal's domain events.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "compass"

// Metrics owns a private registry so tests and multiple servers in one process
// do not collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	patients      *prometheus.CounterVec
	duplicates    prometheus.Counter
	exports       *prometheus.CounterVec
	importRows    *prometheus.CounterVec
	remindersSent *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		patients: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patients_registered_total",
			Help:      "Patients registered, by source (form or import)",
		}, []string{"source"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_patients_detected_total",
			Help:      "Registrations blocked by duplicate detection",
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Table exports, by resource and format",
		}, []string{"resource", "format"}),
		importRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Imported spreadsheet rows, by outcome",
		}, []string{"outcome"}),
		remindersSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "followup_reminders_total",
			Help:      "Follow-up reminder pushes, by status",
		}, []string{"status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups, by result",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.patients, m.duplicates, m.exports, m.importRows, m.remindersSent, m.cacheLookups,
	)
	return m
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the text exposition format on /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records request counts and latency labelled by route template,
// so /patients/:id does not explode into one series per patient.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// The recorders below accept a nil receiver so services can run without metrics.

func (m *Metrics) PatientRegistered(source string) {
	if m != nil {
		m.patients.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) DuplicateDetected() {
	if m != nil {
		m.duplicates.Inc()
	}
}

func (m *Metrics) Exported(resource, format string) {
	if m != nil {
		m.exports.WithLabelValues(resource, format).Inc()
	}
}

func (m *Metrics) ImportRows(outcome string, n int) {
	if m != nil && n > 0 {
		m.importRows.WithLabelValues(outcome).Add(float64(n))
	}
}

func (m *Metrics) ReminderSent(ok bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !ok {
		status = "failed"
	}
	m.remindersSent.WithLabelValues(status).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
