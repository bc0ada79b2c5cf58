package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build several instances.
type Metrics struct {
	registry          *prometheus.Registry
	reportDuration    prometheus.Histogram
	loggersTotal      *prometheus.CounterVec
	queriesTotal      *prometheus.CounterVec
	jobsTotal         *prometheus.CounterVec
	outboxTotal       *prometheus.CounterVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "report_generation_seconds",
			Help:    "Histogram of event report generation durations.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		loggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_loggers_total",
			Help: "Loggers processed or skipped during report generation.",
		}, []string{"outcome"}),
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsdb_queries_total",
			Help: "Time-series queries by kind and outcome.",
		}, []string{"kind", "outcome"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_jobs_total",
			Help: "Async report jobs by final status.",
		}, []string{"status"}),
		outboxTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_outbox_deliveries_total",
			Help: "Report-ready notifications by outcome.",
		}, []string{"outcome"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.reportDuration,
		m.loggersTotal,
		m.queriesTotal,
		m.jobsTotal,
		m.outboxTotal,
		m.httpRequestsTotal,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Query(kind, outcome string) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Logger(outcome string) {
	if m == nil {
		return
	}
	m.loggersTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReportDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.reportDuration.Observe(d.Seconds())
}

func (m *Metrics) Job(status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) Outbox(outcome string) {
	if m == nil {
		return
	}
	m.outboxTotal.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Flush keeps NDJSON streaming working through the wrapper.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
