// Package metrics exposes Prometheus collectors for lecture jobs, pipeline
// stages and the HTTP facade.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lecture_service"

// Stage outcomes recorded on the stage duration histogram.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics groups every collector the service records. A nil *Metrics is a no-op.
type Metrics struct {
	registry      *prometheus.Registry
	jobsSubmitted prometheus.Counter
	jobsRejected  *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	activeJobs    prometheus.Gauge
	queueDepth    prometheus.Gauge
	stageDuration *prometheus.HistogramVec
	artifactBytes *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
}

// New creates the collectors and registers them on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Lecture jobs accepted for processing.",
		}),
		jobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Lecture jobs refused before processing, by reason.",
		}, []string{"reason"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Lecture jobs that reached a terminal status.",
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Lecture jobs currently running on a worker.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Lecture jobs waiting for a worker.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage", "outcome"}),
		artifactBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_bytes_total",
			Help:      "Bytes uploaded to the blob store, by artifact kind.",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status code.",
		}, []string{"method", "route", "code"}),
	}

	m.registry.MustRegister(
		m.jobsSubmitted,
		m.jobsRejected,
		m.jobsFinished,
		m.activeJobs,
		m.queueDepth,
		m.stageDuration,
		m.artifactBytes,
		m.httpRequests,
		prometheus.NewGoCollector(),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

func (m *Metrics) JobSubmitted() {
	if m == nil {
		return
	}

	m.jobsSubmitted.Inc()
}

func (m *Metrics) JobRejected(reason string) {
	if m == nil {
		return
	}

	m.jobsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) JobFinished(status core.JobStatus) {
	if m == nil {
		return
	}

	m.jobsFinished.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}

	m.activeJobs.Inc()
}

func (m *Metrics) JobStopped() {
	if m == nil {
		return
	}

	m.activeJobs.Dec()
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}

	m.queueDepth.Set(float64(depth))
}

// ObserveStage records how long a stage took and whether it succeeded.
func (m *Metrics) ObserveStage(stage core.StepName, outcome string, duration time.Duration) {
	if m == nil {
		return
	}

	m.stageDuration.WithLabelValues(string(stage), outcome).Observe(duration.Seconds())
}

func (m *Metrics) ArtifactUploaded(kind core.BlobKind, size int64) {
	if m == nil {
		return
	}

	m.artifactBytes.WithLabelValues(string(kind)).Add(float64(size))
}

func (m *Metrics) HTTPRequest(method, route string, code int) {
	if m == nil {
		return
	}

	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
