// Package metrics provides Prometheus metrics instrumentation for the webhook.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector provides metrics recording interface.
// This allows components to record metrics without direct prometheus dependency.
type Collector interface {
	// Admission metrics
	RecordAdmission(ctx context.Context, kind, operation, outcome string)
	RecordPreflightDuration(ctx context.Context, kind string, duration time.Duration)

	// Resource store metrics
	RecordStoreCall(ctx context.Context, method, kind, status string, duration time.Duration)
	RecordStoreError(ctx context.Context, method, errorType string)

	// Background task metrics
	RecordTask(ctx context.Context, task, status string, duration time.Duration)
	RecordTaskError(ctx context.Context, task, errorType string)
	RecordTasksInFlight(ctx context.Context, count int)
}

// prometheusCollector implements Collector using Prometheus metrics.
type prometheusCollector struct {
	// Admission metrics
	admissionTotal    *prometheus.CounterVec
	preflightDuration *prometheus.HistogramVec

	// Resource store metrics
	storeDuration    *prometheus.HistogramVec
	storeCallsTotal  *prometheus.CounterVec
	storeErrorsTotal *prometheus.CounterVec

	// Background task metrics
	taskDuration    *prometheus.HistogramVec
	taskRunsTotal   *prometheus.CounterVec
	taskErrorsTotal *prometheus.CounterVec
	tasksInFlight   prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector and registers metrics.
func NewCollector(reg prometheus.Registerer) Collector {
	c := &prometheusCollector{}
	c.initAdmissionMetrics()
	c.initStoreMetrics()
	c.initTaskMetrics()
	c.register(reg)

	return c
}

// RecordAdmission records one admission decision.
func (c *prometheusCollector) RecordAdmission(_ context.Context, kind, operation, outcome string) {
	c.admissionTotal.WithLabelValues(kind, operation, outcome).Inc()
}

// RecordPreflightDuration records how long synchronous validation took.
func (c *prometheusCollector) RecordPreflightDuration(_ context.Context, kind string, duration time.Duration) {
	c.preflightDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordStoreCall records a resource store call.
func (c *prometheusCollector) RecordStoreCall(
	_ context.Context,
	method, kind, status string,
	duration time.Duration,
) {
	c.storeDuration.WithLabelValues(method, kind).Observe(duration.Seconds())
	c.storeCallsTotal.WithLabelValues(method, kind, status).Inc()
}

// RecordStoreError records a classified resource store error.
func (c *prometheusCollector) RecordStoreError(_ context.Context, method, errorType string) {
	c.storeErrorsTotal.WithLabelValues(method, errorType).Inc()
}

// RecordTask records a finished background task.
func (c *prometheusCollector) RecordTask(_ context.Context, task, status string, duration time.Duration) {
	c.taskDuration.WithLabelValues(task).Observe(duration.Seconds())
	c.taskRunsTotal.WithLabelValues(task, status).Inc()
}

// RecordTaskError records a background task failure by type.
func (c *prometheusCollector) RecordTaskError(_ context.Context, task, errorType string) {
	c.taskErrorsTotal.WithLabelValues(task, errorType).Inc()
}

// RecordTasksInFlight records the number of running background tasks.
func (c *prometheusCollector) RecordTasksInFlight(_ context.Context, count int) {
	c.tasksInFlight.Set(float64(count))
}

func (c *prometheusCollector) initAdmissionMetrics() {
	c.admissionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certhook_admission_requests_total",
			Help: "Admission requests by parent kind, operation and outcome",
		},
		[]string{"kind", "operation", "outcome"},
	)
	c.preflightDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certhook_preflight_duration_seconds",
			Help:    "Duration of synchronous admission validation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"kind"},
	)
}

func (c *prometheusCollector) initStoreMetrics() {
	c.storeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certhook_store_call_duration_seconds",
			Help:    "Duration of Kubernetes API calls made by the resource store",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "kind"},
	)
	c.storeCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certhook_store_calls_total",
			Help: "Total resource store calls",
		},
		[]string{"method", "kind", "status"},
	)
	c.storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certhook_store_errors_total",
			Help: "Total resource store errors by type",
		},
		[]string{"method", "error_type"},
	)
}

func (c *prometheusCollector) initTaskMetrics() {
	c.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certhook_task_duration_seconds",
			Help:    "Duration of background reconciliation tasks",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"task"},
	)
	c.taskRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certhook_task_runs_total",
			Help: "Total background reconciliation tasks",
		},
		[]string{"task", "status"},
	)
	c.taskErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certhook_task_errors_total",
			Help: "Total background task failures by type",
		},
		[]string{"task", "error_type"},
	)
	c.tasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "certhook_tasks_in_flight",
			Help: "Background reconciliation tasks currently running",
		},
	)
}

func (c *prometheusCollector) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.admissionTotal,
		c.preflightDuration,
		c.storeDuration,
		c.storeCallsTotal,
		c.storeErrorsTotal,
		c.taskDuration,
		c.taskRunsTotal,
		c.taskErrorsTotal,
		c.tasksInFlight,
	)
}

// NoopCollector is a no-op implementation of Collector for testing.
type NoopCollector struct{}

// NewNoopCollector creates a new no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordAdmission is a no-op.
func (c *NoopCollector) RecordAdmission(_ context.Context, _, _, _ string) {}

// RecordPreflightDuration is a no-op.
func (c *NoopCollector) RecordPreflightDuration(_ context.Context, _ string, _ time.Duration) {}

// RecordStoreCall is a no-op.
func (c *NoopCollector) RecordStoreCall(_ context.Context, _, _, _ string, _ time.Duration) {}

// RecordStoreError is a no-op.
func (c *NoopCollector) RecordStoreError(_ context.Context, _, _ string) {}

// RecordTask is a no-op.
func (c *NoopCollector) RecordTask(_ context.Context, _, _ string, _ time.Duration) {}

// RecordTaskError is a no-op.
func (c *NoopCollector) RecordTaskError(_ context.Context, _, _ string) {}

// RecordTasksInFlight is a no-op.
func (c *NoopCollector) RecordTasksInFlight(_ context.Context, _ int) {}
