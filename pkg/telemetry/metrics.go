package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the code pool engine.
// The zero value is a no-op collector, so callers never need nil checks.
type Metrics struct {
	config MetricsConfig

	// Allocation metrics
	allocationsTotal   *prometheus.CounterVec
	allocationDuration *prometheus.HistogramVec

	// Deletion metrics
	deletionsTotal *prometheus.CounterVec

	// Reconciliation metrics
	reconcilePasses       *prometheus.CounterVec
	reconcilePassDuration *prometheus.HistogramVec
	codeResets            prometheus.Counter

	// External resource manager metrics
	externalCalls    *prometheus.CounterVec
	externalDuration *prometheus.HistogramVec
	externalErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Pool gauges
	poolAvailable prometheus.Gauge
	poolLinked    prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		allocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "allocations_total",
				Help:      "Total number of code allocations by outcome",
			},
			[]string{"status"},
		),
		allocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "allocation_duration_seconds",
				Help:      "Duration of allocation batches in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		deletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deletions_total",
				Help:      "Total number of deletion requests by outcome",
			},
			[]string{"class"},
		),

		reconcilePasses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_passes_total",
				Help:      "Total number of reconciliation passes by outcome",
			},
			[]string{"status"},
		),
		reconcilePassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reconcile_pass_duration_seconds",
				Help:      "Duration of reconciliation passes in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		codeResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "code_resets_total",
				Help:      "Total number of codes reset to available",
			},
		),

		externalCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "external_calls_total",
				Help:      "Total number of resource manager calls",
			},
			[]string{"operation"},
		),
		externalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "external_call_duration_seconds",
				Help:      "Duration of resource manager calls in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		externalErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "external_errors_total",
				Help:      "Total number of resource manager call errors",
			},
			[]string{"operation"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		poolAvailable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_available_codes",
				Help:      "Current number of available codes in the pool",
			},
		),
		poolLinked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_linked_codes",
				Help:      "Current number of codes linked to a resource",
			},
		),
	}

	registry.MustRegister(
		m.allocationsTotal,
		m.allocationDuration,
		m.deletionsTotal,
		m.reconcilePasses,
		m.reconcilePassDuration,
		m.codeResets,
		m.externalCalls,
		m.externalDuration,
		m.externalErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.poolAvailable,
		m.poolLinked,
	)

	return m, nil
}

// Allocation Metrics

// RecordAllocation records the outcome of a single code allocation.
func (m *Metrics) RecordAllocation(status string) {
	if m.allocationsTotal == nil {
		return
	}
	m.allocationsTotal.WithLabelValues(status).Inc()
}

// RecordAllocationBatch records an allocation batch with its duration.
func (m *Metrics) RecordAllocationBatch(status string, duration time.Duration) {
	if m.allocationDuration == nil {
		return
	}
	m.allocationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Deletion Metrics

// RecordDeletion records a deletion request by outcome class.
func (m *Metrics) RecordDeletion(class string) {
	if m.deletionsTotal == nil {
		return
	}
	m.deletionsTotal.WithLabelValues(class).Inc()
}

// Reconciliation Metrics

// RecordReconcilePass records a completed reconciliation pass.
func (m *Metrics) RecordReconcilePass(status string, duration time.Duration) {
	if m.reconcilePasses == nil {
		return
	}
	m.reconcilePasses.WithLabelValues(status).Inc()
	m.reconcilePassDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordCodeReset records a code returned to the available pool.
func (m *Metrics) RecordCodeReset() {
	if m.codeResets == nil {
		return
	}
	m.codeResets.Inc()
}

// External Call Metrics

// RecordExternalCall records a resource manager call with its duration.
func (m *Metrics) RecordExternalCall(operation string, duration time.Duration, err error) {
	if m.externalCalls == nil {
		return
	}
	m.externalCalls.WithLabelValues(operation).Inc()
	m.externalDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.externalErrors.WithLabelValues(operation).Inc()
	}
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Pool Gauges

// SetPoolGauges sets the current pool composition.
func (m *Metrics) SetPoolGauges(available, linked int) {
	if m.poolAvailable == nil {
		return
	}
	m.poolAvailable.Set(float64(available))
	m.poolLinked.Set(float64(linked))
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
