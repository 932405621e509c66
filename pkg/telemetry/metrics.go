package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openfroyo/converge/pkg/engine"
)

// Metrics provides Prometheus metrics for reconciliation runs and
// control-plane calls. It implements engine.Recorder. Every method is safe on
// a disabled instance.
type Metrics struct {
	config MetricsConfig

	runsCompleted  *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	phaseDuration  *prometheus.HistogramVec
	plannedChanges *prometheus.CounterVec

	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	rpcRetries  *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ engine.Recorder = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
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

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of apply phases in seconds",
				Buckets:   buckets,
			},
			[]string{"phase", "status"},
		),
		plannedChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "planned_changes_total",
				Help:      "Total number of planned changes by kind and operation",
			},
			[]string{"kind", "operation"},
		),

		rpcCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "controlplane_calls_total",
				Help:      "Total number of control-plane call attempts",
			},
			[]string{"method", "code"},
		),
		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "controlplane_call_duration_seconds",
				Help:      "Duration of control-plane call attempts in seconds",
				Buckets:   buckets,
			},
			[]string{"method"},
		),
		rpcRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "controlplane_retries_total",
				Help:      "Total number of control-plane call retries",
			},
			[]string{"method", "code"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of run errors by class and code",
			},
			[]string{"class", "code"},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.phaseDuration,
		m.plannedChanges,
		m.rpcCalls,
		m.rpcDuration,
		m.rpcRetries,
		m.errorsByClass,
	)

	return m, nil
}

// RecordRunCompleted records a finished run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordPhase records one phase barrier.
func (m *Metrics) RecordPhase(phase, status string, duration time.Duration) {
	if m.phaseDuration == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase, status).Observe(duration.Seconds())
}

// RecordPlannedChanges adds count planned changes of kind.
func (m *Metrics) RecordPlannedChanges(kind, operation string, count int) {
	if m.plannedChanges == nil {
		return
	}
	m.plannedChanges.WithLabelValues(kind, operation).Add(float64(count))
}

// RecordError records a run error by its engine class and code.
func (m *Metrics) RecordError(err error) {
	if m.errorsByClass == nil || err == nil {
		return
	}
	class, code := string(engine.ErrorClassPermanent), ""
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		class, code = string(ee.Class), ee.Code
	}
	m.errorsByClass.WithLabelValues(class, code).Inc()
}

// RecordRetry counts one retry. It matches transport.RetryPolicy.OnRetry.
func (m *Metrics) RecordRetry(fullMethod string, code codes.Code) {
	if m.rpcRetries == nil {
		return
	}
	m.rpcRetries.WithLabelValues(fullMethod, code.String()).Inc()
}

// UnaryClientInterceptor records every call attempt. Installed inside the
// retry interceptor, it sees each attempt separately.
func (m *Metrics) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		if m.rpcCalls != nil {
			m.rpcCalls.WithLabelValues(method, status.Code(err).String()).Inc()
			m.rpcDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}
		return err
	}
}

// Registry returns the Prometheus registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
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

// StartMetricsServer serves metrics on the configured address until ctx is
// done. It returns immediately when metrics are disabled or no address is
// set.
func (m *Metrics) StartMetricsServer(ctx context.Context, onError func(error)) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(fmt.Errorf("metrics server: %w", err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return nil
}
