// Package telemetry provides observability for converge runs.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and run event publishing:
//
//  1. Logger - zerolog with run, application and component fields
//  2. Tracer - OpenTelemetry provider with otlp, stdout or no exporter
//  3. Metrics - implements engine.Recorder and instruments control-plane calls
//  4. EventPublisher - implements engine.EventPublisher and fans events out
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.Events.Subscribe(telemetry.LogSubscriber(tel.Logger.Zerolog()), nil)
//
//	orch := engine.NewOrchestrator(kinds,
//	    engine.WithRecorder(tel.Metrics),
//	    engine.WithEventPublisher(tel.Events),
//	    engine.WithTracer(tel.Tracer.Tracer()),
//	    engine.WithLogger(tel.Logger.Zerolog()),
//	)
//
// # Control-plane calls
//
// Metrics.UnaryClientInterceptor counts every call attempt by method and
// status code. Install it through controlplane.DialConfig.Interceptors so it
// runs inside the retry interceptor, and set RetryPolicy.OnRetry to
// Metrics.RecordRetry to count retries.
//
// # Metrics
//
//	converge_runs_completed_total{status}
//	converge_run_duration_seconds{status}
//	converge_phase_duration_seconds{phase,status}
//	converge_planned_changes_total{kind,operation}
//	converge_controlplane_calls_total{method,code}
//	converge_controlplane_call_duration_seconds{method}
//	converge_controlplane_retries_total{method,code}
//	converge_errors_total{class,code}
package telemetry
