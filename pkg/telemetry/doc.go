// Package telemetry provides observability instrumentation for the code
// pool engine.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a single
// handle that the engine components share.
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "codepool"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Components take a component-scoped logger:
//
//	logger := tel.Logger.NewComponentLogger("allocator")
//	logger = logger.WithBatchID(batchID).WithCodeID(codeID)
//	logger.Info("reserving code")
//	logger.WithError(err).Error("resource creation failed")
//
// Metrics track allocation, deletion, and reconciliation outcomes plus the
// pool composition gauges, and are exposed via HTTP at /metrics (default
// :9090/metrics). Events mirror the engine's lifecycle transitions
// (allocation.completed, deletion.initiated, reconcile.pass_completed,
// code.reset, trigger.toggled) and support buffered async delivery with
// per-subscriber filters.
//
// Zero values are safe: a zero Metrics records nothing, a zero
// EventPublisher drops everything, and NopLogger discards all output.
// Engine components rely on this so telemetry stays optional in tests.
package telemetry
