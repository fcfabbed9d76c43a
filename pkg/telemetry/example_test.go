package telemetry_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codepool/codepool/pkg/telemetry"
)

func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "codepool"
	cfg.ServiceVersion = "1.0.0"
	cfg.Tracing.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		fmt.Println("setup failed:", err)
		return
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	logger := tel.Logger.NewComponentLogger("allocator")
	logger.Debug("telemetry ready")

	fmt.Println("telemetry initialized")
	// Output: telemetry initialized
}

func Example_structuredLogging() {
	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false
	cfg.Logging.Level = "error"

	tel, _ := telemetry.NewTelemetry(cfg)

	logger := tel.Logger.NewComponentLogger("reconciler").
		WithBatchID("batch-7f3a").
		WithCodeID("03")

	logger.Debug("describing resource")
	logger.WithError(errors.New("throttled")).Debug("describe retry")

	fmt.Println("logged")
	// Output: logged
}

func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Enabled = false
	cfg.Events.Enabled = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddress = ":0"

	tel, _ := telemetry.NewTelemetry(cfg)

	tel.Metrics.RecordAllocation("succeeded")
	tel.Metrics.RecordDeletion("initiated")
	tel.Metrics.RecordExternalCall("create", 120*time.Millisecond, nil)
	tel.Metrics.RecordReconcilePass("succeeded", 2*time.Second)
	tel.Metrics.SetPoolGauges(7, 3)
	tel.Metrics.RecordCodeReset()

	fmt.Println("metrics recorded")
	// Output: metrics recorded
}

func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false
	cfg.Events.FlushInterval = 0

	tel, _ := telemetry.NewTelemetry(cfg)
	defer func() { _ = tel.Shutdown(context.Background()) }()

	done := make(chan telemetry.Event, 1)
	tel.Events.Subscribe(func(event telemetry.Event) {
		done <- event
	}, telemetry.FilterByType(telemetry.EventTypeCodeReset))

	_ = tel.Events.PublishAllocationCompleted("batch-1", 2, 0)
	_ = tel.Events.PublishCodeReset("05", "pool-05-20240101000000-1")

	event := <-done
	fmt.Println(event.Type)
	// Output: code.reset
}
