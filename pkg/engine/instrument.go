package engine

import (
	"github.com/codepool/codepool/pkg/telemetry"
)

// componentLogger derives a component-scoped logger from the optional
// telemetry handle. Services accept a nil *telemetry.Telemetry and degrade
// to a no-op stack.
func componentLogger(tel *telemetry.Telemetry, component string) *telemetry.Logger {
	if tel == nil || tel.Logger == nil {
		return telemetry.NopLogger()
	}
	return tel.Logger.NewComponentLogger(component)
}

// metricsOf returns the metrics collector, or an inert one.
func metricsOf(tel *telemetry.Telemetry) *telemetry.Metrics {
	if tel == nil || tel.Metrics == nil {
		return &telemetry.Metrics{}
	}
	return tel.Metrics
}

// eventsOf returns the event publisher, or an inert one.
func eventsOf(tel *telemetry.Telemetry) *telemetry.EventPublisher {
	if tel == nil || tel.Events == nil {
		return &telemetry.EventPublisher{}
	}
	return tel.Events
}
