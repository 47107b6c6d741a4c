package telemetry

import (
	"context"

	"github.com/hackload/paymentcore/core"
)

// FrameworkMetricsRegistry implements core.MetricsRegistry by delegating
// every emission to this package's global OTel registry, so every
// domain package (auth, payment, webhook, lockobserver, resilience)
// that calls core.GetGlobalMetricsRegistry() reaches the same exporter
// pipeline once EnableFrameworkIntegration runs.
type FrameworkMetricsRegistry struct {
	logger *TelemetryLogger
}

// NewFrameworkMetricsRegistry creates a new framework metrics registry.
func NewFrameworkMetricsRegistry(logger *TelemetryLogger) *FrameworkMetricsRegistry {
	return &FrameworkMetricsRegistry{logger: logger}
}

func (f *FrameworkMetricsRegistry) Counter(name string, labels ...string) {
	Emit(name, 1.0, labels...)
}

func (f *FrameworkMetricsRegistry) Gauge(name string, value float64, labels ...string) {
	Emit(name, value, labels...)
}

func (f *FrameworkMetricsRegistry) Histogram(name string, value float64, labels ...string) {
	Emit(name, value, labels...)
}

func (f *FrameworkMetricsRegistry) EmitWithContext(ctx context.Context, name string, value float64, labels ...string) {
	EmitWithContext(ctx, name, value, labels...)
}

func (f *FrameworkMetricsRegistry) GetBaggage(ctx context.Context) map[string]string {
	return GetBaggage(ctx)
}

// EnableFrameworkIntegration registers the telemetry module with core so
// every package reaching for core.GetGlobalMetricsRegistry() gets a live
// sink instead of nil. Must run after Initialize.
func EnableFrameworkIntegration(logger *TelemetryLogger) {
	registry := NewFrameworkMetricsRegistry(logger)
	core.SetMetricsRegistry(registry)

	if logger != nil {
		logger.Info("Framework integration enabled", map[string]interface{}{
			"integration": "core.MetricsRegistry",
		})
	}
}
