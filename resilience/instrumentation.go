package resilience

import "github.com/hackload/paymentcore/telemetry"

func init() {
	// ONLY declare metrics, don't initialize
	telemetry.DeclareMetrics("circuit_breaker", telemetry.ModuleConfig{
		Metrics: []telemetry.MetricDefinition{
			{
				Name: "circuit_breaker.calls",
				Type: "counter",
				Help: "Total circuit breaker calls",
				Labels: []string{"name", "state"},
			},
			{
				Name: "circuit_breaker.duration_ms",
				Type: "histogram",
				Help: "Circuit breaker call duration in milliseconds",
				Labels: []string{"name", "status"},
				Unit: "ms",
				Buckets: []float64{0.1, 1, 10, 100, 1000},
			},
			{
				Name: "circuit_breaker.failures",
				Type: "counter",
				Help: "Circuit breaker failures",
				Labels: []string{"name", "error_type"},
			},
			{
				Name: "circuit_breaker.state_changes",
				Type: "counter",
				Help: "Circuit breaker state transitions",
				Labels: []string{"name", "from_state", "to_state"},
			},
			{
				Name: "circuit_breaker.current_state",
				Type: "gauge",
				Help: "Current circuit breaker state (0=closed, 0.5=half-open, 1=open)",
				Labels: []string{"name"},
			},
			{
				Name: "circuit_breaker.rejected",
				Type: "counter",
				Help: "Requests rejected by open circuit",
				Labels: []string{"name"},
			},
		},
	})
	
	telemetry.DeclareMetrics("retry", telemetry.ModuleConfig{
		Metrics: []telemetry.MetricDefinition{
			{
				Name:   telemetry.MetricRetryAttempts,
				Type:   "counter",
				Help:   "Total attempts made by resilience.Do across all operations",
				Labels: []string{"operation"},
			},
			{
				Name:   telemetry.MetricRetryExhausted,
				Type:   "counter",
				Help:   "Operations that exhausted their category's max attempts",
				Labels: []string{"operation", "category"},
			},
			{
				Name:    telemetry.MetricRetryDelay,
				Type:    "histogram",
				Help:    "Backoff delay applied between retry attempts",
				Labels:  []string{"operation", "category"},
				Unit:    "ms",
				Buckets: []float64{10, 50, 100, 500, 1000, 5000, 30000, 60000},
			},
		},
	})
}