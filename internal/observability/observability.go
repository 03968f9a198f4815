// Package observability carries the gateway's telemetry: Prometheus
// request and token metrics, OpenTelemetry spans around upstream calls,
// liveness and readiness probes, and a windowed upstream error monitor.
// Every component is optional. The model wrappers and HTTP handlers
// tolerate nil components, so a bare config runs with no telemetry at all.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/salama/internal/config"
)

// Observability bundles the telemetry components that the serve and
// client commands pass around. A disabled feature leaves its field nil.
type Observability struct {
	Metrics *MetricsCollector
	Tracing *Tracing
	Anomaly *AnomalyDetector
	Health  *HealthChecker
}

// New builds the components cfg enables. A nil cfg disables everything
// and yields a nil Observability, which every method accepts.
func New(cfg *config.ObservabilityConfig, logger *slog.Logger) (*Observability, error) {
	if cfg == nil {
		return nil, nil
	}

	// The health checker always exists so the probe endpoints answer
	// even with metrics and tracing off. Checks are registered later,
	// once the stores they probe are open.
	o := &Observability{Health: NewHealthChecker(logger)}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		o.Metrics = NewMetricsCollector()
	}
	if cfg.Anomaly != nil && cfg.Anomaly.Enabled {
		o.Anomaly = NewAnomalyDetector(cfg.Anomaly, logger)
	}
	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		tracing, err := NewTracing(cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		o.Tracing = tracing
	}

	return o, nil
}

// Shutdown flushes and stops the span exporter. The other components
// hold no resources and need no teardown.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil || o.Tracing == nil {
		return
	}
	_ = o.Tracing.Shutdown(ctx)
}

// TracingOrNil is a nil-safe accessor used when wiring instrumented models.
func (o *Observability) TracingOrNil() *Tracing {
	if o == nil {
		return nil
	}
	return o.Tracing
}
