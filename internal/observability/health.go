package observability

import (
	"context"
	"log/slog"
	"time"
)

// healthCheckTimeout bounds one CheckReady pass across all checks.
const healthCheckTimeout = 3 * time.Second

// HealthChecker aggregates readiness from registered dependencies such
// as the usage store and upstream providers.
type HealthChecker struct {
	checks []healthCheck
	logger *slog.Logger
}

type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// HealthStatus is the JSON response for the health and readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Healthy reports whether every check passed.
func (s HealthStatus) Healthy() bool {
	return s.Status == "ok"
}

// CheckResult is the outcome of a single dependency check.
type CheckResult struct {
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // Error message on failure.
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named readiness check.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.checks = append(h.checks, healthCheck{name: name, check: check})
}

// CheckHealth answers the liveness probe. It is always "ok" while the
// process runs; dependency state belongs to readiness.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady runs every registered check under one shared timeout and
// aggregates the results. A single failing check degrades the whole
// status, but the remaining checks still run so the response names
// every broken dependency at once.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	if len(h.checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(h.checks)),
	}
	for _, c := range h.checks {
		result := h.run(ctx, c)
		status.Checks[c.name] = result
		if result.Status != "ok" {
			status.Status = "degraded"
		}
	}
	return status
}

// run executes one check and folds its error into a CheckResult.
func (h *HealthChecker) run(ctx context.Context, c healthCheck) CheckResult {
	err := c.check(ctx)
	if err == nil {
		return CheckResult{Status: "ok"}
	}
	if h.logger != nil {
		h.logger.Warn("readiness check failed",
			slog.String("check", c.name),
			slog.String("error", err.Error()),
		)
	}
	return CheckResult{Status: "fail", Message: err.Error()}
}
