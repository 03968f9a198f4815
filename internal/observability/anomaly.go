package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/salama/internal/config"
)

const (
	// minSamples is the window population required before the error rate
	// is evaluated.
	minSamples = 5

	// outageThreshold is the consecutive-failure count treated as an
	// upstream outage regardless of the windowed rate.
	outageThreshold = 5
)

// AnomalyDetector watches upstream call outcomes per provider and operation.
// It warns when the windowed error rate crosses the configured threshold and
// when a backend fails repeatedly enough to look down. Warnings are throttled
// to one per window per target so a degraded upstream does not flood the log.
type AnomalyDetector struct {
	mu      sync.Mutex
	targets map[target]*upstreamHealth

	window    time.Duration
	threshold float64
	logger    *slog.Logger
}

type target struct {
	provider  string
	operation string
}

type upstreamHealth struct {
	samples     []sample
	consecutive int // Failures since the last success.
	lastWarned  time.Time
	inOutage    bool
}

type sample struct {
	at time.Time
	ok bool
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	secs := cfg.WindowSeconds
	if secs <= 0 {
		secs = 300
	}
	return &AnomalyDetector{
		targets:   make(map[target]*upstreamHealth),
		window:    time.Duration(secs) * time.Second,
		threshold: cfg.ErrorRateThreshold,
		logger:    logger,
	}
}

// Record notes one upstream call outcome for the given provider and operation.
func (a *AnomalyDetector) Record(provider, operation string, ok bool) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := target{provider: provider, operation: operation}
	h, found := a.targets[key]
	if !found {
		h = &upstreamHealth{}
		a.targets[key] = h
	}

	now := time.Now()
	h.samples = append(h.samples, sample{at: now, ok: ok})
	h.prune(now.Add(-a.window))

	if ok {
		if h.inOutage && a.logger != nil {
			a.logger.Info("upstream recovered",
				slog.String("provider", provider),
				slog.String("operation", operation),
				slog.Int("failures", h.consecutive),
			)
		}
		h.consecutive = 0
		h.inOutage = false
		return
	}

	h.consecutive++
	a.evaluate(key, h, now)
}

// evaluate checks the outage and error-rate conditions for one target.
// Must be called with a.mu held.
func (a *AnomalyDetector) evaluate(key target, h *upstreamHealth, now time.Time) {
	if h.consecutive >= outageThreshold && !h.inOutage {
		h.inOutage = true
		h.lastWarned = now
		if a.logger != nil {
			a.logger.Warn("upstream appears down",
				slog.String("provider", key.provider),
				slog.String("operation", key.operation),
				slog.Int("consecutive_failures", h.consecutive),
			)
		}
		return
	}

	if a.threshold <= 0 || len(h.samples) < minSamples {
		return
	}
	if now.Sub(h.lastWarned) < a.window {
		return
	}

	failures := 0
	for _, s := range h.samples {
		if !s.ok {
			failures++
		}
	}
	rate := float64(failures) / float64(len(h.samples))
	if rate > a.threshold {
		h.lastWarned = now
		if a.logger != nil {
			a.logger.Warn("high upstream error rate",
				slog.String("provider", key.provider),
				slog.String("operation", key.operation),
				slog.Float64("error_rate", rate),
				slog.Float64("threshold", a.threshold),
				slog.Int("failures", failures),
				slog.Int("samples", len(h.samples)),
			)
		}
	}
}

// errorRate reports the current windowed error rate for a target. Zero when
// the target is unknown or under-sampled.
func (a *AnomalyDetector) errorRate(provider, operation string) float64 {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	h, found := a.targets[target{provider: provider, operation: operation}]
	if !found {
		return 0
	}
	h.prune(time.Now().Add(-a.window))
	if len(h.samples) == 0 {
		return 0
	}
	failures := 0
	for _, s := range h.samples {
		if !s.ok {
			failures++
		}
	}
	return float64(failures) / float64(len(h.samples))
}

// prune drops samples older than the cutoff.
func (h *upstreamHealth) prune(cutoff time.Time) {
	i := 0
	for i < len(h.samples) && h.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		h.samples = h.samples[i:]
	}
}
