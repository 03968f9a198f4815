package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/salama/internal/config"
	"github.com/jkaninda/salama/internal/gateway/httpapi"
	"github.com/jkaninda/salama/internal/ratelimit"
)

var (
	serveConfigPath string
	serveAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `salama --config path` and `salama serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts the gateway: HTTP API, usage ledger, retention job.
func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	cfg, err := config.Load(goutils.Env("SALAMA_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveAddr != "" {
		if cfg.Server == nil {
			cfg.Server = &config.ServerConfig{}
		}
		cfg.Server.ListenAddr = serveAddr
	}

	logger.Info("starting gateway",
		slog.String("config", serveConfigPath),
		slog.String("provider", cfg.Providers.DefaultProvider()),
	)

	app, err := initApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Retention job: prune usage records past the configured age.
	if cfg.Retention != nil && cfg.Retention.Enabled {
		c := cron.New()
		if _, err := c.AddFunc(cfg.Retention.CronSchedule(), func() {
			pruneUsage(app, cfg.Retention.MaxAge())
		}); err != nil {
			return fmt.Errorf("scheduling retention job: %w", err)
		}
		c.Start()
		defer c.Stop()
		logger.Debug("retention job scheduled",
			slog.String("schedule", cfg.Retention.CronSchedule()),
			slog.String("max_age", cfg.Retention.MaxAge().String()),
		)
	}

	gw := buildGateway(cfg, app)

	// Start the gateway in a goroutine.
	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping gateway", slog.String("error", err.Error()))
	}

	return nil
}

// buildGateway creates the HTTP gateway from config and the app's
// shared components.
func buildGateway(cfg *config.Config, app *App) *httpapi.Gateway {
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Server.Limit().RequestsPerMinute,
		BurstSize:         cfg.Server.Limit().BurstSize,
	})

	// Build raw key -> key name mapping. Keys are revealed only here, on
	// their way into the authenticator's comparison table.
	apiKeys := make(map[string]string)
	for _, kc := range cfg.Server.Keys() {
		if kc.Key.IsZero() {
			app.Logger.Warn("skipping API key with no value", slog.String("name", kc.Name))
			continue
		}
		apiKeys[kc.Key.Reveal()] = kc.Name
	}

	httpCfg := httpapi.Config{
		ListenAddr:     cfg.Server.Addr(),
		EnableDocs:     cfg.Server != nil && cfg.Server.EnableDocs,
		APIKeys:        apiKeys,
		MaxRequestSize: cfg.Server.MaxRequestSize(),
	}
	if app.Obs != nil {
		httpCfg.Metrics = app.Obs.Metrics
		httpCfg.HealthChecker = app.Obs.Health
		if app.Obs.Metrics != nil {
			httpCfg.MetricsRegistry = app.Obs.Metrics.Registry
		}
		if app.Obs.Tracing != nil {
			httpCfg.Tracer = app.Obs.Tracing.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}

	return httpapi.NewGateway(httpCfg, limiter, app.Logger).
		WithChatModel(app.Chat).
		WithCompletionModel(app.Completion).
		WithEmbeddingModel(app.Embedding).
		WithUsageStore(app.Store.Usage())
}

// pruneUsage deletes usage records older than maxAge and records the count.
func pruneUsage(app *App, maxAge time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-maxAge)
	removed, err := app.Store.Usage().DeleteOlderThan(ctx, cutoff)
	if err != nil {
		app.Logger.Error("pruning usage records", slog.String("error", err.Error()))
		return
	}
	if app.Obs != nil && app.Obs.Metrics != nil {
		app.Obs.Metrics.UsagePrunedTotal.Add(float64(removed))
	}
	app.Logger.Info("usage records pruned",
		slog.Int64("removed", removed),
		slog.Time("cutoff", cutoff),
	)
}
