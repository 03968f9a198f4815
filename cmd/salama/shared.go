package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jkaninda/salama/internal/config"
	"github.com/jkaninda/salama/internal/llm"
	"github.com/jkaninda/salama/internal/llm/azure"
	"github.com/jkaninda/salama/internal/llm/openai"
	"github.com/jkaninda/salama/internal/observability"
	"github.com/jkaninda/salama/internal/storage"
	pgstore "github.com/jkaninda/salama/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/salama/internal/storage/sqlite"
)

// App holds the initialized subsystems the serve and usage commands
// share: resolved config, storage, telemetry, and the model clients.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store

	Obs        *observability.Observability
	Chat       llm.ChatModel
	Completion llm.CompletionModel
	Embedding  llm.EmbeddingModel

	closers []func()
}

// Close tears the subsystems down in reverse start order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// newLogger builds the process-wide structured logger from the
// --log-level flag. Unknown levels fall back to info.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// initApp wires the full stack for commands that need storage and
// telemetry alongside the model clients. The caller owns Close.
func initApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Credentials referenced as env://, file:// or vault:// URIs are
	// pulled through the provider chain once, up front, so everything
	// downstream sees populated Secret values.
	if err := cfg.ResolveSecretRefs(context.Background()); err != nil {
		return nil, fmt.Errorf("resolving secret refs: %w", err)
	}

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	app.Obs = obs
	app.onClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(ctx)
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracing != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	if err := app.initModels(); err != nil {
		app.Close()
		return nil, err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Store = store
	app.onClose(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})
	if err := store.Migrate(context.Background()); err != nil {
		app.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("storage", store.Ping)
	}

	return app, nil
}

// initModels builds the model clients for the default provider and,
// when metrics are on, wraps them with instrumentation.
func (a *App) initModels() error {
	chat, completion, embedding, err := buildModels(a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("initializing LLM clients: %w", err)
	}
	a.Logger.Debug("llm clients initialized", slog.String("provider", chat.Name()))

	if obs := a.Obs; obs != nil && obs.Metrics != nil {
		chat = observability.NewInstrumentedChatModel(chat, obs.Metrics, obs.TracingOrNil(), obs.Anomaly)
		completion = observability.NewInstrumentedCompletionModel(completion, obs.Metrics, obs.TracingOrNil(), obs.Anomaly)
		embedding = observability.NewInstrumentedEmbeddingModel(embedding, obs.Metrics, obs.TracingOrNil(), obs.Anomaly)
	}
	a.Chat, a.Completion, a.Embedding = chat, completion, embedding
	return nil
}

// openStore opens the configured backend, SQLite unless config says
// otherwise.
func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	storeCfg, err := storeConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(storeCfg, logger)
}

// storeConfig assembles the storage settings. The postgres DSN leaves
// its masked wrapper only here, on its way into the pool constructor.
func storeConfig(cfg *config.Config) (storage.Config, error) {
	out := storage.Config{
		Driver: cfg.StorageDriverName(),
		SQLite: sqlitestore.Config{Path: cfg.DatabasePath()},
	}
	if s := cfg.Storage; s != nil && s.SQLite != nil {
		if s.SQLite.Path != "" {
			out.SQLite.Path = s.SQLite.Path
		}
		out.SQLite.JournalMode = s.SQLite.JournalMode
	}

	if out.Driver == storage.DriverPostgres {
		if cfg.Storage == nil || cfg.Storage.Postgres == nil || cfg.Storage.Postgres.DSN.IsZero() {
			return storage.Config{}, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or SALAMA_DB_DSN)")
		}
		pg := cfg.Storage.Postgres
		out.Postgres = pgstore.Config{
			DSN:             pg.DSN.Reveal(),
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}
	}
	return out, nil
}

// buildModels creates the chat, completion, and embedding clients for
// the configured default provider.
func buildModels(cfg *config.Config, logger *slog.Logger) (llm.ChatModel, llm.CompletionModel, llm.EmbeddingModel, error) {
	switch name := cfg.Providers.DefaultProvider(); name {
	case "openai":
		return openAIModels(cfg.Providers.OpenAI, logger)
	case "azure":
		return azureModels(cfg.Providers.Azure, logger)
	default:
		return nil, nil, nil, fmt.Errorf("unknown provider: %q (supported: openai, azure)", name)
	}
}

// openAIModels builds the three OpenAI clients. The API key is revealed
// per constructor call and never held in an intermediate variable.
func openAIModels(oc config.OpenAIConfig, logger *slog.Logger) (llm.ChatModel, llm.CompletionModel, llm.EmbeddingModel, error) {
	chat, err := openai.NewChat(openai.ChatConfig{
		APIKey:       oc.APIKey.Reveal(),
		Model:        oc.ModelName(),
		BaseURL:      oc.BaseURL,
		Organization: oc.Organization,
	}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("openai chat: %w", err)
	}
	completion, err := openai.NewCompletion(openai.CompletionConfig{
		APIKey:       oc.APIKey.Reveal(),
		Model:        oc.CompletionModelName(),
		BaseURL:      oc.BaseURL,
		Organization: oc.Organization,
	}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("openai completion: %w", err)
	}
	embedding, err := openai.NewEmbeddings(openai.EmbeddingsConfig{
		APIKey:       oc.APIKey.Reveal(),
		Model:        oc.EmbeddingModelName(),
		BaseURL:      oc.BaseURL,
		Organization: oc.Organization,
	}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("openai embeddings: %w", err)
	}
	return chat, completion, embedding, nil
}

// azureModels builds the three Azure OpenAI clients, one per deployment.
func azureModels(az config.AzureConfig, logger *slog.Logger) (llm.ChatModel, llm.CompletionModel, llm.EmbeddingModel, error) {
	chat, err := azure.NewChat(azure.ChatConfig{
		Endpoint:   az.Endpoint,
		Deployment: az.Deployment,
		Model:      az.Model,
		APIVersion: az.APIVersion,
		APIKey:     az.APIKey.Reveal(),
		ADToken:    az.ADToken.Reveal(),
	}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("azure chat: %w", err)
	}
	completion, err := azure.NewCompletion(azure.CompletionConfig{
		Endpoint:   az.Endpoint,
		Deployment: az.CompletionDeployment,
		Model:      az.Model,
		APIVersion: az.APIVersion,
		APIKey:     az.APIKey.Reveal(),
		ADToken:    az.ADToken.Reveal(),
	}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("azure completion: %w", err)
	}
	embedding, err := azure.NewEmbeddings(azure.EmbeddingsConfig{
		Endpoint:   az.Endpoint,
		Deployment: az.EmbeddingDeployment,
		Model:      az.Model,
		APIVersion: az.APIVersion,
		APIKey:     az.APIKey.Reveal(),
		ADToken:    az.ADToken.Reveal(),
	}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("azure embeddings: %w", err)
	}
	return chat, completion, embedding, nil
}
