// Package config handles loading and validating Salama configuration.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/salama/internal/secrets"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Salama.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.salama/data. Override: SALAMA_DATA_DIR env var.
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Server        *ServerConfig        `json:"server,omitempty" yaml:"server,omitempty"`               // nil = server defaults
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite default (derived from data dir)
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Retention     *RetentionConfig     `json:"retention,omitempty" yaml:"retention,omitempty"`         // nil = usage records kept forever
	Secrets       *SecretsConfig       `json:"secrets,omitempty" yaml:"secrets,omitempty"`             // nil = env and file references only
}

// ProvidersConfig selects and configures the upstream model providers.
type ProvidersConfig struct {
	Default string       `json:"default" yaml:"default"` // "openai" (default) or "azure".
	OpenAI  OpenAIConfig `json:"openai" yaml:"openai"`
	Azure   AzureConfig  `json:"azure" yaml:"azure"`
}

// DefaultProvider returns the selected provider, defaulting to "openai".
func (p *ProvidersConfig) DefaultProvider() string {
	if p != nil && p.Default != "" {
		return p.Default
	}
	return "openai"
}

// OpenAIConfig configures the standard OpenAI clients. The API key may be
// set inline, through a secret reference, or left empty to fall back to the
// OPENAI_API_KEY environment variable at client construction. An inline
// value takes precedence over the environment.
type OpenAIConfig struct {
	APIKey          secrets.Secret `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APIKeyRef       string         `json:"api_key_ref,omitempty" yaml:"api_key_ref,omitempty"` // e.g. "vault://secret/openai#api_key".
	Model           string         `json:"model" yaml:"model"`
	CompletionModel string         `json:"completion_model,omitempty" yaml:"completion_model,omitempty"` // Default: gpt-3.5-turbo-instruct.
	EmbeddingModel  string         `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`   // Default: text-embedding-3-small.
	BaseURL         string         `json:"base_url,omitempty" yaml:"base_url,omitempty"`                 // Default: https://api.openai.com/v1. Override: OPENAI_BASE_URL env var.
	Organization    string         `json:"organization,omitempty" yaml:"organization,omitempty"`
}

// ModelName returns the chat model, defaulting to gpt-4o-mini.
func (o *OpenAIConfig) ModelName() string {
	if o != nil && o.Model != "" {
		return o.Model
	}
	return "gpt-4o-mini"
}

// CompletionModelName returns the completion model, defaulting to
// gpt-3.5-turbo-instruct.
func (o *OpenAIConfig) CompletionModelName() string {
	if o != nil && o.CompletionModel != "" {
		return o.CompletionModel
	}
	return "gpt-3.5-turbo-instruct"
}

// EmbeddingModelName returns the embedding model, defaulting to
// text-embedding-3-small.
func (o *OpenAIConfig) EmbeddingModelName() string {
	if o != nil && o.EmbeddingModel != "" {
		return o.EmbeddingModel
	}
	return "text-embedding-3-small"
}

// AzureConfig configures the Azure OpenAI clients. Either the API key or
// the Entra ID token must be available; inline values win over their
// AZURE_OPENAI_API_KEY / AZURE_OPENAI_AD_TOKEN environment fallbacks.
type AzureConfig struct {
	APIKey               secrets.Secret `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	APIKeyRef            string         `json:"api_key_ref,omitempty" yaml:"api_key_ref,omitempty"`
	ADToken              secrets.Secret `json:"ad_token,omitempty" yaml:"ad_token,omitempty"`
	ADTokenRef           string         `json:"ad_token_ref,omitempty" yaml:"ad_token_ref,omitempty"`
	Endpoint             string         `json:"endpoint" yaml:"endpoint"`                         // e.g. "https://example.openai.azure.com". Override: AZURE_OPENAI_ENDPOINT env var.
	Deployment           string         `json:"deployment,omitempty" yaml:"deployment,omitempty"` // Defaults to the model name.
	Model                string         `json:"model" yaml:"model"`
	CompletionDeployment string         `json:"completion_deployment,omitempty" yaml:"completion_deployment,omitempty"`
	EmbeddingDeployment  string         `json:"embedding_deployment,omitempty" yaml:"embedding_deployment,omitempty"`
	APIVersion           string         `json:"api_version,omitempty" yaml:"api_version,omitempty"` // Default: 2024-10-21. Override: OPENAI_API_VERSION env var.
}

// ServerConfig configures the HTTP gateway started by `salama serve`.
type ServerConfig struct {
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080". Override: SALAMA_LISTEN_ADDR env var.
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 1 MB.
	APIKeys             []APIKeyConfig  `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`         // Client keys accepted by the gateway. Empty = auth disabled.
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (s *ServerConfig) Addr() string {
	if s != nil && s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request body cap with a default of 1 MB.
func (s *ServerConfig) MaxRequestSize() int64 {
	if s != nil && s.MaxRequestSizeBytes > 0 {
		return s.MaxRequestSizeBytes
	}
	return 1 << 20
}

// Keys returns the configured gateway API keys.
func (s *ServerConfig) Keys() []APIKeyConfig {
	if s == nil {
		return nil
	}
	return s.APIKeys
}

// Limit returns the rate limit settings, zero when the section is absent.
func (s *ServerConfig) Limit() RateLimitConfig {
	if s == nil {
		return RateLimitConfig{}
	}
	return s.RateLimit
}

// APIKeyConfig is one client key accepted by the gateway. The name is
// recorded in the usage ledger; the key itself never is.
type APIKeyConfig struct {
	Name   string         `json:"name" yaml:"name"`
	Key    secrets.Secret `json:"key,omitempty" yaml:"key,omitempty"`
	KeyRef string         `json:"key_ref,omitempty" yaml:"key_ref,omitempty"`
}

// RateLimitConfig configures per-key rate limiting for the gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`                   // Default: requests_per_minute.
}

// StorageConfig configures the usage ledger backend.
// When nil, defaults to SQLite with the database path derived from the data directory.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings. The DSN embeds
// the database password, so it is a secret field; it can also come from a
// reference or the SALAMA_DB_DSN environment variable.
type PostgresStorageConfig struct {
	DSN              secrets.Secret `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	DSNRef           string         `json:"dsn_ref,omitempty" yaml:"dsn_ref,omitempty"`
	MaxOpenConns     int            `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int            `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int            `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics, tracing, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "salama"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0 to 1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures threshold-based error rate monitoring for
// upstream provider calls.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// RetentionConfig configures scheduled pruning of old usage records.
// When nil, records are kept forever.
type RetentionConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Schedule   string `json:"schedule" yaml:"schedule"`         // Cron expression. Default: "0 3 * * *".
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"` // Default: 30.
}

// CronSchedule returns the prune schedule with a default of 03:00 daily.
func (r *RetentionConfig) CronSchedule() string {
	if r != nil && r.Schedule != "" {
		return r.Schedule
	}
	return "0 3 * * *"
}

// MaxAge returns the record age cutoff with a default of 30 days.
func (r *RetentionConfig) MaxAge() time.Duration {
	days := 30
	if r != nil && r.MaxAgeDays > 0 {
		days = r.MaxAgeDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// SecretsConfig configures the secret provider chain used to resolve
// credential references. When nil, env:// and file:// references still work.
type SecretsConfig struct {
	Providers []SecretProviderConfig `json:"providers" yaml:"providers"` // Tried in order.
}

// SecretProviderConfig configures a single secret provider backend.
type SecretProviderConfig struct {
	Type   string            `json:"type" yaml:"type"`                         // "env", "file", or "vault".
	Config map[string]string `json:"config,omitempty" yaml:"config,omitempty"` // Backend-specific configuration.
}

// DefaultConfigPath returns the default config file path (~/.salama/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/salama.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".salama", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Operational settings can be overridden by SALAMA_* environment
// variables. Provider credentials are resolved at client construction (inline
// value first, then the provider's own environment variable), so they are not
// touched here.
func Load(path string) (*Config, error) {
	// Expand ~ in config path.
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	// Operational overrides. Environment variables take precedence over
	// config values for these settings.
	if envDD := os.Getenv("SALAMA_DATA_DIR"); envDD != "" {
		cfg.DataDir = envDD
	}
	if envAddr := os.Getenv("SALAMA_LISTEN_ADDR"); envAddr != "" {
		if cfg.Server == nil {
			cfg.Server = &ServerConfig{}
		}
		cfg.Server.ListenAddr = envAddr
	}
	if envDSN := os.Getenv("SALAMA_DB_DSN"); envDSN != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{Driver: "postgres"}
		}
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresStorageConfig{}
		}
		cfg.Storage.Postgres.DSN = secrets.New(envDSN)
	}
	if envKey := os.Getenv("SALAMA_API_KEY"); envKey != "" {
		if cfg.Server == nil {
			cfg.Server = &ServerConfig{}
		}
		cfg.Server.APIKeys = append(cfg.Server.APIKeys, APIKeyConfig{
			Name: "env",
			Key:  secrets.New(envKey),
		})
	}

	// Resolve DataDir default.
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".salama", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// BuildProviderChain constructs the secret provider chain from the secrets
// section. The env and file providers are always available; additional
// backends such as Vault come from configuration.
func (c *Config) BuildProviderChain() (*secrets.CompositeProvider, error) {
	providers := []secrets.Provider{
		secrets.NewEnvProvider(),
		secrets.NewFileProvider(),
	}
	if c.Secrets != nil {
		for i, pc := range c.Secrets.Providers {
			switch pc.Type {
			case "env", "file":
				// Already in the chain.
			case "vault":
				vp, err := secrets.NewVaultProvider(pc.Config)
				if err != nil {
					return nil, fmt.Errorf("secrets.providers[%d]: %w", i, err)
				}
				providers = append(providers, vp)
			default:
				return nil, fmt.Errorf("secrets.providers[%d].type %q is not supported (use env, file, or vault)", i, pc.Type)
			}
		}
	}
	return secrets.NewCompositeProvider(providers...), nil
}

// ResolveSecretRefs fills credential fields from their *_ref references
// through the provider chain. Fields that already hold a value are left
// alone, so an inline secret always wins over its reference.
func (c *Config) ResolveSecretRefs(ctx context.Context) error {
	chain, err := c.BuildProviderChain()
	if err != nil {
		return err
	}

	refs := []struct {
		name string
		ref  string
		dst  *secrets.Secret
	}{
		{"providers.openai.api_key_ref", c.Providers.OpenAI.APIKeyRef, &c.Providers.OpenAI.APIKey},
		{"providers.azure.api_key_ref", c.Providers.Azure.APIKeyRef, &c.Providers.Azure.APIKey},
		{"providers.azure.ad_token_ref", c.Providers.Azure.ADTokenRef, &c.Providers.Azure.ADToken},
	}
	if c.Storage != nil && c.Storage.Postgres != nil {
		refs = append(refs, struct {
			name string
			ref  string
			dst  *secrets.Secret
		}{"storage.postgres.dsn_ref", c.Storage.Postgres.DSNRef, &c.Storage.Postgres.DSN})
	}
	if c.Server != nil {
		for i := range c.Server.APIKeys {
			refs = append(refs, struct {
				name string
				ref  string
				dst  *secrets.Secret
			}{
				fmt.Sprintf("server.api_keys[%d].key_ref", i),
				c.Server.APIKeys[i].KeyRef,
				&c.Server.APIKeys[i].Key,
			})
		}
	}

	for _, r := range refs {
		if r.ref == "" || !r.dst.IsZero() {
			continue
		}
		secret, err := chain.Resolve(ctx, r.ref)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", r.name, err)
		}
		*r.dst = secret
	}
	return nil
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".salama", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "salama.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

// Dump renders the effective configuration as YAML with every secret field
// masked. Safe to print or log.
func (c *Config) Dump() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("rendering config: %w", err)
	}
	return string(out), nil
}

func (c *Config) validate() error {
	// Default provider to openai.
	if c.Providers.Default == "" {
		c.Providers.Default = "openai"
	}
	switch c.Providers.Default {
	case "openai":
		if c.Providers.OpenAI.Model == "" {
			return fmt.Errorf("providers.openai.model is required")
		}
	case "azure":
		if c.Providers.Azure.Model == "" && c.Providers.Azure.Deployment == "" {
			return fmt.Errorf("providers.azure.model or providers.azure.deployment is required")
		}
	default:
		return fmt.Errorf("providers.default %q is not supported (use openai or azure)", c.Providers.Default)
	}
	// Credential presence is checked at client construction, where inline
	// values, references, and environment fallbacks come together.

	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Server != nil {
		if c.Server.MaxRequestSizeBytes < 0 {
			return fmt.Errorf("server.max_request_size_bytes must not be negative")
		}
		if c.Server.RateLimit.RequestsPerMinute < 0 {
			return fmt.Errorf("server.rate_limit.requests_per_minute must not be negative")
		}
		keyNames := make(map[string]bool, len(c.Server.APIKeys))
		for i, k := range c.Server.APIKeys {
			if k.Name == "" {
				return fmt.Errorf("server.api_keys[%d].name is required", i)
			}
			if keyNames[k.Name] {
				return fmt.Errorf("server.api_keys[%d]: duplicate key name %q", i, k.Name)
			}
			keyNames[k.Name] = true
			if k.Key.IsZero() && k.KeyRef == "" {
				return fmt.Errorf("server.api_keys[%d] (%q): key or key_ref is required", i, k.Name)
			}
		}
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		t := c.Observability.Tracing
		if t.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0.0 and 1.0")
		}
		switch t.Protocol {
		case "", "grpc", "http":
			// valid
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", t.Protocol)
		}
	}
	if c.Observability != nil && c.Observability.Anomaly != nil && c.Observability.Anomaly.Enabled {
		a := c.Observability.Anomaly
		if a.ErrorRateThreshold < 0 || a.ErrorRateThreshold > 1 {
			return fmt.Errorf("observability.anomaly.error_rate_threshold must be between 0.0 and 1.0")
		}
	}
	if c.Retention != nil && c.Retention.Enabled && c.Retention.MaxAgeDays < 0 {
		return fmt.Errorf("retention.max_age_days must not be negative")
	}
	return nil
}
