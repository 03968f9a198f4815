// Package httpapi implements the OpenAI-compatible HTTP gateway.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-key rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
//
// Raw client keys reach this package only through Config.APIKeys, already
// revealed by the caller; responses and logs carry key names, never values.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"
	"github.com/jkaninda/salama/internal/llm"
	"github.com/jkaninda/salama/internal/observability"
	"github.com/jkaninda/salama/internal/ratelimit"
	"github.com/jkaninda/salama/internal/usage"
)

const (
	defaultMaxRequestSize = 1 << 20 // 1 MB

	// usageWriteTimeout bounds ledger inserts so a slow store cannot stall
	// a response that already succeeded upstream.
	usageWriteTimeout = 5 * time.Second
)

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key -> key name mapping. Empty = auth disabled.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

func (c Config) maxRequestSize() int64 {
	if c.MaxRequestSize > 0 {
		return c.MaxRequestSize
	}
	return defaultMaxRequestSize
}

// Gateway is the OpenAI-compatible HTTP gateway. Each endpoint is mounted
// only when a backend model for it is attached.
type Gateway struct {
	config     Config
	chat       llm.ChatModel       // nil = chat endpoint disabled.
	completion llm.CompletionModel // nil = completions endpoint disabled.
	embedding  llm.EmbeddingModel  // nil = embeddings endpoint disabled.
	limiter    *ratelimit.Limiter
	usage      usage.Store // nil = usage accounting disabled.
	logger     *slog.Logger

	server *http.Server
	okapi  *okapi.Okapi
	group  *okapi.Group
}

// NewGateway creates an HTTP gateway. Backend models are attached with the
// WithXModel builders before Start.
func NewGateway(cfg Config, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:  cfg,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(cfg.maxRequestSize())),
	}
}

// WithChatModel attaches the backend serving POST /v1/chat/completions.
func (g *Gateway) WithChatModel(m llm.ChatModel) *Gateway {
	g.chat = m
	return g
}

// WithCompletionModel attaches the backend serving POST /v1/completions.
func (g *Gateway) WithCompletionModel(m llm.CompletionModel) *Gateway {
	g.completion = m
	return g
}

// WithEmbeddingModel attaches the backend serving POST /v1/embeddings.
func (g *Gateway) WithEmbeddingModel(m llm.EmbeddingModel) *Gateway {
	g.embedding = m
	return g
}

// WithUsageStore attaches the ledger that records token usage after each
// successful upstream call.
func (g *Gateway) WithUsageStore(store usage.Store) *Gateway {
	g.usage = store
	return g
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Salama",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Body size cap on every route.
	limit := g.config.maxRequestSize()
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	})

	if len(g.config.APIKeys) == 0 {
		g.logger.Warn("no API keys configured, authentication disabled")
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	if g.chat != nil {
		g.group.Post("/chat/completions", g.handleChatCompletions,
			okapi.DocSummary("Create a chat completion"),
			okapi.DocTags("Chat"),
			okapi.DocRequestBody(ChatCompletionRequest{}),
			okapi.DocResponse(ChatCompletionResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
			okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
			okapi.DocResponse(http.StatusBadGateway, ErrorBody{}),
		)
	}
	if g.completion != nil {
		g.group.Post("/completions", g.handleCompletions,
			okapi.DocSummary("Create a text completion"),
			okapi.DocTags("Completions"),
			okapi.DocRequestBody(CompletionRequest{}),
			okapi.DocResponse(CompletionResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
			okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
			okapi.DocResponse(http.StatusBadGateway, ErrorBody{}),
		)
	}
	if g.embedding != nil {
		g.group.Post("/embeddings", g.handleEmbeddings,
			okapi.DocSummary("Create embeddings"),
			okapi.DocTags("Embeddings"),
			okapi.DocRequestBody(EmbeddingsRequest{}),
			okapi.DocResponse(EmbeddingsResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
			okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
			okapi.DocResponse(http.StatusBadGateway, ErrorBody{}),
		)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Wire types ---

// ChatMessage is one turn in an OpenAI-compatible conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the JSON body for POST /v1/chat/completions.
// The model field is accepted for client compatibility; the configured
// backend decides which model actually serves the request.
type ChatCompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	User        string        `json:"user,omitempty"`
}

// ChatCompletionResponse is the JSON response for POST /v1/chat/completions.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   UsageBody    `json:"usage"`
}

// ChatChoice is one generated reply.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// UsageBody reports token consumption in OpenAI wire format.
type UsageBody struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionRequest is the JSON body for POST /v1/completions.
type CompletionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	User        string   `json:"user,omitempty"`
}

// CompletionResponse is the JSON response for POST /v1/completions.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   UsageBody          `json:"usage"`
}

// CompletionChoice is one generated text.
type CompletionChoice struct {
	Text         string `json:"text"`
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
}

// InputList accepts either a single JSON string or an array of strings,
// matching the upstream embeddings input field.
type InputList []string

func (l *InputList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = InputList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("input must be a string or an array of strings")
	}
	*l = InputList(many)
	return nil
}

func (l InputList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(l))
}

// EmbeddingsRequest is the JSON body for POST /v1/embeddings.
type EmbeddingsRequest struct {
	Model      string    `json:"model,omitempty"`
	Input      InputList `json:"input"`
	Dimensions int       `json:"dimensions,omitempty"`
	User       string    `json:"user,omitempty"`
}

// EmbeddingsResponse is the JSON response for POST /v1/embeddings.
type EmbeddingsResponse struct {
	Object string          `json:"object"`
	Data   []EmbeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  UsageBody       `json:"usage"`
}

// EmbeddingData is one embedding vector.
type EmbeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// --- Handlers ---

func (g *Gateway) handleChatCompletions(c *okapi.Context) error {
	keyName := c.GetString("keyName")

	if g.limiter != nil {
		if err := g.limiter.Allow(keyName); err != nil {
			g.rateLimited(keyName)
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req ChatCompletionRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if len(req.Messages) == 0 {
		return c.AbortBadRequest("messages is required")
	}
	messages := make([]llm.Message, len(req.Messages))
	for i, m := range req.Messages {
		role := llm.Role(m.Role)
		switch role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			return c.AbortBadRequest("unsupported message role: " + m.Role)
		}
		messages[i] = llm.Message{Role: role, Content: m.Content}
	}

	correlationID := newCorrelationID()
	g.logger.Info("chat completion request",
		slog.String("key_name", keyName),
		slog.String("correlation_id", correlationID),
		slog.Int("messages", len(req.Messages)),
	)

	start := time.Now()
	resp, err := g.chat.Chat(c.Context(), &llm.ChatRequest{
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		User:        req.User,
	})
	if err != nil {
		return g.upstreamError(c, correlationID, err)
	}

	g.recordUsage(c.Context(), &usage.Record{
		Provider:         g.chat.Name(),
		Model:            resp.Model,
		Operation:        "chat",
		APIKeyName:       keyName,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		DurationMS:       time.Since(start).Milliseconds(),
	})

	return c.OK(ChatCompletionResponse{
		ID:      "chatcmpl-" + correlationID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatMessage{Role: string(llm.RoleAssistant), Content: resp.Content},
			FinishReason: resp.FinishReason,
		}},
		Usage: usageBody(resp.Usage),
	})
}

func (g *Gateway) handleCompletions(c *okapi.Context) error {
	keyName := c.GetString("keyName")

	if g.limiter != nil {
		if err := g.limiter.Allow(keyName); err != nil {
			g.rateLimited(keyName)
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req CompletionRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Prompt == "" {
		return c.AbortBadRequest("prompt is required")
	}

	correlationID := newCorrelationID()
	g.logger.Info("completion request",
		slog.String("key_name", keyName),
		slog.String("correlation_id", correlationID),
	)

	start := time.Now()
	resp, err := g.completion.Complete(c.Context(), &llm.CompletionRequest{
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		User:        req.User,
	})
	if err != nil {
		return g.upstreamError(c, correlationID, err)
	}

	g.recordUsage(c.Context(), &usage.Record{
		Provider:         g.completion.Name(),
		Model:            resp.Model,
		Operation:        "completion",
		APIKeyName:       keyName,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		DurationMS:       time.Since(start).Milliseconds(),
	})

	return c.OK(CompletionResponse{
		ID:      "cmpl-" + correlationID,
		Object:  "text_completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []CompletionChoice{{
			Text:         resp.Text,
			Index:        0,
			FinishReason: resp.FinishReason,
		}},
		Usage: usageBody(resp.Usage),
	})
}

func (g *Gateway) handleEmbeddings(c *okapi.Context) error {
	keyName := c.GetString("keyName")

	if g.limiter != nil {
		if err := g.limiter.Allow(keyName); err != nil {
			g.rateLimited(keyName)
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req EmbeddingsRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if len(req.Input) == 0 {
		return c.AbortBadRequest("input is required")
	}

	correlationID := newCorrelationID()
	g.logger.Info("embeddings request",
		slog.String("key_name", keyName),
		slog.String("correlation_id", correlationID),
		slog.Int("inputs", len(req.Input)),
	)

	start := time.Now()
	resp, err := g.embedding.Embed(c.Context(), &llm.EmbeddingRequest{
		Input:      req.Input,
		Dimensions: req.Dimensions,
		User:       req.User,
	})
	if err != nil {
		return g.upstreamError(c, correlationID, err)
	}

	g.recordUsage(c.Context(), &usage.Record{
		Provider:         g.embedding.Name(),
		Model:            resp.Model,
		Operation:        "embedding",
		APIKeyName:       keyName,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		DurationMS:       time.Since(start).Milliseconds(),
	})

	data := make([]EmbeddingData, len(resp.Embeddings))
	for i, vec := range resp.Embeddings {
		data[i] = EmbeddingData{Object: "embedding", Index: i, Embedding: vec}
	}
	return c.OK(EmbeddingsResponse{
		Object: "list",
		Data:   data,
		Model:  resp.Model,
		Usage:  usageBody(resp.Usage),
	})
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the Bearer API key and stashes the mapped key name
// for rate limiting and usage attribution.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			c.Set("keyName", "anonymous")
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		keyName := ""
		for key, name := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				keyName = name
			}
		}
		if keyName == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("keyName", keyName)
		return next(c)
	}
}

// --- Helpers ---

// upstreamError maps a failed model call onto the client response. Upstream
// auth failures are the gateway's misconfiguration, not the caller's, so
// they surface as 502 rather than passing 401/403 through.
func (g *Gateway) upstreamError(c *okapi.Context, correlationID string, err error) error {
	g.logger.Error("upstream request failed",
		slog.String("correlation_id", correlationID),
		slog.String("error", err.Error()),
	)

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return c.JSON(http.StatusTooManyRequests, ErrorBody{Error: "upstream rate limit exceeded"})
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
			apiErr.StatusCode != http.StatusUnauthorized &&
			apiErr.StatusCode != http.StatusForbidden:
			return c.JSON(apiErr.StatusCode, ErrorBody{Error: apiErr.Message})
		}
	}
	return c.JSON(http.StatusBadGateway, ErrorBody{Error: "upstream request failed"})
}

// recordUsage inserts a ledger record, detached from the request context so
// a client disconnect cannot drop accounting for a completed upstream call.
func (g *Gateway) recordUsage(ctx context.Context, rec *usage.Record) {
	if g.usage == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageWriteTimeout)
	defer cancel()
	if err := g.usage.Insert(ctx, rec); err != nil {
		g.logger.Error("recording usage", slog.String("error", err.Error()))
	}
}

func (g *Gateway) rateLimited(keyName string) {
	if g.config.Metrics != nil {
		g.config.Metrics.RateLimitedTotal.WithLabelValues(keyName).Inc()
	}
}

func usageBody(u llm.Usage) UsageBody {
	return UsageBody{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func newCorrelationID() string {
	return uuid.NewString()
}
