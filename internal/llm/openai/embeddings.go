package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jkaninda/salama/internal/llm"
	"github.com/jkaninda/salama/internal/secrets"
)

// EmbeddingsConfig configures an Embeddings client. Resolution rules match
// ChatConfig: explicit APIKey wins, OPENAI_API_KEY is the fallback.
type EmbeddingsConfig struct {
	APIKey       string
	Model        string // e.g. "text-embedding-3-small"
	BaseURL      string
	Organization string
	Dimensions   int // 0 = model default
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Embeddings implements llm.EmbeddingModel against the Embeddings API.
type Embeddings struct {
	apiKey       secrets.Secret
	model        string
	baseURL      string
	organization string
	dimensions   int
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewEmbeddings creates an embeddings client, resolving the API key from
// the config or the environment.
func NewEmbeddings(cfg EmbeddingsConfig, logger *slog.Logger) (*Embeddings, error) {
	apiKey, err := secrets.Require("api_key", cfg.APIKey, envAPIKey)
	if err != nil {
		return nil, err
	}
	return &Embeddings{
		apiKey:       apiKey,
		model:        cfg.Model,
		baseURL:      resolveBaseURL(cfg.BaseURL),
		organization: resolveOrganization(cfg.Organization),
		dimensions:   cfg.Dimensions,
		httpClient:   httpClientOrDefault(cfg.HTTPClient, cfg.Timeout),
		logger:       logger,
	}, nil
}

func (c *Embeddings) Name() string { return "openai" }

// APIKey returns the bound key; masked until Reveal is called.
func (c Embeddings) APIKey() secrets.Secret { return c.apiKey }

// String renders the client with its credential masked.
func (c Embeddings) String() string {
	return fmt.Sprintf("openai.Embeddings(model=%s base_url=%s api_key=%s)", c.model, c.baseURL, c.apiKey)
}

func (c Embeddings) GoString() string { return c.String() }

func (c Embeddings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", c.Name()),
		slog.String("model", c.model),
		slog.String("base_url", c.baseURL),
		slog.String("api_key", c.apiKey.String()),
	)
}

// Embed converts the inputs into embedding vectors.
func (c *Embeddings) Embed(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	apiReq := embeddingRequest{
		Model:      c.model,
		Input:      req.Input,
		Dimensions: req.Dimensions,
		User:       req.User,
	}
	if apiReq.Dimensions <= 0 {
		apiReq.Dimensions = c.dimensions
	}

	respBody, err := send(ctx, c.httpClient, c.baseURL+embeddingsPath, c.apiKey, c.organization, apiReq)
	if err != nil {
		return nil, err
	}

	var apiResp embeddingResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	// Upstream order is not guaranteed; place each vector by index.
	embeddings := make([][]float64, len(apiResp.Data))
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding index %d out of range for %d inputs", d.Index, len(embeddings))
		}
		embeddings[d.Index] = d.Embedding
	}

	resp := &llm.EmbeddingResponse{
		Embeddings: embeddings,
		Model:      apiResp.Model,
		Usage: llm.Usage{
			PromptTokens: apiResp.Usage.PromptTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		},
	}

	c.logger.DebugContext(ctx, "embedding request completed",
		slog.String("provider", c.Name()),
		slog.String("model", c.model),
		slog.Int("inputs", len(req.Input)),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
	)

	return resp, nil
}

// --- Embeddings wire types (unexported) ---

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
	User       string   `json:"user,omitempty"`
}

type embeddingResponse struct {
	Model string          `json:"model"`
	Data  []embeddingData `json:"data"`
	Usage apiUsage        `json:"usage"`
}

type embeddingData struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}
