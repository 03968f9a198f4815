// Package openai implements chat, completion, and embedding clients for the
// OpenAI API and any OpenAI-compatible endpoint.
//
// Each client resolves its API key once at construction: an explicit
// non-empty config value wins, otherwise the OPENAI_API_KEY environment
// variable is read, otherwise construction fails. The key is held as a
// secrets.Secret and leaves the client only inside the Authorization header
// of outbound requests.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jkaninda/salama/internal/llm"
	"github.com/jkaninda/salama/internal/secrets"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	chatPath        = "/chat/completions"
	completionsPath = "/completions"
	embeddingsPath  = "/embeddings"

	// Environment fallbacks consumed at construction time.
	envAPIKey       = "OPENAI_API_KEY"
	envBaseURL      = "OPENAI_BASE_URL"
	envOrganization = "OPENAI_ORG_ID"
)

// apiErrorEnvelope is the upstream error body: {"error": {"message": ..., "type": ...}}.
type apiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func decodeAPIError(status int, body []byte) error {
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &llm.APIError{StatusCode: status, Type: envelope.Error.Type, Message: envelope.Error.Message}
	}
	return &llm.APIError{StatusCode: status, Message: string(body)}
}

// send marshals payload, POSTs it, and returns the response body.
// This is the only code path in the package that reveals the API key.
func send(ctx context.Context, hc *http.Client, url string, apiKey secrets.Secret, organization string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey.Reveal())
	if organization != "" {
		httpReq.Header.Set("OpenAI-Organization", organization)
	}

	httpResp, err := hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(httpResp.StatusCode, respBody)
	}
	return respBody, nil
}

// resolveBaseURL applies the config value, the OPENAI_BASE_URL environment
// variable, then the public endpoint, and strips any trailing slash.
func resolveBaseURL(explicit string) string {
	baseURL := explicit
	if baseURL == "" {
		baseURL = os.Getenv(envBaseURL)
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return baseURL
}

func resolveOrganization(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv(envOrganization)
}

func httpClientOrDefault(hc *http.Client, timeout time.Duration) *http.Client {
	if hc != nil {
		return hc
	}
	if timeout > 0 {
		return &http.Client{Timeout: timeout}
	}
	return http.DefaultClient
}
