// Package azure implements chat, completion, and embedding clients for
// Azure OpenAI deployments.
//
// Azure accepts two credential kinds: a service API key sent in the api-key
// header, or an Entra ID token sent as a Bearer Authorization header. Each
// client resolves both fields once at construction, explicit config values
// winning over the AZURE_OPENAI_API_KEY / AZURE_OPENAI_AD_TOKEN environment
// variables. At least one credential must resolve; the API key is preferred
// when both are present. Both are held as secrets.Secret values.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jkaninda/salama/internal/llm"
	"github.com/jkaninda/salama/internal/secrets"
)

const (
	chatPath        = "/chat/completions"
	completionsPath = "/completions"
	embeddingsPath  = "/embeddings"

	// Stable GA data-plane API version, used when the config and the
	// OPENAI_API_VERSION environment variable are both silent.
	defaultAPIVersion = "2024-10-21"

	// Environment fallbacks consumed at construction time.
	envAPIKey     = "AZURE_OPENAI_API_KEY"
	envADToken    = "AZURE_OPENAI_AD_TOKEN"
	envEndpoint   = "AZURE_OPENAI_ENDPOINT"
	envAPIVersion = "OPENAI_API_VERSION"
)

// credentials is the resolved api_key / ad_token pair.
type credentials struct {
	apiKey  secrets.Secret
	adToken secrets.Secret
}

// resolveCredentials binds both secret fields and enforces that at least one
// of them is present. The error names the primary credential field.
func resolveCredentials(explicitKey, explicitToken string) (credentials, error) {
	creds := credentials{
		apiKey:  secrets.Resolve(explicitKey, envAPIKey),
		adToken: secrets.Resolve(explicitToken, envADToken),
	}
	if creds.apiKey.IsZero() && creds.adToken.IsZero() {
		return credentials{}, &secrets.MissingSecretError{Field: "api_key", EnvVar: envAPIKey}
	}
	return creds, nil
}

// apply sets the authentication header. The api-key header wins when both
// credentials are present.
func (c credentials) apply(h http.Header) {
	if !c.apiKey.IsZero() {
		h.Set("api-key", c.apiKey.Reveal())
		return
	}
	h.Set("Authorization", "Bearer "+c.adToken.Reveal())
}

// describe renders the bound credentials for String and LogValue output,
// masked and limited to the fields that are actually set.
func (c credentials) describe() string {
	switch {
	case !c.apiKey.IsZero() && !c.adToken.IsZero():
		return fmt.Sprintf("api_key=%s ad_token=%s", c.apiKey, c.adToken)
	case !c.apiKey.IsZero():
		return "api_key=" + c.apiKey.String()
	default:
		return "ad_token=" + c.adToken.String()
	}
}

// resolveEndpoint applies the config value then the AZURE_OPENAI_ENDPOINT
// environment variable. The endpoint is a plain field; missing is an
// ordinary configuration error, not a missing secret.
func resolveEndpoint(explicit string) (string, error) {
	endpoint := explicit
	if endpoint == "" {
		endpoint = os.Getenv(envEndpoint)
	}
	if endpoint == "" {
		return "", fmt.Errorf("endpoint is required (set it explicitly or via the %s environment variable)", envEndpoint)
	}
	return strings.TrimRight(endpoint, "/"), nil
}

func resolveAPIVersion(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv(envAPIVersion); v != "" {
		return v
	}
	return defaultAPIVersion
}

// resolveDeployment falls back to the model name, matching how Azure
// deployments are commonly named.
func resolveDeployment(deployment, model string) (string, error) {
	if deployment != "" {
		return deployment, nil
	}
	if model != "" {
		return model, nil
	}
	return "", fmt.Errorf("deployment is required (set Deployment or Model)")
}

// requestURL builds the Azure data-plane URL:
// {endpoint}/openai/deployments/{deployment}{path}?api-version={version}.
func requestURL(endpoint, deployment, path, apiVersion string) string {
	return fmt.Sprintf("%s/openai/deployments/%s%s?api-version=%s",
		endpoint, url.PathEscape(deployment), path, url.QueryEscape(apiVersion))
}

// apiErrorEnvelope is the upstream error body: {"error": {"message": ..., "code": ...}}.
type apiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func decodeAPIError(status int, body []byte) error {
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &llm.APIError{StatusCode: status, Type: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return &llm.APIError{StatusCode: status, Message: string(body)}
}

// send marshals payload, POSTs it with the bound credentials, and returns
// the response body. This is the only code path in the package that reveals
// either credential.
func send(ctx context.Context, hc *http.Client, url string, creds credentials, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	creds.apply(httpReq.Header)

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

func httpClientOrDefault(hc *http.Client, timeout time.Duration) *http.Client {
	if hc != nil {
		return hc
	}
	if timeout > 0 {
		return &http.Client{Timeout: timeout}
	}
	return http.DefaultClient
}
