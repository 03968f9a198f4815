package secrets

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// VaultProvider reads secrets from HashiCorp Vault's KV v2 HTTP API using
// token auth. References carry the full API path plus an optional field
// selector:
//
//	vault://secret/data/salama/openai#api_key
//
// Without the selector the whole data map is returned as JSON.
// Safe for concurrent use.
type VaultProvider struct {
	address   string
	token     string
	namespace string
	client    *http.Client
}

// NewVaultProvider builds a provider from a secrets.providers config map.
// Recognized keys are address, token, namespace, timeout (a Go duration),
// and tls_skip_verify. VAULT_ADDR, VAULT_TOKEN, and VAULT_NAMESPACE take
// precedence over their config counterparts.
func NewVaultProvider(cfg map[string]string) (*VaultProvider, error) {
	address := firstOf(os.Getenv("VAULT_ADDR"), cfg["address"])
	if address == "" {
		return nil, fmt.Errorf("vault provider needs an address (config key address or VAULT_ADDR)")
	}
	token := firstOf(os.Getenv("VAULT_TOKEN"), cfg["token"])
	if token == "" {
		return nil, fmt.Errorf("vault provider needs a token (config key token or VAULT_TOKEN)")
	}

	timeout := 5 * time.Second
	if raw := cfg["timeout"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("vault timeout %q: %w", raw, err)
		}
		timeout = d
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg["tls_skip_verify"] == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &VaultProvider{
		address:   strings.TrimRight(address, "/"),
		token:     token,
		namespace: firstOf(os.Getenv("VAULT_NAMESPACE"), cfg["namespace"]),
		client:    &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) Resolve(ctx context.Context, credentialRef string) (Secret, error) {
	body, err := refBody(credentialRef, "vault")
	if err != nil {
		return Secret{}, err
	}
	path, field, _ := strings.Cut(body, "#")
	if path == "" {
		return Secret{}, fmt.Errorf("%w: vault reference %q has no path", ErrSecretNotFound, credentialRef)
	}

	data, err := p.read(ctx, path)
	if err != nil {
		return Secret{}, err
	}

	if field == "" {
		raw, err := json.Marshal(data)
		if err != nil {
			return Secret{}, fmt.Errorf("encoding vault data at %s: %w", path, err)
		}
		return New(string(raw)), nil
	}
	val, ok := data[field]
	if !ok {
		return Secret{}, fmt.Errorf("%w: vault path %s has no field %q", ErrSecretNotFound, path, field)
	}
	str, ok := val.(string)
	if !ok {
		return Secret{}, fmt.Errorf("vault field %s#%s is %T, not a string", path, field, val)
	}
	return New(str), nil
}

// read performs the KV v2 GET and unwraps the response envelope. A 403 is a
// hard error, not ErrSecretNotFound: a chain must not fall through past a
// rejected token.
func (p *VaultProvider) read(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.address+"/v1/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.token)
	if p.namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.namespace)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: vault has no secret at %s", ErrSecretNotFound, path)
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("vault denied access to %s, check the token policy", path)
	default:
		return nil, fmt.Errorf("vault returned %d for %s", resp.StatusCode, path)
	}

	// KV v2 wraps the payload twice: {"data": {"data": {...}, "metadata": {...}}}.
	var envelope struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding vault response from %s: %w", path, err)
	}
	if envelope.Data.Data == nil {
		return nil, fmt.Errorf("%w: vault secret at %s has no data", ErrSecretNotFound, path)
	}
	return envelope.Data.Data, nil
}

// firstOf returns the first non-empty value.
func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
