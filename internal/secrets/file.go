package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// FileProvider answers file://PATH references by reading the file contents.
// Docker and Kubernetes mount secrets as single-value files, typically
// newline-terminated, so trailing CR and LF bytes are stripped.
type FileProvider struct{}

// NewFileProvider returns a provider that reads secrets from local files,
// e.g. "file:///run/secrets/openai_api_key".
func NewFileProvider() *FileProvider { return &FileProvider{} }

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Resolve(_ context.Context, credentialRef string) (Secret, error) {
	path, err := refBody(credentialRef, "file")
	if err != nil {
		return Secret{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Secret{}, fmt.Errorf("%w: no secret file at %s", ErrSecretNotFound, path)
	}
	if err != nil {
		return Secret{}, fmt.Errorf("reading secret file %s: %w", path, err)
	}
	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		return Secret{}, fmt.Errorf("%w: secret file %s is empty", ErrSecretNotFound, path)
	}
	return New(value), nil
}
