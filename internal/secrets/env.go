package secrets

import (
	"context"
	"fmt"
	"os"
)

// EnvProvider answers env://NAME references from the process environment.
type EnvProvider struct{}

// NewEnvProvider returns a provider backed by the process environment.
func NewEnvProvider() *EnvProvider { return &EnvProvider{} }

func (p *EnvProvider) Name() string { return "env" }

// Resolve treats a set-but-empty variable the same as an unset one.
func (p *EnvProvider) Resolve(_ context.Context, credentialRef string) (Secret, error) {
	name, err := refBody(credentialRef, "env")
	if err != nil {
		return Secret{}, err
	}
	value := os.Getenv(name)
	if value == "" {
		return Secret{}, fmt.Errorf("%w: environment variable %s is unset or empty", ErrSecretNotFound, name)
	}
	return New(value), nil
}
