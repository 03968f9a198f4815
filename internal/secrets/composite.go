package secrets

import (
	"context"
	"errors"
	"fmt"
)

// CompositeProvider fans a reference out to an ordered list of backends and
// returns the first successful resolution. When every backend fails, the
// per-provider errors are joined so each failure stays visible.
type CompositeProvider struct {
	providers []Provider
}

// NewCompositeProvider chains the given providers in order.
func NewCompositeProvider(providers ...Provider) *CompositeProvider {
	return &CompositeProvider{providers: providers}
}

func (p *CompositeProvider) Name() string { return "composite" }

func (p *CompositeProvider) Resolve(ctx context.Context, credentialRef string) (Secret, error) {
	if len(p.providers) == 0 {
		return Secret{}, fmt.Errorf("%w: provider chain is empty", ErrSecretNotFound)
	}
	errs := make([]error, 0, len(p.providers))
	for _, provider := range p.providers {
		secret, err := provider.Resolve(ctx, credentialRef)
		if err == nil {
			return secret, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
	}
	return Secret{}, errors.Join(errs...)
}
