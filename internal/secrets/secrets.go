// Package secrets holds credential material behind an opaque wrapper and
// resolves it from explicit values, environment variables, or external
// backends (file, HashiCorp Vault). A Secret never exposes its raw value
// through formatting, logging, or serialization: every generic textual
// path yields a fixed mask, and only an explicit Reveal call returns the
// underlying string.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mask is the fixed placeholder emitted for a secret on every generic
// rendering path. It is exactly ten asterisks regardless of the length or
// content of the underlying value; display code and tests assert on this
// literal verbatim.
const Mask = "**********"

// Secret wraps one sensitive string. The raw value is set once at
// construction and is reachable only through Reveal. Secrets are immutable
// and safe for concurrent use.
type Secret struct {
	value string
}

// New wraps raw verbatim. Content is not validated; the empty string is
// permitted and callers decide whether a field is mandatory.
func New(raw string) Secret { return Secret{value: raw} }

// Reveal returns the wrapped value byte-for-byte. This is the only path
// that exposes the original string; call it only where the real credential
// must be placed into an outbound request.
func (s Secret) Reveal() string { return s.value }

// IsZero reports whether the secret holds no value.
func (s Secret) IsZero() bool { return s.value == "" }

// String implements fmt.Stringer and always returns Mask, so %v, %s and
// Print-style formatting cannot leak the value.
func (s Secret) String() string { return Mask }

// GoString implements fmt.GoStringer so %#v is masked as well.
func (s Secret) GoString() string { return "secrets.Secret(" + Mask + ")" }

// LogValue implements slog.LogValuer; secrets may be passed to slog
// attributes directly.
func (s Secret) LogValue() slog.Value { return slog.StringValue(Mask) }

// MarshalText masks the value for encoding/json and any other
// TextMarshaler-aware encoder.
func (s Secret) MarshalText() ([]byte, error) { return []byte(Mask), nil }

// UnmarshalText wraps the literal text, letting JSON documents and flag
// values decode straight into Secret fields.
func (s *Secret) UnmarshalText(text []byte) error {
	s.value = string(text)
	return nil
}

// MarshalYAML masks the value for gopkg.in/yaml.v3 encoders.
func (s Secret) MarshalYAML() (any, error) { return Mask, nil }

// UnmarshalYAML wraps the scalar node value.
func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	s.value = raw
	return nil
}

// Provider turns a credential reference, such as "env://OPENAI_API_KEY" or
// "vault://secret/data/salama/openai#api_key", into a wrapped Secret. A
// reference the backend does not own or holds no value for fails with an
// error wrapping ErrSecretNotFound. Implementations must be safe for
// concurrent use.
type Provider interface {
	Resolve(ctx context.Context, credentialRef string) (Secret, error)

	// Name identifies the backend in logs and error messages; it never
	// carries secret material.
	Name() string
}

// ErrSecretNotFound marks references no backend holds a value for.
var ErrSecretNotFound = fmt.Errorf("secret not found")

// refBody strips "scheme://" from a reference. References for another
// scheme, or with nothing after the prefix, fail with ErrSecretNotFound.
func refBody(credentialRef, scheme string) (string, error) {
	body, ok := strings.CutPrefix(credentialRef, scheme+"://")
	if !ok {
		return "", fmt.Errorf("%w: %q is not a %s:// reference", ErrSecretNotFound, credentialRef, scheme)
	}
	if body == "" {
		return "", fmt.Errorf("%w: %s reference names nothing", ErrSecretNotFound, scheme)
	}
	return body, nil
}
