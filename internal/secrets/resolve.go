package secrets

import (
	"errors"
	"fmt"
	"os"
)

// ErrMissingSecret is wrapped by every MissingSecretError so callers can
// test the failure class with errors.Is without holding the concrete type.
var ErrMissingSecret = errors.New("missing required secret")

// MissingSecretError reports that a mandatory secret field resolved to
// nothing: the caller passed no value and the fallback environment variable
// is unset or empty. Construction that hits this error returns no object.
type MissingSecretError struct {
	Field  string // configuration field name, e.g. "api_key"
	EnvVar string // environment variable that was checked, e.g. "OPENAI_API_KEY"
}

func (e *MissingSecretError) Error() string {
	return fmt.Sprintf("missing required secret %q (set it explicitly or via the %s environment variable)",
		e.Field, e.EnvVar)
}

func (e *MissingSecretError) Unwrap() error { return ErrMissingSecret }

// Resolve populates a secret field from its two sources, in order:
// an explicit non-empty value wins, otherwise the named environment
// variable is read. An explicitly passed empty string counts as absent and
// falls through to the environment. When neither source yields a value the
// zero Secret is returned, leaving the field absent.
//
// Resolution is a plain synchronous lookup performed once at construction;
// the environment is never re-read for the lifetime of the owning object.
func Resolve(explicit, envVar string) Secret {
	if explicit != "" {
		return New(explicit)
	}
	if v := os.Getenv(envVar); v != "" {
		return New(v)
	}
	return Secret{}
}

// Require resolves a mandatory secret field. It applies the same precedence
// as Resolve and returns a MissingSecretError naming the field and the
// environment variable checked when no source yields a value.
func Require(field, explicit, envVar string) (Secret, error) {
	s := Resolve(explicit, envVar)
	if s.IsZero() {
		return Secret{}, &MissingSecretError{Field: field, EnvVar: envVar}
	}
	return s, nil
}
