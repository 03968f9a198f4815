package secrets

import (
	"errors"
	"strings"
	"testing"
)

const testEnvVar = "SALAMA_TEST_SECRET"

func TestResolveExplicitWins(t *testing.T) {
	t.Setenv(testEnvVar, "from-env")

	s := Resolve("from-arg", testEnvVar)
	if got := s.Reveal(); got != "from-arg" {
		t.Errorf("got Reveal()=%q, want explicit argument %q", got, "from-arg")
	}
}

func TestResolveEnvFallback(t *testing.T) {
	t.Setenv(testEnvVar, "from-env")

	s := Resolve("", testEnvVar)
	if got := s.Reveal(); got != "from-env" {
		t.Errorf("got Reveal()=%q, want environment value %q", got, "from-env")
	}
}

func TestResolveEmptyEnvIsAbsent(t *testing.T) {
	t.Setenv(testEnvVar, "")

	s := Resolve("", testEnvVar)
	if !s.IsZero() {
		t.Errorf("expected absent secret, got %q", s.Reveal())
	}
}

func TestResolveResolvesOnce(t *testing.T) {
	t.Setenv(testEnvVar, "first")
	s := Resolve("", testEnvVar)

	// Later environment changes must not affect an already resolved secret.
	t.Setenv(testEnvVar, "second")
	if got := s.Reveal(); got != "first" {
		t.Errorf("got Reveal()=%q, want the value captured at resolution time", got)
	}
}

func TestRequireExplicit(t *testing.T) {
	t.Setenv(testEnvVar, "")

	s, err := Require("api_key", "secret-api-key", testEnvVar)
	if err != nil {
		t.Fatalf("Require: %v", err)
	}
	if got := s.Reveal(); got != "secret-api-key" {
		t.Errorf("got Reveal()=%q, want %q", got, "secret-api-key")
	}
}

func TestRequireMissing(t *testing.T) {
	t.Setenv(testEnvVar, "")

	s, err := Require("api_key", "", testEnvVar)
	if err == nil {
		t.Fatal("expected error for missing mandatory secret")
	}
	if !s.IsZero() {
		t.Error("failed Require must not return a populated secret")
	}

	if !errors.Is(err, ErrMissingSecret) {
		t.Errorf("errors.Is(err, ErrMissingSecret) = false, err = %v", err)
	}

	var missing *MissingSecretError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *MissingSecretError, got %T", err)
	}
	if missing.Field != "api_key" {
		t.Errorf("got Field=%q, want %q", missing.Field, "api_key")
	}
	if missing.EnvVar != testEnvVar {
		t.Errorf("got EnvVar=%q, want %q", missing.EnvVar, testEnvVar)
	}

	msg := err.Error()
	if !strings.Contains(msg, "api_key") || !strings.Contains(msg, testEnvVar) {
		t.Errorf("error message %q should name the field and the environment variable", msg)
	}
}
