package secrets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestSecretRevealRoundTrip(t *testing.T) {
	values := []string{
		"foo",
		"secret-api-key",
		"",
		"sk-proj-1234567890abcdef",
		"with spaces and\nnewlines",
		"ünïcødé-ключ",
	}
	for _, v := range values {
		if got := New(v).Reveal(); got != v {
			t.Errorf("New(%q).Reveal() = %q, want %q", v, got, v)
		}
	}
}

func TestSecretMaskIsFixed(t *testing.T) {
	if len(Mask) != 10 || Mask != strings.Repeat("*", 10) {
		t.Fatalf("Mask = %q, want exactly ten asterisks", Mask)
	}

	values := []string{
		"",
		"x",
		"foo",
		"a-very-long-credential-value-that-should-not-change-the-mask-length",
	}
	for _, v := range values {
		s := New(v)
		if got := s.String(); got != Mask {
			t.Errorf("New(%q).String() = %q, want %q", v, got, Mask)
		}
		if v != "" && strings.Contains(s.String(), v) {
			t.Errorf("String() output contains the raw value %q", v)
		}
	}
}

func TestSecretFormatVerbs(t *testing.T) {
	s := New("foo1")

	for _, format := range []string{"%v", "%+v", "%s", "%q", "%#v"} {
		out := fmt.Sprintf(format, s)
		if strings.Contains(out, "foo1") {
			t.Errorf("Sprintf(%q, secret) = %q, leaks the raw value", format, out)
		}
		if !strings.Contains(out, Mask) {
			t.Errorf("Sprintf(%q, secret) = %q, want it to contain %q", format, out, Mask)
		}
	}

	// Exported struct fields go through the Stringer as well.
	wrapper := struct {
		APIKey Secret
		Model  string
	}{APIKey: New("foo2"), Model: "gpt-4o"}
	out := fmt.Sprintf("%+v", wrapper)
	if strings.Contains(out, "foo2") {
		t.Errorf("struct rendering %q leaks the raw value", out)
	}
	if !strings.Contains(out, "gpt-4o") {
		t.Errorf("struct rendering %q should keep non-secret fields visible", out)
	}
}

func TestSecretSlogMasked(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logger.Info("client configured", slog.Any("api_key", New("secret-api-key")))

	out := buf.String()
	if strings.Contains(out, "secret-api-key") {
		t.Fatalf("log output leaks the raw value: %s", out)
	}
	if !strings.Contains(out, Mask) {
		t.Errorf("log output %q should contain the mask", out)
	}
}

func TestSecretJSONMasked(t *testing.T) {
	payload := struct {
		APIKey Secret `json:"api_key"`
	}{APIKey: New("secret-api-key")}

	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if strings.Contains(string(b), "secret-api-key") {
		t.Fatalf("JSON output leaks the raw value: %s", b)
	}
	if want := `{"api_key":"**********"}`; string(b) != want {
		t.Errorf("got JSON %s, want %s", b, want)
	}
}

func TestSecretYAMLMasked(t *testing.T) {
	payload := struct {
		APIKey Secret `yaml:"api_key"`
	}{APIKey: New("secret-api-key")}

	b, err := yaml.Marshal(payload)
	if err != nil {
		t.Fatalf("yaml.Marshal: %v", err)
	}
	if strings.Contains(string(b), "secret-api-key") {
		t.Fatalf("YAML output leaks the raw value: %s", b)
	}
	if !strings.Contains(string(b), Mask) {
		t.Errorf("YAML output %q should contain the mask", b)
	}
}

func TestSecretUnmarshalText(t *testing.T) {
	var payload struct {
		APIKey Secret `json:"api_key"`
	}
	if err := json.Unmarshal([]byte(`{"api_key":"from-json"}`), &payload); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if got := payload.APIKey.Reveal(); got != "from-json" {
		t.Errorf("got Reveal()=%q, want %q", got, "from-json")
	}
}

func TestSecretUnmarshalYAML(t *testing.T) {
	var payload struct {
		APIKey Secret `yaml:"api_key"`
	}
	if err := yaml.Unmarshal([]byte("api_key: from-yaml\n"), &payload); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	if got := payload.APIKey.Reveal(); got != "from-yaml" {
		t.Errorf("got Reveal()=%q, want %q", got, "from-yaml")
	}
}

func TestSecretIsZero(t *testing.T) {
	if !(Secret{}).IsZero() {
		t.Error("zero Secret should report IsZero")
	}
	if !New("").IsZero() {
		t.Error("New(\"\") should report IsZero")
	}
	if New("x").IsZero() {
		t.Error("non-empty secret should not report IsZero")
	}
}
