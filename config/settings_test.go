package config

import (
	"os"
	"testing"
	"time"

	"github.com/richinex/pagechat/llm"
)

func TestNewDefaults(t *testing.T) {
	for _, key := range []string{"LLM_MAX_TOKENS", "LLM_TEMPERATURE", "LLM_TIMEOUT_MS"} {
		original := os.Getenv(key)
		os.Unsetenv(key)
		defer os.Setenv(key, original)
	}

	settings, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.LLM.MaxTokens != 4000 {
		t.Errorf("expected default max tokens 4000, got %d", settings.LLM.MaxTokens)
	}
	if settings.LLM.Temperature != 0.7 {
		t.Errorf("expected default temperature 0.7, got %v", settings.LLM.Temperature)
	}
	if settings.LLM.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", settings.LLM.Timeout)
	}
	if settings.Storage.DatabasePath == "" {
		t.Error("expected non-empty database path")
	}
}

func TestNewWithEnvOverrides(t *testing.T) {
	original := os.Getenv("LLM_TIMEOUT_MS")
	os.Setenv("LLM_TIMEOUT_MS", "5000")
	defer os.Setenv("LLM_TIMEOUT_MS", original)

	settings, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.LLM.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", settings.LLM.Timeout)
	}
}

func TestNewWithInvalidEnvVar(t *testing.T) {
	original := os.Getenv("LLM_MAX_TOKENS")
	os.Setenv("LLM_MAX_TOKENS", "not-a-number")
	defer os.Setenv("LLM_MAX_TOKENS", original)

	_, err := New()
	if err == nil {
		t.Error("expected error for invalid LLM_MAX_TOKENS")
	}
}

func TestNewRejectsNonPositiveTimeout(t *testing.T) {
	original := os.Getenv("LLM_TIMEOUT_MS")
	os.Setenv("LLM_TIMEOUT_MS", "0")
	defer os.Setenv("LLM_TIMEOUT_MS", original)

	_, err := New()
	if err == nil {
		t.Error("expected error for zero LLM_TIMEOUT_MS")
	}
}

func TestMustNewPanics(t *testing.T) {
	original := os.Getenv("LLM_TEMPERATURE")
	os.Setenv("LLM_TEMPERATURE", "warm")
	defer os.Setenv("LLM_TEMPERATURE", original)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for invalid environment")
		}
	}()
	MustNew()
}

func TestAPIKeyForValidProvider(t *testing.T) {
	original := os.Getenv("OPENAI_API_KEY")
	os.Setenv("OPENAI_API_KEY", "test-key")
	defer os.Setenv("OPENAI_API_KEY", original)

	key, err := APIKeyFor(llm.ProviderOpenAI)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "test-key" {
		t.Errorf("expected 'test-key', got %q", key)
	}
}

func TestAPIKeyForMissing(t *testing.T) {
	original := os.Getenv("OPENAI_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")
	defer os.Setenv("OPENAI_API_KEY", original)

	_, err := APIKeyFor(llm.ProviderOpenAI)
	if err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestAPIKeyForUnknownProvider(t *testing.T) {
	_, err := APIKeyFor(llm.ProviderType("unknown"))
	if err == nil {
		t.Error("expected error for unknown provider type")
	}
}

func TestDefaultConnection(t *testing.T) {
	for _, key := range []string{"ANTHROPIC_ENDPOINT", "ANTHROPIC_MODEL"} {
		original := os.Getenv(key)
		os.Unsetenv(key)
		defer os.Setenv(key, original)
	}

	conn, err := DefaultConnection(llm.ProviderAnthropic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.Type != llm.ProviderAnthropic {
		t.Errorf("expected anthropic type, got %q", conn.Type)
	}
	if conn.Endpoint != "https://api.anthropic.com" {
		t.Errorf("unexpected default endpoint %q", conn.Endpoint)
	}
	if conn.Model == "" {
		t.Error("expected non-empty default model")
	}
	if !conn.Enabled {
		t.Error("expected default connection to be enabled")
	}
}

func TestDefaultConnectionEnvOverride(t *testing.T) {
	original := os.Getenv("COMPAT_ENDPOINT")
	os.Setenv("COMPAT_ENDPOINT", "http://10.0.0.5:8080")
	defer os.Setenv("COMPAT_ENDPOINT", original)

	conn, err := DefaultConnection(llm.ProviderOpenAICompatible)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.Endpoint != "http://10.0.0.5:8080" {
		t.Errorf("expected env endpoint, got %q", conn.Endpoint)
	}
}

func TestSupportedProviders(t *testing.T) {
	providers := SupportedProviders()
	want := []string{"anthropic", "openai", "openai-compatible"}
	if len(providers) != len(want) {
		t.Fatalf("expected %d supported provider types, got %d", len(want), len(providers))
	}
	for i, name := range want {
		if providers[i] != name {
			t.Errorf("expected %q at position %d, got %q", name, i, providers[i])
		}
	}
}
