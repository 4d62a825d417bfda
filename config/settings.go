// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific credential lookup

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/richinex/pagechat/llm"
)

// Settings holds all application configuration.
type Settings struct {
	LLM     LLMConfig
	Storage StorageConfig
}

// LLMConfig holds request shaping defaults applied when a connection or
// caller leaves them unset.
type LLMConfig struct {
	MaxTokens   uint32
	Temperature float64
	Timeout     time.Duration
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DatabasePath string
}

// providerInfo holds environment lookups for a backend type.
type providerInfo struct {
	endpointEnv     string
	defaultEndpoint string
	modelEnv        string
	defaultModel    string
	apiKeyEnv       string
}

// Supported backend types and their configuration.
var providers = map[llm.ProviderType]providerInfo{
	llm.ProviderOpenAI: {
		"OPENAI_ENDPOINT", "https://api.openai.com",
		"OPENAI_MODEL", "gpt-4o", "OPENAI_API_KEY",
	},
	llm.ProviderAnthropic: {
		"ANTHROPIC_ENDPOINT", "https://api.anthropic.com",
		"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY",
	},
	llm.ProviderOpenAICompatible: {
		"COMPAT_ENDPOINT", "http://localhost:11434",
		"COMPAT_MODEL", "llama3.1", "COMPAT_API_KEY",
	},
}

// New loads settings from environment variables.
// Returns an error if environment variables contain invalid values.
func New() (Settings, error) {
	maxTokens, err := getEnvUint32("LLM_MAX_TOKENS", 4000)
	if err != nil {
		return Settings{}, err
	}

	temperature, err := getEnvFloat64("LLM_TEMPERATURE", 0.7)
	if err != nil {
		return Settings{}, err
	}

	timeoutMs, err := getEnvInt("LLM_TIMEOUT_MS", 30000)
	if err != nil {
		return Settings{}, err
	}
	if timeoutMs <= 0 {
		return Settings{}, fmt.Errorf("invalid value for LLM_TIMEOUT_MS: must be positive, got %d", timeoutMs)
	}

	dbPath := os.Getenv("PAGECHAT_DB")
	if dbPath == "" {
		dbPath = defaultDatabasePath()
	}

	return Settings{
		LLM: LLMConfig{
			MaxTokens:   maxTokens,
			Temperature: temperature,
			Timeout:     time.Duration(timeoutMs) * time.Millisecond,
		},
		Storage: StorageConfig{
			DatabasePath: dbPath,
		},
	}, nil
}

// MustNew loads settings, panicking on invalid environment values.
// Use this only when configuration errors should be fatal.
func MustNew() Settings {
	settings, err := New()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pagechat.db"
	}
	return filepath.Join(home, ".pagechat", "pagechat.db")
}

// DefaultConnection assembles a connection record for a backend type from
// environment variables, falling back to the type's stock endpoint and
// model.
func DefaultConnection(providerType llm.ProviderType) (llm.Connection, error) {
	info, ok := providers[providerType]
	if !ok {
		return llm.Connection{}, fmt.Errorf("unknown provider type: %q", providerType)
	}

	endpoint := os.Getenv(info.endpointEnv)
	if endpoint == "" {
		endpoint = info.defaultEndpoint
	}
	model := os.Getenv(info.modelEnv)
	if model == "" {
		model = info.defaultModel
	}

	return llm.Connection{
		ID:       string(providerType),
		Name:     string(providerType),
		Type:     providerType,
		Endpoint: endpoint,
		Model:    model,
		APIKey:   os.Getenv(info.apiKeyEnv),
		Enabled:  true,
	}, nil
}

// APIKeyFor returns the API key for a backend type from environment
// variables. An unset key is an error for backends that require one.
func APIKeyFor(providerType llm.ProviderType) (string, error) {
	info, ok := providers[providerType]
	if !ok {
		return "", fmt.Errorf("unknown provider type: %q", providerType)
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// SupportedProviders returns the supported backend type names, sorted for
// stable display.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, string(name))
	}
	sort.Strings(result)
	return result
}

// Environment variable helpers with proper error handling

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}
