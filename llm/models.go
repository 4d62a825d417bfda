// Package llm provides shared data models for LLM backends.
package llm

import (
	"net/url"
	"time"
)

// ProviderType tags a Connection with the backend family it speaks.
type ProviderType string

const (
	// ProviderOpenAI is the hosted OpenAI chat completions API.
	ProviderOpenAI ProviderType = "openai"
	// ProviderOpenAICompatible is any OpenAI-wire-compatible server,
	// typically self-hosted (Ollama, LM Studio, vLLM, ...).
	ProviderOpenAICompatible ProviderType = "openai-compatible"
	// ProviderAnthropic is the Anthropic messages API.
	ProviderAnthropic ProviderType = "anthropic"
)

// ParseProviderType maps a stored tag to a known provider type. Unknown
// tags fall back to the OpenAI-compatible family, which is the least
// demanding wire format, rather than failing.
func ParseProviderType(s string) ProviderType {
	switch ProviderType(s) {
	case ProviderOpenAI, ProviderAnthropic, ProviderOpenAICompatible:
		return ProviderType(s)
	default:
		return ProviderOpenAICompatible
	}
}

// Capabilities describes what a configured backend supports.
type Capabilities struct {
	Streaming       bool `json:"streaming"`
	ReasoningTags   bool `json:"reasoning_tags"`
	ThinkingTags    bool `json:"thinking_tags"`
	FunctionCalling bool `json:"function_calling"`
	Vision          bool `json:"vision"`
}

// Connection is a snapshot of one reachable LLM backend's configuration.
// It is created and edited by the settings layer; the core only ever reads
// it, and each request receives its own copy, so a mid-stream settings
// change never affects an in-flight request.
type Connection struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Type          ProviderType      `json:"type"`
	Endpoint      string            `json:"endpoint"`
	APIKey        string            `json:"api_key,omitempty"`
	Model         string            `json:"model"`
	Capabilities  Capabilities      `json:"capabilities"`
	ContextWindow int               `json:"context_window,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Timeout       time.Duration     `json:"timeout,omitempty"`
	Enabled       bool              `json:"enabled"`
	Priority      int               `json:"priority"`
}

// RequestTimeout returns the connection's timeout, defaulting to 30s.
func (c Connection) RequestTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

// IsLocalEndpoint reports whether the endpoint points at this machine.
// Local servers commonly run without credentials, so validation relaxes
// the API-key requirement for them.
func (c Connection) IsLocalEndpoint() bool {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}
	return false
}

// Message represents a chat message with role and content. A sequence of
// Messages forms one conversation turn; immutable once sent.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// RequestOptions tunes one request. Zero values fall back to the defaults
// applied during request building (max_tokens 4000, temperature 0.7).
type RequestOptions struct {
	MaxTokens   int
	Temperature *float64
	Stream      bool
}

// Response is the normalized shape of a complete (non-streaming) reply.
type Response struct {
	Content      string
	FinishReason string
	Usage        *TokenUsage
	Model        string
}

// TokenUsage contains token usage statistics.
type TokenUsage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
}
