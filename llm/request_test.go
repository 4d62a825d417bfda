package llm

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func anthropicConn() Connection {
	return Connection{
		ID:       "claude",
		Type:     ProviderAnthropic,
		Endpoint: "https://api.anthropic.com",
		APIKey:   "sk-ant-test",
		Model:    "claude-sonnet-4-20250514",
	}
}

func openAIConn() Connection {
	return Connection{
		ID:       "oai",
		Type:     ProviderOpenAI,
		Endpoint: "https://api.openai.com",
		APIKey:   "sk-test",
		Model:    "gpt-4o",
	}
}

func decodeWire(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("request body is not valid JSON: %v", err)
	}
	return m
}

func TestAnthropicBuildRequest(t *testing.T) {
	adapter := AdapterFor(ProviderAnthropic)
	messages := []Message{
		SystemMessage("be brief"),
		UserMessage("hi"),
	}

	req, err := adapter.BuildRequest(anthropicConn(), messages, RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if req.URL != "https://api.anthropic.com/v1/messages" {
		t.Errorf("unexpected URL %q", req.URL)
	}
	if got := req.Header.Get("x-api-key"); got != "sk-ant-test" {
		t.Errorf("expected x-api-key header, got %q", got)
	}
	if got := req.Header.Get("anthropic-version"); got != "2023-06-01" {
		t.Errorf("expected anthropic-version header, got %q", got)
	}
	if got := req.Header.Get("Authorization"); got != "" {
		t.Errorf("Authorization header must not be set for anthropic, got %q", got)
	}

	wire := decodeWire(t, req.Body)
	if wire["system"] != "be brief" {
		t.Errorf("expected system lifted to top level, got %v", wire["system"])
	}
	msgs := wire["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after system lift, got %d", len(msgs))
	}
	first := msgs[0].(map[string]any)
	if first["role"] != "user" {
		t.Errorf("expected user message, got %v", first["role"])
	}
	if wire["max_tokens"] != float64(4000) {
		t.Errorf("expected default max_tokens 4000, got %v", wire["max_tokens"])
	}
	if wire["temperature"] != 0.7 {
		t.Errorf("expected default temperature 0.7, got %v", wire["temperature"])
	}
}

func TestAnthropicSystemOmittedWhenAbsent(t *testing.T) {
	adapter := AdapterFor(ProviderAnthropic)
	req, err := adapter.BuildRequest(anthropicConn(), []Message{UserMessage("hi")}, RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(req.Body), `"system"`) {
		t.Errorf("expected system field omitted, body: %s", req.Body)
	}
}

func TestOpenAIBuildRequest(t *testing.T) {
	adapter := AdapterFor(ProviderOpenAI)
	messages := []Message{
		SystemMessage("be brief"),
		UserMessage("hi"),
	}

	req, err := adapter.BuildRequest(openAIConn(), messages, RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if req.URL != "https://api.openai.com/chat/completions" {
		t.Errorf("unexpected URL %q", req.URL)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("expected bearer auth, got %q", got)
	}

	wire := decodeWire(t, req.Body)
	// System messages stay in the array for the OpenAI family.
	msgs := wire["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if _, ok := wire["system"]; ok {
		t.Error("openai body must not carry a top-level system field")
	}
}

func TestMaxTokensClampedToContextWindow(t *testing.T) {
	conn := openAIConn()
	conn.ContextWindow = 1024

	adapter := AdapterFor(ProviderOpenAI)
	req, err := adapter.BuildRequest(conn, []Message{UserMessage("hi")}, RequestOptions{MaxTokens: 9000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wire := decodeWire(t, req.Body)
	if wire["max_tokens"] != float64(1024) {
		t.Errorf("expected max_tokens clamped to 1024, got %v", wire["max_tokens"])
	}
}

func TestTemperatureOverride(t *testing.T) {
	temp := 0.2
	adapter := AdapterFor(ProviderOpenAI)
	req, err := adapter.BuildRequest(openAIConn(), []Message{UserMessage("hi")}, RequestOptions{Temperature: &temp})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wire := decodeWire(t, req.Body)
	if wire["temperature"] != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", wire["temperature"])
	}
}

func TestCustomHeadersApplied(t *testing.T) {
	conn := openAIConn()
	conn.Headers = map[string]string{"X-Org": "acme"}

	adapter := AdapterFor(ProviderOpenAI)
	req, err := adapter.BuildRequest(conn, []Message{UserMessage("hi")}, RequestOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := req.Header.Get("X-Org"); got != "acme" {
		t.Errorf("expected custom header applied, got %q", got)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("expected JSON content type, got %q", got)
	}
}

func TestOpenAIValidation(t *testing.T) {
	adapter := AdapterFor(ProviderOpenAI)

	tests := []struct {
		name  string
		mod   func(*Connection)
		field string
	}{
		{"missing endpoint", func(c *Connection) { c.Endpoint = "" }, "endpoint"},
		{"missing model", func(c *Connection) { c.Model = "" }, "model"},
		{"missing api key", func(c *Connection) { c.APIKey = "" }, "api_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := openAIConn()
			tt.mod(&conn)
			_, err := adapter.BuildRequest(conn, []Message{UserMessage("hi")}, RequestOptions{})
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}
}

func TestOpenAILocalEndpointSkipsKeyRequirement(t *testing.T) {
	conn := openAIConn()
	conn.Endpoint = "http://localhost:11434"
	conn.APIKey = ""

	adapter := AdapterFor(ProviderOpenAI)
	if _, err := adapter.BuildRequest(conn, []Message{UserMessage("hi")}, RequestOptions{}); err != nil {
		t.Errorf("local endpoint must not require a key: %v", err)
	}
}

func TestCompatValidationSkipsKey(t *testing.T) {
	conn := Connection{
		Type:     ProviderOpenAICompatible,
		Endpoint: "http://10.0.0.5:8080",
		Model:    "llama3.1",
	}
	adapter := AdapterFor(ProviderOpenAICompatible)
	if _, err := adapter.BuildRequest(conn, []Message{UserMessage("hi")}, RequestOptions{}); err != nil {
		t.Errorf("compat adapter must not require a key: %v", err)
	}
}

func TestAnthropicValidationRequiresKeyEvenLocally(t *testing.T) {
	conn := anthropicConn()
	conn.Endpoint = "http://localhost:9999"
	conn.APIKey = ""

	adapter := AdapterFor(ProviderAnthropic)
	_, err := adapter.BuildRequest(conn, []Message{UserMessage("hi")}, RequestOptions{})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "api_key" {
		t.Errorf("expected api_key validation error, got %v", err)
	}
}

func TestJoinURLNoDoubleSlash(t *testing.T) {
	if got := joinURL("http://host/", "/chat/completions"); got != "http://host/chat/completions" {
		t.Errorf("unexpected join result %q", got)
	}
	if got := joinURL("http://host", "/chat/completions"); got != "http://host/chat/completions" {
		t.Errorf("unexpected join result %q", got)
	}
}

func TestParseProviderTypeFallback(t *testing.T) {
	if got := ParseProviderType("something-new"); got != ProviderOpenAICompatible {
		t.Errorf("unknown type must fall back to openai-compatible, got %q", got)
	}
	if got := ParseProviderType("anthropic"); got != ProviderAnthropic {
		t.Errorf("expected anthropic, got %q", got)
	}
}

func TestAdapterForUnknownType(t *testing.T) {
	adapter := AdapterFor(ProviderType("mystery"))
	if adapter.Name() != "openai-compatible" {
		t.Errorf("unknown provider must resolve to the compat adapter, got %q", adapter.Name())
	}
}

func TestMapAnthropicResponse(t *testing.T) {
	raw := []byte(`{
		"content": [
			{"type": "text", "text": "Hello"},
			{"type": "tool_use", "id": "x"},
			{"type": "text", "text": " world"}
		],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 5},
		"model": "claude-sonnet-4-20250514"
	}`)
	resp, err := mapAnthropicResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("expected text blocks concatenated, got %q", resp.Content)
	}
	if resp.FinishReason != "end_turn" {
		t.Errorf("expected end_turn, got %q", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("expected total 15 tokens, got %+v", resp.Usage)
	}
}

func TestMapOpenAIResponse(t *testing.T) {
	raw := []byte(`{
		"choices": [{"message": {"content": "hey"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		"model": "gpt-4o"
	}`)
	resp, err := mapOpenAIResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hey" || resp.FinishReason != "stop" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
}
