package llm

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const (
	defaultMaxTokens   = 4000
	defaultTemperature = 0.7
	defaultTimeout     = 30 * time.Second

	anthropicVersion = "2023-06-01"
)

// wireRequest is the outbound JSON body. OpenAI-style and Anthropic-style
// share the shape except for the top-level system field, which only the
// Anthropic family uses.
type wireRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
	System      string    `json:"system,omitempty"`
}

// buildBody merges request defaults with connection constraints. When
// liftSystem is set (Anthropic), system-role messages are concatenated
// into the top-level system string and removed from the message list.
func buildBody(conn Connection, messages []Message, opts RequestOptions, liftSystem bool) ([]byte, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if conn.ContextWindow > 0 && maxTokens > conn.ContextWindow {
		maxTokens = conn.ContextWindow
	}

	temperature := defaultTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	body := wireRequest{
		Model:       conn.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      opts.Stream,
	}

	if liftSystem {
		var system []string
		kept := make([]Message, 0, len(messages))
		for _, msg := range messages {
			switch msg.Role {
			case "system":
				system = append(system, msg.Content)
			case "user", "assistant":
				kept = append(kept, msg)
			}
		}
		body.Messages = kept
		body.System = strings.Join(system, "\n\n")
	}

	return json.Marshal(body)
}

// baseHeaders builds the header set common to all adapters: JSON content
// type plus the connection's custom headers.
func baseHeaders(conn Connection) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	for name, value := range conn.Headers {
		h.Set(name, value)
	}
	return h
}

// joinURL concatenates an endpoint base with a path segment without
// doubling slashes.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// openAIResponse is the inbound non-streaming shape for the OpenAI family.
type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     uint32 `json:"prompt_tokens"`
		CompletionTokens uint32 `json:"completion_tokens"`
		TotalTokens      uint32 `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

func mapOpenAIResponse(raw []byte) (Response, error) {
	var wresp openAIResponse
	if err := json.Unmarshal(raw, &wresp); err != nil {
		return Response{}, &StreamError{Cause: err}
	}
	out := Response{Model: wresp.Model}
	if len(wresp.Choices) > 0 {
		out.Content = wresp.Choices[0].Message.Content
		out.FinishReason = wresp.Choices[0].FinishReason
	}
	if wresp.Usage != nil {
		out.Usage = &TokenUsage{
			PromptTokens:     wresp.Usage.PromptTokens,
			CompletionTokens: wresp.Usage.CompletionTokens,
			TotalTokens:      wresp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// anthropicResponse is the inbound non-streaming shape for Anthropic.
type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      *struct {
		InputTokens  uint32 `json:"input_tokens"`
		OutputTokens uint32 `json:"output_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

func mapAnthropicResponse(raw []byte) (Response, error) {
	var wresp anthropicResponse
	if err := json.Unmarshal(raw, &wresp); err != nil {
		return Response{}, &StreamError{Cause: err}
	}
	out := Response{Model: wresp.Model, FinishReason: wresp.StopReason}
	var content strings.Builder
	for _, block := range wresp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	out.Content = content.String()
	if wresp.Usage != nil {
		out.Usage = &TokenUsage{
			PromptTokens:     wresp.Usage.InputTokens,
			CompletionTokens: wresp.Usage.OutputTokens,
			TotalTokens:      wresp.Usage.InputTokens + wresp.Usage.OutputTokens,
		}
	}
	return out, nil
}
