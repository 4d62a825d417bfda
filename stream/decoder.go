package stream

import (
	"encoding/json"
	"io"
	"log/slog"
)

// Delta is one decoded increment of a provider stream.
type Delta struct {
	// Text is the raw content fragment to feed to the Parser. Empty for
	// pure control events.
	Text string
	// FinishReason is set when the provider signals why generation stopped.
	// It is a control signal, never content.
	FinishReason string
	// Done marks the end of the stream. After a Done delta the decoder
	// returns io.EOF.
	Done bool
}

// Decoder turns a provider-specific response body into a sequence of
// Deltas. A malformed payload in a single event is logged and skipped so
// one bad line does not kill an otherwise-working stream.
type Decoder interface {
	Next() (Delta, error)
}

// openAIDecoder decodes OpenAI-style chat completion streams:
// `data: <json>` frames carrying {choices:[{delta:{content},
// finish_reason}]}, terminated by a literal `data: [DONE]`.
type openAIDecoder struct {
	sse    *sseDecoder
	logger *slog.Logger
	done   bool
}

// NewOpenAIDecoder decodes an OpenAI-style SSE body. logger may be nil.
func NewOpenAIDecoder(r io.Reader, logger *slog.Logger) Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &openAIDecoder{sse: newSSEDecoder(r), logger: logger}
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
}

func (d *openAIDecoder) Next() (Delta, error) {
	if d.done {
		return Delta{}, io.EOF
	}
	for {
		data, err := d.sse.Next()
		if err != nil {
			if err == io.EOF {
				// Some servers close the connection without sending [DONE].
				d.done = true
				return Delta{Done: true}, nil
			}
			return Delta{}, err
		}
		if string(data) == "[DONE]" {
			d.done = true
			return Delta{Done: true}, nil
		}

		var chunk openAIChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			d.logger.Warn("skipping malformed stream payload", "error", err, "payload", string(data))
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content == "" && choice.FinishReason == "" {
			continue
		}
		return Delta{Text: choice.Delta.Content, FinishReason: choice.FinishReason}, nil
	}
}

// anthropicDecoder decodes Anthropic-style streams: typed SSE events where
// only content_block_delta events carry text, and message_stop ends the
// stream.
type anthropicDecoder struct {
	sse    *sseDecoder
	logger *slog.Logger
	done   bool
}

// NewAnthropicDecoder decodes an Anthropic-style SSE body. logger may be nil.
func NewAnthropicDecoder(r io.Reader, logger *slog.Logger) Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &anthropicDecoder{sse: newSSEDecoder(r), logger: logger}
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
}

func (d *anthropicDecoder) Next() (Delta, error) {
	if d.done {
		return Delta{}, io.EOF
	}
	for {
		data, err := d.sse.Next()
		if err != nil {
			if err == io.EOF {
				d.done = true
				return Delta{Done: true}, nil
			}
			return Delta{}, err
		}

		var ev anthropicEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			d.logger.Warn("skipping malformed stream payload", "error", err, "payload", string(data))
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Text == "" {
				continue
			}
			return Delta{Text: ev.Delta.Text}, nil
		case "message_delta":
			if ev.Delta.StopReason != "" {
				return Delta{FinishReason: ev.Delta.StopReason}, nil
			}
		case "message_stop":
			d.done = true
			return Delta{Done: true}, nil
		}
	}
}
