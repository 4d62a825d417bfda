package stream

import (
	"io"
	"strings"
	"testing"
)

// collect drains a decoder, returning concatenated text and the final
// finish reason.
func collect(t *testing.T, d Decoder) (string, string) {
	t.Helper()
	var text strings.Builder
	var finish string
	for {
		delta, err := d.Next()
		if err != nil {
			t.Fatalf("unexpected decoder error: %v", err)
		}
		text.WriteString(delta.Text)
		if delta.FinishReason != "" {
			finish = delta.FinishReason
		}
		if delta.Done {
			return text.String(), finish
		}
	}
}

func TestSSEDecoderBasic(t *testing.T) {
	body := "data: one\n\ndata: two\n\n"
	d := newSSEDecoder(strings.NewReader(body))

	first, err := d.Next()
	if err != nil || string(first) != "one" {
		t.Fatalf("expected 'one', got %q, err %v", first, err)
	}
	second, err := d.Next()
	if err != nil || string(second) != "two" {
		t.Fatalf("expected 'two', got %q, err %v", second, err)
	}
	if _, err := d.Next(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestSSEDecoderJoinsMultipleDataLines(t *testing.T) {
	body := "data: line1\ndata: line2\n\n"
	d := newSSEDecoder(strings.NewReader(body))

	payload, err := d.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != "line1\nline2" {
		t.Errorf("expected joined payload, got %q", payload)
	}
}

func TestSSEDecoderSkipsComments(t *testing.T) {
	body := ": keepalive\ndata: real\n\n"
	d := newSSEDecoder(strings.NewReader(body))

	payload, err := d.Next()
	if err != nil || string(payload) != "real" {
		t.Fatalf("expected 'real', got %q, err %v", payload, err)
	}
}

func TestSSEDecoderCRLF(t *testing.T) {
	body := "data: crlf\r\n\r\n"
	d := newSSEDecoder(strings.NewReader(body))

	payload, err := d.Next()
	if err != nil || string(payload) != "crlf" {
		t.Fatalf("expected 'crlf', got %q, err %v", payload, err)
	}
}

func TestSSEDecoderFlushesPayloadBeforeEOF(t *testing.T) {
	// No trailing blank line; the accumulated payload must still surface.
	body := "data: tail"
	d := newSSEDecoder(strings.NewReader(body))

	payload, err := d.Next()
	if err != nil || string(payload) != "tail" {
		t.Fatalf("expected 'tail', got %q, err %v", payload, err)
	}
	if _, err := d.Next(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestOpenAIDecoderStream(t *testing.T) {
	body := `data: {"choices":[{"delta":{"content":"Hel"}}]}

data: {"choices":[{"delta":{"content":"lo"}}]}

data: {"choices":[{"delta":{},"finish_reason":"stop"}]}

data: [DONE]

`
	d := NewOpenAIDecoder(strings.NewReader(body), nil)
	text, finish := collect(t, d)
	if text != "Hello" {
		t.Errorf("expected 'Hello', got %q", text)
	}
	if finish != "stop" {
		t.Errorf("expected finish reason 'stop', got %q", finish)
	}
}

func TestOpenAIDecoderSkipsMalformedPayload(t *testing.T) {
	body := `data: {"choices":[{"delta":{"content":"a"}}]}

data: {not json

data: {"choices":[{"delta":{"content":"b"}}]}

data: [DONE]

`
	d := NewOpenAIDecoder(strings.NewReader(body), nil)
	text, _ := collect(t, d)
	if text != "ab" {
		t.Errorf("expected malformed line skipped, got %q", text)
	}
}

func TestOpenAIDecoderEOFWithoutDone(t *testing.T) {
	body := `data: {"choices":[{"delta":{"content":"x"}}]}

`
	d := NewOpenAIDecoder(strings.NewReader(body), nil)
	text, _ := collect(t, d)
	if text != "x" {
		t.Errorf("expected 'x', got %q", text)
	}
	if _, err := d.Next(); err != io.EOF {
		t.Errorf("expected io.EOF after done, got %v", err)
	}
}

func TestAnthropicDecoderStream(t *testing.T) {
	body := `data: {"type":"message_start"}

data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi "}}

data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"there"}}

data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}

data: {"type":"message_stop"}

`
	d := NewAnthropicDecoder(strings.NewReader(body), nil)
	text, finish := collect(t, d)
	if text != "Hi there" {
		t.Errorf("expected 'Hi there', got %q", text)
	}
	if finish != "end_turn" {
		t.Errorf("expected finish reason 'end_turn', got %q", finish)
	}
}

func TestAnthropicDecoderIgnoresUnknownEvents(t *testing.T) {
	body := `data: {"type":"ping"}

data: {"type":"content_block_start","index":0}

data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"ok"}}

data: {"type":"message_stop"}

`
	d := NewAnthropicDecoder(strings.NewReader(body), nil)
	text, _ := collect(t, d)
	if text != "ok" {
		t.Errorf("expected 'ok', got %q", text)
	}
}
