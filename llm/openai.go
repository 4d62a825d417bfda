// OpenAI adapter - hosted OpenAI chat completions wire format.
//
// Information Hiding:
// - Bearer auth scheme and chat completions path
// - Outbound body {model, messages, max_tokens, temperature, stream}
// - Inbound {choices:[{message,finish_reason}], usage, model} unwrapping

package llm

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/richinex/pagechat/stream"
)

type openAIAdapter struct{}

func (a *openAIAdapter) Name() string { return "openai" }

func (a *openAIAdapter) validate(conn Connection) error {
	if conn.Endpoint == "" {
		return &ValidationError{Field: "endpoint", Reason: "required"}
	}
	if conn.Model == "" {
		return &ValidationError{Field: "model", Reason: "required"}
	}
	if conn.APIKey == "" && !conn.IsLocalEndpoint() {
		return &ValidationError{Field: "api_key", Reason: "required for non-local endpoints"}
	}
	return nil
}

func (a *openAIAdapter) BuildRequest(conn Connection, messages []Message, opts RequestOptions) (Request, error) {
	if err := a.validate(conn); err != nil {
		return Request{}, err
	}
	body, err := buildBody(conn, messages, opts, false)
	if err != nil {
		return Request{}, err
	}
	header := baseHeaders(conn)
	if conn.APIKey != "" {
		header.Set("Authorization", "Bearer "+conn.APIKey)
	}
	return Request{
		URL:    joinURL(conn.Endpoint, "/chat/completions"),
		Method: http.MethodPost,
		Header: header,
		Body:   body,
	}, nil
}

func (a *openAIAdapter) Send(ctx context.Context, conn Connection, messages []Message, opts RequestOptions) (Response, error) {
	opts.Stream = false
	req, err := a.BuildRequest(conn, messages, opts)
	if err != nil {
		return Response{}, err
	}
	resp, cancel, err := doRequest(ctx, conn, req)
	if err != nil {
		return Response{}, err
	}
	defer cancel()
	raw, err := readResponse(resp)
	if err != nil {
		return Response{}, err
	}
	return mapOpenAIResponse(raw)
}

func (a *openAIAdapter) SendStream(ctx context.Context, conn Connection, messages []Message, opts RequestOptions) (io.ReadCloser, error) {
	opts.Stream = true
	req, err := a.BuildRequest(conn, messages, opts)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, cancel, err := doRequest(ctx, conn, req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		cancel()
		return nil, err
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (a *openAIAdapter) NewDecoder(r io.Reader, logger *slog.Logger) stream.Decoder {
	return stream.NewOpenAIDecoder(r, logger)
}

// Verify openAIAdapter implements Adapter
var _ Adapter = (*openAIAdapter)(nil)
