// OpenAI-compatible adapter - self-hosted servers speaking the OpenAI wire
// format (Ollama, LM Studio, vLLM, LocalAI, ...).
//
// Information Hiding:
// - Optional auth (local servers commonly run without credentials)
// - The /v1 path fallback: self-hosted servers disagree on whether the
//   chat completions route lives under /v1, so a "not found" on the plain
//   path gets one retry against base + "/v1"

package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/richinex/pagechat/stream"
)

type openAICompatAdapter struct{}

func (a *openAICompatAdapter) Name() string { return "openai-compatible" }

func (a *openAICompatAdapter) validate(conn Connection) error {
	if conn.Endpoint == "" {
		return &ValidationError{Field: "endpoint", Reason: "required"}
	}
	if conn.Model == "" {
		return &ValidationError{Field: "model", Reason: "required"}
	}
	return nil
}

func (a *openAICompatAdapter) BuildRequest(conn Connection, messages []Message, opts RequestOptions) (Request, error) {
	return a.buildRequestPath(conn, messages, opts, "/chat/completions")
}

func (a *openAICompatAdapter) buildRequestPath(conn Connection, messages []Message, opts RequestOptions, path string) (Request, error) {
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
		URL:    joinURL(conn.Endpoint, path),
		Method: http.MethodPost,
		Header: header,
		Body:   body,
	}, nil
}

// isNotFound reports whether err is an HTTP 404, the signal that the
// server wants the /v1 path segment.
func isNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Status == http.StatusNotFound
}

func (a *openAICompatAdapter) Send(ctx context.Context, conn Connection, messages []Message, opts RequestOptions) (Response, error) {
	opts.Stream = false
	raw, err := a.send(ctx, conn, messages, opts, "/chat/completions")
	if isNotFound(err) {
		raw, err = a.send(ctx, conn, messages, opts, "/v1/chat/completions")
	}
	if err != nil {
		return Response{}, err
	}
	return mapOpenAIResponse(raw)
}

func (a *openAICompatAdapter) send(ctx context.Context, conn Connection, messages []Message, opts RequestOptions, path string) ([]byte, error) {
	req, err := a.buildRequestPath(conn, messages, opts, path)
	if err != nil {
		return nil, err
	}
	resp, cancel, err := doRequest(ctx, conn, req)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return readResponse(resp)
}

func (a *openAICompatAdapter) SendStream(ctx context.Context, conn Connection, messages []Message, opts RequestOptions) (io.ReadCloser, error) {
	opts.Stream = true
	body, err := a.sendStream(ctx, conn, messages, opts, "/chat/completions")
	if isNotFound(err) {
		body, err = a.sendStream(ctx, conn, messages, opts, "/v1/chat/completions")
	}
	return body, err
}

func (a *openAICompatAdapter) sendStream(ctx context.Context, conn Connection, messages []Message, opts RequestOptions, path string) (io.ReadCloser, error) {
	req, err := a.buildRequestPath(conn, messages, opts, path)
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

func (a *openAICompatAdapter) NewDecoder(r io.Reader, logger *slog.Logger) stream.Decoder {
	return stream.NewOpenAIDecoder(r, logger)
}

// Verify openAICompatAdapter implements Adapter
var _ Adapter = (*openAICompatAdapter)(nil)
