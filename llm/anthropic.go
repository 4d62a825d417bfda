// Anthropic adapter - Anthropic messages API wire format.
//
// Information Hiding:
// - x-api-key auth and anthropic-version protocol header
// - System-message lifting: system-role messages leave the messages array
//   and become the top-level system string
// - Inbound {content:[{type,text}], stop_reason, usage} unwrapping

package llm

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/richinex/pagechat/stream"
)

type anthropicAdapter struct{}

func (a *anthropicAdapter) Name() string { return "anthropic" }

func (a *anthropicAdapter) validate(conn Connection) error {
	if conn.Endpoint == "" {
		return &ValidationError{Field: "endpoint", Reason: "required"}
	}
	if conn.Model == "" {
		return &ValidationError{Field: "model", Reason: "required"}
	}
	if conn.APIKey == "" {
		return &ValidationError{Field: "api_key", Reason: "required"}
	}
	return nil
}

func (a *anthropicAdapter) BuildRequest(conn Connection, messages []Message, opts RequestOptions) (Request, error) {
	if err := a.validate(conn); err != nil {
		return Request{}, err
	}
	body, err := buildBody(conn, messages, opts, true)
	if err != nil {
		return Request{}, err
	}
	header := baseHeaders(conn)
	header.Set("x-api-key", conn.APIKey)
	header.Set("anthropic-version", anthropicVersion)
	return Request{
		URL:    joinURL(conn.Endpoint, "/v1/messages"),
		Method: http.MethodPost,
		Header: header,
		Body:   body,
	}, nil
}

func (a *anthropicAdapter) Send(ctx context.Context, conn Connection, messages []Message, opts RequestOptions) (Response, error) {
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
	return mapAnthropicResponse(raw)
}

func (a *anthropicAdapter) SendStream(ctx context.Context, conn Connection, messages []Message, opts RequestOptions) (io.ReadCloser, error) {
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

func (a *anthropicAdapter) NewDecoder(r io.Reader, logger *slog.Logger) stream.Decoder {
	return stream.NewAnthropicDecoder(r, logger)
}

// Verify anthropicAdapter implements Adapter
var _ Adapter = (*anthropicAdapter)(nil)
