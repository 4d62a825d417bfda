// Adapter - the abstract interface for LLM backend families.
//
// Information Hiding:
// - Endpoint paths, auth header schemes and protocol versions per family
// - Request body shaping (message reshaping, default merging, clamping)
// - Response unwrapping to the normalized shape
//
// Adapters are stateless: every call receives the Connection snapshot and
// differs only in formatting rules, so one instance is safe to reuse
// concurrently across requests.

package llm

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/richinex/pagechat/stream"
)

// Request is a fully built provider-specific HTTP request, ready to send.
type Request struct {
	URL    string
	Method string
	Header http.Header
	Body   []byte
}

// Adapter knows how to talk to one backend family.
type Adapter interface {
	// Name returns the family name (for logging/debugging).
	Name() string

	// BuildRequest validates the connection and produces the HTTP request
	// for the given messages and options.
	BuildRequest(conn Connection, messages []Message, opts RequestOptions) (Request, error)

	// Send issues the request, waits for the full body and maps the
	// provider's JSON shape to the normalized Response.
	Send(ctx context.Context, conn Connection, messages []Message, opts RequestOptions) (Response, error)

	// SendStream issues the request with the stream flag set and returns
	// the raw response body unread. The caller owns decoding, parsing and
	// closing; no buffering happens inside the adapter.
	SendStream(ctx context.Context, conn Connection, messages []Message, opts RequestOptions) (io.ReadCloser, error)

	// NewDecoder wraps a response body in this family's stream decoder.
	NewDecoder(r io.Reader, logger *slog.Logger) stream.Decoder
}

// AdapterFor selects the adapter for a provider type. The set of variants
// is closed; unknown tags get the OpenAI-compatible adapter, which speaks
// the most widely implemented wire format.
func AdapterFor(t ProviderType) Adapter {
	switch t {
	case ProviderOpenAI:
		return &openAIAdapter{}
	case ProviderAnthropic:
		return &anthropicAdapter{}
	default:
		return &openAICompatAdapter{}
	}
}
