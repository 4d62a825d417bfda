// Package orchestrator drives requests against configured LLM backends.
//
// Information Hiding:
// - Adapter selection and streaming mechanics hidden behind SendMessage
// - Per-request accumulator state (full content, block list) never shared
// - In-flight bookkeeping and cancellation handles owned by the instance
//
// Each request owns an independent stream parser and accumulator, so any
// number of requests may be in flight concurrently. The only shared
// mutable structures are the listener registry and the in-flight map,
// both mutex-guarded.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/pagechat/llm"
	"github.com/richinex/pagechat/stream"
)

// ConnectionStore is the settings collaborator the orchestrator consumes.
// Implementations live elsewhere (see the storage package); the core only
// ever reads connection snapshots.
type ConnectionStore interface {
	// ActiveConnection returns the connection marked active, or
	// llm.ErrNoActiveConnection when none is.
	ActiveConnection(ctx context.Context) (llm.Connection, error)

	// EnabledConnections returns all enabled connections in priority
	// order (lowest priority value first).
	EnabledConnections(ctx context.Context) ([]llm.Connection, error)
}

// PageContext is caller-supplied page information spliced into a system
// message. The orchestrator treats every field as opaque text.
type PageContext struct {
	URL           string
	Title         string
	SelectedText  string
	Markdown      string
	PluginContent string
}

// SendOptions tunes one SendMessage call.
type SendOptions struct {
	// Streaming selects the streaming path when the connection also
	// declares the capability.
	Streaming bool
	// ExcludeContext suppresses splicing a provided PageContext into the
	// request. The zero value includes the context, so callers opt out,
	// never opt in.
	ExcludeContext bool
	// SystemMessage is an optional system preamble.
	SystemMessage string
	// History is optional prior conversation, prepended before the new
	// user message.
	History     []llm.Message
	MaxTokens   int
	Temperature *float64
}

// DefaultSendOptions returns the options most callers want: streaming on,
// page context included.
func DefaultSendOptions() SendOptions {
	return SendOptions{Streaming: true}
}

// SendResult reports how a request was dispatched. For the single-shot
// path the final content, blocks and usage are populated directly; for
// the streaming path progress arrives through events keyed by RequestID.
type SendResult struct {
	RequestID    string
	Type         string // "streaming" or "complete"
	Content      string
	Blocks       []stream.Block
	Usage        *llm.TokenUsage
	Model        string
	FinishReason string
}

// Orchestrator builds provider-neutral requests, drives the stream parser
// and republishes progress as events.
type Orchestrator struct {
	*emitter

	store      ConnectionStore
	adapterFor func(llm.ProviderType) llm.Adapter
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for skipped payloads, fallback attempts
// and listener panics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAdapterResolver overrides adapter selection; used by tests to
// substitute fakes.
func WithAdapterResolver(fn func(llm.ProviderType) llm.Adapter) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.adapterFor = fn
		}
	}
}

// New creates an orchestrator reading connection snapshots from store.
func New(store ConnectionStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		adapterFor: llm.AdapterFor,
		logger:     slog.Default(),
		inflight:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.emitter = newEmitter(o.logger)
	return o
}

// SendMessage sends text (plus optional page context) to the active
// connection. Adapter validation and HTTP dispatch errors are returned
// directly; once a stream is open, failures surface exactly once as a
// streamError event for the returned RequestID.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, page *PageContext, opts SendOptions) (SendResult, error) {
	conn, err := o.store.ActiveConnection(ctx)
	if err != nil {
		return SendResult{}, err
	}
	return o.sendTo(ctx, conn, text, page, opts)
}

// SendWithFallback tries each enabled connection in priority order,
// stopping at the first success. The last error is returned when every
// connection fails.
func (o *Orchestrator) SendWithFallback(ctx context.Context, text string, page *PageContext, opts SendOptions) (SendResult, error) {
	conns, err := o.store.EnabledConnections(ctx)
	if err != nil {
		return SendResult{}, err
	}
	if len(conns) == 0 {
		return SendResult{}, llm.ErrNoEnabledConnections
	}
	sort.SliceStable(conns, func(i, j int) bool { return conns[i].Priority < conns[j].Priority })

	var lastErr error
	for _, conn := range conns {
		result, err := o.sendTo(ctx, conn, text, page, opts)
		if err == nil {
			return result, nil
		}
		lastErr = err
		o.logger.Warn("connection failed, trying next", "connection", conn.Name, "error", err)
	}
	return SendResult{}, lastErr
}

// CancelRequest aborts an in-flight request. The transport call is
// cancelled, bookkeeping removed, and a requestCancelled event emitted;
// no chunk or end events fire for the id afterwards. Unknown ids are
// ignored.
func (o *Orchestrator) CancelRequest(requestID string) {
	o.mu.Lock()
	cancel, ok := o.inflight[requestID]
	delete(o.inflight, requestID)
	o.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	o.emit(EventRequestCancelled, Event{RequestID: requestID})
}

func (o *Orchestrator) sendTo(ctx context.Context, conn llm.Connection, text string, page *PageContext, opts SendOptions) (SendResult, error) {
	messages := buildMessages(text, page, opts)
	adapter := o.adapterFor(conn.Type)
	llmOpts := llm.RequestOptions{MaxTokens: opts.MaxTokens, Temperature: opts.Temperature}

	if opts.Streaming && conn.Capabilities.Streaming {
		return o.sendStreaming(ctx, conn, adapter, messages, llmOpts)
	}
	return o.sendComplete(ctx, conn, adapter, messages, llmOpts)
}

func (o *Orchestrator) sendStreaming(ctx context.Context, conn llm.Connection, adapter llm.Adapter, messages []llm.Message, opts llm.RequestOptions) (SendResult, error) {
	requestID := newRequestID()

	streamCtx, cancel := context.WithCancel(ctx)
	body, err := adapter.SendStream(streamCtx, conn, messages, opts)
	if err != nil {
		cancel()
		return SendResult{}, err
	}

	o.mu.Lock()
	o.inflight[requestID] = cancel
	o.mu.Unlock()

	o.emit(EventStreamStart, Event{RequestID: requestID, Model: conn.Model})

	dec := adapter.NewDecoder(body, o.logger)
	go func() {
		defer body.Close()
		o.runStream(streamCtx, requestID, dec)
	}()

	return SendResult{RequestID: requestID, Type: "streaming"}, nil
}

// runStream is the per-request accumulator loop: decode, feed the parser,
// emit chunk events, and finish with exactly one terminal event.
func (o *Orchestrator) runStream(ctx context.Context, requestID string, dec stream.Decoder) {
	parser := stream.NewParser()
	var full strings.Builder
	var allBlocks []stream.Block
	var finishReason string

	for {
		delta, err := dec.Next()
		if err != nil {
			o.finishWithError(ctx, requestID, err)
			return
		}

		if delta.Text != "" {
			content, blocks := parser.Feed(delta.Text)
			full.WriteString(content)
			allBlocks = append(allBlocks, blocks...)
			if (content != "" || len(blocks) > 0) && !o.cancelled(ctx, requestID) {
				o.emit(EventStreamChunk, Event{
					RequestID:   requestID,
					Content:     content,
					Blocks:      blocks,
					FullContent: full.String(),
				})
			}
		}
		if delta.FinishReason != "" {
			finishReason = delta.FinishReason
		}

		if delta.Done {
			// An unterminated tag at end-of-stream is surfaced verbatim so
			// no model output is ever lost.
			if tail := parser.Flush(); tail != "" {
				full.WriteString(tail)
				if !o.cancelled(ctx, requestID) {
					o.emit(EventStreamChunk, Event{
						RequestID:   requestID,
						Content:     tail,
						FullContent: full.String(),
					})
				}
			}
			if o.release(requestID) {
				o.emit(EventStreamEnd, Event{
					RequestID:    requestID,
					FullContent:  full.String(),
					Blocks:       allBlocks,
					FinishReason: finishReason,
				})
			}
			return
		}
	}
}

func (o *Orchestrator) finishWithError(ctx context.Context, requestID string, err error) {
	if !o.release(requestID) {
		// CancelRequest got there first and already emitted
		// requestCancelled; stay silent.
		return
	}
	if errors.Is(err, context.Canceled) {
		// The caller's context was cancelled without a CancelRequest
		// call; the cancelled event is the terminal one here.
		o.emit(EventRequestCancelled, Event{RequestID: requestID})
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = &llm.TimeoutError{Cause: err}
	} else {
		var te *llm.TimeoutError
		if !errors.As(err, &te) {
			err = &llm.StreamError{Cause: err}
		}
	}
	o.emit(EventStreamError, Event{RequestID: requestID, Err: err})
}

func (o *Orchestrator) sendComplete(ctx context.Context, conn llm.Connection, adapter llm.Adapter, messages []llm.Message, opts llm.RequestOptions) (SendResult, error) {
	requestID := newRequestID()
	o.emit(EventMessageStart, Event{RequestID: requestID, Model: conn.Model})

	resp, err := adapter.Send(ctx, conn, messages, opts)
	if err != nil {
		o.emit(EventMessageError, Event{RequestID: requestID, Err: err})
		return SendResult{}, err
	}

	content, blocks := stream.ParseComplete(resp.Content)
	result := SendResult{
		RequestID:    requestID,
		Type:         "complete",
		Content:      content,
		Blocks:       blocks,
		Usage:        resp.Usage,
		Model:        resp.Model,
		FinishReason: resp.FinishReason,
	}
	o.emit(EventMessageComplete, Event{
		RequestID:    requestID,
		FullContent:  content,
		Blocks:       blocks,
		Usage:        resp.Usage,
		Model:        resp.Model,
		FinishReason: resp.FinishReason,
	})
	return result, nil
}

// release removes a request from the in-flight map, reporting whether it
// was still tracked. A false return means CancelRequest got there first
// and no further events may fire for the id.
func (o *Orchestrator) release(requestID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.inflight[requestID]
	if ok {
		delete(o.inflight, requestID)
		cancel()
	}
	return ok
}

// cancelled reports whether the request was cancelled out from under the
// stream loop.
func (o *Orchestrator) cancelled(ctx context.Context, requestID string) bool {
	if ctx.Err() != nil {
		return true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[requestID]
	return !ok
}

// buildMessages assembles the provider-neutral message list: optional
// system preamble, optional labeled page-context message, caller history,
// then the new user message.
func buildMessages(text string, page *PageContext, opts SendOptions) []llm.Message {
	var messages []llm.Message
	if opts.SystemMessage != "" {
		messages = append(messages, llm.SystemMessage(opts.SystemMessage))
	}
	if page != nil && !opts.ExcludeContext {
		messages = append(messages, llm.SystemMessage(page.systemPrompt()))
	}
	messages = append(messages, opts.History...)
	messages = append(messages, llm.UserMessage(text))
	return messages
}

// systemPrompt renders the page context as a labeled system message. The
// content is opaque to the core; labels just keep the sections apart for
// the model.
func (p *PageContext) systemPrompt() string {
	var b strings.Builder
	b.WriteString("The user is viewing a web page. Use the page context below when relevant.\n")
	if p.Title != "" {
		fmt.Fprintf(&b, "\nPage title: %s\n", p.Title)
	}
	if p.URL != "" {
		fmt.Fprintf(&b, "\nPage URL: %s\n", p.URL)
	}
	if p.SelectedText != "" {
		fmt.Fprintf(&b, "\nSelected text:\n%s\n", p.SelectedText)
	}
	if p.Markdown != "" {
		fmt.Fprintf(&b, "\nPage content (markdown):\n%s\n", p.Markdown)
	}
	if p.PluginContent != "" {
		fmt.Fprintf(&b, "\nExtracted content:\n%s\n", p.PluginContent)
	}
	return b.String()
}

// newRequestID generates a correlation id: time-based prefix plus a random
// suffix. Collision probability is treated as negligible.
func newRequestID() string {
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
