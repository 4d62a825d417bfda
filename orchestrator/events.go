// Event subscription surface for the orchestrator.
//
// Information Hiding:
// - Listener bookkeeping (ids, per-event slices) hidden behind On/Off
// - Listener failures isolated: a panicking handler is recovered and
//   logged, never propagated to other listeners or the stream loop

package orchestrator

import (
	"log/slog"
	"sync"

	"github.com/richinex/pagechat/llm"
	"github.com/richinex/pagechat/stream"
)

// EventName identifies one orchestrator event.
type EventName string

const (
	EventStreamStart      EventName = "streamStart"
	EventStreamChunk      EventName = "streamChunk"
	EventStreamEnd        EventName = "streamEnd"
	EventStreamError      EventName = "streamError"
	EventMessageStart     EventName = "messageStart"
	EventMessageComplete  EventName = "messageComplete"
	EventMessageError     EventName = "messageError"
	EventRequestCancelled EventName = "requestCancelled"
)

// Event carries the progress of one request. Which fields are populated
// depends on the event name: chunk events carry the increment in Content
// and only newly completed blocks in Blocks; end/complete events carry the
// cumulative values.
type Event struct {
	RequestID    string
	Content      string
	FullContent  string
	Blocks       []stream.Block
	Err          error
	Usage        *llm.TokenUsage
	Model        string
	FinishReason string
}

// Handler receives events for one subscribed name.
type Handler func(Event)

// Subscription identifies one registered handler so it can be removed.
// Handlers are not comparable in Go, so Off takes the handle returned by
// On rather than the handler itself.
type Subscription struct {
	name EventName
	id   uint64
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// emitter is the orchestrator's instance-owned listener registry. No
// process-wide state: two Orchestrators never share listeners.
type emitter struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventName][]handlerEntry
	logger   *slog.Logger
}

func newEmitter(logger *slog.Logger) *emitter {
	return &emitter{handlers: make(map[EventName][]handlerEntry), logger: logger}
}

// On registers a handler for an event name.
func (e *emitter) On(name EventName, fn Handler) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.handlers[name] = append(e.handlers[name], handlerEntry{id: e.nextID, fn: fn})
	return Subscription{name: name, id: e.nextID}
}

// Off removes a previously registered handler. Unknown subscriptions are
// ignored.
func (e *emitter) Off(sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.handlers[sub.name]
	for i, entry := range entries {
		if entry.id == sub.id {
			e.handlers[sub.name] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// emit delivers an event to every handler registered for name. Handlers
// run synchronously in registration order; panics are contained.
func (e *emitter) emit(name EventName, ev Event) {
	e.mu.RLock()
	entries := make([]handlerEntry, len(e.handlers[name]))
	copy(entries, e.handlers[name])
	e.mu.RUnlock()

	for _, entry := range entries {
		e.safeCall(name, entry.fn, ev)
	}
}

func (e *emitter) safeCall(name EventName, fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event listener panicked", "event", string(name), "panic", r)
		}
	}()
	fn(ev)
}
