package events

import (
	"log/slog"
	"sync"

	"lendkeeper/core/types"
)

// Event represents a structured state change emitted by a position.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. logs, the HTTP
// gateway).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []*types.Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(e Event) {
	if e == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, e.Event())
	r.mu.Unlock()
}

// Events returns the recorded payloads in emission order.
func (r *Recorder) Events() []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.Event(nil), r.events...)
}

// LogEmitter writes each event as a structured log record.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements the Emitter interface.
func (l LogEmitter) Emit(e Event) {
	if e == nil {
		return
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	payload := e.Event()
	attrs := make([]any, 0, len(payload.Attributes)*2)
	for k, v := range payload.Attributes {
		attrs = append(attrs, k, v)
	}
	logger.Info("event", append([]any{"type", payload.Type}, attrs...)...)
}

// Fanout forwards every event to each emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(e Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(e)
		}
	}
}
