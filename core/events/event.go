package events

import (
	"sync"

	"fraudproof/core/types"
)

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder keeps every emitted event in memory. It backs tests and the
// daemon's recent-events view.
type Recorder struct {
	mu     sync.Mutex
	events []*types.Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil || evt.Event() == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt.Event().Clone())
}

// Events returns a copy of the recorded payloads in emission order.
func (r *Recorder) Events() []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Event, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Clone()
	}
	return out
}

// Fanout forwards each event to every wrapped emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
