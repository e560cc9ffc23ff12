// Package stream normalizes provider-specific model streams into one small
// event set consumed by the battle orchestrator.
package stream

import (
	"context"
	"errors"

	"arena/internal/arena"
)

// Kind enumerates the normalized adapter events.
type Kind string

const (
	KindContent           Kind = "content"
	KindReasoning         Kind = "reasoning"
	KindReasoningBoundary Kind = "reasoning_boundary"
	KindRetrievalStatus   Kind = "retrieval_status"
	KindSources           Kind = "sources"
	KindUsage             Kind = "usage"
	KindDone              Kind = "done"
	KindError             Kind = "error"
)

// Event is one normalized stream event. Within one adapter events arrive in
// order and exactly one terminal event (done or error) is emitted; across
// adapters there is no ordering guarantee.
type Event struct {
	Kind Kind
	// Delta carries text for content and reasoning events.
	Delta string
	// Boundary is "start" or "end" for reasoning_boundary events.
	Boundary string
	// Retrieval is "searching" or "done"; Query is set while searching.
	Retrieval string
	Query     string
	Sources   []arena.Source
	Usage     *arena.Usage
	Err       string
}

// Terminal reports whether the event closes the stream.
func (e Event) Terminal() bool { return e.Kind == KindDone || e.Kind == KindError }

// Request describes one outbound model call.
type Request struct {
	Model    arena.Model
	Prompt   string
	Settings arena.Settings
}

// Adapter opens one streaming call to a model backend. The returned channel
// is closed after the terminal event. The cancel func is safe to call at any
// time and guarantees the adapter stops producing; events already buffered
// are discarded by the caller, not re-delivered.
type Adapter interface {
	Open(ctx context.Context, req Request) (<-chan Event, context.CancelFunc, error)
}

// Opener lets plain functions act as adapters.
type Opener func(ctx context.Context, req Request) (<-chan Event, context.CancelFunc, error)

func (f Opener) Open(ctx context.Context, req Request) (<-chan Event, context.CancelFunc, error) {
	return f(ctx, req)
}

var ErrNoAdapter = errors.New("stream: no adapter registered for provider")

// Registry routes a model's provider tag to its adapter.
type Registry map[string]Adapter

func (r Registry) Open(ctx context.Context, req Request) (<-chan Event, context.CancelFunc, error) {
	a, ok := r[req.Model.Provider]
	if !ok {
		return nil, nil, ErrNoAdapter
	}
	return a.Open(ctx, req)
}

// emitter serializes sends and enforces the at-most-one-terminal contract.
type emitter struct {
	ctx  context.Context
	ch   chan Event
	done bool
}

func newEmitter(ctx context.Context, buf int) *emitter {
	return &emitter{ctx: ctx, ch: make(chan Event, buf)}
}

// send delivers ev unless the stream is already terminal or the context is
// cancelled. Returns false once no further events will be accepted.
func (e *emitter) send(ev Event) bool {
	if e.done {
		return false
	}
	// Cancellation wins over a free buffer slot.
	select {
	case <-e.ctx.Done():
		e.done = true
		close(e.ch)
		return false
	default:
	}
	select {
	case <-e.ctx.Done():
		e.done = true
		close(e.ch)
		return false
	case e.ch <- ev:
	}
	if ev.Terminal() {
		e.done = true
		close(e.ch)
	}
	return !e.done
}

// finish emits the terminal event for err (nil means done).
func (e *emitter) finish(err error) {
	if e.done {
		return
	}
	if err == nil {
		e.send(Event{Kind: KindDone})
		return
	}
	e.send(Event{Kind: KindError, Err: err.Error()})
}
