// Package wire implements the per-root-run event bus (§4.4): a
// single-producer-many-consumer fan-out of the typed step.Event stream.
// A Wire is owned by the outermost caller of Runnable.run; child contexts
// created for nested runs share a reference to it so descendant events
// land on the same stream, distinguished by Depth and ParentRunID.
package wire

import (
	"context"
	"sync"

	"github.com/goa-ai/agentrun/internal/step"
	"github.com/goa-ai/agentrun/internal/telemetry"
)

// DefaultBufferSize is the per-subscriber channel capacity used when no
// explicit size is configured.
const DefaultBufferSize = 256

// Wire fans events out to any number of subscribers. It applies a
// bounded-buffer, drop-oldest-STEP_DELTA backpressure policy per
// subscriber: STEP_COMPLETED and RUN_* events are never dropped, because
// state reconstruction depends on them (§4.4).
type Wire struct {
	bufferSize int
	logger     telemetry.Logger

	mu          sync.Mutex
	subscribers map[int]chan step.Event
	nextID      int
	closed      bool
}

// Option configures a Wire at construction time.
type Option func(*Wire)

// WithLogger attaches a Logger used to report lossy-delivery backpressure.
func WithLogger(logger telemetry.Logger) Option {
	return func(w *Wire) { w.logger = logger }
}

// New constructs a Wire with the given per-subscriber buffer size. A
// bufferSize <= 0 uses DefaultBufferSize.
func New(bufferSize int, opts ...Option) *Wire {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	w := &Wire{
		bufferSize:  bufferSize,
		subscribers: make(map[int]chan step.Event),
		logger:      telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Subscription is a handle returned by Subscribe. Events() yields a finite
// stream that terminates when the Wire is closed. Unsubscribe stops
// delivery and releases the subscriber's buffer.
type Subscription struct {
	id     int
	wire   *Wire
	events chan step.Event
}

// Events returns the receive-only channel of events for this subscription.
func (s *Subscription) Events() <-chan step.Event {
	return s.events
}

// Unsubscribe removes the subscriber from the Wire. Safe to call more than
// once.
func (s *Subscription) Unsubscribe() {
	s.wire.remove(s.id)
}

// Subscribe registers a new consumer and returns a Subscription whose
// Events() channel is closed when the Wire is closed.
func (w *Wire) Subscribe() *Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan step.Event, w.bufferSize)
	id := w.nextID
	w.nextID++
	if w.closed {
		close(ch)
		return &Subscription{id: id, wire: w, events: ch}
	}
	w.subscribers[id] = ch
	return &Subscription{id: id, wire: w, events: ch}
}

// Emit delivers event to every current subscriber. For STEP_DELTA events,
// a full subscriber buffer causes the oldest buffered STEP_DELTA to be
// dropped to make room — lossy, but never for STEP_COMPLETED or RUN_*
// events, which always block until there is room (since Emit is called
// from a single producer per Run, this bounds memory without losing
// durable-intent events).
func (w *Wire) Emit(event step.Event) {
	w.mu.Lock()
	subs := make([]chan step.Event, 0, len(w.subscribers))
	for _, ch := range w.subscribers {
		subs = append(subs, ch)
	}
	w.mu.Unlock()

	for _, ch := range subs {
		w.deliver(ch, event)
	}
}

func (w *Wire) deliver(ch chan step.Event, event step.Event) {
	select {
	case ch <- event:
		return
	default:
	}

	if event.Kind != step.EventStepDelta {
		// Durable-intent events must not be dropped: block for room.
		ch <- event
		return
	}

	// Drop the oldest buffered delta to make room for the newest one.
	select {
	case <-ch:
		w.logger.Debug(context.Background(), "wire: dropped oldest buffered delta", "run_id", event.RunID, "kind", string(event.Kind))
	default:
	}
	select {
	case ch <- event:
	default:
		// The buffer is full again: a concurrent Emit took the slot freed
		// above, so this newest delta is dropped.
		w.logger.Debug(context.Background(), "wire: delta delivery skipped after drop", "run_id", event.RunID)
	}
}

// Close terminates the Wire: every subscriber's Events() channel is closed
// and no further Subscribe calls receive live events.
func (w *Wire) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	for id, ch := range w.subscribers {
		close(ch)
		delete(w.subscribers, id)
	}
}

func (w *Wire) remove(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ch, ok := w.subscribers[id]; ok {
		close(ch)
		delete(w.subscribers, id)
	}
}
