package observe

import (
	"context"
	"sync"
)

// Sink receives session events from the runner. Implementations must be safe
// for concurrent use; the runner emits from every live session's goroutine.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// NoopSink discards every event. It is the runner's default so a trainer
// deployment without observability wiring pays nothing.
type NoopSink struct{}

func (NoopSink) Emit(ctx context.Context, event Event) error {
	_ = ctx
	_ = event
	return nil
}

// MultiSink forwards each event to several sinks in order and stops at the
// first failing one.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks, skipping nils. With no usable sink it returns
// a NoopSink, and with exactly one it returns that sink unwrapped.
func NewMultiSink(sinks ...Sink) Sink {
	active := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		active = append(active, s)
	}
	if len(active) == 0 {
		return NoopSink{}
	}
	if len(active) == 1 {
		return active[0]
	}
	return &MultiSink{sinks: active}
}

func (m *MultiSink) Emit(ctx context.Context, event Event) error {
	if m == nil {
		return nil
	}
	for _, sink := range m.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// defaultAsyncBuffer absorbs a telemetry-tick burst across a handful of
// concurrent sessions before events start getting dropped.
const defaultAsyncBuffer = 256

// AsyncSink decouples command and telemetry handling from a slow downstream
// sink. Events are queued and delivered by a single background goroutine;
// when the queue is full new events are dropped, never the session's verdict.
type AsyncSink struct {
	downstream Sink
	queue      chan Event
	once       sync.Once
}

// NewAsyncSink starts the delivery goroutine. A nil downstream degrades to a
// NoopSink and a non-positive buffer gets the default.
func NewAsyncSink(downstream Sink, buffer int) *AsyncSink {
	if downstream == nil {
		downstream = NoopSink{}
	}
	if buffer <= 0 {
		buffer = defaultAsyncBuffer
	}
	as := &AsyncSink{
		downstream: downstream,
		queue:      make(chan Event, buffer),
	}
	go as.drain()
	return as
}

// Emit queues the event for background delivery. It never blocks: a full
// queue drops the event so session evaluation keeps its pace.
func (s *AsyncSink) Emit(ctx context.Context, event Event) error {
	if s == nil {
		return nil
	}
	event.Normalize()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.queue <- event:
		return nil
	default:
		return nil
	}
}

// Close stops accepting events and lets the delivery goroutine finish the
// queue. Safe to call more than once.
func (s *AsyncSink) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.queue) })
}

func (s *AsyncSink) drain() {
	for event := range s.queue {
		_ = s.downstream.Emit(context.Background(), event)
	}
}
