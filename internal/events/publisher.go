package events

import (
	"context"
	"log/slog"
	"sync"
)

// Publisher delivers payment events to subscribers. Delivery is best effort:
// implementations must not fail the business operation that triggered the
// event.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Fanout forwards every event to each wrapped publisher.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt Event) {
	for _, p := range f {
		p.Publish(ctx, evt)
	}
}

// Nop drops events. Used when no transport is configured.
type Nop struct {
	Logger *slog.Logger
}

func (n Nop) Publish(_ context.Context, evt Event) {
	if n.Logger != nil {
		n.Logger.Warn("no event transport configured, event dropped", "event", string(evt.Type), "order_id", evt.OrderID)
	}
}

// Recorder keeps published events in memory for assertions in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) CountByType(t Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
