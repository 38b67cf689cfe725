package streaming

import (
	"context"
	"time"

	"github.com/rendis/deskflow/internal/store"
)

// EventAppender is the sink the interpreter writes run events to.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// Appender writes each event to an optional next appender, usually the
// store, and then publishes it on a hub. A failed write is returned and the
// event is not published.
type Appender struct {
	hub  EventHub
	next EventAppender
}

// NewAppender creates an Appender. next may be nil.
func NewAppender(hub EventHub, next EventAppender) *Appender {
	return &Appender{hub: hub, next: next}
}

// AppendEvent records and publishes event.
func (a *Appender) AppendEvent(ctx context.Context, event *store.Event) error {
	if a.next != nil {
		if err := a.next.AppendEvent(ctx, event); err != nil {
			return err
		}
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	// Publishing never blocks, so it also goes out for runs that are
	// being wound down after cancellation.
	return a.hub.Publish(context.WithoutCancel(ctx), RunEvent{
		RunID:     event.RunID,
		NodeID:    event.NodeID,
		EventType: event.Type,
		Payload:   event.Payload,
		Timestamp: ts,
	})
}
