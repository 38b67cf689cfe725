// Package streaming fans run and node events out to live subscribers while
// they are being recorded.
package streaming

import (
	"context"
	"encoding/json"
	"time"
)

// RunEvent is a real-time event emitted during a run.
type RunEvent struct {
	RunID     string          `json:"run_id"`
	NodeID    string          `json:"node_id,omitempty"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error)
}
