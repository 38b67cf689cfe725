package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/deskflow/pkg/schema"
)

// EventLog reads and writes a run's event stream on top of a Store.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide run event operations.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// Append records an event of the given type for a run. A nil payload is
// stored as NULL.
func (el *EventLog) Append(ctx context.Context, runID, nodeID, eventType string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		raw = b
	}
	return el.store.AppendEvent(ctx, &Event{
		RunID:   runID,
		NodeID:  nodeID,
		Type:    eventType,
		Payload: raw,
	})
}

// NodeVisit is one execution of a node, reconstructed from the event log.
type NodeVisit struct {
	NodeID      string          `json:"node_id"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
	Detail      json.RawMessage `json:"detail,omitempty"`
}

// RunReplay is the reconstructed history of a run.
type RunReplay struct {
	RunID  string           `json:"run_id"`
	Status schema.RunStatus `json:"status"`
	Visits []NodeVisit      `json:"visits"`
}

// Path returns the visited node ids in order.
func (r *RunReplay) Path() []string {
	out := make([]string, len(r.Visits))
	for i, v := range r.Visits {
		out[i] = v.NodeID
	}
	return out
}

// Replay rebuilds a run's node visits from its events. Returns an error if
// sequence gaps are detected.
func (el *EventLog) Replay(ctx context.Context, runID string) (*RunReplay, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	replay := &RunReplay{RunID: runID, Status: schema.RunStatusNotStarted}
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	var open *NodeVisit
	for _, e := range events {
		switch e.Type {
		case schema.EventRunStarted:
			replay.Status = schema.RunStatusRunning
		case schema.EventRunCompleted:
			replay.Status = schema.RunStatusCompleted
		case schema.EventRunTerminated:
			replay.Status = schema.RunStatusTerminated
		case schema.EventRunFailed:
			replay.Status = schema.RunStatusFailed

		case schema.EventNodeStarted:
			replay.Visits = append(replay.Visits, NodeVisit{NodeID: e.NodeID, StartedAt: e.Timestamp})
			open = &replay.Visits[len(replay.Visits)-1]

		case schema.EventNodeCompleted:
			if open == nil || open.NodeID != e.NodeID {
				continue
			}
			ts := e.Timestamp
			open.CompletedAt = &ts
			open.DurationMs = ts.Sub(open.StartedAt).Milliseconds()
			open.Detail = e.Payload
			open = nil
		}
	}
	return replay, nil
}
