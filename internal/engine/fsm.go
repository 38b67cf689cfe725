package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rendis/deskflow/internal/store"
	"github.com/rendis/deskflow/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to schema.RunStatus) error

// EventAppender is satisfied by the Store; used to emit run and node events.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

type runHookKey struct {
	from, to schema.RunStatus
}

// RunFSM manages run lifecycle state transitions and emits the matching
// event for each one. A nil appender disables events.
type RunFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[runHookKey][]TransitionHook
	after    map[runHookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM that emits events via the given appender.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{
		appender: appender,
		before:   make(map[runHookKey][]TransitionHook),
		after:    make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a run transition. A hook error
// aborts the transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a run transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a run state transition. payload, when
// non-nil, is attached to the emitted event.
func (f *RunFSM) Transition(ctx context.Context, runID, nodeID string, from, to schema.RunStatus, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	if eventType := runEventType(to); eventType != "" && f.appender != nil {
		event := &store.Event{
			RunID:  runID,
			NodeID: nodeID,
			Type:   eventType,
		}
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return schema.NewErrorf(schema.ErrCodeStore, "marshal %s payload: %s", eventType, err.Error()).WithCause(err)
			}
			event.Payload = raw
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	return nil
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		return schema.EventRunStarted
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusTerminated:
		return schema.EventRunTerminated
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	default:
		return ""
	}
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusNotStarted: {schema.RunStatusRunning},
	schema.RunStatusRunning:    {schema.RunStatusCompleted, schema.RunStatusTerminated, schema.RunStatusFailed},
	schema.RunStatusCompleted:  {},
	schema.RunStatusTerminated: {},
	schema.RunStatusFailed:     {},
}
