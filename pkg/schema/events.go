package schema

// Event type constants for the run history log.
const (
	EventRunStarted    = "run_started"
	EventRunCompleted  = "run_completed"
	EventRunTerminated = "run_terminated"
	EventRunFailed     = "run_failed"

	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"

	EventConditionEvaluated = "condition_evaluated"
	EventTemplateDegraded   = "template_degraded"
)

// RunStatus represents the lifecycle state of a single workflow run.
type RunStatus string

const (
	RunStatusNotStarted RunStatus = "not_started"
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusTerminated RunStatus = "terminated"
	RunStatusFailed     RunStatus = "failed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusTerminated, RunStatusFailed:
		return true
	default:
		return false
	}
}
