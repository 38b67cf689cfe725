package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/deskflow/pkg/schema"
)

// Definition is a named, stored workflow graph.
type Definition struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Graph       schema.GraphDefinition `json:"graph"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Run is the history record of a finished execution.
type Run struct {
	ID           string           `json:"id"`
	DefinitionID string           `json:"definition_id,omitempty"`
	Status       schema.RunStatus `json:"status"`
	Inputs       map[string]any   `json:"inputs,omitempty"`
	Output       json.RawMessage  `json:"output,omitempty"`
	Context      json.RawMessage  `json:"context,omitempty"`
	Path         []string         `json:"path"`
	Error        json.RawMessage  `json:"error,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// Event is an immutable entry in a run's event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ScheduledJob is a cron-triggered execution of a stored definition.
type ScheduledJob struct {
	ID             string         `json:"id"`
	DefinitionID   string         `json:"definition_id"`
	CronExpression string         `json:"cron_expression"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	Enabled        bool           `json:"enabled"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time     `json:"next_run_at,omitempty"`
	LastRunStatus  string         `json:"last_run_status,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// --- Filter and update types ---

// DefinitionFilter specifies criteria for listing definitions.
type DefinitionFilter struct {
	NamePrefix string `json:"name_prefix,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// DefinitionUpdate specifies mutable fields of a definition.
type DefinitionUpdate struct {
	Name        *string                 `json:"name,omitempty"`
	Description *string                 `json:"description,omitempty"`
	Graph       *schema.GraphDefinition `json:"graph,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	DefinitionID string            `json:"definition_id,omitempty"`
	Status       *schema.RunStatus `json:"status,omitempty"`
	Since        *time.Time        `json:"since,omitempty"`
	Limit        int               `json:"limit,omitempty"`
	Offset       int               `json:"offset,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	DefinitionID string `json:"definition_id,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}
