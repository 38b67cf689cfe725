// Package diagram renders workflow graphs as Mermaid flowcharts, ASCII
// boxes or graphviz images, optionally overlaid with a run's progress.
package diagram

import "github.com/rendis/deskflow/internal/nodes"

// Overlay statuses. A node carries at most one.
const (
	StatusVisited    = "visited"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusTerminated = "terminated"
	StatusRunning    = "running"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   nodes.Kind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string
	Visits     int
	DurationMs int64
}

// Edge is a directed connection, labelled for decision branches.
type Edge struct {
	From  string
	To    string
	Label string
}
