// Package nodes defines the closed set of workflow node kinds and the
// registry that decodes raw graph records into them.
package nodes

// Kind is the type tag of a node as it appears in a graph document.
type Kind string

const (
	KindInput                Kind = "input"
	KindOutput               Kind = "output"
	KindDecisionPoint        Kind = "decisionPoint"
	KindActionBlock          Kind = "actionBlock"
	KindAutomationAgent      Kind = "automationAgent"
	KindRoomCreation         Kind = "roomCreation"
	KindEscalationTrigger    Kind = "escalationTrigger"
	KindDocumentVerification Kind = "documentVerification"
)

// Branching reports whether nodes of this kind select an outgoing edge by
// branch label instead of following the single unconditional edge.
func (k Kind) Branching() bool {
	return k == KindDecisionPoint || k == KindDocumentVerification
}

// Branch labels used on edges leaving branching nodes.
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// BranchLabel maps a boolean outcome to its edge label.
func BranchLabel(ok bool) string {
	if ok {
		return BranchTrue
	}
	return BranchFalse
}

// Node is a typed unit of work in a workflow graph. The set of
// implementations is closed: only this package can add one.
type Node interface {
	ID() string
	Kind() Kind
	Label() string
	sealed()
}

// Base carries the fields shared by every node kind.
type Base struct {
	id    string
	label string
}

// NewBase returns a Base with the given id and display label.
func NewBase(id, label string) Base {
	return Base{id: id, label: label}
}

func (b Base) ID() string    { return b.id }
func (b Base) Label() string { return b.label }
func (Base) sealed()         {}

// InputField documents one expected initial input. Informational only.
type InputField struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// OutputField is one (name, value template) pair of an output node.
type OutputField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Input marks the graph entry.
type Input struct {
	Base
	Inputs []InputField
	// Schema is an optional JSON Schema for the initial inputs.
	Schema map[string]any
}

// Output marks a graph exit and shapes the final result.
type Output struct {
	Base
	Outputs []OutputField
}

// DecisionPoint branches on a boolean condition over the context.
type DecisionPoint struct {
	Base
	Condition string
}

// ActionBlock delegates a task to the capability provider on behalf of the
// actor resolved from AgentID.
type ActionBlock struct {
	Base
	Description    string
	ExpectedOutput string
	AgentID        string
}

// AutomationAgent describes an actor. It is resolved once when the graph is
// built and never executed.
type AutomationAgent struct {
	Base
	Role      string
	Goal      string
	Backstory string
	Tools     []string
}

// RoomCreation acknowledges creation of a support chat room.
type RoomCreation struct {
	Base
	RoomName string
}

// EscalationTrigger records the reason a case goes to a human.
type EscalationTrigger struct {
	Base
	Reason string
}

// DocumentVerification checks a document and branches on the verdict.
type DocumentVerification struct {
	Base
	DocumentPath       string
	VerificationPrompt string
}

func (*Input) Kind() Kind                { return KindInput }
func (*Output) Kind() Kind               { return KindOutput }
func (*DecisionPoint) Kind() Kind        { return KindDecisionPoint }
func (*ActionBlock) Kind() Kind          { return KindActionBlock }
func (*AutomationAgent) Kind() Kind      { return KindAutomationAgent }
func (*RoomCreation) Kind() Kind         { return KindRoomCreation }
func (*EscalationTrigger) Kind() Kind    { return KindEscalationTrigger }
func (*DocumentVerification) Kind() Kind { return KindDocumentVerification }
