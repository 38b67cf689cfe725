// Package engine walks a built workflow graph one node at a time, threading
// the execution context through every step.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/deskflow/internal/expressions"
	"github.com/rendis/deskflow/internal/graph"
	"github.com/rendis/deskflow/internal/logging"
	"github.com/rendis/deskflow/internal/nodes"
	"github.com/rendis/deskflow/internal/provider"
	"github.com/rendis/deskflow/internal/store"
	"github.com/rendis/deskflow/internal/verify"
	"github.com/rendis/deskflow/pkg/schema"
)

// DefaultMaxSteps bounds the number of nodes a single run may visit.
const DefaultMaxSteps = 1000

// EscalationKey is the context key escalation triggers write their reason to.
const EscalationKey = "escalation_reason"

// InputValidator checks initial inputs against an input node's schema.
type InputValidator interface {
	ValidateInputs(inputs map[string]any, inputSchema map[string]any) error
}

// Options configures an Interpreter. Zero values select defaults.
type Options struct {
	Provider   provider.Provider
	Verifier   verify.Verifier
	Conditions *expressions.ConditionEvaluator
	Inputs     InputValidator
	Events     EventAppender
	Logger     *slog.Logger
	MaxSteps   int

	// StripCodeFence decodes provider replies wrapped in a Markdown code
	// fence as JSON. Off, such replies are stored verbatim.
	StripCodeFence bool
}

// Interpreter executes graphs. It holds no per-run state and may run any
// number of graphs concurrently.
type Interpreter struct {
	provider   provider.Provider
	verifier   verify.Verifier
	conditions *expressions.ConditionEvaluator
	inputs     InputValidator
	events     EventAppender
	logger     *slog.Logger
	maxSteps   int
	parse      func(string) any
}

// New creates an Interpreter. Without a provider, action blocks echo their
// description.
func New(opts Options) *Interpreter {
	in := &Interpreter{
		provider:   opts.Provider,
		verifier:   opts.Verifier,
		conditions: opts.Conditions,
		inputs:     opts.Inputs,
		events:     opts.Events,
		logger:     opts.Logger,
		maxSteps:   opts.MaxSteps,
		parse:      ParseResult,
	}
	if opts.StripCodeFence {
		in.parse = ParseFencedResult
	}
	if in.logger == nil {
		in.logger = slog.Default()
	}
	if in.provider == nil {
		in.provider = provider.EchoProvider{}
	}
	if in.verifier == nil {
		in.verifier = verify.KeywordVerifier{}
	}
	if in.conditions == nil {
		in.conditions = expressions.NewConditionEvaluator(in.logger)
	}
	if in.maxSteps <= 0 {
		in.maxSteps = DefaultMaxSteps
	}
	return in
}

// run is the mutable state of a single execution.
type run struct {
	id    string
	g     *graph.Graph
	vars  *expressions.Context
	fsm   *RunFSM
	state schema.RunStatus
	res   *Result
}

// Run executes g from its entry node. inputs seed the context and are never
// modified. The returned error is non-nil only for fatal failures (provider
// failure, cancellation, step limit, event store failure); the Result is
// still returned in that case with status failed. Reaching a node with no
// resolvable successor is not an error: the run ends terminated.
func (in *Interpreter) Run(ctx context.Context, g *graph.Graph, inputs map[string]any) (*Result, error) {
	if g == nil {
		return nil, schema.NewError(schema.ErrCodeGraphValidation, "graph is nil")
	}
	entry := g.Entry()
	if in.inputs != nil {
		if input, ok := entry.(*nodes.Input); ok && len(input.Schema) > 0 {
			if err := in.inputs.ValidateInputs(inputs, input.Schema); err != nil {
				return nil, err
			}
		}
	}

	r := &run{
		id:    uuid.New().String(),
		g:     g,
		vars:  expressions.NewContext(inputs),
		fsm:   NewRunFSM(in.events),
		state: schema.RunStatusNotStarted,
	}
	r.res = &Result{RunID: r.id, StartedAt: time.Now().UTC(), Path: []string{}}
	ctx = logging.WithRunID(ctx, r.id)
	log := logging.LogWith(ctx, in.logger)

	if err := in.transition(ctx, r, entry.ID(), schema.RunStatusRunning, map[string]any{"entry": entry.ID()}); err != nil {
		return nil, err
	}
	log.Info("run started", "entry", entry.ID(), "inputs", r.vars.Len())

	current := entry
	for {
		if err := ctx.Err(); err != nil {
			return in.fail(ctx, r, current.ID(), schema.NewErrorf(schema.ErrCodeCancelled,
				"run cancelled before node %s: %s", current.ID(), err.Error()).WithNode(current.ID()).WithCause(err))
		}
		if r.res.Steps >= in.maxSteps {
			return in.fail(ctx, r, current.ID(), schema.NewErrorf(schema.ErrCodeStepLimit,
				"run exceeded %d steps; the graph likely cycles", in.maxSteps).
				WithNode(current.ID()).
				WithDetails(map[string]any{"max_steps": in.maxSteps}))
		}
		r.res.Steps++
		r.res.Path = append(r.res.Path, current.ID())

		if out, ok := current.(*nodes.Output); ok {
			return in.complete(ctx, r, out)
		}

		nodeCtx := logging.WithNodeID(ctx, current.ID())
		in.emit(nodeCtx, r, current.ID(), schema.EventNodeStarted, map[string]any{"kind": current.Kind()})

		label, err := in.execute(nodeCtx, r, current)
		if err != nil {
			return in.fail(ctx, r, current.ID(), err)
		}

		in.emit(nodeCtx, r, current.ID(), schema.EventNodeCompleted, map[string]any{"kind": current.Kind(), "branch": label})
		logging.LogWith(nodeCtx, in.logger).Info("node executed", "kind", current.Kind(), "branch", label)

		nextID, ok := g.Next(current.ID(), label)
		if !ok {
			return in.terminate(ctx, r, current.ID(), label)
		}
		next, ok := g.NodeByID(nextID)
		if !ok {
			return in.terminate(ctx, r, current.ID(), label)
		}
		current = next
	}
}

// execute performs the kind-specific behaviour of n and returns the branch
// label for the successor lookup. Non-branching kinds return "".
func (in *Interpreter) execute(ctx context.Context, r *run, n nodes.Node) (string, error) {
	switch node := n.(type) {
	case *nodes.Input:
		return "", nil

	case *nodes.ActionBlock:
		return "", in.executeAction(ctx, r, node)

	case *nodes.DecisionPoint:
		ok := in.conditions.Evaluate(ctx, node.Condition, r.vars.Vars())
		label := nodes.BranchLabel(ok)
		in.emit(ctx, r, node.ID(), schema.EventConditionEvaluated, map[string]any{
			"condition": node.Condition,
			"result":    ok,
		})
		return label, nil

	case *nodes.DocumentVerification:
		document := in.resolveField(ctx, r, node.ID(), "document_path", node.DocumentPath)
		verified, err := in.verifier.Verify(ctx, document, node.VerificationPrompt)
		if err != nil {
			logging.LogWith(ctx, in.logger).Warn("verification failed closed",
				"document", document, "error", err.Error())
			verified = false
		}
		r.vars.Set(outputKey(node), map[string]any{"verified": verified, "document": document})
		return nodes.BranchLabel(verified), nil

	case *nodes.RoomCreation:
		name := in.resolveField(ctx, r, node.ID(), "room_name", node.RoomName)
		r.vars.Set(outputKey(node), map[string]any{"status": "created", "room_name": name})
		return "", nil

	case *nodes.EscalationTrigger:
		reason := in.resolveField(ctx, r, node.ID(), "reason", node.Reason)
		r.vars.Set(EscalationKey, reason)
		return "", nil

	case *nodes.AutomationAgent:
		return "", schema.NewErrorf(schema.ErrCodeInvalidNode,
			"agent node %s cannot be executed", node.ID()).WithNode(node.ID())

	case *nodes.Output:
		return "", schema.NewErrorf(schema.ErrCodeInvalidNode,
			"output node %s reached the executor", node.ID()).WithNode(node.ID())

	default:
		return "", schema.NewErrorf(schema.ErrCodeInvalidNode,
			"node %s has unsupported kind %s", n.ID(), n.Kind()).WithNode(n.ID())
	}
}

func (in *Interpreter) executeAction(ctx context.Context, r *run, node *nodes.ActionBlock) error {
	actor, ok := r.g.Actor(node.AgentID)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeInvalidNode,
			"action %s references unknown agent %q", node.ID(), node.AgentID).WithNode(node.ID())
	}
	description := in.resolveField(ctx, r, node.ID(), "description", node.Description)
	expected := in.resolveField(ctx, r, node.ID(), "expected_output", node.ExpectedOutput)

	ctx = logging.WithActorID(ctx, actor.ID)
	raw, err := in.provider.Perform(ctx, actor, description, expected)
	if err != nil {
		code := schema.ErrCodeProvider
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			code = schema.ErrCodeCancelled
		}
		logging.LogWith(ctx, in.logger).Error("provider call failed", "error", err.Error())
		return schema.NewErrorf(code, "provider failed for action %s: %s", node.ID(), err.Error()).
			WithNode(node.ID()).
			WithCause(err).
			WithDetails(map[string]any{"agent_id": node.AgentID})
	}

	r.vars.Set(outputKey(node), in.parse(raw))
	return nil
}

// resolveField renders a node field template. Unresolvable placeholders
// degrade to empty strings and are reported as a warning and an event.
func (in *Interpreter) resolveField(ctx context.Context, r *run, nodeID, field, tmpl string) string {
	out, err := expressions.ResolveTemplateLenient(tmpl, r.vars.Vars())
	if err != nil {
		logging.LogWith(ctx, in.logger).Warn("template degraded",
			"field", field, "template", tmpl, "error", err.Error())
		in.emit(ctx, r, nodeID, schema.EventTemplateDegraded, map[string]any{
			"field": field,
			"error": err.Error(),
		})
	}
	return out
}

// complete assembles the output mapping of an output node. A pair whose
// template cannot be resolved yields nil for that name only; pairs with an
// empty name or value are skipped.
func (in *Interpreter) complete(ctx context.Context, r *run, out *nodes.Output) (*Result, error) {
	output := make(map[string]any, len(out.Outputs))
	for _, pair := range out.Outputs {
		if pair.Name == "" || pair.Value == "" {
			continue
		}
		v, err := expressions.ResolveTemplate(pair.Value, r.vars.Vars())
		if err != nil {
			logging.LogWith(ctx, in.logger).Warn("output value unresolved",
				"node_id", out.ID(), "name", pair.Name, "error", err.Error())
			output[pair.Name] = nil
			continue
		}
		output[pair.Name] = v
	}

	r.res.Output = output
	if err := in.transition(ctx, r, out.ID(), schema.RunStatusCompleted, map[string]any{"output": output}); err != nil {
		return in.fail(ctx, r, out.ID(), err)
	}
	logging.LogWith(ctx, in.logger).Info("run completed", "output_node", out.ID(), "steps", r.res.Steps)
	return r.res, nil
}

func (in *Interpreter) terminate(ctx context.Context, r *run, nodeID, label string) (*Result, error) {
	r.res.Context = r.vars.Snapshot()
	if err := in.transition(ctx, r, nodeID, schema.RunStatusTerminated, map[string]any{"branch": label}); err != nil {
		return in.fail(ctx, r, nodeID, err)
	}
	logging.LogWith(ctx, in.logger).Warn("run terminated: no successor",
		"node_id", nodeID, "branch", label, "steps", r.res.Steps)
	return r.res, nil
}

func (in *Interpreter) fail(ctx context.Context, r *run, nodeID string, cause error) (*Result, error) {
	var fe *schema.FlowError
	if !errors.As(cause, &fe) {
		fe = schema.NewError(schema.ErrCodeProvider, cause.Error()).WithCause(cause)
	}
	r.res.Error = fe
	r.res.Context = r.vars.Snapshot()

	// The failed event is best effort: the store may be the reason we are here.
	if r.state == schema.RunStatusRunning {
		if err := in.transition(context.WithoutCancel(ctx), r, nodeID, schema.RunStatusFailed, fe); err != nil {
			r.state = schema.RunStatusFailed
			r.res.Status = r.state
			r.res.CompletedAt = time.Now().UTC()
		}
	}
	logging.LogWith(ctx, in.logger).Error("run failed", "node_id", nodeID, "error", fe.Error())
	return r.res, fe
}

// transition moves the run to a new state through the FSM and stamps the
// result accordingly.
func (in *Interpreter) transition(ctx context.Context, r *run, nodeID string, to schema.RunStatus, payload any) error {
	if err := r.fsm.Transition(ctx, r.id, nodeID, r.state, to, payload); err != nil {
		return err
	}
	r.state = to
	r.res.Status = to
	if to.IsTerminal() {
		r.res.CompletedAt = time.Now().UTC()
	}
	return nil
}

// emit appends a node-level event. Failures are logged and do not affect
// the run.
func (in *Interpreter) emit(ctx context.Context, r *run, nodeID, eventType string, payload map[string]any) {
	if in.events == nil {
		return
	}
	raw, err := marshalPayload(payload)
	if err == nil {
		err = in.events.AppendEvent(ctx, &store.Event{RunID: r.id, NodeID: nodeID, Type: eventType, Payload: raw})
	}
	if err != nil {
		logging.LogWith(ctx, in.logger).Warn("event not recorded", "event", eventType, "error", err.Error())
	}
}

func outputKey(n nodes.Node) string {
	return "output_" + n.ID()
}
