// Package provider defines the capability provider boundary: the external
// system that performs automation tasks on behalf of an actor.
package provider

import (
	"context"
	"strings"

	"github.com/rendis/deskflow/pkg/schema"
)

// DefaultTools is the toolset attached to actors that declare none.
var DefaultTools = []string{"serper_dev", "file_read"}

// AgentSpec describes an actor as declared by an automationAgent node.
type AgentSpec struct {
	ID        string   `json:"id"`
	Role      string   `json:"role"`
	Goal      string   `json:"goal"`
	Backstory string   `json:"backstory"`
	Tools     []string `json:"tools,omitempty"`
}

// Actor is a resolved handle the provider acts on behalf of. It is
// resolved once per graph and reused for every task that references it.
type Actor struct {
	ID        string   `json:"id"`
	Role      string   `json:"role"`
	Goal      string   `json:"goal"`
	Backstory string   `json:"backstory"`
	Tools     []string `json:"tools"`
}

// Provider performs a described task and returns the raw text result.
type Provider interface {
	Perform(ctx context.Context, actor Actor, description, expectedOutput string) (string, error)
}

// ActorResolver turns an agent declaration into an Actor.
type ActorResolver interface {
	ResolveActor(ctx context.Context, spec AgentSpec) (Actor, error)
}

// StaticResolver builds actors directly from their declaration.
type StaticResolver struct {
	// Tools overrides DefaultTools for agents that declare no tools.
	Tools []string
}

// ResolveActor implements ActorResolver.
func (r StaticResolver) ResolveActor(_ context.Context, spec AgentSpec) (Actor, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return Actor{}, schema.NewError(schema.ErrCodeInvalidNode, "agent has empty id")
	}
	tools := spec.Tools
	if len(tools) == 0 {
		tools = r.Tools
	}
	if len(tools) == 0 {
		tools = DefaultTools
	}
	return Actor{
		ID:        spec.ID,
		Role:      spec.Role,
		Goal:      spec.Goal,
		Backstory: spec.Backstory,
		Tools:     append([]string(nil), tools...),
	}, nil
}

// EchoProvider returns the task description unchanged. Useful for dry runs.
type EchoProvider struct{}

// Perform implements Provider.
func (EchoProvider) Perform(ctx context.Context, _ Actor, description, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return description, nil
}

// Func adapts an ordinary function to the Provider interface.
type Func func(ctx context.Context, actor Actor, description, expectedOutput string) (string, error)

// Perform implements Provider.
func (f Func) Perform(ctx context.Context, actor Actor, description, expectedOutput string) (string, error) {
	return f(ctx, actor, description, expectedOutput)
}
