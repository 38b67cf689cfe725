package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/deskflow/pkg/schema"
)

// DefaultTool is the MCP tool invoked for each task when none is configured.
const DefaultTool = "perform"

// DefaultCallTimeout bounds a single tool call.
const DefaultCallTimeout = 60 * time.Second

// toolCaller is the subset of the MCP client the provider needs.
type toolCaller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPConfig describes how to reach an MCP server over stdio.
type MCPConfig struct {
	Command string
	Args    []string
	Env     []string
	// Tool is the tool name called for each task. Defaults to DefaultTool.
	Tool string
	// Timeout bounds each call. Defaults to DefaultCallTimeout.
	Timeout time.Duration
}

// MCPProvider delegates tasks to a tool on an MCP server. The tool receives
// the actor fields plus description and expected_output as arguments and is
// expected to answer with text content.
type MCPProvider struct {
	caller  toolCaller
	tool    string
	timeout time.Duration
}

// DialMCP launches the configured server, performs the MCP handshake and
// returns a provider bound to it. Close releases the server process.
func DialMCP(ctx context.Context, cfg MCPConfig) (*MCPProvider, error) {
	if cfg.Command == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "mcp provider: command is required")
	}
	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeProvider, "mcp provider: launch %s: %s", cfg.Command, err.Error()).WithCause(err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "deskflow",
		Version: "1.0.0",
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, schema.NewErrorf(schema.ErrCodeProvider, "mcp provider: initialize: %s", err.Error()).WithCause(err)
	}
	return newMCPProvider(c, cfg), nil
}

func newMCPProvider(caller toolCaller, cfg MCPConfig) *MCPProvider {
	p := &MCPProvider{caller: caller, tool: cfg.Tool, timeout: cfg.Timeout}
	if p.tool == "" {
		p.tool = DefaultTool
	}
	if p.timeout <= 0 {
		p.timeout = DefaultCallTimeout
	}
	return p
}

// Perform implements Provider.
func (p *MCPProvider) Perform(ctx context.Context, actor Actor, description, expectedOutput string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.caller.CallTool(callCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: p.tool,
			Arguments: map[string]any{
				"agent_id":        actor.ID,
				"role":            actor.Role,
				"goal":            actor.Goal,
				"backstory":       actor.Backstory,
				"tools":           actor.Tools,
				"description":     description,
				"expected_output": expectedOutput,
			},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("call tool %s: %w", p.tool, err)
	}

	text := collectText(res.Content)
	if res.IsError {
		return "", fmt.Errorf("tool %s reported an error: %s", p.tool, text)
	}
	return text, nil
}

// Close shuts the MCP connection down.
func (p *MCPProvider) Close() error {
	return p.caller.Close()
}

func collectText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
