package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/deskflow/internal/diagram"
	"github.com/rendis/deskflow/internal/engine"
	"github.com/rendis/deskflow/internal/graph"
	"github.com/rendis/deskflow/internal/store"
	"github.com/rendis/deskflow/pkg/schema"
)

// handleRun executes an ad-hoc graph.
func (s *DeskflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	def, err := graphFromArgs(args["nodes"], args["edges"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", err)), nil
	}
	inputs := mcp.ParseStringMap(req, "initial_inputs", nil)

	result, runErr := s.service.RunGraph(ctx, def, inputs)
	return s.runResult(ctx, req, result, runErr)
}

// handleValidate runs the validation pipeline over a graph object or document.
func (s *DeskflowServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		data   []byte
		format = req.GetString("format", schema.FormatJSON)
	)
	if g := mcp.ParseStringMap(req, "graph", nil); g != nil {
		raw, err := json.Marshal(g)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", err)), nil
		}
		data, format = raw, schema.FormatJSON
	} else if doc := req.GetString("document", ""); doc != "" {
		data = []byte(doc)
	} else {
		return mcp.NewToolResultError("one of graph or document is required"), nil
	}

	_, result := s.validator.Validate(ctx, data, format)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleDefine stores a named graph.
func (s *DeskflowServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	g := mcp.ParseStringMap(req, "graph", nil)
	if g == nil {
		return mcp.NewToolResultError("graph is required"), nil
	}
	def, err := graphFromArgs(g["nodes"], g["edges"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid graph: %v", err)), nil
	}
	if _, vr := s.validator.ValidateDefinition(ctx, def, nil); !vr.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("define failed: %v", vr.ToError())), nil
	}

	d, err := s.service.Define(ctx, name, req.GetString("description", ""), def)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("define failed: %v", err)), nil
	}

	s.logger.Info("definition stored", "definition_id", d.ID, "name", d.Name)
	return marshalResult(map[string]any{
		"definition_id": d.ID,
		"name":          d.Name,
	})
}

// handleExecute runs a stored definition, looked up by id or by name.
func (s *DeskflowServer) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defID := req.GetString("definition_id", "")
	if defID == "" {
		name := req.GetString("name", "")
		if name == "" {
			return mcp.NewToolResultError("one of definition_id or name is required"), nil
		}
		d, err := s.store.GetDefinitionByName(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("definition lookup failed: %v", err)), nil
		}
		defID = d.ID
	}
	inputs := mcp.ParseStringMap(req, "inputs", nil)

	result, runErr := s.service.RunStored(ctx, defID, inputs)
	return s.runResult(ctx, req, result, runErr)
}

// handleList lists stored resources.
func (s *DeskflowServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "definitions":
		return s.listDefinitions(ctx, filter)
	case "runs":
		return s.listRuns(ctx, filter)
	case "events":
		return s.listEvents(ctx, filter)
	case "jobs":
		return s.listJobs(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// handleDiagram draws a stored definition, or the definition behind a
// recorded run with the run's path overlaid.
func (s *DeskflowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	defID := req.GetString("definition_id", "")
	runID := req.GetString("run_id", "")
	if defID == "" && runID == "" {
		return mcp.NewToolResultError("at least one of definition_id or run_id is required"), nil
	}

	var overlay diagram.Overlay
	if runID != "" {
		run, runErr := s.store.GetRun(ctx, runID)
		if runErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run not found: %v", runErr)), nil
		}
		if run.DefinitionID == "" {
			return mcp.NewToolResultError("run was not started from a stored definition"), nil
		}
		defID = run.DefinitionID
		overlay = s.runOverlay(ctx, run)
	}

	d, err := s.store.GetDefinition(ctx, defID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("definition lookup failed: %v", err)), nil
	}
	g, err := graph.FromDefinition(ctx, d.Graph, s.resolver)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}
	model := diagram.Build(g, d.Name, overlay)

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model, diagram.ImagePNG)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		encoded := base64.StdEncoding.EncodeToString(png)
		return mcp.NewToolResultImage(d.Name, encoded, "image/png"), nil
	}
}

// handleSchedule registers a cron job for a stored definition.
func (s *DeskflowServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.scheduler == nil {
		return mcp.NewToolResultError("scheduler is not running"), nil
	}
	defID, err := req.RequireString("definition_id")
	if err != nil {
		return mcp.NewToolResultError("definition_id is required"), nil
	}
	cronExpr, err := req.RequireString("cron")
	if err != nil {
		return mcp.NewToolResultError("cron is required"), nil
	}
	inputs := mcp.ParseStringMap(req, "inputs", nil)

	job, err := s.scheduler.Schedule(ctx, defID, cronExpr, inputs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("schedule failed: %v", err)), nil
	}
	return marshalResult(job)
}

// --- List helpers ---

func (s *DeskflowServer) listDefinitions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	df := store.DefinitionFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if prefix, ok := filter["name_prefix"].(string); ok {
		df.NamePrefix = prefix
	}

	defs, err := s.store.ListDefinitions(ctx, df)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"definitions": defs})
}

func (s *DeskflowServer) listRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}
	if defID, ok := filter["definition_id"].(string); ok {
		rf.DefinitionID = defID
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *DeskflowServer) listEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	runID, _ := filter["run_id"].(string)
	if runID == "" {
		return mcp.NewToolResultError("event listing requires 'run_id' in filter"), nil
	}

	events, err := s.store.GetEvents(ctx, runID, int64(extractInt(filter, "since_sequence", 0)))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	if eventType, ok := filter["event_type"].(string); ok && eventType != "" {
		kept := events[:0]
		for _, e := range events {
			if e.Type == eventType {
				kept = append(kept, e)
			}
		}
		events = kept
	}
	if limit := extractInt(filter, "limit", 0); limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return marshalResult(map[string]any{"events": events})
}

func (s *DeskflowServer) listJobs(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	jf := store.ScheduledJobFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if defID, ok := filter["definition_id"].(string); ok {
		jf.DefinitionID = defID
	}
	if enabled, ok := filter["enabled"].(bool); ok {
		jf.Enabled = &enabled
	}

	jobs, err := s.store.ListScheduledJobs(ctx, jf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"jobs": jobs})
}

// --- Internal helpers ---

// runResult renders a run outcome. A run that failed after starting still
// returns its result, flagged as an error. With a query argument only the
// jq output is returned.
func (s *DeskflowServer) runResult(ctx context.Context, req mcp.CallToolRequest, result *engine.Result, runErr error) (*mcp.CallToolResult, error) {
	if result == nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow execution failed: %v", runErr)), nil
	}

	var payload any = result
	if expr := req.GetString("query", ""); expr != "" {
		v, err := s.query.Query(ctx, expr, result)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		payload = map[string]any{
			"run_id": result.RunID,
			"status": result.Status,
			"query":  expr,
			"value":  v,
		}
	}

	out, err := marshalResult(payload)
	if err == nil && out != nil && runErr != nil {
		out.IsError = true
	}
	return out, err
}

// runOverlay highlights a recorded run. Visit counts and durations come
// from the event log when it can be replayed; the recorded path fills in
// nodes the log does not cover, such as the output node.
func (s *DeskflowServer) runOverlay(ctx context.Context, run *store.Run) diagram.Overlay {
	overlay := diagram.PathOverlay(run.Path, run.Status)
	replay, err := store.NewEventLog(s.store).Replay(ctx, run.ID)
	if err != nil {
		s.logger.Warn("event log replay failed", "run_id", run.ID, "error", err.Error())
		return overlay
	}
	for id, o := range diagram.ReplayOverlay(replay) {
		overlay[id] = o
	}
	return overlay
}

// graphFromArgs decodes tool arguments into a graph definition through
// the same JSON path documents take.
func graphFromArgs(nodes, edges any) (schema.GraphDefinition, error) {
	var def schema.GraphDefinition
	if nodes == nil {
		return def, fmt.Errorf("nodes is required")
	}
	if edges == nil {
		edges = []any{}
	}
	raw, err := json.Marshal(map[string]any{"nodes": nodes, "edges": edges})
	if err != nil {
		return def, err
	}
	decoded, err := schema.DecodeGraph(raw, schema.FormatJSON)
	if err != nil {
		return def, err
	}
	return *decoded, nil
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
