package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/deskflow/internal/engine"
	"github.com/rendis/deskflow/internal/expressions"
	"github.com/rendis/deskflow/internal/graph"
	"github.com/rendis/deskflow/internal/provider"
	"github.com/rendis/deskflow/internal/store"
	"github.com/rendis/deskflow/internal/validation"
	"github.com/rendis/deskflow/internal/verify"
	"github.com/rendis/deskflow/pkg/schema"
)

// app holds the components shared by the subcommands.
type app struct {
	cfg       Config
	logger    *slog.Logger
	validator *validation.GraphValidator
	verifier  verify.Verifier
	query     *expressions.QueryEngine
	provider  provider.Provider
	store     *store.LibSQLStore
	closers   []func() error
}

func newApp(cfg Config, logger *slog.Logger) (*app, error) {
	gv, err := validation.NewGraphValidator(nil, logger)
	if err != nil {
		return nil, err
	}
	v, err := verify.FromPolicy(cfg.VerifyPolicy)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:       cfg,
		logger:    logger,
		validator: gv,
		verifier:  v,
		query:     expressions.NewQueryEngine(),
		provider:  provider.EchoProvider{},
	}, nil
}

// useProvider selects the task provider. "auto" picks the MCP provider when
// a provider command is configured and the echo provider otherwise.
func (a *app) useProvider(ctx context.Context, name string) error {
	switch name {
	case "", "auto":
		if a.cfg.ProviderCommand == "" {
			return nil
		}
	case "echo":
		return nil
	case "mcp":
	default:
		return fmt.Errorf("unknown provider %q (use auto, echo or mcp)", name)
	}

	p, err := provider.DialMCP(ctx, a.cfg.mcpConfig())
	if err != nil {
		return fmt.Errorf("start provider: %w", err)
	}
	a.provider = p
	a.closers = append(a.closers, p.Close)
	a.logger.Debug("mcp provider started", "command", a.cfg.ProviderCommand, "tool", a.cfg.ProviderTool)
	return nil
}

// openStore opens and migrates the history database.
func (a *app) openStore(ctx context.Context) (*store.LibSQLStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	if dir := filepath.Dir(a.cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	s, err := store.NewLibSQLStore("file:" + a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	return s, nil
}

func (a *app) options() engine.Options {
	return engine.Options{
		Provider:       a.provider,
		Verifier:       a.verifier,
		Inputs:         a.validator.Documents(),
		Logger:         a.logger,
		MaxSteps:       a.cfg.MaxSteps,
		StripCodeFence: a.cfg.StripCodeFence,
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err.Error())
		}
	}
	a.closers = nil
}

// graphFile is a graph document read from disk and validated.
type graphFile struct {
	path   string
	def    schema.GraphDefinition
	graph  *graph.Graph
	result *schema.ValidationResult
}

// loadGraph reads and validates a graph file. Validation errors are
// returned in the result; err is reserved for I/O failures.
func (a *app) loadGraph(ctx context.Context, path string) (*graphFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := schema.FormatFromPath(path)
	gf := &graphFile{path: path}
	gf.graph, gf.result = a.validator.Validate(ctx, data, format)
	if gf.graph == nil {
		return gf, nil
	}
	def, err := schema.DecodeGraph(data, format)
	if err != nil {
		return nil, err
	}
	gf.def = *def
	return gf, nil
}

// parseInputs reads the --inputs value: inline JSON, or @path to a JSON or
// YAML file.
func parseInputs(value string) (map[string]any, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	data, format := []byte(value), schema.FormatJSON
	if strings.HasPrefix(value, "@") {
		path := strings.TrimPrefix(value, "@")
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data, format = b, schema.FormatFromPath(path)
	}
	raw, err := schema.NormalizeDocument(data, format)
	if err != nil {
		return nil, err
	}
	var inputs map[string]any
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return nil, fmt.Errorf("inputs must be a JSON object: %w", err)
	}
	return inputs, nil
}
