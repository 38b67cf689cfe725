package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/deskflow/internal/graph"
	"github.com/rendis/deskflow/internal/logging"
	"github.com/rendis/deskflow/internal/provider"
	"github.com/rendis/deskflow/internal/store"
	"github.com/rendis/deskflow/pkg/schema"
)

// Service runs graph definitions and keeps their history. Ad-hoc graphs and
// stored definitions go through the same path: build, run, record.
type Service struct {
	store    store.Store
	interp   *Interpreter
	resolver provider.ActorResolver
	logger   *slog.Logger
}

// NewService wires an interpreter to a store. Run and node events go to the
// store unless opts.Events is set; such an appender must forward them to s
// for the event log to replay.
func NewService(s store.Store, resolver provider.ActorResolver, opts Options) *Service {
	if opts.Events == nil {
		opts.Events = s
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:    s,
		interp:   New(opts),
		resolver: resolver,
		logger:   opts.Logger,
	}
}

// RunGraph builds def and runs it with inputs, recording the run with no
// definition id. Construction failures return before anything is recorded.
func (s *Service) RunGraph(ctx context.Context, def schema.GraphDefinition, inputs map[string]any) (*Result, error) {
	return s.run(ctx, "", def, inputs)
}

// RunStored loads a stored definition and runs it.
func (s *Service) RunStored(ctx context.Context, definitionID string, inputs map[string]any) (*Result, error) {
	d, err := s.store.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, d.ID, d.Graph, inputs)
}

// RunDefinition runs a stored definition and reports only its terminal
// status. It satisfies scheduler.DefinitionRunner.
func (s *Service) RunDefinition(ctx context.Context, definitionID string, inputs map[string]any) (schema.RunStatus, error) {
	res, err := s.RunStored(ctx, definitionID, inputs)
	if res == nil {
		return "", err
	}
	return res.Status, err
}

// Define validates def by building it, then stores it under name.
func (s *Service) Define(ctx context.Context, name, description string, def schema.GraphDefinition) (*store.Definition, error) {
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition name is required")
	}
	if _, err := graph.FromDefinition(ctx, def, s.resolver); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	d := &store.Definition{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Graph:       def,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateDefinition(ctx, d); err != nil {
		return nil, err
	}
	logging.LogWith(ctx, s.logger).Info("definition stored", "definition_id", d.ID, "name", name)
	return d, nil
}

func (s *Service) run(ctx context.Context, definitionID string, def schema.GraphDefinition, inputs map[string]any) (*Result, error) {
	g, err := graph.FromDefinition(ctx, def, s.resolver)
	if err != nil {
		return nil, err
	}

	res, runErr := s.interp.Run(ctx, g, inputs)
	if res == nil {
		return nil, runErr
	}

	if err := s.record(context.WithoutCancel(ctx), definitionID, inputs, res); err != nil {
		logging.LogWith(logging.WithRunID(ctx, res.RunID), s.logger).Error("run not recorded", "error", err.Error())
		if runErr == nil {
			runErr = err
		}
	}
	return res, runErr
}

func (s *Service) record(ctx context.Context, definitionID string, inputs map[string]any, res *Result) error {
	run := &store.Run{
		ID:           res.RunID,
		DefinitionID: definitionID,
		Status:       res.Status,
		Inputs:       inputs,
		Path:         res.Path,
		StartedAt:    res.StartedAt,
	}
	if !res.CompletedAt.IsZero() {
		completed := res.CompletedAt
		run.CompletedAt = &completed
	}
	var err error
	if run.Output, err = marshalOptional(res.Output); err != nil {
		return err
	}
	if run.Context, err = marshalOptional(res.Context); err != nil {
		return err
	}
	if res.Error != nil {
		if run.Error, err = json.Marshal(res.Error); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "marshal run error: %s", err.Error()).WithCause(err)
		}
	}
	return s.store.RecordRun(ctx, run)
}

func marshalOptional(m map[string]any) (json.RawMessage, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "marshal run record: %s", err.Error()).WithCause(err)
	}
	return b, nil
}
