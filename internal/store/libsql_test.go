package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/deskflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func sampleGraph() schema.GraphDefinition {
	return schema.GraphDefinition{
		Nodes: []schema.RawNode{
			{ID: "in", Type: "input"},
			{ID: "room", Type: "roomCreation", Data: map[string]any{"room_name": "room-{ticket_id}"}},
			{ID: "out", Type: "output"},
		},
		Edges: []schema.RawEdge{
			{Source: "in", Target: "room"},
			{Source: "room", Target: "out"},
		},
	}
}

func seedDefinition(t *testing.T, s *LibSQLStore, name string) *Definition {
	t.Helper()
	def := &Definition{ID: uuid.New().String(), Name: name, Graph: sampleGraph()}
	require.NoError(t, s.CreateDefinition(context.Background(), def))
	return def
}

func assertNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeNotFound, fe.Code)
}

// --- Definition Tests ---

func TestCreateAndGetDefinition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := &Definition{ID: uuid.New().String(), Name: "onboarding", Description: "new customers", Graph: sampleGraph()}
	require.NoError(t, s.CreateDefinition(ctx, def))

	got, err := s.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "onboarding", got.Name)
	assert.Equal(t, "new customers", got.Description)
	require.Len(t, got.Graph.Nodes, 3)
	assert.Equal(t, "room-{ticket_id}", got.Graph.Nodes[1].Data["room_name"])
	assert.Equal(t, def.Graph.Edges, got.Graph.Edges)
	assert.False(t, got.CreatedAt.IsZero())

	byName, err := s.GetDefinitionByName(ctx, "onboarding")
	require.NoError(t, err)
	assert.Equal(t, def.ID, byName.ID)
}

func TestCreateDefinition_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.CreateDefinition(ctx, &Definition{Name: "no-id"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	seedDefinition(t, s, "dup")
	err = s.CreateDefinition(ctx, &Definition{ID: uuid.New().String(), Name: "dup", Graph: sampleGraph()})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestGetDefinition_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDefinition(context.Background(), "nonexistent")
	assertNotFound(t, err)
	_, err = s.GetDefinitionByName(context.Background(), "nonexistent")
	assertNotFound(t, err)
}

func TestUpdateDefinition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	def := seedDefinition(t, s, "before")

	name := "after"
	desc := "renamed"
	g := sampleGraph()
	g.Nodes = append(g.Nodes, schema.RawNode{ID: "esc", Type: "escalationTrigger", Data: map[string]any{"reason": "x"}})
	require.NoError(t, s.UpdateDefinition(ctx, def.ID, DefinitionUpdate{Name: &name, Description: &desc, Graph: &g}))

	got, err := s.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
	assert.Equal(t, "renamed", got.Description)
	assert.Len(t, got.Graph.Nodes, 4)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	require.NoError(t, s.UpdateDefinition(ctx, def.ID, DefinitionUpdate{}))
	assertNotFound(t, s.UpdateDefinition(ctx, "missing", DefinitionUpdate{Name: &name}))
}

func TestListAndDeleteDefinitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedDefinition(t, s, "support-a")
	seedDefinition(t, s, "support-b")
	seedDefinition(t, s, "billing")

	all, err := s.ListDefinitions(ctx, DefinitionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "billing", all[0].Name)

	support, err := s.ListDefinitions(ctx, DefinitionFilter{NamePrefix: "support-"})
	require.NoError(t, err)
	assert.Len(t, support, 2)

	page, err := s.ListDefinitions(ctx, DefinitionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "support-a", page[0].Name)

	require.NoError(t, s.DeleteDefinition(ctx, a.ID))
	assertNotFound(t, s.DeleteDefinition(ctx, a.ID))
}

// --- Run Tests ---

func TestRecordAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	def := seedDefinition(t, s, "rooms")

	done := time.Now().UTC()
	run := &Run{
		ID:           uuid.New().String(),
		DefinitionID: def.ID,
		Status:       schema.RunStatusCompleted,
		Inputs:       map[string]any{"ticket_id": float64(42)},
		Output:       json.RawMessage(`{"room":"room-42"}`),
		Path:         []string{"in", "room", "out"},
		CompletedAt:  &done,
	}
	require.NoError(t, s.RecordRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.DefinitionID)
	assert.Equal(t, schema.RunStatusCompleted, got.Status)
	assert.Equal(t, float64(42), got.Inputs["ticket_id"])
	assert.JSONEq(t, `{"room":"room-42"}`, string(got.Output))
	assert.Equal(t, []string{"in", "room", "out"}, got.Path)
	require.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.Context)
}

func TestRecordRun_Replaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &Run{ID: uuid.New().String(), Status: schema.RunStatusRunning}
	require.NoError(t, s.RecordRun(ctx, run))

	run.Status = schema.RunStatusTerminated
	run.Context = json.RawMessage(`{"x":1}`)
	run.Path = []string{"in", "dec"}
	require.NoError(t, s.RecordRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusTerminated, got.Status)
	assert.JSONEq(t, `{"x":1}`, string(got.Context))
	assert.Equal(t, []string{"in", "dec"}, got.Path)
	assert.Empty(t, got.DefinitionID)
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	def := seedDefinition(t, s, "rooms")

	base := time.Now().UTC().Add(-time.Hour)
	for i, status := range []schema.RunStatus{schema.RunStatusCompleted, schema.RunStatusTerminated, schema.RunStatusCompleted} {
		require.NoError(t, s.RecordRun(ctx, &Run{
			ID:           uuid.New().String(),
			DefinitionID: def.ID,
			Status:       status,
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.RecordRun(ctx, &Run{ID: uuid.New().String(), Status: schema.RunStatusCompleted}))

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	byDef, err := s.ListRuns(ctx, RunFilter{DefinitionID: def.ID})
	require.NoError(t, err)
	require.Len(t, byDef, 3)
	assert.True(t, byDef[0].StartedAt.After(byDef[2].StartedAt), "newest first")

	completed := schema.RunStatusCompleted
	done, err := s.ListRuns(ctx, RunFilter{DefinitionID: def.ID, Status: &completed})
	require.NoError(t, err)
	assert.Len(t, done, 2)

	limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "nope")
	assertNotFound(t, err)
}

// --- Event Tests ---

func TestAppendAndGetEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	runID := uuid.New().String()

	for _, typ := range []string{schema.EventRunStarted, schema.EventNodeStarted, schema.EventNodeCompleted} {
		e := &Event{RunID: runID, NodeID: "in", Type: typ}
		require.NoError(t, s.AppendEvent(ctx, e))
		assert.NotZero(t, e.Sequence)
	}
	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "other", Type: schema.EventRunStarted}))

	events, err := s.GetEvents(ctx, runID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
	assert.Equal(t, schema.EventNodeCompleted, events[2].Type)

	since, err := s.GetEvents(ctx, runID, 2)
	require.NoError(t, err)
	assert.Len(t, since, 1)
}

// --- Scheduled Job Tests ---

func TestScheduledJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	def := seedDefinition(t, s, "nightly")

	next := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	job := &ScheduledJob{
		ID:             uuid.New().String(),
		DefinitionID:   def.ID,
		CronExpression: "0 * * * *",
		Inputs:         map[string]any{"ticket_id": "t-1"},
		Enabled:        true,
		NextRunAt:      &next,
	}
	require.NoError(t, s.CreateScheduledJob(ctx, job))
	require.NoError(t, s.CreateScheduledJob(ctx, &ScheduledJob{
		ID: uuid.New().String(), DefinitionID: def.ID, CronExpression: "@daily",
	}))

	got, err := s.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", got.CronExpression)
	assert.Equal(t, "t-1", got.Inputs["ticket_id"])
	assert.True(t, got.Enabled)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, next.Equal(*got.NextRunAt))

	enabled := true
	active, err := s.ListScheduledJobs(ctx, ScheduledJobFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	ran := time.Now().UTC()
	disabled := false
	require.NoError(t, s.UpdateScheduledJob(ctx, job.ID, ScheduledJobUpdate{
		Enabled: &disabled, LastRunAt: &ran, LastRunStatus: string(schema.RunStatusCompleted),
	}))
	got, err = s.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "completed", got.LastRunStatus)
	assert.NotNil(t, got.LastRunAt)

	all, err := s.ListScheduledJobs(ctx, ScheduledJobFilter{DefinitionID: def.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteScheduledJob(ctx, job.ID))
	_, err = s.GetScheduledJob(ctx, job.ID)
	assertNotFound(t, err)
	assertNotFound(t, s.UpdateScheduledJob(ctx, job.ID, ScheduledJobUpdate{Enabled: &enabled}))
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	v, err := schemaVersion(context.Background(), s.DB())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- only a comment;\nCREATE TABLE a (x INT);\n\n-- note\nCREATE TABLE b (y INT);")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[1], "CREATE TABLE b")
}
