package state

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pcarvalho/stackwizard/internal/gateway"
	"github.com/pcarvalho/stackwizard/internal/orchestrator"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, AutoMigrate(db), "failed to run migrations")

	return db
}

func testRecord(name string) *DeploymentRecord {
	return &DeploymentRecord{
		Name:          name,
		Path:          "/deployments/" + name,
		TemplateID:    "aws-vpc",
		CloudProvider: "aws",
		Step:          "initializing",
	}
}

func TestCreateRecord(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	record := testRecord("vpc-20260827-120000")
	err := repo.CreateRecord(ctx, record)
	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, record.ID, "ID should be generated")
}

func TestGetRecordByName(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	record := testRecord("vpc-20260827-120000")
	require.NoError(t, repo.CreateRecord(ctx, record))

	retrieved, err := repo.GetRecordByName(ctx, record.Name)
	assert.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, record.ID, retrieved.ID)
	assert.Equal(t, record.Path, retrieved.Path)
}

func TestGetRecordByNameMissing(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	retrieved, err := repo.GetRecordByName(context.Background(), "no-such-deployment")
	assert.NoError(t, err)
	assert.Nil(t, retrieved)
}

func TestListRecords(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	names := []string{"a-1", "a-2", "a-3", "a-4", "a-5"}
	for _, name := range names {
		require.NoError(t, repo.CreateRecord(ctx, testRecord(name)))
	}

	records, err := repo.ListRecords(ctx, 10, 0)
	assert.NoError(t, err)
	assert.Len(t, records, 5)

	page, err := repo.ListRecords(ctx, 2, 0)
	assert.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestUpdateRecordStep(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	record := testRecord("vpc-20260827-120000")
	require.NoError(t, repo.CreateRecord(ctx, record))

	err := repo.UpdateRecordStep(ctx, record.ID, "complete", false)
	assert.NoError(t, err)

	updated, err := repo.GetRecord(ctx, record.ID)
	assert.NoError(t, err)
	assert.Equal(t, "complete", updated.Step)
	assert.NotNil(t, updated.CompletedAt, "terminal step should stamp completion")
}

func TestAppendAndListTransitions(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	record := testRecord("vpc-20260827-120000")
	require.NoError(t, repo.CreateRecord(ctx, record))

	ok := true
	steps := []Transition{
		{RecordID: record.ID, Step: "initializing", Running: true, Command: "init"},
		{RecordID: record.ID, Step: "planning", Running: true, Command: "plan"},
		{RecordID: record.ID, Step: "review", Command: "plan", Success: &ok},
	}
	for i := range steps {
		require.NoError(t, repo.AppendTransition(ctx, &steps[i]))
	}

	transitions, err := repo.ListTransitions(ctx, record.ID)
	assert.NoError(t, err)
	require.Len(t, transitions, 3)
	assert.Equal(t, "initializing", transitions[0].Step)
	assert.Equal(t, "review", transitions[2].Step)
	require.NotNil(t, transitions[2].Success)
	assert.True(t, *transitions[2].Success)
}

func TestDeleteRecord(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	record := testRecord("vpc-20260827-120000")
	require.NoError(t, repo.CreateRecord(ctx, record))
	require.NoError(t, repo.AppendTransition(ctx, &Transition{RecordID: record.ID, Step: "failed"}))

	assert.NoError(t, repo.DeleteRecord(ctx, record.ID))

	retrieved, err := repo.GetRecordByName(ctx, record.Name)
	assert.NoError(t, err)
	assert.Nil(t, retrieved)

	transitions, err := repo.ListTransitions(ctx, record.ID)
	assert.NoError(t, err)
	assert.Empty(t, transitions)
}

func TestCountRecordsByStep(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	for _, name := range []string{"b-1", "b-2"} {
		rec := testRecord(name)
		rec.Step = "failed"
		require.NoError(t, repo.CreateRecord(ctx, rec))
	}
	require.NoError(t, repo.CreateRecord(ctx, testRecord("b-3")))

	count, err := repo.CountRecordsByStep(ctx, "failed")
	assert.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestSinkUpsertsByName(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	sink := NewSink(repo, zerolog.Nop())
	ctx := context.Background()

	rec := orchestrator.Record{Name: "vpc-20260827-120000", Path: "/deployments/vpc", TemplateID: "aws-vpc"}

	err := sink.RecordTransition(ctx, rec, orchestrator.StepInitializing, nil)
	require.NoError(t, err)

	ok := true
	err = sink.RecordTransition(ctx, rec, orchestrator.StepReview, &gateway.RunStatus{
		Command: "plan",
		Output:  "Plan: 3 to add",
		Success: &ok,
	})
	require.NoError(t, err)

	stored, err := repo.GetRecordByName(ctx, rec.Name)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "review", stored.Step)

	transitions, err := repo.ListTransitions(ctx, stored.ID)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "initializing", transitions[0].Step)
	assert.Contains(t, transitions[1].Output, "Plan: 3 to add")
}

func TestSinkIgnoresEmptyRecord(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	sink := NewSink(repo, zerolog.Nop())

	err := sink.RecordTransition(context.Background(), orchestrator.Record{}, orchestrator.StepReady, nil)
	assert.NoError(t, err)

	records, err := repo.ListRecords(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}
