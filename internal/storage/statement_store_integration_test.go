package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/datasink-io/datasink/internal/config"
	"github.com/datasink-io/datasink/internal/ingest"
)

func setupStore(t *testing.T) *StatementStore {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	store, err := NewStatementStore(&Connection{DB: testDB.Connection})
	require.NoError(t, err)

	return store
}

func pgStatement(dataset, entityID, prop, value string, target bool, runID string, seen time.Time) *ingest.Statement {
	return &ingest.Statement{
		Dataset:   dataset,
		EntityID:  entityID,
		Prop:      prop,
		Value:     value,
		Schema:    "LegalEntity",
		Target:    target,
		RunID:     runID,
		FirstSeen: seen,
		LastSeen:  seen,
	}
}

func TestStatementStoreRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	runID := uuid.NewString()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.UpsertStatements(ctx, []*ingest.Statement{
		pgStatement("test_ds", "ent-1", "name", "ACME Export Ltd", true, runID, now),
		pgStatement("test_ds", "ent-1", "country", "us", true, runID, now),
		pgStatement("test_ds", "ent-2", "name", "Other Corp", false, runID, now),
	}))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	statements, err := tx.ListStatements(ctx, "test_ds")
	require.NoError(t, err)
	require.Len(t, statements, 3)

	// Ordered by entity, property, value.
	assert.Equal(t, "ent-1", statements[0].EntityID)
	assert.Equal(t, "country", statements[0].Prop)
	assert.Equal(t, "name", statements[1].Prop)
	assert.Equal(t, "ent-2", statements[2].EntityID)

	assert.Equal(t, runID, statements[0].RunID)
	assert.True(t, statements[0].FirstSeen.Equal(now))

	entities, err := tx.CountEntities(ctx, "test_ds", false)
	require.NoError(t, err)
	assert.Equal(t, 2, entities)

	targets, err := tx.CountEntities(ctx, "test_ds", true)
	require.NoError(t, err)
	assert.Equal(t, 1, targets)
}

func TestStatementStoreUpsertPreservesFirstSeen(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.AddDate(0, 1, 0)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertStatements(ctx, []*ingest.Statement{
		pgStatement("test_ds", "ent-1", "name", "ACME", true, uuid.NewString(), first),
	}))
	require.NoError(t, tx.Commit())

	laterRun := uuid.NewString()

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertStatements(ctx, []*ingest.Statement{
		pgStatement("test_ds", "ent-1", "name", "ACME", true, laterRun, second),
	}))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	statements, err := tx.ListStatements(ctx, "test_ds")
	require.NoError(t, err)
	require.Len(t, statements, 1)

	assert.True(t, statements[0].FirstSeen.Equal(first), "first_seen must survive the upsert")
	assert.True(t, statements[0].LastSeen.Equal(second))
	assert.Equal(t, laterRun, statements[0].RunID)
}

func TestStatementStoreRollbackIsolation(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertStatements(ctx, []*ingest.Statement{
		pgStatement("test_ds", "ent-1", "name", "ACME", true, uuid.NewString(), time.Now().UTC()),
	}))
	require.NoError(t, tx.Rollback())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	statements, err := tx.ListStatements(ctx, "test_ds")
	require.NoError(t, err)
	assert.Empty(t, statements)
}

func TestStatementStoreIssuesAndClear(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveIssue(ctx, &ingest.Issue{
		Dataset:   "test_ds",
		Level:     ingest.LevelError,
		Message:   "lookup value not matched",
		Data:      map[string]string{"lookup": "country_codes", "value": "ATLANTIS"},
		Timestamp: time.Now().UTC(),
	}))
	require.NoError(t, tx.UpsertStatements(ctx, []*ingest.Statement{
		pgStatement("test_ds", "ent-1", "name", "ACME", true, uuid.NewString(), time.Now().UTC()),
	}))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.ClearIssues(ctx, "test_ds"))
	require.NoError(t, tx.ClearStatements(ctx, "test_ds"))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	statements, err := tx.ListStatements(ctx, "test_ds")
	require.NoError(t, err)
	assert.Empty(t, statements)

	count, err := tx.CountEntities(ctx, "test_ds", false)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStatementStoreResources(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	resource := &ingest.Resource{
		Dataset:   "test_ds",
		Path:      "dpl.tsv",
		Checksum:  "da39a3ee5e6b4b0d3255bfef95601890afd80709",
		MimeType:  "text/tab-separated-values",
		Title:     "Denied persons list",
		Size:      1024,
		Timestamp: time.Now().UTC(),
	}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveResource(ctx, resource))

	// Same path again replaces the record instead of duplicating it.
	updated := *resource
	updated.Checksum = "new-checksum"
	require.NoError(t, tx.SaveResource(ctx, &updated))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	resources, err := tx.ListResources(ctx, "test_ds")
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "new-checksum", resources[0].Checksum)
	assert.Equal(t, "Denied persons list", resources[0].Title)
}

func TestStatementStoreLargeBatchChunking(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	runID := uuid.NewString()
	now := time.Now().UTC()

	batch := make([]*ingest.Statement, 0, upsertBatchSize+50)
	for i := 0; i < upsertBatchSize+50; i++ {
		batch = append(batch, pgStatement(
			"test_ds",
			uuid.NewString(),
			"name",
			"Entity",
			false,
			runID,
			now,
		))
	}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertStatements(ctx, batch))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	count, err := tx.CountEntities(ctx, "test_ds", false)
	require.NoError(t, err)
	assert.Equal(t, len(batch), count)
}
