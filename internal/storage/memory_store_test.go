package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasink-io/datasink/internal/ingest"
)

func memStatement(entityID, prop, value string, seen time.Time) *ingest.Statement {
	return &ingest.Statement{
		Dataset:   "test_ds",
		EntityID:  entityID,
		Prop:      prop,
		Value:     value,
		Schema:    "LegalEntity",
		RunID:     "run-1",
		FirstSeen: seen,
		LastSeen:  seen,
	}
}

func TestMemoryStoreCommitPublishesState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, tx.UpsertStatements(ctx, []*ingest.Statement{
		memStatement("ent-1", "name", "ACME", now),
	}))

	// Uncommitted writes are invisible to store readers.
	assert.Empty(t, store.Statements("test_ds"))

	require.NoError(t, tx.Commit())

	statements := store.Statements("test_ds")
	require.Len(t, statements, 1)
	assert.Equal(t, "ACME", statements[0].Value)
}

func TestMemoryStoreRollbackDiscards(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, tx.UpsertStatements(ctx, []*ingest.Statement{
		memStatement("ent-1", "name", "ACME", now),
	}))
	require.NoError(t, tx.SaveIssue(ctx, &ingest.Issue{Dataset: "test_ds", Level: ingest.LevelError, Message: "bad"}))

	require.NoError(t, tx.Rollback())

	assert.Empty(t, store.Statements("test_ds"))
	assert.Empty(t, store.Issues("test_ds"))
}

func TestMemoryStoreResolvedTxRejectsWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	err = tx.UpsertStatements(ctx, []*ingest.Statement{
		memStatement("ent-1", "name", "ACME", time.Now().UTC()),
	})
	assert.ErrorIs(t, err, ErrTxResolved)
	assert.ErrorIs(t, tx.Commit(), ErrTxResolved)

	// Rollback after commit is a no-op, matching database/sql.
	assert.NoError(t, tx.Rollback())
}

func TestMemoryStoreUpsertPreservesFirstSeen(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.AddDate(0, 1, 0)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertStatements(ctx, []*ingest.Statement{
		memStatement("ent-1", "name", "ACME", first),
	}))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertStatements(ctx, []*ingest.Statement{
		memStatement("ent-1", "name", "ACME", second),
	}))
	require.NoError(t, tx.Commit())

	statements := store.Statements("test_ds")
	require.Len(t, statements, 1)
	assert.Equal(t, first, statements[0].FirstSeen)
	assert.Equal(t, second, statements[0].LastSeen)
}

func TestMemoryStoreCountEntities(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Now().UTC()
	target := memStatement("ent-1", "name", "ACME", now)
	target.Target = true

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertStatements(ctx, []*ingest.Statement{
		target,
		memStatement("ent-1", "country", "us", now),
		memStatement("ent-2", "name", "Other", now),
	}))

	all, err := tx.CountEntities(ctx, "test_ds", false)
	require.NoError(t, err)
	assert.Equal(t, 2, all)

	targets, err := tx.CountEntities(ctx, "test_ds", true)
	require.NoError(t, err)
	assert.Equal(t, 1, targets)

	require.NoError(t, tx.Commit())
}

func TestMemoryStoreListStatementsOrdered(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Now().UTC()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertStatements(ctx, []*ingest.Statement{
		memStatement("ent-2", "name", "Other", now),
		memStatement("ent-1", "name", "ACME", now),
		memStatement("ent-1", "alias", "A", now),
	}))

	statements, err := tx.ListStatements(ctx, "test_ds")
	require.NoError(t, err)
	require.Len(t, statements, 3)

	assert.Equal(t, "ent-1", statements[0].EntityID)
	assert.Equal(t, "alias", statements[0].Prop)
	assert.Equal(t, "ent-1", statements[1].EntityID)
	assert.Equal(t, "name", statements[1].Prop)
	assert.Equal(t, "ent-2", statements[2].EntityID)

	require.NoError(t, tx.Rollback())
}

func TestMemoryStoreResources(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	resource := &ingest.Resource{
		Dataset:  "test_ds",
		Path:     "dpl.tsv",
		Checksum: "abc",
		MimeType: "text/tab-separated-values",
		Size:     42,
	}
	require.NoError(t, tx.SaveResource(ctx, resource))

	// Re-registering the same path replaces the record.
	updated := *resource
	updated.Checksum = "def"
	require.NoError(t, tx.SaveResource(ctx, &updated))

	listed, err := tx.ListResources(ctx, "test_ds")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "def", listed[0].Checksum)

	require.NoError(t, tx.Commit())
	require.Len(t, store.Resources("test_ds"), 1)
}

func TestMemoryStoreConcurrentTransactionsLastCommitWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Now().UTC()

	first, err := store.Begin(ctx)
	require.NoError(t, err)

	second, err := store.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, first.UpsertStatements(ctx, []*ingest.Statement{
		memStatement("ent-1", "name", "From first", now),
	}))
	require.NoError(t, second.UpsertStatements(ctx, []*ingest.Statement{
		memStatement("ent-2", "name", "From second", now),
	}))

	require.NoError(t, first.Commit())
	require.NoError(t, second.Commit())

	// Snapshot isolation: the second snapshot predates the first commit,
	// so its commit replaces the whole state.
	statements := store.Statements("test_ds")
	require.Len(t, statements, 1)
	assert.Equal(t, "ent-2", statements[0].EntityID)
}
