package ingest

import "context"

type (
	// Store provides run-scoped transactions against the statement store.
	//
	// The interface is defined here, in the consuming package; PostgreSQL and
	// in-memory implementations live in internal/storage.
	Store interface {
		// Begin opens a new transaction. The caller owns it exclusively and
		// must resolve it with Commit or Rollback.
		Begin(ctx context.Context) (Tx, error)
	}

	// Tx is a single store transaction. All writes made through it become
	// visible to other readers atomically at Commit; Rollback discards them.
	Tx interface {
		// UpsertStatements writes a batch of statements, replacing existing
		// rows with the same (dataset, entity_id, prop, value) identity.
		// The batch is atomic with respect to store readers.
		UpsertStatements(ctx context.Context, statements []*Statement) error

		// ClearStatements deletes all statements of a dataset.
		ClearStatements(ctx context.Context, dataset string) error

		// ClearIssues deletes all recorded issues of a dataset.
		ClearIssues(ctx context.Context, dataset string) error

		// SaveIssue records a single issue.
		SaveIssue(ctx context.Context, issue *Issue) error

		// SaveResource registers a file artifact, replacing an existing
		// record with the same (dataset, path) identity.
		SaveResource(ctx context.Context, resource *Resource) error

		// ListResources returns the registered artifacts of a dataset.
		ListResources(ctx context.Context, dataset string) ([]*Resource, error)

		// CountEntities counts the distinct entity identifiers with
		// statements in a dataset, optionally restricted to target entities.
		CountEntities(ctx context.Context, dataset string, targetOnly bool) (int, error)

		// ListStatements returns all statements of a dataset ordered by
		// entity, property and value.
		ListStatements(ctx context.Context, dataset string) ([]*Statement, error)

		Commit() error
		Rollback() error
	}

	// Fetcher is the blocking download collaborator. Its retry and timeout
	// policy is its own; the run context only relies on the no-partial-file
	// guarantee.
	Fetcher interface {
		Download(ctx context.Context, dest, url string) error
	}

	// Publisher is an optional sink fed after each successful flush. Publish
	// failures never fail a run; the store is the source of truth.
	Publisher interface {
		Publish(ctx context.Context, statements []*Statement) error
	}
)
