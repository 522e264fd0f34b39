package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/datasink-io/datasink/internal/config"
	"github.com/datasink-io/datasink/internal/ingest"
)

// Sentinel errors for statement storage operations.
var (
	// ErrStoreFailed is returned when a statement storage operation fails.
	ErrStoreFailed = errors.New("statement storage failed")

	// StatementStore implements ingest.Store (run-scoped transactional writes).
	_ ingest.Store = (*StatementStore)(nil)

	_ ingest.Tx = (*statementTx)(nil)
)

// upsertBatchSize caps the number of rows per multi-row INSERT. One flush of
// the default 50k-statement buffer becomes a series of bounded statements
// inside a single transaction, so readers still observe the batch atomically.
const upsertBatchSize = 1000

// statementColumns is the column count of one statements row, used to build
// placeholder lists.
const statementColumns = 10

// StatementStore is the PostgreSQL-backed statement store. All run writes go
// through a transaction obtained from Begin; the transaction owner decides
// commit or rollback, which gives crawl runs their all-or-nothing guarantee.
type StatementStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewStatementStore creates a PostgreSQL statement store on an established
// connection.
func NewStatementStore(conn *Connection) (*StatementStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &StatementStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("DATASINK_LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Begin opens a run transaction.
func (s *StatementStore) Begin(ctx context.Context) (ingest.Tx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %w", ErrStoreFailed, err)
	}

	return &statementTx{tx: tx, logger: s.logger}, nil
}

// Close closes the underlying database connection pool.
func (s *StatementStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}

	return nil
}

// statementTx implements ingest.Tx on a single *sql.Tx.
type statementTx struct {
	tx     *sql.Tx
	logger *slog.Logger
}

// UpsertStatements writes statements in bounded multi-row INSERTs with an
// ON CONFLICT update on the (dataset, entity_id, prop, value) identity.
// first_seen of an existing row is preserved; everything else follows the
// latest write.
func (t *statementTx) UpsertStatements(ctx context.Context, statements []*ingest.Statement) error {
	for start := 0; start < len(statements); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(statements) {
			end = len(statements)
		}

		if err := t.upsertChunk(ctx, statements[start:end]); err != nil {
			return err
		}
	}

	t.logger.Debug("upserted statement batch", slog.Int("count", len(statements)))

	return nil
}

func (t *statementTx) upsertChunk(ctx context.Context, chunk []*ingest.Statement) error {
	placeholders := make([]string, 0, len(chunk))
	args := make([]any, 0, len(chunk)*statementColumns)

	for i, stmt := range chunk {
		base := i * statementColumns
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			stmt.Dataset, stmt.EntityID, stmt.Prop, stmt.Value, stmt.Schema,
			stmt.Unique, stmt.Target, stmt.RunID, stmt.FirstSeen, stmt.LastSeen,
		)
	}

	query := `
		INSERT INTO statements (dataset, entity_id, prop, value, schema, is_unique, is_target, run_id, first_seen, last_seen)
		VALUES ` + strings.Join(placeholders, ", ") + `
		ON CONFLICT (dataset, entity_id, prop, value) DO UPDATE SET
			schema = EXCLUDED.schema,
			is_unique = EXCLUDED.is_unique,
			is_target = EXCLUDED.is_target,
			run_id = EXCLUDED.run_id,
			last_seen = EXCLUDED.last_seen
	`

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: failed to upsert statements: %w", ErrStoreFailed, err)
	}

	return nil
}

// ClearStatements deletes all statements of a dataset.
func (t *statementTx) ClearStatements(ctx context.Context, dataset string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM statements WHERE dataset = $1`, dataset); err != nil {
		return fmt.Errorf("%w: failed to clear statements: %w", ErrStoreFailed, err)
	}

	return nil
}

// ClearIssues deletes all recorded issues of a dataset.
func (t *statementTx) ClearIssues(ctx context.Context, dataset string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM issues WHERE dataset = $1`, dataset); err != nil {
		return fmt.Errorf("%w: failed to clear issues: %w", ErrStoreFailed, err)
	}

	return nil
}

// SaveIssue records a single issue with its structured data as JSON.
func (t *statementTx) SaveIssue(ctx context.Context, issue *ingest.Issue) error {
	data, err := json.Marshal(issue.Data)
	if err != nil {
		return fmt.Errorf("%w: failed to encode issue data: %w", ErrStoreFailed, err)
	}

	query := `
		INSERT INTO issues (dataset, level, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := t.tx.ExecContext(ctx, query,
		issue.Dataset, issue.Level, issue.Message, data, issue.Timestamp,
	); err != nil {
		return fmt.Errorf("%w: failed to save issue: %w", ErrStoreFailed, err)
	}

	return nil
}

// SaveResource registers a file artifact, updating the existing record for
// the same (dataset, path) identity instead of creating a duplicate.
func (t *statementTx) SaveResource(ctx context.Context, resource *ingest.Resource) error {
	query := `
		INSERT INTO resources (dataset, path, checksum, mime_type, title, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dataset, path) DO UPDATE SET
			checksum = EXCLUDED.checksum,
			mime_type = EXCLUDED.mime_type,
			title = EXCLUDED.title,
			size = EXCLUDED.size,
			created_at = EXCLUDED.created_at
	`

	if _, err := t.tx.ExecContext(ctx, query,
		resource.Dataset, resource.Path, resource.Checksum,
		resource.MimeType, resource.Title, resource.Size, resource.Timestamp,
	); err != nil {
		return fmt.Errorf("%w: failed to save resource: %w", ErrStoreFailed, err)
	}

	return nil
}

// ListResources returns the registered artifacts of a dataset ordered by path.
func (t *statementTx) ListResources(ctx context.Context, dataset string) ([]*ingest.Resource, error) {
	query := `
		SELECT dataset, path, checksum, mime_type, title, size, created_at
		FROM resources
		WHERE dataset = $1
		ORDER BY path
	`

	rows, err := t.tx.QueryContext(ctx, query, dataset)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list resources: %w", ErrStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var resources []*ingest.Resource

	for rows.Next() {
		resource := &ingest.Resource{}
		if err := rows.Scan(
			&resource.Dataset, &resource.Path, &resource.Checksum,
			&resource.MimeType, &resource.Title, &resource.Size, &resource.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan resource: %w", ErrStoreFailed, err)
		}

		resources = append(resources, resource)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}

	return resources, nil
}

// CountEntities counts distinct entity identifiers with statements in a
// dataset, optionally restricted to target entities.
func (t *statementTx) CountEntities(ctx context.Context, dataset string, targetOnly bool) (int, error) {
	query := `SELECT COUNT(DISTINCT entity_id) FROM statements WHERE dataset = $1`
	if targetOnly {
		query += ` AND is_target`
	}

	var count int
	if err := t.tx.QueryRowContext(ctx, query, dataset).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: failed to count entities: %w", ErrStoreFailed, err)
	}

	return count, nil
}

// ListStatements returns all statements of a dataset in stable order.
func (t *statementTx) ListStatements(ctx context.Context, dataset string) ([]*ingest.Statement, error) {
	query := `
		SELECT dataset, entity_id, prop, value, schema, is_unique, is_target, run_id, first_seen, last_seen
		FROM statements
		WHERE dataset = $1
		ORDER BY entity_id, prop, value
	`

	rows, err := t.tx.QueryContext(ctx, query, dataset)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list statements: %w", ErrStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var statements []*ingest.Statement

	for rows.Next() {
		stmt := &ingest.Statement{}
		if err := rows.Scan(
			&stmt.Dataset, &stmt.EntityID, &stmt.Prop, &stmt.Value, &stmt.Schema,
			&stmt.Unique, &stmt.Target, &stmt.RunID, &stmt.FirstSeen, &stmt.LastSeen,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan statement: %w", ErrStoreFailed, err)
		}

		statements = append(statements, stmt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}

	return statements, nil
}

// Commit commits the transaction.
func (t *statementTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %w", ErrStoreFailed, err)
	}

	return nil
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *statementTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: failed to roll back: %w", ErrStoreFailed, err)
	}

	return nil
}
