package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/datasink-io/datasink/internal/catalog"
	"github.com/datasink-io/datasink/internal/lookup"
)

const (
	// defaultFlushThreshold is the buffer size above which an emit triggers a
	// synchronous flush. It bounds peak memory by threshold, not dataset size.
	defaultFlushThreshold = 50000

	// checksumChunkSize is the read size used when digesting exported files,
	// keeping memory constant regardless of file size.
	checksumChunkSize = 64 * 1024
)

// Sentinel errors for run context misuse.
var (
	// ErrNotBound is returned when a store-touching operation runs outside
	// the bind/close bracket.
	ErrNotBound = errors.New("run context is not bound")

	// ErrResourceOutsideRun is returned when a path registered as a resource
	// does not lie beneath the run's working directory.
	ErrResourceOutsideRun = errors.New("resource path is outside the run directory")
)

type (
	// CrawlFunc is a dataset collection routine. The run context passed to it
	// is the sole interface the routine may use to interact with the system.
	CrawlFunc func(ctx context.Context, c *Context) error

	// ExportFunc generates exported files for a dataset.
	ExportFunc func(ctx context.Context, c *Context) error

	// Context is the per-run ingestion context handed to collection routines.
	// It supports fetching source artifacts, emitting entities, resolving
	// lookups and registering resources, and owns the run lifecycle
	// (bind → run → close) including the store transaction.
	//
	// A Context serves exactly one run and is not safe for concurrent use;
	// the scheduling model is single-threaded by construction.
	Context struct {
		dataset   *catalog.Dataset
		path      string
		store     Store
		fetcher   Fetcher
		publisher Publisher

		base *slog.Logger
		log  *slog.Logger

		runID          string
		flushThreshold int
		state          RunState
		tx             Tx
		statements     map[Key]*Statement
	}

	// Option configures optional run context behavior.
	Option func(*Context)

	// RunReport summarizes a finished run.
	RunReport struct {
		Dataset     string
		RunID       string
		State       RunState
		Entities    int
		Targets     int
		Interrupted bool
		Err         error // captured failure on the Failed path, nil on success
	}
)

// WithFlushThreshold overrides the statement buffer flush threshold.
func WithFlushThreshold(threshold int) Option {
	return func(c *Context) {
		if threshold > 0 {
			c.flushThreshold = threshold
		}
	}
}

// WithPublisher attaches a statement sink fed after each successful flush.
func WithPublisher(p Publisher) Option {
	return func(c *Context) {
		c.publisher = p
	}
}

// New creates a run context for one dataset. The working directory for the
// dataset's artifacts is dataPath/<dataset name>.
func New(dataset *catalog.Dataset, store Store, fetcher Fetcher, dataPath string, logger *slog.Logger, opts ...Option) *Context {
	c := &Context{
		dataset:        dataset,
		path:           filepath.Join(dataPath, dataset.Name),
		store:          store,
		fetcher:        fetcher,
		base:           logger,
		log:            logger,
		runID:          uuid.NewString(),
		flushThreshold: defaultFlushThreshold,
		state:          StateIdle,
		statements:     make(map[Key]*Statement),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Dataset returns the dataset definition this context runs for.
func (c *Context) Dataset() *catalog.Dataset {
	return c.dataset
}

// RunID returns the provenance identifier of this run.
func (c *Context) RunID() string {
	return c.runID
}

// Log returns the run-scoped logger. While the context is bound it carries
// the dataset and run identifiers on every record.
func (c *Context) Log() *slog.Logger {
	return c.log
}

// ResourcePath returns the local path for a named resource under the run's
// working directory.
func (c *Context) ResourcePath(name string) string {
	return filepath.Join(c.path, name)
}

// FetchResource returns the local path for name, downloading url into it if
// the file does not already exist. Repeated calls for an existing path are
// pure lookups: network I/O happens at most once per path per run directory.
func (c *Context) FetchResource(ctx context.Context, name, url string) (string, error) {
	path := c.ResourcePath(name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}

	if err := c.fetcher.Download(ctx, path, url); err != nil {
		return "", err
	}

	return path, nil
}

// ExportResource registers path, which must lie beneath the run's working
// directory, as a file artifact of the dataset. The content digest and size
// are computed by streaming the file in fixed-size chunks; the MIME type is
// inferred from the extension when not supplied. Re-registering the same
// relative path updates the existing record.
func (c *Context) ExportResource(ctx context.Context, path, mimeType, title string) error {
	if c.tx == nil {
		return ErrNotBound
	}

	rel, err := filepath.Rel(c.path, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrResourceOutsideRun, path)
	}

	checksum, size, err := digestFile(path)
	if err != nil {
		return err
	}

	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
	}

	return c.tx.SaveResource(ctx, &Resource{
		Dataset:   c.dataset.Name,
		Path:      filepath.ToSlash(rel),
		Checksum:  checksum,
		MimeType:  mimeType,
		Title:     title,
		Size:      size,
		Timestamp: time.Now().UTC(),
	})
}

// LookupValue resolves a raw value against a dataset-declared mapping table,
// falling back to defaultValue when no rule matches or the table is unknown.
func (c *Context) LookupValue(table, raw, defaultValue string) string {
	t, err := c.dataset.Lookup(table)
	if err != nil {
		c.log.Warn("Lookup against undeclared table",
			slog.String("table", table),
			slog.String("value", raw),
		)

		return defaultValue
	}

	return t.GetValue(raw, defaultValue)
}

// Lookup resolves a raw value against a dataset-declared mapping table. An
// unmatched value without a declared table default fails with
// *lookup.UnmatchedValueError, which the crawl controller treats as a
// recovered data-quality failure.
func (c *Context) Lookup(table, raw string) (string, error) {
	t, err := c.dataset.Lookup(table)
	if err != nil {
		return "", err
	}

	return t.Match(raw)
}

// Make creates a new empty entity of the given schema, owned by this
// dataset and flagged as a target of interest or supporting data.
func (c *Context) Make(schema string, target bool) *Entity {
	return &Entity{
		Schema:  schema,
		Target:  target,
		Dataset: c.dataset.Name,
	}
}

type emitOptions struct {
	target *bool
	unique bool
}

// EmitOption adjusts a single Emit call.
type EmitOption func(*emitOptions)

// WithTarget overrides the entity's target designation for this emission.
func WithTarget(target bool) EmitOption {
	return func(o *emitOptions) {
		o.target = &target
	}
}

// WithUnique marks the emitted statements as participating in
// entity-identity derivation.
func WithUnique(unique bool) EmitOption {
	return func(o *emitOptions) {
		o.unique = unique
	}
}

// Emit decomposes an entity into statements and merges them into the run's
// buffer, keyed by (entity_id, prop, value); an existing entry for the same
// key is replaced, never duplicated. When the buffer exceeds the flush
// threshold after the merge, Emit flushes synchronously before returning.
//
// Emitting an entity without an identifier or without properties is a caller
// error and fatal to the run.
func (c *Context) Emit(ctx context.Context, entity *Entity, opts ...EmitOption) error {
	if entity == nil || entity.ID == "" {
		return fmt.Errorf("%w: %+v", ErrMissingIdentifier, entity)
	}

	var options emitOptions
	for _, opt := range opts {
		opt(&options)
	}

	if options.target != nil {
		entity.Target = *options.target
	}

	statements, err := Decompose(entity, options.unique, c.runID, time.Now().UTC())
	if err != nil {
		return err
	}

	for _, stmt := range statements {
		c.statements[stmt.Key()] = stmt
	}

	if len(c.statements) > c.flushThreshold {
		if err := c.Flush(ctx); err != nil {
			return err
		}
	}

	c.log.Debug("Emitted entity",
		slog.String("entity_id", entity.ID),
		slog.String("schema", entity.Schema),
	)

	return nil
}

// Flush performs a single batched upsert of all buffered statements into the
// store, then clears the buffer. Statements not flushed before a run aborts
// are never persisted; the crawl controller flushes only on the success path.
func (c *Context) Flush(ctx context.Context) error {
	if c.tx == nil {
		return ErrNotBound
	}

	if len(c.statements) == 0 {
		return nil
	}

	c.log.Debug("Flushing statements to store", slog.Int("count", len(c.statements)))

	batch := make([]*Statement, 0, len(c.statements))
	for _, stmt := range c.statements {
		batch = append(batch, stmt)
	}

	if err := c.tx.UpsertStatements(ctx, batch); err != nil {
		return err
	}

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, batch); err != nil {
			c.log.Warn("Statement publish failed",
				slog.Int("count", len(batch)),
				slog.String("error", err.Error()),
			)
		}
	}

	c.statements = make(map[Key]*Statement)

	return nil
}

// BufferedStatements returns the number of statements currently buffered.
func (c *Context) BufferedStatements() int {
	return len(c.statements)
}

// Statements reads all persisted statements of the dataset through the bound
// transaction, ordered by entity, property and value. Buffered statements
// that have not been flushed are not included.
func (c *Context) Statements(ctx context.Context) ([]*Statement, error) {
	if c.tx == nil {
		return nil, ErrNotBound
	}

	return c.tx.ListStatements(ctx, c.dataset.Name)
}

// Resources reads the registered artifacts of the dataset through the bound
// transaction.
func (c *Context) Resources(ctx context.Context) ([]*Resource, error) {
	if c.tx == nil {
		return nil, ErrNotBound
	}

	return c.tx.ListResources(ctx, c.dataset.Name)
}

// Crawl runs a dataset collection routine under the full run lifecycle:
// bind the logging scope and transaction, clear prior issues, invoke the
// routine, flush and report counts on success. On failure the transaction is
// rolled back and the buffer is discarded: interruption (context
// cancellation) is re-raised to the caller after cleanup, while unmatched
// lookups and unexpected failures are logged, recorded as issues and
// absorbed, leaving the run Failed without crashing a multi-dataset batch.
// The context is closed on every path.
func (c *Context) Crawl(ctx context.Context, fn CrawlFunc) (*RunReport, error) {
	if err := c.bind(ctx); err != nil {
		return nil, err
	}

	report := &RunReport{Dataset: c.dataset.Name, RunID: c.runID, State: StateFailed}

	// A run is only Completed once its transaction is durable: a failed
	// final commit downgrades the report after the fact.
	defer func() {
		if closeErr := c.close(report); closeErr != nil && report.State == StateCompleted {
			report.State = StateFailed
			report.Err = closeErr
		}
	}()

	c.setState(StateRunning)
	c.log.Info("Begin crawl")

	runErr := c.runCrawl(ctx, fn, report)
	if runErr == nil {
		c.setState(StateCompleted)
		report.State = StateCompleted

		return report, nil
	}

	// All failure paths discard uncommitted store work and the buffer.
	c.rollback()

	c.setState(StateFailed)

	if interrupted(ctx, runErr) {
		report.Interrupted = true
		report.Err = runErr

		c.log.Warn("Crawl interrupted", slog.String("error", runErr.Error()))

		return report, runErr
	}

	report.Err = runErr

	var unmatched *lookup.UnmatchedValueError
	if errors.As(runErr, &unmatched) {
		c.log.Error("Lookup value not matched",
			slog.String("lookup", unmatched.Table),
			slog.String("value", unmatched.Value),
		)
		c.recordIssue(ctx, LevelError, "lookup value not matched", map[string]string{
			"lookup": unmatched.Table,
			"value":  unmatched.Value,
		})

		return report, nil
	}

	c.log.Error("Crawl failed",
		slog.String("error", runErr.Error()),
		slog.String("stack", stackTrace(runErr)),
	)
	c.recordIssue(ctx, LevelError, "crawl failed", map[string]string{
		"error": runErr.Error(),
	})

	return report, nil
}

// runCrawl executes the issue clear, the routine itself and the success-path
// flush and counts. A routine panic surfaces as an ordinary unexpected error.
func (c *Context) runCrawl(ctx context.Context, fn CrawlFunc, report *RunReport) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	if err := c.tx.ClearIssues(ctx, c.dataset.Name); err != nil {
		return err
	}

	if err := fn(ctx, c); err != nil {
		return err
	}

	if err := c.Flush(ctx); err != nil {
		return err
	}

	entities, err := c.tx.CountEntities(ctx, c.dataset.Name, false)
	if err != nil {
		return err
	}

	targets, err := c.tx.CountEntities(ctx, c.dataset.Name, true)
	if err != nil {
		return err
	}

	report.Entities = entities
	report.Targets = targets

	c.log.Info("Crawl completed",
		slog.Int("entities", entities),
		slog.Int("targets", targets),
	)

	return nil
}

// Export generates exported files for the dataset inside the bind/close
// bracket. Unlike Crawl, failures are not absorbed: any error from the export
// routine propagates to the caller after the context has closed.
func (c *Context) Export(ctx context.Context, fn ExportFunc) (err error) {
	if bindErr := c.bind(ctx); bindErr != nil {
		return bindErr
	}

	defer func() {
		closeErr := c.close(nil)
		if err == nil {
			err = closeErr
		}
	}()

	return fn(ctx, c)
}

// Clear deletes all recorded statements and issues for the dataset and
// commits. This is an administrative reset, independent of any run.
func (c *Context) Clear(ctx context.Context) error {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := tx.ClearIssues(ctx, c.dataset.Name); err != nil {
		return err
	}

	if err := tx.ClearStatements(ctx, c.dataset.Name); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	c.log.Info("Cleared dataset state", slog.String("dataset", c.dataset.Name))

	return nil
}

// bind attaches the dataset identifiers to the run's logging scope and opens
// the store transaction. Binding a context twice is an error.
func (c *Context) bind(ctx context.Context) error {
	if err := c.transition(StateBound); err != nil {
		return err
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		c.state = StateIdle

		return fmt.Errorf("failed to begin run transaction: %w", err)
	}

	c.tx = tx
	c.log = c.base.With(
		slog.String("dataset", c.dataset.Name),
		slog.String("run_id", c.runID),
	)

	return nil
}

// close tears down the run: the remaining transaction is committed (a no-op
// after a rollback on the failure paths), the logging scope is released and
// the buffer discarded. It runs exactly once per bound run, on every path.
// A failed final commit is returned so callers can report the run as not
// durably completed.
func (c *Context) close(report *RunReport) error {
	var err error

	if c.tx != nil {
		if commitErr := c.tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit run transaction: %w", commitErr)

			c.log.Error("Failed to commit run transaction", slog.String("error", commitErr.Error()))
		}

		c.tx = nil
	}

	if report != nil {
		c.log.Debug("Run closed", slog.String("state", string(report.State)))
	}

	c.log = c.base
	c.statements = make(map[Key]*Statement)
	c.state = StateClosed

	return err
}

// rollback discards the run transaction and the buffered statements.
func (c *Context) rollback() {
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil {
			c.log.Error("Failed to roll back run transaction", slog.String("error", err.Error()))
		}

		c.tx = nil
	}

	c.statements = make(map[Key]*Statement)
}

// recordIssue persists a failure issue in a fresh short transaction so it
// survives the rollback of the run transaction.
func (c *Context) recordIssue(ctx context.Context, level, message string, data map[string]string) {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		c.log.Warn("Failed to record issue", slog.String("error", err.Error()))

		return
	}

	issue := &Issue{
		Dataset:   c.dataset.Name,
		Level:     level,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	if err := tx.SaveIssue(ctx, issue); err != nil {
		_ = tx.Rollback()

		c.log.Warn("Failed to record issue", slog.String("error", err.Error()))

		return
	}

	if err := tx.Commit(); err != nil {
		c.log.Warn("Failed to record issue", slog.String("error", err.Error()))
	}
}

// setState advances the lifecycle on controller-internal paths where the
// transition is valid by construction.
func (c *Context) setState(to RunState) {
	if err := c.transition(to); err != nil {
		c.log.Error("Run state transition rejected", slog.String("error", err.Error()))
	}
}

// interrupted reports whether a run error represents operator-initiated
// cancellation rather than a dataset failure.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// panicError wraps a recovered collection routine panic.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("collection routine panic: %v", e.value)
}

// stackTrace extracts diagnostic trace information from an error when present.
func stackTrace(err error) string {
	var p *panicError
	if errors.As(err, &p) {
		return string(p.stack)
	}

	return ""
}

// digestFile computes the SHA-1 checksum and byte size of a file by streaming
// it in fixed-size chunks.
func digestFile(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open resource %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	digest := sha1.New()

	size, err := io.CopyBuffer(digest, file, make([]byte, checksumChunkSize))
	if err != nil {
		return "", 0, fmt.Errorf("failed to digest resource %s: %w", path, err)
	}

	return hex.EncodeToString(digest.Sum(nil)), size, nil
}
