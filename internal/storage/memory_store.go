package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/datasink-io/datasink/internal/ingest"
)

// ErrTxResolved is returned when a resolved memory transaction is used again.
var ErrTxResolved = errors.New("transaction already committed or rolled back")

// Compile-time interface assertions.
var (
	_ ingest.Store = (*MemoryStore)(nil)
	_ ingest.Tx    = (*memoryTx)(nil)
)

type (
	// MemoryStore is an in-memory twin of the PostgreSQL statement store,
	// used by unit tests and throwaway local runs. Transactions operate on a
	// snapshot of the store state: Commit swaps the snapshot in, Rollback
	// discards it, so run-level all-or-nothing semantics hold here too.
	MemoryStore struct {
		mu    sync.Mutex
		state *memoryState
	}

	memoryState struct {
		statements map[string]map[ingest.Key]*ingest.Statement
		issues     map[string][]*ingest.Issue
		resources  map[string]map[string]*ingest.Resource
	}

	memoryTx struct {
		store    *MemoryStore
		state    *memoryState
		resolved bool
	}
)

// NewMemoryStore creates an empty in-memory statement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func newMemoryState() *memoryState {
	return &memoryState{
		statements: make(map[string]map[ingest.Key]*ingest.Statement),
		issues:     make(map[string][]*ingest.Issue),
		resources:  make(map[string]map[string]*ingest.Resource),
	}
}

func (s *memoryState) clone() *memoryState {
	clone := newMemoryState()

	for dataset, stmts := range s.statements {
		clone.statements[dataset] = make(map[ingest.Key]*ingest.Statement, len(stmts))
		for key, stmt := range stmts {
			copied := *stmt
			clone.statements[dataset][key] = &copied
		}
	}

	for dataset, issues := range s.issues {
		clone.issues[dataset] = append([]*ingest.Issue(nil), issues...)
	}

	for dataset, resources := range s.resources {
		clone.resources[dataset] = make(map[string]*ingest.Resource, len(resources))
		for path, resource := range resources {
			copied := *resource
			clone.resources[dataset][path] = &copied
		}
	}

	return clone
}

// Begin opens a transaction over a snapshot of the current store state.
func (s *MemoryStore) Begin(_ context.Context) (ingest.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &memoryTx{store: s, state: s.state.clone()}, nil
}

// Statements returns the committed statements of a dataset, for assertions.
func (s *MemoryStore) Statements(dataset string) []*ingest.Statement {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedStatements(s.state, dataset)
}

// Issues returns the committed issues of a dataset, for assertions.
func (s *MemoryStore) Issues(dataset string) []*ingest.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*ingest.Issue(nil), s.state.issues[dataset]...)
}

// Resources returns the committed resources of a dataset, for assertions.
func (s *MemoryStore) Resources(dataset string) []*ingest.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedResources(s.state, dataset)
}

func (t *memoryTx) UpsertStatements(_ context.Context, statements []*ingest.Statement) error {
	if t.resolved {
		return ErrTxResolved
	}

	for _, stmt := range statements {
		dataset := t.state.statements[stmt.Dataset]
		if dataset == nil {
			dataset = make(map[ingest.Key]*ingest.Statement)
			t.state.statements[stmt.Dataset] = dataset
		}

		copied := *stmt

		if existing, ok := dataset[stmt.Key()]; ok {
			copied.FirstSeen = existing.FirstSeen
		}

		dataset[stmt.Key()] = &copied
	}

	return nil
}

func (t *memoryTx) ClearStatements(_ context.Context, dataset string) error {
	if t.resolved {
		return ErrTxResolved
	}

	delete(t.state.statements, dataset)

	return nil
}

func (t *memoryTx) ClearIssues(_ context.Context, dataset string) error {
	if t.resolved {
		return ErrTxResolved
	}

	delete(t.state.issues, dataset)

	return nil
}

func (t *memoryTx) SaveIssue(_ context.Context, issue *ingest.Issue) error {
	if t.resolved {
		return ErrTxResolved
	}

	copied := *issue
	t.state.issues[issue.Dataset] = append(t.state.issues[issue.Dataset], &copied)

	return nil
}

func (t *memoryTx) SaveResource(_ context.Context, resource *ingest.Resource) error {
	if t.resolved {
		return ErrTxResolved
	}

	dataset := t.state.resources[resource.Dataset]
	if dataset == nil {
		dataset = make(map[string]*ingest.Resource)
		t.state.resources[resource.Dataset] = dataset
	}

	copied := *resource
	dataset[resource.Path] = &copied

	return nil
}

func (t *memoryTx) ListResources(_ context.Context, dataset string) ([]*ingest.Resource, error) {
	if t.resolved {
		return nil, ErrTxResolved
	}

	return sortedResources(t.state, dataset), nil
}

func (t *memoryTx) CountEntities(_ context.Context, dataset string, targetOnly bool) (int, error) {
	if t.resolved {
		return 0, ErrTxResolved
	}

	entities := make(map[string]struct{})

	for _, stmt := range t.state.statements[dataset] {
		if targetOnly && !stmt.Target {
			continue
		}

		entities[stmt.EntityID] = struct{}{}
	}

	return len(entities), nil
}

func (t *memoryTx) ListStatements(_ context.Context, dataset string) ([]*ingest.Statement, error) {
	if t.resolved {
		return nil, ErrTxResolved
	}

	return sortedStatements(t.state, dataset), nil
}

// Commit publishes the transaction snapshot as the new store state.
func (t *memoryTx) Commit() error {
	if t.resolved {
		return ErrTxResolved
	}

	t.store.mu.Lock()
	t.store.state = t.state
	t.store.mu.Unlock()

	t.resolved = true

	return nil
}

// Rollback discards the transaction snapshot. Calling Rollback after Commit
// is a no-op, matching database/sql semantics.
func (t *memoryTx) Rollback() error {
	t.resolved = true

	return nil
}

func sortedStatements(state *memoryState, dataset string) []*ingest.Statement {
	statements := make([]*ingest.Statement, 0, len(state.statements[dataset]))
	for _, stmt := range state.statements[dataset] {
		statements = append(statements, stmt)
	}

	sort.Slice(statements, func(i, j int) bool {
		a, b := statements[i], statements[j]
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}

		if a.Prop != b.Prop {
			return a.Prop < b.Prop
		}

		return a.Value < b.Value
	})

	return statements
}

func sortedResources(state *memoryState, dataset string) []*ingest.Resource {
	resources := make([]*ingest.Resource, 0, len(state.resources[dataset]))
	for _, resource := range state.resources[dataset] {
		resources = append(resources, resource)
	}

	sort.Slice(resources, func(i, j int) bool {
		return resources[i].Path < resources[j].Path
	})

	return resources
}
