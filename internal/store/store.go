// Package store provides the backend-agnostic repository used by every
// pipeline stage. Backends register themselves under a kind string
// ("postgres", "sqlite") and are selected at runtime from configuration.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config is the minimal configuration needed to open a repository.
//
// Kind must match a registered backend kind. DSN is passed through to the
// backend factory; its format is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Row is a generic result row keyed by column name. It is the shape
// InvokeProcedure returns, since procedure result sets vary per rule.
type Row map[string]any

// Filter is one WHERE-clause equality predicate. Filters are a slice, not a
// map, so generated SQL is deterministic and testable.
type Filter struct {
	Column string
	Value  any
}

// Repository is the storage surface the pipeline stages program against.
//
// Each backend implements these semantics in its own idiomatic way
// (Postgres ON CONFLICT, SQLite upsert clauses, server-side functions vs
// built-in queries for procedures).
type Repository interface {
	// Close releases backend resources. Treat as "call once" at shutdown.
	Close()

	// EnsureTables creates the given tables if they do not exist. Idempotent.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// EnsureProcedures installs the validation procedures. Idempotent.
	// Backends without server-side functions implement the procedures
	// natively and treat this as a no-op.
	EnsureProcedures(ctx context.Context) error

	// InsertRows appends rows to an append-only table. Every row must have
	// one value per column. Returns the number of rows written.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// UpsertRows writes rows idempotently against conflictColumns. When
	// updateColumns is non-empty a conflicting row is updated in place;
	// otherwise the incoming row is dropped. Returns rows written or updated.
	UpsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns, updateColumns []string) (int64, error)

	// SelectRows reads the named columns, optionally filtered by equality
	// predicates, ordered by orderBy when non-empty. Values come back in
	// column order for each row.
	SelectRows(ctx context.Context, table string, columns []string, where []Filter, orderBy string) ([][]any, error)

	// DeleteAll removes every row from a table and reports how many went.
	DeleteAll(ctx context.Context, table string) (int64, error)

	// InvokeProcedure runs a named validation procedure and returns one
	// finding row per rule, passing rules included.
	InvokeProcedure(ctx context.Context, name string) ([]Row, error)

	// AcquireLease takes the advisory lease for a job if it is free or
	// expired. Returns false, with no error, when another holder has it.
	AcquireLease(ctx context.Context, job, holder string, ttl time.Duration) (bool, error)

	// ReleaseLease drops the lease if this holder still owns it.
	ReleaseLease(ctx context.Context, job, holder string) error
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend factory under a kind. It is called from
// init() in each backend package and panics on misuse: an empty kind, a nil
// factory, or a duplicate registration all indicate a programming error.
func Register(kind string, f factory) {
	regMu.Lock()
	defer regMu.Unlock()

	if kind == "" {
		panic("store: Register called with empty kind")
	}
	if f == nil {
		panic("store: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("store: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New opens a repository for the configured backend kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("store: missing kind")
	}

	regMu.RLock()
	f := factories[cfg.Kind]
	regMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("store: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
