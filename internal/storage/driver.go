// Package storage implements the MeshVault storage engine: connection
// lifecycle, per-handle configuration verification, schema bootstrap with
// versioned idempotent migrations, scoped self-repair, and health checks.
//
// Two structurally different relational drivers live behind one Driver
// interface, a direct database/sql implementation (mattn/go-sqlite3) and
// a gorm.io implementation, selected by configuration at construction
// time. Callers depend only on the interface and the single positional
// `?` placeholder convention; each driver translates to whatever its
// dialect expects.
package storage

import (
	"context"
	"errors"
)

// ErrNoRows is returned by Row.Scan when the query matched nothing,
// regardless of backend.
var ErrNoRows = errors.New("storage: no rows in result set")

// Result reports the outcome of a statement execution.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// Rows iterates a multi-row result set. The concrete type is backend
// specific; *sql.Rows satisfies it directly.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close() error
}

// Row is a single-row result. Scan returns ErrNoRows when empty.
type Row interface {
	Scan(dest ...interface{}) error
}

// Conn is one transactional handle. It is owned by exactly one operation:
// never shared across goroutines, never cached, never held past its own
// operation's lifetime. Exactly one of Commit or Rollback must be called.
type Conn interface {
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Commit() error
	Rollback() error
}

// Driver abstracts the underlying relational implementation. Begin starts
// a transaction on a pooled connection with the engine's configuration
// directives already applied; the engine still verifies them before use.
type Driver interface {
	Name() string
	Begin(ctx context.Context) (Conn, error)
	Ping(ctx context.Context) error
	Close() error
}
