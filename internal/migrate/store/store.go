// Package store contains the database-facing parts of the migration engine:
// namespace and extension management, distributed locking, tracking state,
// and structured classification of driver errors.
package store

import (
	"context"
	"database/sql"
)

// Querier is the subset of database operations the store needs. Both *sql.DB
// and *sql.Tx satisfy it, so every operation can run inside the coordinator's
// transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)
