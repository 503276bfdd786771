package store

import "context"

// ddlSavepoint is the savepoint name reused for per-statement isolation. A
// savepoint of the same name shadows the previous one, so reuse inside a loop
// is safe as long as each is released or rolled back before the next.
const ddlSavepoint = "loom_ddl"

// WithSavepoint runs fn inside a savepoint. PostgreSQL aborts the whole
// transaction on any failed statement; rolling back to the savepoint restores
// the transaction so later statements in the same batch can still run and the
// transaction can still commit. When q is not a transaction the savepoint
// cannot be created and fn runs bare, since each statement then commits
// independently anyway.
func WithSavepoint(ctx context.Context, q Querier, fn func() error) error {
	if _, err := q.ExecContext(ctx, "SAVEPOINT "+ddlSavepoint); err != nil {
		return fn()
	}
	if err := fn(); err != nil {
		_, _ = q.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+ddlSavepoint)
		return err
	}
	_, _ = q.ExecContext(ctx, "RELEASE SAVEPOINT "+ddlSavepoint)
	return nil
}
