package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors surfaced by the store layer.
var (
	// ErrDuplicateObject marks a DDL failure caused by the object already
	// existing. Callers treat it as benign during idempotent re-runs.
	ErrDuplicateObject = errors.New("object already exists")

	// ErrLockContention is returned when a distributed lock could not be
	// acquired within the configured timeout. Retryable by the caller.
	ErrLockContention = errors.New("migration lock held by another caller")
)

// PostgreSQL SQLSTATE codes for the duplicate-object error class. Matching
// on codes instead of message text keeps classification stable across server
// versions and locales.
var duplicateObjectCodes = map[string]bool{
	"42P07": true, // duplicate_table
	"42P06": true, // duplicate_schema
	"42710": true, // duplicate_object (constraints, extensions)
	"42701": true, // duplicate_column
	"23505": true, // unique_violation (concurrent tracking inserts)
}

// ClassifyDDLError wraps driver errors of the duplicate-object class with
// ErrDuplicateObject so callers can branch with errors.Is. Other errors pass
// through unchanged.
func ClassifyDDLError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && duplicateObjectCodes[pgErr.Code] {
		return errors.Join(ErrDuplicateObject, err)
	}
	return err
}

// IsDuplicateObject reports whether an error belongs to the duplicate-object
// class.
func IsDuplicateObject(err error) bool {
	if errors.Is(err, ErrDuplicateObject) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && duplicateObjectCodes[pgErr.Code]
}
