package migrate

import (
	"errors"
	"fmt"
)

// ErrConnectivity marks a migration failure caused by the database being
// unreachable, as opposed to a failure of the migration itself.
var ErrConnectivity = errors.New("database unreachable")

// ErrNoTables is returned when a plugin's schema declaration contains no
// recognizable table descriptors.
var ErrNoTables = errors.New("no table definitions found in schema")

// MigrationError wraps a failure with the plugin it occurred for.
type MigrationError struct {
	Plugin string
	Err    error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrate plugin %s: %v", e.Plugin, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
