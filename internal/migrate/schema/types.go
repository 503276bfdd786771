// Package schema provides the normalized table model the migration engine
// works with, plus the introspector that builds it from loosely-structured
// plugin table descriptors.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ReferentialAction represents the ON DELETE action of a foreign key.
type ReferentialAction int

const (
	ActionNoAction ReferentialAction = iota
	ActionCascade
	ActionSetNull
	ActionSetDefault
	ActionRestrict
)

// String returns the SQL spelling of the action.
func (a ReferentialAction) String() string {
	switch a {
	case ActionCascade:
		return "CASCADE"
	case ActionSetNull:
		return "SET NULL"
	case ActionSetDefault:
		return "SET DEFAULT"
	case ActionRestrict:
		return "RESTRICT"
	default:
		return "NO ACTION"
	}
}

// ParseReferentialAction converts a descriptor value to a ReferentialAction.
// Unrecognized or missing values default to NO ACTION.
func ParseReferentialAction(s string) ReferentialAction {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")) {
	case "cascade":
		return ActionCascade
	case "set_null", "setnull":
		return ActionSetNull
	case "set_default", "setdefault":
		return ActionSetDefault
	case "restrict":
		return ActionRestrict
	default:
		return ActionNoAction
	}
}

// MarshalText implements encoding.TextMarshaler so actions survive snapshot
// round-trips as readable strings.
func (a ReferentialAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *ReferentialAction) UnmarshalText(b []byte) error {
	*a = ParseReferentialAction(string(b))
	return nil
}

// ColumnDefinition describes a single column of a plugin table.
type ColumnDefinition struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	PrimaryKey bool   `json:"primaryKey,omitempty"`
	NotNull    bool   `json:"notNull,omitempty"`
	Unique     bool   `json:"unique,omitempty"`
	// Default holds a dialect-correct SQL fragment ("now()", "'active'", "0").
	// Empty means no default.
	Default string `json:"default,omitempty"`
}

// IndexDefinition describes a secondary index on a plugin table.
type IndexDefinition struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

// ForeignKeyDefinition describes a foreign key constraint.
type ForeignKeyDefinition struct {
	Name              string            `json:"name"`
	Columns           []string          `json:"columns"`
	ReferencedTable   string            `json:"referencedTable"`
	ReferencedColumns []string          `json:"referencedColumns"`
	OnDelete          ReferentialAction `json:"onDelete"`
}

// CheckConstraint describes a named CHECK constraint.
type CheckConstraint struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// CompositePrimaryKey describes a primary key spanning multiple columns,
// emitted as a single named PRIMARY KEY constraint.
type CompositePrimaryKey struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// TableDefinition is the normalized form of one plugin table descriptor.
type TableDefinition struct {
	Name             string                 `json:"name"`
	Columns          []ColumnDefinition     `json:"columns"`
	Indexes          []IndexDefinition      `json:"indexes,omitempty"`
	ForeignKeys      []ForeignKeyDefinition `json:"foreignKeys,omitempty"`
	CheckConstraints []CheckConstraint      `json:"checkConstraints,omitempty"`
	CompositePK      *CompositePrimaryKey   `json:"compositePrimaryKey,omitempty"`
	// Dependencies holds the names of other tables in the same batch that
	// this table's foreign keys reference. Self-references are structural,
	// not ordering constraints, and are never included.
	Dependencies []string `json:"dependencies,omitempty"`
}

// AddDependency records a dependency on another table, skipping duplicates
// and self-references.
func (t *TableDefinition) AddDependency(name string) {
	if name == t.Name || name == "" {
		return
	}
	for _, d := range t.Dependencies {
		if d == name {
			return
		}
	}
	t.Dependencies = append(t.Dependencies, name)
	sort.Strings(t.Dependencies)
}

// Column returns the column with the given name, if present.
func (t *TableDefinition) Column(name string) (ColumnDefinition, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDefinition{}, false
}

// HasCompositePK reports whether the table declares a multi-column primary key.
func (t *TableDefinition) HasCompositePK() bool {
	return t.CompositePK != nil && len(t.CompositePK.Columns) > 1
}

// SchemaParseError reports a table descriptor that could not be resolved into
// a usable table definition. It is fatal for the owning plugin's migration.
type SchemaParseError struct {
	Key    string // schema export key the descriptor was found under
	Reason string
}

// Error implements the error interface.
func (e *SchemaParseError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid table descriptor: %s", e.Reason)
	}
	return fmt.Sprintf("invalid table descriptor %q: %s", e.Key, e.Reason)
}
