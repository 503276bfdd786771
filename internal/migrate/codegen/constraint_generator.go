package codegen

import (
	"fmt"
	"strings"

	"github.com/loomhq/loom/internal/migrate/schema"
)

// ConstraintKind distinguishes the catalog a constraint is checked against
// before attempting creation.
type ConstraintKind int

const (
	KindForeignKey ConstraintKind = iota
	KindCheck
)

// String returns the string representation of the constraint kind.
func (k ConstraintKind) String() string {
	switch k {
	case KindForeignKey:
		return "foreign_key"
	case KindCheck:
		return "check"
	default:
		return "unknown"
	}
}

// ConstraintStatement pairs a constraint's name with the statement creating
// it, so callers can consult the constraint catalog before executing.
type ConstraintStatement struct {
	Name string
	Kind ConstraintKind
	SQL  string
}

// ConstraintGenerator generates the phase-2 ALTER TABLE ... ADD CONSTRAINT
// statements for a table.
type ConstraintGenerator struct{}

// NewConstraintGenerator creates a new constraint generator.
func NewConstraintGenerator() *ConstraintGenerator {
	return &ConstraintGenerator{}
}

// ForeignKeys generates one ADD CONSTRAINT ... FOREIGN KEY statement per
// declared foreign key. Referenced tables resolve within the same namespace.
func (g *ConstraintGenerator) ForeignKeys(def *schema.TableDefinition, namespace string) []ConstraintStatement {
	statements := make([]ConstraintStatement, 0, len(def.ForeignKeys))
	for _, fk := range def.ForeignKeys {
		sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s;",
			QuoteQualified(namespace, def.Name),
			QuoteIdentifier(fk.Name),
			strings.Join(quoteAll(fk.Columns), ", "),
			QuoteQualified(namespace, fk.ReferencedTable),
			strings.Join(quoteAll(fk.ReferencedColumns), ", "),
			fk.OnDelete)
		statements = append(statements, ConstraintStatement{Name: fk.Name, Kind: KindForeignKey, SQL: sql})
	}
	return statements
}

// CheckConstraints generates one ADD CONSTRAINT ... CHECK statement per
// declared check constraint.
func (g *ConstraintGenerator) CheckConstraints(def *schema.TableDefinition, namespace string) []ConstraintStatement {
	statements := make([]ConstraintStatement, 0, len(def.CheckConstraints))
	for _, check := range def.CheckConstraints {
		sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s);",
			QuoteQualified(namespace, def.Name),
			QuoteIdentifier(check.Name),
			check.Expression)
		statements = append(statements, ConstraintStatement{Name: check.Name, Kind: KindCheck, SQL: sql})
	}
	return statements
}

// TableConstraints generates every phase-2 constraint for a table, foreign
// keys first.
func (g *ConstraintGenerator) TableConstraints(def *schema.TableDefinition, namespace string) []ConstraintStatement {
	out := g.ForeignKeys(def, namespace)
	return append(out, g.CheckConstraints(def, namespace)...)
}
