package codegen

import (
	"fmt"
	"strings"

	"github.com/loomhq/loom/internal/migrate/schema"
)

// DDLGenerator generates CREATE TABLE and column-level ALTER statements.
// Foreign keys are never part of its output; they belong to the constraint
// phase so that creation order only has to satisfy an acyclic subset.
type DDLGenerator struct{}

// NewDDLGenerator creates a new DDL generator.
func NewDDLGenerator() *DDLGenerator {
	return &DDLGenerator{}
}

// CreateTable generates the phase-1 CREATE TABLE statement for a table:
// columns with inline PRIMARY KEY / NOT NULL / UNIQUE / DEFAULT, plus the
// composite primary key constraint when declared.
func (g *DDLGenerator) CreateTable(def *schema.TableDefinition, namespace string) (string, error) {
	if def == nil {
		return "", fmt.Errorf("table definition cannot be nil")
	}
	if len(def.Columns) == 0 {
		return "", fmt.Errorf("table %s has no columns", def.Name)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", QuoteQualified(namespace, def.Name)))

	lines := make([]string, 0, len(def.Columns)+1)
	for _, col := range def.Columns {
		lines = append(lines, g.columnDefinition(col))
	}
	if def.HasCompositePK() {
		lines = append(lines, fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s)",
			QuoteIdentifier(def.CompositePK.Name),
			strings.Join(quoteAll(def.CompositePK.Columns), ", ")))
	}

	for i, line := range lines {
		b.WriteString("  ")
		b.WriteString(line)
		if i < len(lines)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(");")

	return b.String(), nil
}

// columnDefinition renders one column clause.
func (g *DDLGenerator) columnDefinition(col schema.ColumnDefinition) string {
	parts := []string{QuoteIdentifier(col.Name), col.Type}

	if col.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	} else if col.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if col.Unique && !col.PrimaryKey {
		parts = append(parts, "UNIQUE")
	}
	if col.Default != "" {
		parts = append(parts, "DEFAULT "+col.Default)
	}
	return strings.Join(parts, " ")
}

// CreateIndexes generates CREATE INDEX statements for a table's declared
// secondary indexes.
func (g *DDLGenerator) CreateIndexes(def *schema.TableDefinition, namespace string) []string {
	statements := make([]string, 0, len(def.Indexes))
	for _, idx := range def.Indexes {
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		statements = append(statements, fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s);",
			unique,
			QuoteIdentifier(idx.Name),
			QuoteQualified(namespace, def.Name),
			strings.Join(quoteAll(idx.Columns), ", ")))
	}
	return statements
}

// AddColumn generates an ALTER TABLE statement adding a column declared since
// the last snapshot.
func (g *DDLGenerator) AddColumn(namespace, table string, col schema.ColumnDefinition) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s;",
		QuoteQualified(namespace, table), g.columnDefinition(col))
}

// DropColumn generates an ALTER TABLE statement dropping a column no longer
// declared by the plugin.
func (g *DDLGenerator) DropColumn(namespace, table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s;",
		QuoteQualified(namespace, table), QuoteIdentifier(column))
}

// AlterColumnType generates an ALTER TABLE statement changing a column's type.
func (g *DDLGenerator) AlterColumnType(namespace, table string, col schema.ColumnDefinition) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;",
		QuoteQualified(namespace, table),
		QuoteIdentifier(col.Name),
		col.Type,
		QuoteIdentifier(col.Name),
		col.Type)
}
