package schema

import "sort"

// ChangeType classifies one difference between two table sets.
type ChangeType int

const (
	ChangeAddTable ChangeType = iota
	ChangeAddColumn
	ChangeDropColumn
	ChangeAlterColumnType
)

// String returns the string representation of the change type.
func (c ChangeType) String() string {
	switch c {
	case ChangeAddTable:
		return "add_table"
	case ChangeAddColumn:
		return "add_column"
	case ChangeDropColumn:
		return "drop_column"
	case ChangeAlterColumnType:
		return "alter_column_type"
	default:
		return "unknown"
	}
}

// Change is a single detected difference between the last applied snapshot
// and the currently declared schema.
type Change struct {
	Type    ChangeType
	Table   string
	Column  ColumnDefinition // populated for column changes
	OldType string           // populated for alter_column_type
}

// Diff compares the previously applied table set against the currently
// declared one and returns the changes needed to reconcile, in deterministic
// order. Tables present in old but absent from new are deliberately left
// alone: dropping a plugin's table is a destructive operation the engine
// never performs implicitly.
func Diff(old, new map[string]*TableDefinition) []Change {
	var changes []Change

	for _, name := range sortedNames(new) {
		oldDef, existed := old[name]
		if !existed {
			changes = append(changes, Change{Type: ChangeAddTable, Table: name})
			continue
		}
		changes = append(changes, diffColumns(name, oldDef, new[name])...)
	}
	return changes
}

func diffColumns(table string, old, new *TableDefinition) []Change {
	var changes []Change

	for _, col := range new.Columns {
		oldCol, existed := old.Column(col.Name)
		if !existed {
			changes = append(changes, Change{Type: ChangeAddColumn, Table: table, Column: col})
			continue
		}
		if oldCol.Type != col.Type {
			changes = append(changes, Change{
				Type:    ChangeAlterColumnType,
				Table:   table,
				Column:  col,
				OldType: oldCol.Type,
			})
		}
	}

	for _, oldCol := range old.Columns {
		if _, stillDeclared := new.Column(oldCol.Name); !stillDeclared {
			changes = append(changes, Change{Type: ChangeDropColumn, Table: table, Column: oldCol})
		}
	}
	return changes
}

func sortedNames(tables map[string]*TableDefinition) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
