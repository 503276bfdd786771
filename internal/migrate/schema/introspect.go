package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Introspector converts opaque plugin table descriptors into normalized
// TableDefinitions. It is pure and stateless apart from its logger and the
// injected composite-primary-key override table.
type Introspector struct {
	logger *zap.Logger
	// compositePKs maps table name to primary key columns for tables whose
	// descriptors do not declare their composite key. Passed in as data so
	// deployments can extend it without touching the engine.
	compositePKs map[string][]string
}

// NewIntrospector creates an Introspector. The override table may be nil.
func NewIntrospector(logger *zap.Logger, compositePKs map[string][]string) *Introspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Introspector{logger: logger, compositePKs: compositePKs}
}

// IsTableDescriptor reports whether a schema export value looks like a table
// descriptor: an inspectable shape carrying column metadata under any known
// convention. Used by the coordinator to filter plugin schema exports.
func IsTableDescriptor(v any) bool {
	d := newDescriptor(v)
	if !d.isMapOrStruct() {
		return false
	}
	_, _, ok := resolveWith(columnSetStrategies, d, "")
	return ok
}

// Parse resolves a descriptor into a TableDefinition. The fallbackKey is the
// export name the descriptor was found under; it feeds the naming-convention
// strategies when the descriptor itself carries no usable name.
func (in *Introspector) Parse(rawDescriptor any, fallbackKey string) (*TableDefinition, error) {
	d := newDescriptor(rawDescriptor)
	if !d.isMapOrStruct() {
		return nil, &SchemaParseError{Key: fallbackKey, Reason: "descriptor is not a map or struct"}
	}

	def := &TableDefinition{Name: in.resolveName(d, fallbackKey)}

	if err := in.parseColumns(d, fallbackKey, def); err != nil {
		return nil, err
	}
	in.parseForeignKeys(d, fallbackKey, def)
	in.parseIndexes(d, def)
	in.parseExtraConfig(d, def)

	if def.CompositePK == nil {
		if cols, ok := in.compositePKs[def.Name]; ok && len(cols) > 1 {
			def.CompositePK = &CompositePrimaryKey{
				Name:    def.Name + "_pkey",
				Columns: cols,
			}
			in.logger.Debug("composite primary key from override table",
				zap.String("table", def.Name),
				zap.Strings("columns", cols))
		}
	}
	// A declared composite key supersedes per-column primary key flags.
	if def.HasCompositePK() {
		for i := range def.Columns {
			def.Columns[i].PrimaryKey = false
		}
	}

	for _, fk := range def.ForeignKeys {
		def.AddDependency(fk.ReferencedTable)
	}

	return def, nil
}

func (in *Introspector) resolveName(d *descriptor, fallbackKey string) string {
	if raw, strategyName, ok := resolveWith(tableNameStrategies, d, fallbackKey); ok {
		if name, ok := asString(raw); ok {
			in.logger.Debug("table name resolved",
				zap.String("name", name),
				zap.String("strategy", strategyName))
			return name
		}
	}
	in.logger.Warn("table name could not be resolved, using placeholder",
		zap.String("key", fallbackKey))
	return "unknown_table"
}

func (in *Introspector) parseColumns(d *descriptor, fallbackKey string, def *TableDefinition) error {
	raw, strategyName, ok := resolveWith(columnSetStrategies, d, fallbackKey)
	if !ok {
		return &SchemaParseError{Key: fallbackKey, Reason: "no column metadata found"}
	}
	cols, ok := unwrap(raw).(map[string]any)
	if !ok || len(cols) == 0 {
		return &SchemaParseError{Key: fallbackKey, Reason: "column metadata is empty or not a map"}
	}

	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def.Columns = append(def.Columns, in.parseColumn(name, cols[name]))
	}
	in.logger.Debug("columns resolved",
		zap.String("table", def.Name),
		zap.Int("count", len(def.Columns)),
		zap.String("strategy", strategyName))
	return nil
}

func (in *Introspector) parseColumn(name string, raw any) ColumnDefinition {
	col := ColumnDefinition{Name: name}

	switch v := unwrap(raw).(type) {
	case string:
		col.Type = v
	case map[string]any:
		cd := newDescriptor(v)
		if t, ok := cd.get("type", "dataType", "data_type"); ok {
			col.Type, _ = asString(t)
		}
		if pk, ok := cd.get("primaryKey", "primary_key", "primary"); ok {
			col.PrimaryKey, _ = asBool(pk)
		}
		if nn, ok := cd.get("notNull", "not_null", "required"); ok {
			col.NotNull, _ = asBool(nn)
		} else if nullable, ok := cd.get("nullable"); ok {
			if b, ok := asBool(nullable); ok {
				col.NotNull = !b
			}
		}
		if uq, ok := cd.get("unique"); ok {
			col.Unique, _ = asBool(uq)
		}
		if dv, ok := cd.get("default", "defaultValue", "default_value"); ok {
			if formatted, ok := FormatDefault(dv); ok {
				col.Default = formatted
			}
		}
	}

	col.Type = resolveColumnType(name, col.Type)
	if col.PrimaryKey {
		col.NotNull = true
	}
	return col
}

var vectorDimPattern = regexp.MustCompile(`^dim_?([0-9]+)$`)

// resolveColumnType normalizes a declared type string. Columns following the
// dim<N>/dim_<N> naming convention are fixed-dimension vector columns
// regardless of any declared type.
func resolveColumnType(columnName, declared string) string {
	if m := vectorDimPattern.FindStringSubmatch(strings.ToLower(columnName)); m != nil {
		return fmt.Sprintf("vector(%s)", m[1])
	}

	t := strings.ToLower(strings.TrimSpace(declared))
	switch t {
	case "":
		return "text"
	case "string", "varchar":
		return "text"
	case "int", "integer", "serial":
		return "integer"
	case "bigserial", "bigint":
		return "bigint"
	case "float", "double", "real":
		return "double precision"
	case "bool", "boolean":
		return "boolean"
	case "datetime", "timestamp", "timestamptz":
		return "timestamptz"
	case "json", "jsonb":
		return "jsonb"
	case "uuid":
		return "uuid"
	default:
		// Vector, array, enum and other custom types pass through as declared.
		return t
	}
}

func (in *Introspector) parseForeignKeys(d *descriptor, fallbackKey string, def *TableDefinition) {
	raw, _, ok := resolveWith(foreignKeyStrategies, d, fallbackKey)
	if !ok {
		return
	}
	for _, item := range asSlice(raw) {
		fk, ok := in.parseForeignKey(def.Name, item)
		if !ok {
			continue
		}
		def.ForeignKeys = append(def.ForeignKeys, fk)
	}
}

func (in *Introspector) parseForeignKey(tableName string, raw any) (ForeignKeyDefinition, bool) {
	fd := newDescriptor(raw)
	if !fd.isMapOrStruct() {
		in.logger.Warn("foreign key descriptor dropped: not inspectable",
			zap.String("table", tableName))
		return ForeignKeyDefinition{}, false
	}

	fk := ForeignKeyDefinition{OnDelete: ActionNoAction}
	if cols, ok := fd.get("columns", "column", "fields"); ok {
		fk.Columns = asStringSlice(cols)
	}
	if len(fk.Columns) == 0 {
		in.logger.Warn("foreign key descriptor dropped: no local columns",
			zap.String("table", tableName))
		return ForeignKeyDefinition{}, false
	}

	refTable, refColumns := in.resolveReference(fd)
	if refTable == "" {
		// The reference did not resolve to a table name. Dropping the key
		// beats emitting malformed SQL.
		in.logger.Warn("foreign key dropped: referenced table did not resolve to a name",
			zap.String("table", tableName),
			zap.Strings("columns", fk.Columns))
		return ForeignKeyDefinition{}, false
	}
	fk.ReferencedTable = refTable
	fk.ReferencedColumns = refColumns
	if len(fk.ReferencedColumns) == 0 {
		fk.ReferencedColumns = []string{"id"}
	}

	if name, ok := fd.get("name", "constraintName", "constraint_name"); ok {
		fk.Name, _ = asString(name)
	}
	if fk.Name == "" {
		fk.Name = fmt.Sprintf("%s_%s_fkey", tableName, strings.Join(fk.Columns, "_"))
	}

	if od, ok := fd.get("onDelete", "on_delete"); ok {
		if s, ok := asString(od); ok {
			fk.OnDelete = ParseReferentialAction(s)
		}
	}
	return fk, true
}

// resolveReference extracts the referenced table and columns. The target may
// be expressed directly, as a "table.column" path, as a nested descriptor, or
// as a function returning any of these. Anything that does not ultimately
// yield a string table name resolves to "".
func (in *Introspector) resolveReference(fd *descriptor) (string, []string) {
	raw, ok := fd.get("references", "referencedTable", "referenced_table", "target", "foreignTable")
	if !ok {
		return "", nil
	}

	switch v := unwrap(raw).(type) {
	case string:
		if table, column, found := strings.Cut(v, "."); found {
			return table, []string{column}
		}
		if cols, ok := fd.get("referencedColumns", "referenced_columns", "targetColumns"); ok {
			return v, asStringSlice(cols)
		}
		return v, nil
	case map[string]any:
		rd := newDescriptor(v)
		table := ""
		if t, ok := rd.get("table", "tableName", "name"); ok {
			table, _ = asString(t)
		}
		if table == "" {
			return "", nil
		}
		var columns []string
		if c, ok := rd.get("columns", "column"); ok {
			columns = asStringSlice(c)
		}
		return table, columns
	default:
		return "", nil
	}
}

func (in *Introspector) parseIndexes(d *descriptor, def *TableDefinition) {
	raw, _, ok := resolveWith(indexStrategies, d, "")
	if !ok {
		return
	}
	for _, item := range asSlice(raw) {
		id := newDescriptor(item)
		if !id.isMapOrStruct() {
			continue
		}
		var idx IndexDefinition
		if cols, ok := id.get("columns", "column", "fields"); ok {
			idx.Columns = asStringSlice(cols)
		}
		if len(idx.Columns) == 0 {
			continue
		}
		if name, ok := id.get("name"); ok {
			idx.Name, _ = asString(name)
		}
		if idx.Name == "" {
			idx.Name = fmt.Sprintf("idx_%s_%s", def.Name, strings.Join(idx.Columns, "_"))
		}
		if uq, ok := id.get("unique"); ok {
			idx.Unique, _ = asBool(uq)
		}
		def.Indexes = append(def.Indexes, idx)
	}
}

// parseExtraConfig extracts composite primary keys and check constraints from
// the descriptor's extra-configuration builder. The builder may be a function
// (invoked via unwrap), a single entry, or a list of entries.
func (in *Introspector) parseExtraConfig(d *descriptor, def *TableDefinition) {
	raw, _, ok := resolveWith(extraConfigStrategies, d, "")
	if !ok {
		return
	}

	entries := asSlice(raw)
	if entries == nil {
		entries = []any{unwrap(raw)}
	}

	for _, entry := range entries {
		ed := newDescriptor(entry)
		if !ed.isMapOrStruct() {
			continue
		}

		if pk, ok := ed.get("primaryKey", "primary_key", "compositePrimaryKey"); ok {
			pd := newDescriptor(pk)
			cols := asStringSlice(unwrap(pk))
			name := ""
			if cols == nil && pd.isMapOrStruct() {
				if c, ok := pd.get("columns"); ok {
					cols = asStringSlice(c)
				}
				if n, ok := pd.get("name"); ok {
					name, _ = asString(n)
				}
			}
			if len(cols) > 1 {
				if name == "" {
					name = def.Name + "_pkey"
				}
				def.CompositePK = &CompositePrimaryKey{Name: name, Columns: cols}
			}
		}

		if checks, ok := ed.get("checks", "checkConstraints", "check_constraints"); ok {
			in.parseChecks(checks, def)
		}
		// A bare {name, expression} entry is itself a check constraint.
		if _, hasExpr := ed.get("expression", "sql"); hasExpr {
			in.parseChecks(entry, def)
		}
	}
}

func (in *Introspector) parseChecks(raw any, def *TableDefinition) {
	entries := asSlice(raw)
	if entries == nil {
		// A map of name -> expression is also accepted.
		if m, ok := unwrap(raw).(map[string]any); ok {
			if _, hasExpr := m["expression"]; !hasExpr {
				if _, hasSQL := m["sql"]; !hasSQL {
					names := make([]string, 0, len(m))
					for name := range m {
						names = append(names, name)
					}
					sort.Strings(names)
					for _, name := range names {
						if expr, ok := asString(m[name]); ok {
							def.CheckConstraints = append(def.CheckConstraints, CheckConstraint{Name: name, Expression: expr})
						}
					}
					return
				}
			}
		}
		entries = []any{unwrap(raw)}
	}

	for _, entry := range entries {
		cd := newDescriptor(entry)
		if !cd.isMapOrStruct() {
			continue
		}
		var check CheckConstraint
		if n, ok := cd.get("name"); ok {
			check.Name, _ = asString(n)
		}
		if e, ok := cd.get("expression", "sql", "check"); ok {
			check.Expression, _ = asString(e)
		}
		if check.Expression == "" {
			continue
		}
		if check.Name == "" {
			check.Name = fmt.Sprintf("%s_check_%d", def.Name, len(def.CheckConstraints)+1)
		}
		def.CheckConstraints = append(def.CheckConstraints, check)
	}
}
