package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/loomhq/loom/internal/migrate/codegen"
	"github.com/loomhq/loom/internal/migrate/schema"
)

// FallbackNamespace is used for the core plugin when the connection's active
// search path cannot be introspected.
const FallbackNamespace = "public"

// NamespaceManager owns every namespace- and existence-aware operation:
// resolving and creating namespaces, introspecting which tables and
// constraints already exist, and executing the generated DDL.
type NamespaceManager struct {
	logger      *zap.Logger
	ddl         *codegen.DDLGenerator
	constraints *codegen.ConstraintGenerator
	// corePlugin is the platform's built-in plugin; its tables live in the
	// connection's default namespace rather than a derived one.
	corePlugin string
}

// NewNamespaceManager creates a NamespaceManager.
func NewNamespaceManager(logger *zap.Logger, corePlugin string) *NamespaceManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NamespaceManager{
		logger:      logger,
		ddl:         codegen.NewDDLGenerator(),
		constraints: codegen.NewConstraintGenerator(),
		corePlugin:  corePlugin,
	}
}

// ResolveNamespace maps a plugin identifier to the namespace its tables live
// in. The core plugin maps to the connection's active default namespace,
// reported via isDefault so callers never try to create it; all other plugins
// map deterministically to a name derived from their identifier.
func (m *NamespaceManager) ResolveNamespace(ctx context.Context, q Querier, pluginName string) (namespace string, isDefault bool, err error) {
	if pluginName == m.corePlugin {
		return m.defaultNamespace(ctx, q), true, nil
	}
	derived := DeriveNamespace(pluginName)
	if derived == "" {
		return "", false, fmt.Errorf("plugin name %q yields no usable namespace", pluginName)
	}
	return derived, false, nil
}

// defaultNamespace discovers the first schema on the connection's active
// search path, falling back to FallbackNamespace when the backing store does
// not support the introspection.
func (m *NamespaceManager) defaultNamespace(ctx context.Context, q Querier) string {
	var current string
	if err := q.QueryRowContext(ctx, `SELECT current_schema()`).Scan(&current); err != nil || current == "" {
		m.logger.Debug("search path introspection unsupported, using fallback",
			zap.String("fallback", FallbackNamespace))
		return FallbackNamespace
	}
	return current
}

// DeriveNamespace turns a plugin identifier into a namespace name: the
// scope/prefix is stripped, runs of non-alphanumeric characters collapse to a
// single underscore, and the result is lower-cased.
func DeriveNamespace(pluginName string) string {
	name := pluginName
	if strings.HasPrefix(name, "@") {
		if _, rest, found := strings.Cut(name, "/"); found {
			name = rest
		} else {
			name = strings.TrimPrefix(name, "@")
		}
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(name) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

// EnsureNamespace creates the namespace if absent. The default namespace is
// never created; it exists by definition.
func (m *NamespaceManager) EnsureNamespace(ctx context.Context, q Querier, name string) error {
	if name == FallbackNamespace {
		return nil
	}
	if _, err := q.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", codegen.QuoteIdentifier(name))); err != nil {
		return fmt.Errorf("create namespace %s: %w", name, err)
	}
	return nil
}

// ListExistingTables returns the names of tables already present in the
// namespace, so phase 1 can skip them.
func (m *NamespaceManager) ListExistingTables(ctx context.Context, q Querier, namespace string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = $1`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list tables in %s: %w", namespace, err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		existing[name] = true
	}
	return existing, rows.Err()
}

// constraintExists queries the constraint catalog for a named constraint of
// the given type on a table.
func (m *NamespaceManager) constraintExists(ctx context.Context, q Querier, namespace, table, constraintName, constraintType string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM information_schema.table_constraints
			WHERE table_schema = $1 AND table_name = $2
			  AND constraint_name = $3 AND constraint_type = $4
		)`, namespace, table, constraintName, constraintType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check constraint %s on %s.%s: %w", constraintName, namespace, table, err)
	}
	return exists, nil
}

// ForeignKeyExists reports whether the named foreign key already exists.
func (m *NamespaceManager) ForeignKeyExists(ctx context.Context, q Querier, namespace, table, name string) (bool, error) {
	return m.constraintExists(ctx, q, namespace, table, name, "FOREIGN KEY")
}

// CheckConstraintExists reports whether the named check constraint already
// exists.
func (m *NamespaceManager) CheckConstraintExists(ctx context.Context, q Querier, namespace, table, name string) (bool, error) {
	return m.constraintExists(ctx, q, namespace, table, name, "CHECK")
}

// UniqueConstraintExists reports whether the named unique constraint already
// exists.
func (m *NamespaceManager) UniqueConstraintExists(ctx context.Context, q Querier, namespace, table, name string) (bool, error) {
	return m.constraintExists(ctx, q, namespace, table, name, "UNIQUE")
}

// CreateTable executes the generated CREATE TABLE statement and the table's
// index statements. Errors are fatal for the migration attempt: a missing
// table breaks everything downstream.
func (m *NamespaceManager) CreateTable(ctx context.Context, q Querier, def *schema.TableDefinition, namespace string) error {
	stmt, err := m.ddl.CreateTable(def, namespace)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s.%s: %w", namespace, def.Name, err)
	}
	for _, idx := range m.ddl.CreateIndexes(def, namespace) {
		if _, err := q.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("create index on %s.%s: %w", namespace, def.Name, err)
		}
	}
	m.logger.Info("table created",
		zap.String("namespace", namespace),
		zap.String("table", def.Name))
	return nil
}

// AddConstraints adds the table's foreign keys and check constraints,
// skipping any that the constraint catalog already reports. Constraints are
// independent: an already-exists failure is benign, and any other failure is
// logged without aborting the remainder of the batch. Each lookup and
// statement runs inside a savepoint so a failure cannot leave the caller's
// transaction aborted. Returns the number of constraints actually added.
func (m *NamespaceManager) AddConstraints(ctx context.Context, q Querier, def *schema.TableDefinition, namespace string) int {
	added := 0
	for _, c := range m.constraints.TableConstraints(def, namespace) {
		var exists bool
		err := WithSavepoint(ctx, q, func() error {
			var lookupErr error
			switch c.Kind {
			case codegen.KindForeignKey:
				exists, lookupErr = m.ForeignKeyExists(ctx, q, namespace, def.Name, c.Name)
			case codegen.KindCheck:
				exists, lookupErr = m.CheckConstraintExists(ctx, q, namespace, def.Name, c.Name)
			}
			return lookupErr
		})
		if err != nil {
			m.logger.Warn("constraint catalog lookup failed, attempting creation anyway",
				zap.String("constraint", c.Name),
				zap.Error(err))
		}
		if exists {
			m.logger.Debug("constraint already present, skipping",
				zap.String("table", def.Name),
				zap.String("constraint", c.Name))
			continue
		}

		err = WithSavepoint(ctx, q, func() error {
			_, execErr := q.ExecContext(ctx, c.SQL)
			return execErr
		})
		if err != nil {
			if IsDuplicateObject(err) {
				m.logger.Debug("constraint already present, skipping",
					zap.String("table", def.Name),
					zap.String("constraint", c.Name))
				continue
			}
			m.logger.Warn("constraint creation failed, continuing with remaining constraints",
				zap.String("table", def.Name),
				zap.String("constraint", c.Name),
				zap.Error(err))
			continue
		}
		added++
		m.logger.Debug("constraint added",
			zap.String("table", def.Name),
			zap.String("constraint", c.Name))
	}
	return added
}
