// Package migrate implements the schema migration engine for plugin table
// declarations: discovery and introspection of table descriptors, dependency
// ordering, two-phase DDL execution, and tracking of applied migrations.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/loomhq/loom/internal/migrate/codegen"
	"github.com/loomhq/loom/internal/migrate/schema"
	"github.com/loomhq/loom/internal/migrate/store"
)

// lockKeyPrefix namespaces migration lock keys away from any other locks
// sharing the coordination backend.
const lockKeyPrefix = "loom:migrate:"

// Options configures a Coordinator.
type Options struct {
	// Extensions lists database extensions to ensure before migrating.
	// Defaults to store.DefaultExtensions when empty.
	Extensions []string

	// CompositePrimaryKeys overrides per-table primary keys for tables whose
	// descriptors cannot express them, keyed by table name.
	CompositePrimaryKeys map[string][]string

	// CorePlugin names the platform's built-in plugin, whose tables live in
	// the connection's default namespace.
	CorePlugin string

	// StrictDependencies makes dependency cycles fatal instead of deferring
	// the affected ordering to the constraint phase.
	StrictDependencies bool
}

// Result summarizes what a migration run did.
type Result struct {
	Plugin           string
	Namespace        string
	TablesCreated    int
	ColumnsChanged   int
	ConstraintsAdded int
}

// Changed reports whether the run applied any DDL.
func (r *Result) Changed() bool {
	return r.TablesCreated > 0 || r.ColumnsChanged > 0 || r.ConstraintsAdded > 0
}

// Coordinator drives the full migration flow for one plugin at a time:
// acquire the plugin's lock, introspect its declared tables, order them by
// dependency, and apply the DDL in a single transaction with table creation
// and constraint addition as separate phases.
type Coordinator struct {
	db           *sql.DB
	locker       store.DistributedLock
	tracking     *store.TrackingStore
	namespaces   *store.NamespaceManager
	extensions   *store.ExtensionManager
	introspector *schema.Introspector
	resolver     *schema.Resolver
	ddl          *codegen.DDLGenerator
	logger       *zap.Logger
	opts         Options
}

// New creates a Coordinator.
func New(db *sql.DB, locker store.DistributedLock, logger *zap.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = store.DefaultExtensions
	}
	resolver := schema.NewResolver(logger)
	if opts.StrictDependencies {
		resolver = schema.NewStrictResolver(logger)
	}
	return &Coordinator{
		db:           db,
		locker:       locker,
		tracking:     store.NewTrackingStore(logger),
		namespaces:   store.NewNamespaceManager(logger, opts.CorePlugin),
		extensions:   store.NewExtensionManager(logger),
		introspector: schema.NewIntrospector(logger, opts.CompositePrimaryKeys),
		resolver:     resolver,
		ddl:          codegen.NewDDLGenerator(),
		logger:       logger,
		opts:         opts,
	}
}

// Migrate applies the plugin's declared schema to the database. The schema is
// a map of arbitrary descriptor values; entries that look like table
// descriptors are introspected and everything else is ignored. The run is
// idempotent: re-running with an unchanged schema applies nothing and leaves
// exactly one migration record.
func (c *Coordinator) Migrate(ctx context.Context, pluginName string, rawSchema map[string]any) (*Result, error) {
	release, err := c.locker.Acquire(ctx, lockKeyPrefix+pluginName)
	if err != nil {
		return nil, &MigrationError{Plugin: pluginName, Err: err}
	}
	defer release()

	res, err := c.migrateLocked(ctx, pluginName, rawSchema)
	if err != nil {
		return nil, &MigrationError{Plugin: pluginName, Err: err}
	}
	return res, nil
}

func (c *Coordinator) migrateLocked(ctx context.Context, pluginName string, rawSchema map[string]any) (*Result, error) {
	if err := c.checkConnectivity(ctx); err != nil {
		return nil, err
	}

	tables, err := c.introspectSchema(pluginName, rawSchema)
	if err != nil {
		return nil, err
	}

	order, err := c.resolver.Sort(tables)
	if err != nil {
		return nil, err
	}

	// Extensions and tracking infrastructure are prepared outside the
	// migration transaction: a rolled-back migration must not take the
	// bookkeeping tables down with it.
	c.extensions.InstallRequired(ctx, c.db, c.opts.Extensions)
	if err := c.tracking.EnsureReady(ctx, c.db); err != nil {
		return nil, err
	}

	snapshot, err := c.tracking.LatestSnapshot(ctx, c.db, pluginName)
	if err != nil {
		return nil, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	namespace, isDefault, err := c.namespaces.ResolveNamespace(ctx, tx, pluginName)
	if err != nil {
		return nil, err
	}
	// The default namespace exists by definition and is never created.
	if !isDefault {
		if err := c.namespaces.EnsureNamespace(ctx, tx, namespace); err != nil {
			return nil, err
		}
	}

	res := &Result{Plugin: pluginName, Namespace: namespace}

	existing, err := c.namespaces.ListExistingTables(ctx, tx, namespace)
	if err != nil {
		return nil, err
	}

	// Phase 1: tables in dependency order, without foreign keys. A failure
	// here aborts and rolls back the whole run.
	for _, name := range order {
		if existing[name] {
			c.logger.Debug("table already present, skipping creation",
				zap.String("namespace", namespace),
				zap.String("table", name))
			continue
		}
		if err := c.namespaces.CreateTable(ctx, tx, tables[name], namespace); err != nil {
			return nil, err
		}
		res.TablesCreated++
	}

	if snapshot != nil {
		changed, err := c.reconcileColumns(ctx, tx, namespace, snapshot, tables)
		if err != nil {
			return nil, err
		}
		res.ColumnsChanged = changed
	}

	// Phase 2: foreign keys and checks, best-effort per constraint. Every
	// referenced table exists by now regardless of declaration cycles.
	for _, name := range order {
		res.ConstraintsAdded += c.namespaces.AddConstraints(ctx, tx, tables[name], namespace)
	}

	// The journal records every run that reaches commit, changed or not. The
	// ledger row and snapshot move only on the first run or when DDL was
	// actually applied, so an unchanged re-run leaves them untouched.
	if err := c.tracking.AppendJournal(ctx, tx, store.JournalEntry{
		PluginName:       pluginName,
		TablesCreated:    res.TablesCreated,
		ConstraintsAdded: res.ConstraintsAdded,
	}); err != nil {
		return nil, err
	}
	if snapshot == nil || res.Changed() {
		if err := c.tracking.RecordMigration(ctx, tx, pluginName); err != nil {
			return nil, err
		}
		if err := c.tracking.SaveSnapshot(ctx, tx, pluginName, tables); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit migration transaction: %w", err)
	}

	c.logger.Info("migration complete",
		zap.String("plugin", pluginName),
		zap.String("namespace", namespace),
		zap.Int("tables_created", res.TablesCreated),
		zap.Int("columns_changed", res.ColumnsChanged),
		zap.Int("constraints_added", res.ConstraintsAdded))
	return res, nil
}

// checkConnectivity verifies the database is reachable before any DDL runs,
// so unreachable-database failures surface as ErrConnectivity rather than as
// a failed migration.
func (c *Coordinator) checkConnectivity(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	var one int
	if err := c.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	return nil
}

// introspectSchema walks the plugin's raw schema map in deterministic key
// order, parsing every entry that looks like a table descriptor.
func (c *Coordinator) introspectSchema(pluginName string, rawSchema map[string]any) (map[string]*schema.TableDefinition, error) {
	tables := make(map[string]*schema.TableDefinition)
	for _, key := range sortedKeys(rawSchema) {
		raw := rawSchema[key]
		if !schema.IsTableDescriptor(raw) {
			c.logger.Debug("schema entry is not a table descriptor, skipping",
				zap.String("plugin", pluginName),
				zap.String("key", key))
			continue
		}
		def, err := c.introspector.Parse(raw, key)
		if err != nil {
			return nil, fmt.Errorf("parse table descriptor %q: %w", key, err)
		}
		if prev, dup := tables[def.Name]; dup {
			c.logger.Warn("duplicate table name in schema, keeping first definition",
				zap.String("plugin", pluginName),
				zap.String("table", prev.Name),
				zap.String("key", key))
			continue
		}
		tables[def.Name] = def
	}
	if len(tables) == 0 {
		return nil, ErrNoTables
	}
	return tables, nil
}

// reconcileColumns applies column-level differences between the stored
// snapshot and the current declaration to tables that already existed.
// New-table changes are skipped; phase 1 created those.
func (c *Coordinator) reconcileColumns(ctx context.Context, q store.Querier, namespace string, snapshot, tables map[string]*schema.TableDefinition) (int, error) {
	applied := 0
	for _, change := range schema.Diff(snapshot, tables) {
		var stmt string
		switch change.Type {
		case schema.ChangeAddTable:
			continue
		case schema.ChangeAddColumn:
			stmt = c.ddl.AddColumn(namespace, change.Table, change.Column)
		case schema.ChangeDropColumn:
			stmt = c.ddl.DropColumn(namespace, change.Table, change.Column.Name)
		case schema.ChangeAlterColumnType:
			stmt = c.ddl.AlterColumnType(namespace, change.Table, change.Column)
		default:
			continue
		}
		err := store.WithSavepoint(ctx, q, func() error {
			_, execErr := q.ExecContext(ctx, stmt)
			return execErr
		})
		if err != nil {
			if store.IsDuplicateObject(err) {
				c.logger.Debug("column change already applied, skipping",
					zap.String("table", change.Table),
					zap.String("column", change.Column.Name))
				continue
			}
			return applied, fmt.Errorf("apply %s on %s.%s: %w", change.Type, namespace, change.Table, err)
		}
		applied++
		c.logger.Info("column change applied",
			zap.String("change", change.Type.String()),
			zap.String("table", change.Table),
			zap.String("column", change.Column.Name))
	}
	return applied, nil
}

// Status returns the plugin's migration record, or nil when no migration has
// ever been recorded for it.
func (c *Coordinator) Status(ctx context.Context, pluginName string) (*store.MigrationRecord, error) {
	if err := c.checkConnectivity(ctx); err != nil {
		return nil, &MigrationError{Plugin: pluginName, Err: err}
	}
	if err := c.tracking.EnsureReady(ctx, c.db); err != nil {
		return nil, &MigrationError{Plugin: pluginName, Err: err}
	}
	rec, err := c.tracking.Status(ctx, c.db, pluginName)
	if err != nil {
		return nil, &MigrationError{Plugin: pluginName, Err: err}
	}
	return rec, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Deterministic discovery order keeps duplicate-name resolution and log
	// output stable across runs.
	sort.Strings(keys)
	return keys
}
