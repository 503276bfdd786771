package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomhq/loom/internal/migrate/schema"
)

// TrackingNamespace holds the engine's own bookkeeping tables, kept apart
// from every plugin namespace.
const TrackingNamespace = "loom_migrations"

// MigrationRecord is one row of the per-plugin migration ledger.
type MigrationRecord struct {
	PluginName string
	AppliedAt  time.Time
}

// JournalEntry records what a single migration run actually did.
type JournalEntry struct {
	ID               uuid.UUID
	PluginName       string
	TablesCreated    int
	ConstraintsAdded int
	CreatedAt        time.Time
}

// TrackingStore reads and writes the engine's bookkeeping: the migration
// ledger, the run journal, and the per-plugin schema snapshot used for
// diffing subsequent runs.
type TrackingStore struct {
	logger *zap.Logger
}

// NewTrackingStore creates a TrackingStore.
func NewTrackingStore(logger *zap.Logger) *TrackingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackingStore{logger: logger}
}

// EnsureReady creates the tracking namespace and its tables if absent. Runs
// outside the migration transaction so a failed migration never rolls back
// the bookkeeping infrastructure itself.
func (s *TrackingStore) EnsureReady(ctx context.Context, q Querier) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, TrackingNamespace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.migrations (
			plugin_name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, TrackingNamespace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.journal (
			id UUID PRIMARY KEY,
			plugin_name TEXT NOT NULL,
			tables_created INTEGER NOT NULL DEFAULT 0,
			constraints_added INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, TrackingNamespace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.snapshots (
			plugin_name TEXT PRIMARY KEY,
			tables JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, TrackingNamespace),
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("prepare tracking tables: %w", ClassifyDDLError(err))
		}
	}
	return nil
}

// HasRun reports whether a migration has ever been recorded for the plugin.
func (s *TrackingStore) HasRun(ctx context.Context, q Querier, pluginName string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s.migrations WHERE plugin_name = $1)`, TrackingNamespace),
		pluginName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query migration ledger for %s: %w", pluginName, err)
	}
	return exists, nil
}

// Status returns the plugin's migration record, or nil when it has never run.
func (s *TrackingStore) Status(ctx context.Context, q Querier, pluginName string) (*MigrationRecord, error) {
	var rec MigrationRecord
	err := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT plugin_name, applied_at FROM %s.migrations WHERE plugin_name = $1`, TrackingNamespace),
		pluginName).Scan(&rec.PluginName, &rec.AppliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query migration record for %s: %w", pluginName, err)
	}
	return &rec, nil
}

// RecordMigration upserts the plugin's ledger row, refreshing applied_at on
// re-runs that applied changes.
func (s *TrackingStore) RecordMigration(ctx context.Context, q Querier, pluginName string) error {
	_, err := q.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s.migrations (plugin_name, applied_at) VALUES ($1, now())
			ON CONFLICT (plugin_name) DO UPDATE SET applied_at = now()`, TrackingNamespace),
		pluginName)
	if err != nil {
		return fmt.Errorf("record migration for %s: %w", pluginName, err)
	}
	return nil
}

// AppendJournal adds a run entry describing what was created.
func (s *TrackingStore) AppendJournal(ctx context.Context, q Querier, entry JournalEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := q.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s.journal (id, plugin_name, tables_created, constraints_added)
			VALUES ($1, $2, $3, $4)`, TrackingNamespace),
		entry.ID, entry.PluginName, entry.TablesCreated, entry.ConstraintsAdded)
	if err != nil {
		return fmt.Errorf("append journal for %s: %w", entry.PluginName, err)
	}
	return nil
}

// LatestSnapshot loads the plugin's stored table definitions. Returns nil
// without error when no snapshot exists yet.
func (s *TrackingStore) LatestSnapshot(ctx context.Context, q Querier, pluginName string) (map[string]*schema.TableDefinition, error) {
	var raw []byte
	err := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT tables FROM %s.snapshots WHERE plugin_name = $1`, TrackingNamespace),
		pluginName).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", pluginName, err)
	}
	tables, err := schema.DecodeSnapshot(raw)
	if err != nil {
		// A corrupt snapshot is treated as absent; the next run rewrites it.
		s.logger.Warn("stored snapshot undecodable, treating as absent",
			zap.String("plugin", pluginName),
			zap.Error(err))
		return nil, nil
	}
	return tables, nil
}

// SaveSnapshot upserts the plugin's current table definitions.
func (s *TrackingStore) SaveSnapshot(ctx context.Context, q Querier, pluginName string, tables map[string]*schema.TableDefinition) error {
	raw, err := schema.EncodeSnapshot(tables)
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", pluginName, err)
	}
	_, err = q.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s.snapshots (plugin_name, tables, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (plugin_name) DO UPDATE SET tables = EXCLUDED.tables, updated_at = now()`, TrackingNamespace),
		pluginName, raw)
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", pluginName, err)
	}
	return nil
}
