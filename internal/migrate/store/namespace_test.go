package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/migrate/schema"
)

func TestDeriveNamespace(t *testing.T) {
	tests := []struct {
		plugin string
		want   string
	}{
		{"@loomhq/plugin-sql", "plugin_sql"},
		{"@loomhq/plugin-bootstrap", "plugin_bootstrap"},
		{"@scope", "scope"},
		{"My Cool Plugin!", "my_cool_plugin"},
		{"plugin.v2", "plugin_v2"},
		{"UPPER", "upper"},
		{"already_fine", "already_fine"},
		{"___", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveNamespace(tt.plugin), "plugin %q", tt.plugin)
	}
}

func TestResolveNamespace_CorePlugin(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT current_schema").
		WillReturnRows(sqlmock.NewRows([]string{"current_schema"}).AddRow("tenant_7"))

	m := NewNamespaceManager(nil, "core")
	ns, isDefault, err := m.ResolveNamespace(context.Background(), db, "core")
	require.NoError(t, err)
	assert.Equal(t, "tenant_7", ns)
	assert.True(t, isDefault)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveNamespace_CorePluginFallback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT current_schema").
		WillReturnError(&pgconn.PgError{Code: "42883"})

	m := NewNamespaceManager(nil, "core")
	ns, isDefault, err := m.ResolveNamespace(context.Background(), db, "core")
	require.NoError(t, err)
	assert.Equal(t, FallbackNamespace, ns)
	assert.True(t, isDefault)
}

func TestResolveNamespace_RegularPlugin(t *testing.T) {
	m := NewNamespaceManager(nil, "core")

	ns, isDefault, err := m.ResolveNamespace(context.Background(), nil, "@loomhq/plugin-sql")
	require.NoError(t, err)
	assert.Equal(t, "plugin_sql", ns)
	assert.False(t, isDefault)
}

func TestResolveNamespace_UnusablePluginName(t *testing.T) {
	m := NewNamespaceManager(nil, "core")

	_, _, err := m.ResolveNamespace(context.Background(), nil, "!!!")
	assert.Error(t, err)
}

func TestEnsureNamespace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "plugin_sql"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	m := NewNamespaceManager(nil, "core")
	require.NoError(t, m.EnsureNamespace(context.Background(), db, "plugin_sql"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureNamespace_PublicIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := NewNamespaceManager(nil, "core")
	require.NoError(t, m.EnsureNamespace(context.Background(), db, "public"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListExistingTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WithArgs("plugin_sql").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).
			AddRow("users").
			AddRow("posts"))

	m := NewNamespaceManager(nil, "core")
	existing, err := m.ListExistingTables(context.Background(), db, "plugin_sql")
	require.NoError(t, err)
	assert.True(t, existing["users"])
	assert.True(t, existing["posts"])
	assert.False(t, existing["comments"])
}

func TestForeignKeyExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("information_schema.table_constraints").
		WithArgs("plugin_sql", "posts", "posts_user_id_fkey", "FOREIGN KEY").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	m := NewNamespaceManager(nil, "core")
	exists, err := m.ForeignKeyExists(context.Background(), db, "plugin_sql", "posts", "posts_user_id_fkey")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	def := &schema.TableDefinition{
		Name: "users",
		Columns: []schema.ColumnDefinition{
			{Name: "id", Type: "uuid", PrimaryKey: true, NotNull: true},
		},
		Indexes: []schema.IndexDefinition{
			{Name: "idx_users_id", Columns: []string{"id"}},
		},
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "plugin_sql"."users"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS "idx_users_id"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	m := NewNamespaceManager(nil, "core")
	require.NoError(t, m.CreateTable(context.Background(), db, def, "plugin_sql"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTable_FailureIsFatal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	def := &schema.TableDefinition{
		Name:    "users",
		Columns: []schema.ColumnDefinition{{Name: "id", Type: "uuid"}},
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).
		WillReturnError(&pgconn.PgError{Code: "42501", Message: "permission denied"})

	m := NewNamespaceManager(nil, "core")
	err = m.CreateTable(context.Background(), db, def, "plugin_sql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "users")
}

func TestAddConstraints(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	def := &schema.TableDefinition{
		Name: "posts",
		ForeignKeys: []schema.ForeignKeyDefinition{
			{Name: "posts_user_id_fkey", Columns: []string{"user_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}},
			{Name: "posts_topic_id_fkey", Columns: []string{"topic_id"}, ReferencedTable: "topics", ReferencedColumns: []string{"id"}},
			{Name: "posts_broken_fkey", Columns: []string{"x"}, ReferencedTable: "missing", ReferencedColumns: []string{"id"}},
		},
	}

	// First key is new and gets added.
	mock.ExpectExec("^SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("information_schema.table_constraints").
		WithArgs("blog", "posts", "posts_user_id_fkey", "FOREIGN KEY").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("^RELEASE SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("^SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ADD CONSTRAINT "posts_user_id_fkey"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("^RELEASE SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))

	// Second key already exists and is skipped.
	mock.ExpectExec("^SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("information_schema.table_constraints").
		WithArgs("blog", "posts", "posts_topic_id_fkey", "FOREIGN KEY").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("^RELEASE SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))

	// Third key fails; its savepoint is rolled back and the batch continues.
	mock.ExpectExec("^SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("information_schema.table_constraints").
		WithArgs("blog", "posts", "posts_broken_fkey", "FOREIGN KEY").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("^RELEASE SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("^SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ADD CONSTRAINT "posts_broken_fkey"`).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "missing" does not exist`})
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))

	m := NewNamespaceManager(nil, "core")
	added := m.AddConstraints(context.Background(), db, def, "blog")
	assert.Equal(t, 1, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddConstraints_DuplicateRaceIsBenign(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	def := &schema.TableDefinition{
		Name: "posts",
		ForeignKeys: []schema.ForeignKeyDefinition{
			{Name: "posts_user_id_fkey", Columns: []string{"user_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}},
		},
	}

	// Catalog says absent, but creation collides anyway.
	mock.ExpectExec("^SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("information_schema.table_constraints").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("^RELEASE SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("^SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ADD CONSTRAINT "posts_user_id_fkey"`).
		WillReturnError(&pgconn.PgError{Code: "42710"})
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))

	m := NewNamespaceManager(nil, "core")
	added := m.AddConstraints(context.Background(), db, def, "blog")
	assert.Equal(t, 0, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddConstraints_FailureDoesNotAbortTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	def := &schema.TableDefinition{
		Name: "posts",
		ForeignKeys: []schema.ForeignKeyDefinition{
			{Name: "posts_broken_fkey", Columns: []string{"x"}, ReferencedTable: "missing", ReferencedColumns: []string{"id"}},
			{Name: "posts_user_id_fkey", Columns: []string{"user_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}},
		},
	}

	mock.ExpectBegin()

	// First key fails mid-transaction and is rolled back to its savepoint.
	mock.ExpectExec("^SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("information_schema.table_constraints").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("^RELEASE SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("^SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ADD CONSTRAINT "posts_broken_fkey"`).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "missing" does not exist`})
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))

	// The restored transaction still accepts the second key and commits.
	mock.ExpectExec("^SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("information_schema.table_constraints").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("^RELEASE SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("^SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ADD CONSTRAINT "posts_user_id_fkey"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("^RELEASE SAVEPOINT loom_ddl$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)

	m := NewNamespaceManager(nil, "core")
	added := m.AddConstraints(context.Background(), tx, def, "blog")
	assert.Equal(t, 1, added)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}
