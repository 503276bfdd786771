package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/migrate/schema"
)

func TestForeignKeys(t *testing.T) {
	g := NewConstraintGenerator()

	def := &schema.TableDefinition{
		Name: "posts",
		ForeignKeys: []schema.ForeignKeyDefinition{
			{
				Name:              "posts_user_id_fkey",
				Columns:           []string{"user_id"},
				ReferencedTable:   "users",
				ReferencedColumns: []string{"id"},
				OnDelete:          schema.ActionCascade,
			},
			{
				Name:              "posts_topic_fkey",
				Columns:           []string{"topic_a", "topic_b"},
				ReferencedTable:   "topics",
				ReferencedColumns: []string{"a", "b"},
			},
		},
	}

	stmts := g.ForeignKeys(def, "blog")
	require.Len(t, stmts, 2)

	assert.Equal(t, "posts_user_id_fkey", stmts[0].Name)
	assert.Equal(t, KindForeignKey, stmts[0].Kind)
	assert.Equal(t,
		`ALTER TABLE "blog"."posts" ADD CONSTRAINT "posts_user_id_fkey" FOREIGN KEY ("user_id") REFERENCES "blog"."users" ("id") ON DELETE CASCADE;`,
		stmts[0].SQL)

	// Unset actions render as NO ACTION.
	assert.Equal(t,
		`ALTER TABLE "blog"."posts" ADD CONSTRAINT "posts_topic_fkey" FOREIGN KEY ("topic_a", "topic_b") REFERENCES "blog"."topics" ("a", "b") ON DELETE NO ACTION;`,
		stmts[1].SQL)
}

func TestCheckConstraints(t *testing.T) {
	g := NewConstraintGenerator()

	def := &schema.TableDefinition{
		Name: "events",
		CheckConstraints: []schema.CheckConstraint{
			{Name: "priority_positive", Expression: "priority > 0"},
		},
	}

	stmts := g.CheckConstraints(def, "app")
	require.Len(t, stmts, 1)
	assert.Equal(t, KindCheck, stmts[0].Kind)
	assert.Equal(t,
		`ALTER TABLE "app"."events" ADD CONSTRAINT "priority_positive" CHECK (priority > 0);`,
		stmts[0].SQL)
}

func TestTableConstraints_ForeignKeysFirst(t *testing.T) {
	g := NewConstraintGenerator()

	def := &schema.TableDefinition{
		Name: "posts",
		ForeignKeys: []schema.ForeignKeyDefinition{
			{Name: "posts_user_id_fkey", Columns: []string{"user_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}},
		},
		CheckConstraints: []schema.CheckConstraint{
			{Name: "title_nonempty", Expression: "length(title) > 0"},
		},
	}

	stmts := g.TableConstraints(def, "blog")
	require.Len(t, stmts, 2)
	assert.Equal(t, KindForeignKey, stmts[0].Kind)
	assert.Equal(t, KindCheck, stmts[1].Kind)
}

func TestTableConstraints_None(t *testing.T) {
	g := NewConstraintGenerator()
	assert.Empty(t, g.TableConstraints(&schema.TableDefinition{Name: "plain"}, "app"))
}
