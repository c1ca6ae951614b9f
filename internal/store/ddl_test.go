package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/testutil"
)

func TestTableSQL_Issue(t *testing.T) {
	g := testutil.MustGraph(t)

	ddl, err := tableSQL(g, g.Model("Issue"))
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "issue" (`+
		`"id" INTEGER PRIMARY KEY, `+
		`"title" TEXT NOT NULL, `+
		`"repo_id" INTEGER NOT NULL, `+
		`"author_id" INTEGER, `+
		`FOREIGN KEY ("repo_id") REFERENCES "repo"("id"), `+
		`FOREIGN KEY ("author_id") REFERENCES "owner"("id") ON DELETE SET NULL)`, ddl)
}

func TestTableSQL_UniqueColumns(t *testing.T) {
	g := testutil.MustGraph(t)

	ddl, err := tableSQL(g, g.Model("Org"))
	require.NoError(t, err)
	assert.Contains(t, ddl, `"slug" TEXT NOT NULL UNIQUE`)
	assert.Contains(t, ddl, `"extras_id" INTEGER NOT NULL UNIQUE`)
}

func TestColumnType_Boolean(t *testing.T) {
	g := testutil.MustGraph(t)

	ddl, err := tableSQL(g, g.Model("Repo"))
	require.NoError(t, err)
	assert.Contains(t, ddl, `"is_public" INTEGER NOT NULL`)
}
