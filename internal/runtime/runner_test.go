package runtime_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/querytree"
	"github.com/lattice-dev/lattice/internal/runtime"
	"github.com/lattice-dev/lattice/internal/store"
	"github.com/lattice-dev/lattice/internal/testutil"
)

func openFixture(t *testing.T) (*graph.Graph, *store.Store) {
	t.Helper()
	g := testutil.MustGraph(t)
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.EnsureSchema(context.Background(), g))
	return g, st
}

// seeded holds the ids of the standard fixture dataset:
//
//	acme:     repos api (public) and infra (private); owners alice, bob;
//	          issues "bug" (author alice) and "crash" (no author) on api
//	globex:   repo site (public)
//	initech:  empty
//	umbrella: empty
type seeded struct {
	orgs   map[string]int64
	repos  map[string]int64
	owners map[string]int64
}

func seedBasic(t *testing.T, g *graph.Graph, st *store.Store) seeded {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)

	extra := g.Model("Extra")
	org := g.Model("Org")
	repo := g.Model("Repo")
	owner := g.Model("Owner")
	issue := g.Model("Issue")

	s := seeded{
		orgs:   make(map[string]int64),
		repos:  make(map[string]int64),
		owners: make(map[string]int64),
	}
	for _, slug := range []string{"acme", "globex", "initech", "umbrella"} {
		eid, err := tx.Insert(ctx, extra, nil)
		require.NoError(t, err)
		oid, err := tx.Insert(ctx, org, map[string]any{
			"slug": slug, "name": title(slug), "extras_id": eid,
		})
		require.NoError(t, err)
		s.orgs[slug] = oid
	}
	for _, r := range []struct {
		name   string
		org    string
		public bool
	}{
		{"api", "acme", true},
		{"infra", "acme", false},
		{"site", "globex", true},
	} {
		id, err := tx.Insert(ctx, repo, map[string]any{
			"name": r.name, "is_public": r.public, "org_id": s.orgs[r.org],
		})
		require.NoError(t, err)
		s.repos[r.name] = id
	}
	for _, o := range []string{"alice", "bob"} {
		id, err := tx.Insert(ctx, owner, map[string]any{
			"nick": o, "name": title(o), "org_id": s.orgs["acme"],
		})
		require.NoError(t, err)
		s.owners[o] = id
	}
	_, err = tx.Insert(ctx, issue, map[string]any{
		"title": "bug", "repo_id": s.repos["api"], "author_id": s.owners["alice"],
	})
	require.NoError(t, err)
	_, err = tx.Insert(ctx, issue, map[string]any{
		"title": "crash", "repo_id": s.repos["api"], "author_id": nil,
	})
	require.NoError(t, err)

	require.NoError(t, tx.Commit())
	return s
}

func title(s string) string {
	return string(s[0]-'a'+'A') + s[1:]
}

func sel(name string) defs.SelectItem {
	return &defs.SelectExpr{Alias: name, Expr: &defs.PathExpr{Path: []string{name}}}
}

func mustCompile(t *testing.T, g *graph.Graph, steps []querytree.TargetStep, spec querytree.Spec) *querytree.Node {
	t.Helper()
	node, err := querytree.Compile(g, steps, spec)
	require.NoError(t, err)
	return node
}

func TestRunner_StitchesManyChildren(t *testing.T) {
	g, st := openFixture(t)
	seedBasic(t, g, st)

	node := mustCompile(t, g, []querytree.TargetStep{{Model: "Org"}}, querytree.Spec{
		Select: []defs.SelectItem{
			sel("slug"),
			sel("summary"),
			&defs.SelectNested{Alias: "repos", Target: "repos", Select: []defs.SelectItem{sel("name")}},
		},
	})
	r := runtime.NewRunner(g, st, runtime.NewVars(), nil)
	rows, err := r.Rows(context.Background(), node)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	bySlug := make(map[string]map[string]any)
	for _, row := range rows {
		bySlug[row["slug"].(string)] = row
	}
	assert.Equal(t, "Acme (acme)", bySlug["acme"]["summary"])
	assert.Len(t, bySlug["acme"]["repos"], 2)
	assert.Len(t, bySlug["globex"]["repos"], 1)

	// Childless parents still carry an empty set, never nil.
	assert.Equal(t, []any{}, bySlug["initech"]["repos"])
	assert.Equal(t, []any{}, bySlug["umbrella"]["repos"])
}

func TestRunner_QueryHopFiltersChildren(t *testing.T) {
	g, st := openFixture(t)
	seedBasic(t, g, st)

	node := mustCompile(t, g, []querytree.TargetStep{{Model: "Org"}}, querytree.Spec{
		Select: []defs.SelectItem{
			sel("slug"),
			&defs.SelectNested{Alias: "publicRepos", Target: "publicRepos", Select: []defs.SelectItem{sel("name")}},
		},
		Filter: &defs.BinaryExpr{
			Op:    defs.OpIs,
			Left:  &defs.PathExpr{Path: []string{"slug"}},
			Right: &defs.LiteralExpr{Type: defs.TypeText, Value: "acme"},
		},
	})
	r := runtime.NewRunner(g, st, runtime.NewVars(), nil)
	rows, err := r.Rows(context.Background(), node)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	repos, ok := rows[0]["publicRepos"].([]any)
	require.True(t, ok)
	require.Len(t, repos, 1)
	assert.Equal(t, "api", repos[0].(map[string]any)["name"])
}

func TestRunner_QueryHopRootedAtReference(t *testing.T) {
	g, st := openFixture(t)
	seedBasic(t, g, st)

	// orgOwners hops Repo -> org (reference) -> owners (relation), so the
	// child batch is keyed on org_id, not the repo primary key.
	node := mustCompile(t, g, []querytree.TargetStep{{Model: "Repo"}}, querytree.Spec{
		Select: []defs.SelectItem{
			sel("name"),
			&defs.SelectNested{Alias: "orgOwners", Target: "orgOwners", Select: []defs.SelectItem{sel("nick")}},
		},
	})
	r := runtime.NewRunner(g, st, runtime.NewVars(), nil)
	rows, err := r.Rows(context.Background(), node)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byName := make(map[string]map[string]any)
	for _, row := range rows {
		byName[row["name"].(string)] = row
	}
	nicks := func(row map[string]any) []string {
		var out []string
		for _, el := range row["orgOwners"].([]any) {
			out = append(out, el.(map[string]any)["nick"].(string))
		}
		return out
	}
	// Both acme repos share the org's owners; globex has none.
	assert.ElementsMatch(t, []string{"alice", "bob"}, nicks(byName["api"]))
	assert.ElementsMatch(t, []string{"alice", "bob"}, nicks(byName["infra"]))
	assert.Equal(t, []any{}, byName["site"]["orgOwners"])

	// The org_id batch key never leaks into the response.
	runtime.StripHidden(node, rows)
	_, leaked := byName["api"]["org_id"]
	assert.False(t, leaked)
}

func TestRunner_NullableSingleChild(t *testing.T) {
	g, st := openFixture(t)
	seedBasic(t, g, st)

	node := mustCompile(t, g, []querytree.TargetStep{{Model: "Issue"}}, querytree.Spec{
		Select: []defs.SelectItem{
			sel("title"),
			&defs.SelectNested{Alias: "author", Target: "author", Select: []defs.SelectItem{sel("nick")}},
		},
	})
	r := runtime.NewRunner(g, st, runtime.NewVars(), nil)
	rows, err := r.Rows(context.Background(), node)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byTitle := make(map[string]map[string]any)
	for _, row := range rows {
		byTitle[row["title"].(string)] = row
	}
	require.NotNil(t, byTitle["bug"]["author"])
	assert.Equal(t, "alice", byTitle["bug"]["author"].(map[string]any)["nick"])
	assert.Nil(t, byTitle["crash"]["author"])
}

func TestRunner_CountIgnoresPagination(t *testing.T) {
	g, st := openFixture(t)
	seedBasic(t, g, st)

	limit := int64(1)
	node := mustCompile(t, g, []querytree.TargetStep{{Model: "Org"}}, querytree.Spec{
		Select: []defs.SelectItem{sel("slug")},
		Limit:  &limit,
	})
	r := runtime.NewRunner(g, st, runtime.NewVars(), nil)

	rows, err := r.Rows(context.Background(), node)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	total, err := r.Count(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}

func TestRunner_BoundParameter(t *testing.T) {
	g, st := openFixture(t)
	seedBasic(t, g, st)

	vars := runtime.NewVars()
	require.NoError(t, vars.Bind("@input", map[string]any{"slug": "globex"}))

	node := mustCompile(t, g, []querytree.TargetStep{{Model: "Org"}}, querytree.Spec{
		Select: []defs.SelectItem{sel("slug"), sel("repoCount")},
		Filter: &defs.BinaryExpr{
			Op:    defs.OpIs,
			Left:  &defs.PathExpr{Path: []string{"slug"}},
			Right: &defs.PathExpr{Path: []string{"@input", "slug"}},
		},
	})
	r := runtime.NewRunner(g, st, vars, nil)
	row, err := r.One(context.Background(), node)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "globex", row["slug"])
	assert.Equal(t, int64(1), row["repoCount"])
}

func TestStripHidden_RemovesImplicitKeys(t *testing.T) {
	g, st := openFixture(t)
	seedBasic(t, g, st)

	node := mustCompile(t, g, []querytree.TargetStep{{Model: "Org"}}, querytree.Spec{
		Select: []defs.SelectItem{
			sel("slug"),
			&defs.SelectNested{Alias: "repos", Target: "repos", Select: []defs.SelectItem{sel("name")}},
		},
	})
	r := runtime.NewRunner(g, st, runtime.NewVars(), nil)
	rows, err := r.Rows(context.Background(), node)
	require.NoError(t, err)

	// Primary keys ride along for stitching until stripped.
	require.Contains(t, rows[0], "id")

	runtime.StripHidden(node, rows)
	for _, row := range rows {
		assert.NotContains(t, row, "id")
		for _, child := range row["repos"].([]any) {
			assert.NotContains(t, child.(map[string]any), "id")
		}
	}
}
