package querytree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/testutil"
)

func nested(alias, target string, items ...defs.SelectItem) defs.SelectItem {
	return &defs.SelectNested{Alias: alias, Target: target, Select: items}
}

func field(name string) defs.SelectItem {
	return &defs.SelectExpr{Alias: name, Expr: &defs.PathExpr{Path: []string{name}}}
}

func TestCompile_JoinTypeRule(t *testing.T) {
	g := testutil.MustGraph(t)

	// Repo.org: non-nullable single-valued reference -> INNER.
	// Issue.author: nullable reference -> LEFT, nullable-one.
	// Org.repos: relation -> LEFT, many.
	// Extra.org: unique relation -> LEFT, nullable-one.
	tests := []struct {
		model  string
		target string
		join   JoinKind
		card   Cardinality
	}{
		{"Repo", "org", JoinInner, CardOne},
		{"Issue", "author", JoinLeft, CardNullableOne},
		{"Org", "repos", JoinLeft, CardMany},
		{"Extra", "org", JoinLeft, CardNullableOne},
		{"Org", "extras", JoinInner, CardOne},
	}
	for _, tc := range tests {
		t.Run(tc.model+"."+tc.target, func(t *testing.T) {
			node, err := Compile(g, []TargetStep{{Model: tc.model}}, Spec{
				Select: []defs.SelectItem{
					field("id"),
					nested(tc.target, tc.target, field("id")),
				},
			})
			require.NoError(t, err)
			require.Len(t, node.Children, 1)
			child := node.Children[0]
			assert.Equal(t, tc.join, child.Join)
			assert.Equal(t, tc.card, child.Card)
		})
	}
}

func TestCompile_DefaultSelectTakesAllFields(t *testing.T) {
	g := testutil.MustGraph(t)

	node, err := Compile(g, []TargetStep{{Model: "Org"}}, Spec{})
	require.NoError(t, err)

	names := make([]string, 0, len(node.Fields))
	for _, f := range node.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"id", "slug", "name", "extras_id"}, names)
	assert.Empty(t, node.Children)
}

func TestCompile_TargetChainBecomesAncestors(t *testing.T) {
	g := testutil.MustGraph(t)

	slugFilter := &defs.BinaryExpr{
		Op:    defs.OpIs,
		Left:  &defs.PathExpr{Path: []string{"slug"}},
		Right: &defs.PathExpr{Path: []string{"@path", "0"}},
	}
	idFilter := &defs.BinaryExpr{
		Op:    defs.OpIs,
		Left:  &defs.PathExpr{Path: []string{"id"}},
		Right: &defs.PathExpr{Path: []string{"@path", "1"}},
	}

	node, err := Compile(g, []TargetStep{
		{Model: "Org", Alias: "org", Filter: slugFilter},
		{Through: "repos", Alias: "repo", Filter: idFilter},
	}, Spec{})
	require.NoError(t, err)

	assert.Equal(t, "Repo", node.Model.Name)
	require.Len(t, node.Ancestors, 1)
	assert.Equal(t, "Org", node.Ancestors[0].Model.Name)
	assert.Equal(t, "org", node.Ancestors[0].Alias)
	assert.NotNil(t, node.Ancestors[0].Filter)
	assert.Nil(t, node.Ancestors[0].Link)

	require.Len(t, node.Links, 1)
	assert.Equal(t, "id", node.Links[0].ParentCol)
	assert.Equal(t, "org_id", node.Links[0].ChildCol)
	assert.NotNil(t, node.Filter)
}

func TestCompile_QueryHopCarriesFilter(t *testing.T) {
	g := testutil.MustGraph(t)

	node, err := Compile(g, []TargetStep{{Model: "Org"}}, Spec{
		Select: []defs.SelectItem{
			nested("publicRepos", "publicRepos", field("id"), field("name")),
		},
	})
	require.NoError(t, err)

	require.Len(t, node.Children, 1)
	child := node.Children[0]
	assert.Equal(t, "Repo", child.Model.Name)
	assert.Equal(t, CardMany, child.Card)
	assert.Equal(t, JoinLeft, child.Join)
	// The query's filter lands on the child node, not on the link.
	assert.NotNil(t, child.Filter)
	require.Len(t, child.Links, 1)
	assert.Nil(t, child.Links[0].Filter)
}

func TestCompile_NamedAggregateBecomesSubquery(t *testing.T) {
	g := testutil.MustGraph(t)

	node, err := Compile(g, []TargetStep{{Model: "Org"}}, Spec{
		Select: []defs.SelectItem{
			field("id"),
			&defs.SelectExpr{Alias: "repoCount", Expr: &defs.PathExpr{Path: []string{"repoCount"}}},
		},
	})
	require.NoError(t, err)

	require.Len(t, node.Aggregates, 1)
	agg := node.Aggregates[0]
	assert.Equal(t, "repoCount", agg.Name)
	assert.Equal(t, defs.AggregateCount, agg.Func)
	require.Len(t, agg.Hops, 1)
	assert.Equal(t, "Repo", agg.Hops[0].Model.Name)
	assert.Equal(t, "id", agg.Hops[0].ParentCol)
	assert.Equal(t, "org_id", agg.Hops[0].ChildCol)
	// The aggregate is not a plain field.
	for _, f := range node.Fields {
		assert.NotEqual(t, "repoCount", f.Name)
	}
}

func TestCompile_InlineAggregateExpr(t *testing.T) {
	g := testutil.MustGraph(t)

	node, err := Compile(g, []TargetStep{{Model: "Org"}}, Spec{
		Select: []defs.SelectItem{
			&defs.SelectExpr{Alias: "n", Expr: &defs.AggregateExpr{
				Func: defs.AggregateCount, Path: []string{"repos", "issues"},
			}},
		},
	})
	require.NoError(t, err)
	require.Len(t, node.Aggregates, 1)
	assert.Len(t, node.Aggregates[0].Hops, 2)
}

func TestCompile_AuthorizePushedToOwningNode(t *testing.T) {
	g := testutil.MustGraph(t)

	// authorize: org.name is "acme" and is_public is true
	authorize := &defs.BinaryExpr{
		Op: defs.OpAnd,
		Left: &defs.BinaryExpr{
			Op:    defs.OpIs,
			Left:  &defs.PathExpr{Path: []string{"org", "name"}},
			Right: &defs.LiteralExpr{Type: defs.TypeText, Value: "acme"},
		},
		Right: &defs.BinaryExpr{
			Op:    defs.OpIs,
			Left:  &defs.PathExpr{Path: []string{"is_public"}},
			Right: &defs.LiteralExpr{Type: defs.TypeBoolean, Value: true},
		},
	}

	node, err := Compile(g, []TargetStep{
		{Model: "Org", Alias: "org"},
		{Through: "repos", Alias: "repo"},
	}, Spec{Authorize: authorize})
	require.NoError(t, err)

	// The org conjunct lives on the ancestor, stripped of its alias root.
	require.Len(t, node.Ancestors, 1)
	anc := node.Ancestors[0]
	require.NotNil(t, anc.Filter)
	ancBin, ok := anc.Filter.(*defs.BinaryExpr)
	require.True(t, ok)
	ancPath, ok := ancBin.Left.(*defs.PathExpr)
	require.True(t, ok)
	assert.Equal(t, []string{"name"}, ancPath.Path)

	// The repo conjunct lives on the result node.
	require.NotNil(t, node.Filter)
}

func TestCompile_UnresolvablePathFailsAtCompileTime(t *testing.T) {
	g := testutil.MustGraph(t)

	_, err := Compile(g, []TargetStep{{Model: "Org"}}, Spec{
		Select: []defs.SelectItem{nested("bogus", "bogus")},
	})
	var perr *PathResolutionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "Org", perr.Model)
	assert.Equal(t, "bogus", perr.Segment)

	_, err = Compile(g, []TargetStep{
		{Model: "Org"},
		{Through: "nope"},
	}, Spec{})
	require.ErrorAs(t, err, &perr)

	_, err = Compile(g, []TargetStep{{Model: "Nope"}}, Spec{})
	require.ErrorAs(t, err, &perr)
}

func TestCompile_SelectHasNoEnvironmentFallback(t *testing.T) {
	g := testutil.MustGraph(t)

	// An unknown member in a select projection fails compilation; only
	// filter and authorize contexts may reach into the environment.
	_, err := Compile(g, []TargetStep{{Model: "Org"}}, Spec{
		Select: []defs.SelectItem{field("slug"), field("nickname")},
	})
	var perr *PathResolutionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "Org", perr.Model)
	assert.Equal(t, "nickname", perr.Segment)

	// The same root inside a filter compiles as an environment binding.
	_, err = Compile(g, []TargetStep{{Model: "Org"}}, Spec{
		Select: []defs.SelectItem{field("slug")},
		Filter: &defs.BinaryExpr{
			Op:    defs.OpIs,
			Left:  &defs.PathExpr{Path: []string{"slug"}},
			Right: &defs.PathExpr{Path: []string{"@input", "slug"}},
		},
	})
	require.NoError(t, err)
}

func TestCompile_PaginationOnlyOnRoot(t *testing.T) {
	g := testutil.MustGraph(t)

	limit, offset := int64(10), int64(20)
	node, err := Compile(g, []TargetStep{{Model: "Org"}}, Spec{
		Select: []defs.SelectItem{
			field("id"),
			nested("repos", "repos", field("id")),
		},
		Limit:  &limit,
		Offset: &offset,
	})
	require.NoError(t, err)

	require.NotNil(t, node.Limit)
	assert.Equal(t, int64(10), *node.Limit)
	require.Len(t, node.Children, 1)
	assert.Nil(t, node.Children[0].Limit)
	assert.Nil(t, node.Children[0].Offset)
}

func TestCompile_HookSelectMarkedPostFetch(t *testing.T) {
	models := testutil.Models()
	for _, m := range models {
		if m.Name == "Org" {
			m.Hooks = append(m.Hooks, &defs.ModelHookDef{
				Name: "externalScore",
				Hook: defs.HookDef{Code: "score"},
			})
		}
	}
	g, err := graph.Resolve(models)
	require.NoError(t, err)

	org := g.Model("Org")
	node, err := Compile(g, []TargetStep{{Model: "Org"}}, Spec{
		Select: []defs.SelectItem{
			field("id"),
			&defs.SelectHook{Alias: "score", Hook: org.Hook("externalScore")},
		},
	})
	require.NoError(t, err)
	require.Len(t, node.Hooks, 1)
	assert.Equal(t, "score", node.Hooks[0].Name)
}
