package querysql

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/querytree"
	"github.com/lattice-dev/lattice/internal/testutil"
)

func compileTree(t *testing.T, target []querytree.TargetStep, spec querytree.Spec) (*Compiler, *querytree.Node) {
	t.Helper()
	g := testutil.MustGraph(t)
	node, err := querytree.Compile(g, target, spec)
	require.NoError(t, err)
	return New(g, func(path []string) (any, error) {
		return nil, fmt.Errorf("unexpected bind %v", path)
	}), node
}

func sel(name string) defs.SelectItem {
	return &defs.SelectExpr{Alias: name, Expr: &defs.PathExpr{Path: []string{name}}}
}

func TestCompileSelect_GoldenRootWithJoins(t *testing.T) {
	c, node := compileTree(t,
		[]querytree.TargetStep{{Model: "Issue"}},
		querytree.Spec{Select: []defs.SelectItem{
			sel("id"),
			sel("title"),
			&defs.SelectNested{Alias: "repo", Target: "repo", Select: []defs.SelectItem{sel("name")}},
			&defs.SelectNested{Alias: "author", Target: "author", Select: []defs.SelectItem{sel("nick")}},
		}},
	)

	stmt, err := c.CompileSelect(node)
	require.NoError(t, err)
	assert.Empty(t, stmt.Args)

	g := goldie.New(t)
	g.Assert(t, "issue_with_joins", []byte(stmt.SQL))
}

func TestCompileSelect_JoinKindsInSQL(t *testing.T) {
	c, node := compileTree(t,
		[]querytree.TargetStep{{Model: "Issue"}},
		querytree.Spec{Select: []defs.SelectItem{
			sel("id"),
			&defs.SelectNested{Alias: "repo", Target: "repo", Select: []defs.SelectItem{sel("id")}},
			&defs.SelectNested{Alias: "author", Target: "author", Select: []defs.SelectItem{sel("id")}},
		}},
	)

	stmt, err := c.CompileSelect(node)
	require.NoError(t, err)
	// Non-nullable reference joins INNER, nullable reference joins LEFT.
	assert.Contains(t, stmt.SQL, `INNER JOIN "repo"`)
	assert.Contains(t, stmt.SQL, `LEFT JOIN "owner"`)
}

func TestCompileSelect_GoldenTargetChain(t *testing.T) {
	slugFilter := &defs.BinaryExpr{
		Op:    defs.OpIs,
		Left:  &defs.PathExpr{Path: []string{"slug"}},
		Right: &defs.LiteralExpr{Type: defs.TypeText, Value: "acme"},
	}
	c, node := compileTree(t,
		[]querytree.TargetStep{
			{Model: "Org", Alias: "org", Filter: slugFilter},
			{Through: "repos", Alias: "repo"},
		},
		querytree.Spec{Select: []defs.SelectItem{sel("id"), sel("name")}},
	)

	stmt, err := c.CompileSelect(node)
	require.NoError(t, err)
	assert.Equal(t, []any{"acme"}, stmt.Args)

	g := goldie.New(t)
	g.Assert(t, "repo_scoped_by_org", []byte(stmt.SQL))
}

func TestCompileSelect_GoldenAggregateSubquery(t *testing.T) {
	c, node := compileTree(t,
		[]querytree.TargetStep{{Model: "Org"}},
		querytree.Spec{Select: []defs.SelectItem{
			sel("id"),
			&defs.SelectExpr{Alias: "repoCount", Expr: &defs.PathExpr{Path: []string{"repoCount"}}},
		}},
	)

	stmt, err := c.CompileSelect(node)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "(SELECT COUNT(*) FROM")

	g := goldie.New(t)
	g.Assert(t, "org_with_repo_count", []byte(stmt.SQL))
}

func TestCompileCount_MatchesFilteredTree(t *testing.T) {
	authorize := &defs.BinaryExpr{
		Op:    defs.OpGt,
		Left:  &defs.AggregateExpr{Func: defs.AggregateCount, Path: []string{"repos"}},
		Right: &defs.LiteralExpr{Type: defs.TypeInteger, Value: int64(0)},
	}
	limit := int64(10)
	c, node := compileTree(t,
		[]querytree.TargetStep{{Model: "Org"}},
		querytree.Spec{
			Select:    []defs.SelectItem{sel("id")},
			Authorize: authorize,
			Limit:     &limit,
		},
	)

	stmt, err := c.CompileSelect(node)
	require.NoError(t, err)
	count, err := c.CompileCount(node)
	require.NoError(t, err)

	// Both variants carry the authorize predicate; only the select carries
	// pagination.
	assert.Contains(t, stmt.SQL, "COUNT(*)") // the authorize subquery
	assert.Contains(t, stmt.SQL, "LIMIT ?")
	assert.Contains(t, count.SQL, "SELECT COUNT(*) FROM")
	assert.NotContains(t, count.SQL, "LIMIT")
	require.NotEmpty(t, stmt.Args)
	assert.Equal(t, int64(0), count.Args[len(count.Args)-1])

	g := goldie.New(t)
	g.Assert(t, "org_authorized_count", []byte(count.SQL))
}

func TestCompileChildBatch_GoldenManyChild(t *testing.T) {
	c, node := compileTree(t,
		[]querytree.TargetStep{{Model: "Org"}},
		querytree.Spec{Select: []defs.SelectItem{
			sel("id"),
			&defs.SelectNested{Alias: "repos", Target: "repos", Select: []defs.SelectItem{sel("id"), sel("name")}},
		}},
	)

	require.Len(t, node.Children, 1)
	stmt, err := c.CompileChildBatch(node.Children[0], []any{int64(1), int64(2)})
	require.NoError(t, err)

	assert.Equal(t, []any{int64(1), int64(2)}, stmt.Args)
	require.NotEmpty(t, stmt.Cols)
	assert.Equal(t, "__key", stmt.Cols[0].Name)
	assert.True(t, stmt.Cols[0].Hidden)

	g := goldie.New(t)
	g.Assert(t, "repos_batch_for_orgs", []byte(stmt.SQL))
}

func TestCompileChildBatch_EmptyParentKeys(t *testing.T) {
	c, node := compileTree(t,
		[]querytree.TargetStep{{Model: "Org"}},
		querytree.Spec{Select: []defs.SelectItem{
			sel("id"),
			&defs.SelectNested{Alias: "repos", Target: "repos", Select: []defs.SelectItem{sel("id")}},
		}},
	)

	stmt, err := c.CompileChildBatch(node.Children[0], nil)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "IN (NULL)")
	assert.Empty(t, stmt.Args)
}

func TestCompileSelect_BoundPathBecomesParameter(t *testing.T) {
	g := testutil.MustGraph(t)
	filter := &defs.BinaryExpr{
		Op:    defs.OpIs,
		Left:  &defs.PathExpr{Path: []string{"slug"}},
		Right: &defs.PathExpr{Path: []string{"@path", "0"}},
	}
	node, err := querytree.Compile(g, []querytree.TargetStep{{Model: "Org", Filter: filter}}, querytree.Spec{
		Select: []defs.SelectItem{sel("id")},
	})
	require.NoError(t, err)

	c := New(g, func(path []string) (any, error) {
		require.Equal(t, []string{"@path", "0"}, path)
		return "acme", nil
	})
	stmt, err := c.CompileSelect(node)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `"t0"."slug" = ?`)
	assert.Equal(t, []any{"acme"}, stmt.Args)
}

func TestCompileSelect_NullComparison(t *testing.T) {
	filter := &defs.BinaryExpr{
		Op:    defs.OpIs,
		Left:  &defs.PathExpr{Path: []string{"author_id"}},
		Right: &defs.LiteralExpr{Type: defs.TypeInteger, Value: nil},
	}
	c, node := compileTree(t,
		[]querytree.TargetStep{{Model: "Issue", Filter: filter}},
		querytree.Spec{Select: []defs.SelectItem{sel("id")}},
	)

	stmt, err := c.CompileSelect(node)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `("t0"."author_id" IS NULL)`)
	assert.Empty(t, stmt.Args)
}

func TestCompileSelect_MembershipOverBoundList(t *testing.T) {
	g := testutil.MustGraph(t)
	filter := &defs.BinaryExpr{
		Op:    defs.OpIn,
		Left:  &defs.PathExpr{Path: []string{"id"}},
		Right: &defs.PathExpr{Path: []string{"@ids"}},
	}
	node, err := querytree.Compile(g, []querytree.TargetStep{{Model: "Org", Filter: filter}}, querytree.Spec{
		Select: []defs.SelectItem{sel("id")},
	})
	require.NoError(t, err)

	c := New(g, func(path []string) (any, error) {
		return []any{int64(1), int64(2), int64(3)}, nil
	})
	stmt, err := c.CompileSelect(node)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `IN (?, ?, ?)`)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, stmt.Args)
}

func TestCompileSelect_ComputedInlined(t *testing.T) {
	c, node := compileTree(t,
		[]querytree.TargetStep{{Model: "Org"}},
		querytree.Spec{Select: []defs.SelectItem{
			&defs.SelectExpr{Alias: "summary", Expr: &defs.PathExpr{Path: []string{"summary"}}},
		}},
	)

	stmt, err := c.CompileSelect(node)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "||")
	assert.Equal(t, []any{" (", ")"}, stmt.Args)
}

func TestCompileSelect_CryptoNotExpressible(t *testing.T) {
	g := testutil.MustGraph(t)
	filter := &defs.BinaryExpr{
		Op:    defs.OpIs,
		Left:  &defs.FunctionExpr{Name: defs.FnCryptoToken, Args: []defs.TypedExpr{&defs.LiteralExpr{Value: int64(8)}}},
		Right: &defs.PathExpr{Path: []string{"slug"}},
	}
	node, err := querytree.Compile(g, []querytree.TargetStep{{Model: "Org", Filter: filter}}, querytree.Spec{})
	require.NoError(t, err)

	c := New(g, nil)
	_, err = c.CompileSelect(node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not expressible in SQL")
}
