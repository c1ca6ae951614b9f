// Package testutil provides shared test fixtures: a small but complete
// model graph exercising references, relations, named queries, aggregates
// and computed fields, plus deterministic token and sequence sources.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/graph"
)

// Models builds a fresh copy of the fixture definition. Graph resolution
// mutates the definitions it is given, so every call returns new values.
//
// The fixture domain:
//
//	Extra:  nothing but the synthetic id; inverse unique relation "org".
//	Org:    slug (unique), name; reference extras -> Extra (non-nullable,
//	        unique); relation repos; aggregate repoCount; computed summary.
//	Repo:   reference org (non-nullable); name, isPublic; relation issues;
//	        query orgOwners (owners of the repo's org, via a reference hop).
//	Issue:  reference repo (non-nullable), reference author -> Owner
//	        (nullable); title.
//	Owner:  reference org (non-nullable); nick (unique), name.
func Models() []*defs.ModelDef {
	return []*defs.ModelDef{
		{
			Name: "Extra",
			Relations: []*defs.RelationDef{
				{Name: "org", FromModel: "Org", Through: "extras"},
			},
		},
		{
			Name: "Org",
			Fields: []*defs.FieldDef{
				{Name: "slug", Type: defs.TypeText, Unique: true},
				{Name: "name", Type: defs.TypeText},
			},
			References: []*defs.ReferenceDef{
				{Name: "extras", ToModelRef: "Extra", Unique: true},
			},
			Relations: []*defs.RelationDef{
				{Name: "repos", FromModel: "Repo", Through: "org"},
				{Name: "owners", FromModel: "Owner", Through: "org"},
			},
			Queries: []*defs.QueryDef{
				{
					Name:     "publicRepos",
					FromPath: []string{"repos"},
					Filter: &defs.BinaryExpr{
						Op:    defs.OpIs,
						Left:  &defs.PathExpr{Path: []string{"is_public"}},
						Right: &defs.LiteralExpr{Type: defs.TypeBoolean, Value: true},
					},
				},
			},
			Aggregates: []*defs.AggregateDef{
				{Name: "repoCount", Func: defs.AggregateCount, TargetPath: []string{"repos"}},
			},
			Computeds: []*defs.ComputedDef{
				{
					Name: "summary",
					Type: defs.TypeText,
					Expr: &defs.FunctionExpr{
						Name: defs.FnConcat,
						Args: []defs.TypedExpr{
							&defs.PathExpr{Path: []string{"name"}},
							&defs.LiteralExpr{Type: defs.TypeText, Value: " ("},
							&defs.PathExpr{Path: []string{"slug"}},
							&defs.LiteralExpr{Type: defs.TypeText, Value: ")"},
						},
					},
				},
			},
		},
		{
			Name: "Repo",
			Fields: []*defs.FieldDef{
				{Name: "name", Type: defs.TypeText},
				{Name: "is_public", Type: defs.TypeBoolean},
			},
			References: []*defs.ReferenceDef{
				{Name: "org", ToModelRef: "Org"},
			},
			Relations: []*defs.RelationDef{
				{Name: "issues", FromModel: "Issue", Through: "repo"},
			},
			Queries: []*defs.QueryDef{
				// Opens with a reference hop, so the query batches on the
				// repo's org_id column rather than its primary key.
				{Name: "orgOwners", FromPath: []string{"org", "owners"}},
			},
		},
		{
			Name: "Issue",
			Fields: []*defs.FieldDef{
				{Name: "title", Type: defs.TypeText},
			},
			References: []*defs.ReferenceDef{
				{Name: "repo", ToModelRef: "Repo"},
				{Name: "author", ToModelRef: "Owner", Nullable: true, OnDelete: defs.OnDeleteSetNull},
			},
		},
		{
			Name: "Owner",
			Fields: []*defs.FieldDef{
				{Name: "nick", Type: defs.TypeText, Unique: true},
				{Name: "name", Type: defs.TypeText},
			},
			References: []*defs.ReferenceDef{
				{Name: "org", ToModelRef: "Org"},
			},
		},
	}
}

// MustGraph resolves the fixture models, failing the test on any graph
// error.
func MustGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.Resolve(Models())
	require.NoError(t, err)
	return g
}
