package runtime_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/runtime"
)

// The repo create endpoint resolves its org foreign key from a slug in the
// request body, not from a path parameter.
func TestExecuteCreate_ReferenceInputLookup(t *testing.T) {
	ex, st := seededExecutor(t)
	ep := &defs.EndpointDef{
		Kind:   defs.EndpointCreate,
		Target: defs.TargetDef{Model: "Repo", Alias: "repo"},
		Fieldset: &defs.FieldsetDef{Fields: []defs.FieldsetField{
			{Name: "org", Type: defs.TypeText, Required: true},
			{Name: "name", Type: defs.TypeText, Required: true},
		}},
		Response: []defs.SelectItem{sel("name"), sel("is_public")},
		Actions: []defs.ActionDef{
			&defs.CreateOneAction{
				Model: "Repo",
				Alias: "repo",
				Changeset: defs.ChangesetDef{Items: []defs.ChangesetItem{
					// Declared before the item it depends on; the resolver
					// reorders.
					{Name: "is_public", Setter: &defs.SetChangesetRef{Name: "visible"}},
					{Name: "org", Setter: &defs.SetReferenceInput{
						Field: "org", Reference: "Org", Through: "slug",
					}},
					{Name: "name", Setter: &defs.SetInput{Field: "name"}},
					{Name: "visible", Setter: &defs.SetLiteral{Value: false}},
				}},
			},
		},
	}

	resp, err := ex.Execute(context.Background(), ep, runtime.Request{
		Body: map[string]any{"org": "initech", "name": "skunkworks"},
	})
	require.NoError(t, err)
	row := resp.Body.(map[string]any)
	assert.Equal(t, "skunkworks", row["name"])
	assert.Equal(t, false, row["is_public"])

	var n int
	require.NoError(t, st.DB().QueryRow(
		`SELECT COUNT(*) FROM "repo" JOIN "org" ON "org"."id" = "repo"."org_id" WHERE "org"."slug" = 'initech'`,
	).Scan(&n))
	assert.Equal(t, 1, n)

	// An unknown slug is a validation failure on the input field, not a
	// generic error.
	_, err = ex.Execute(context.Background(), ep, runtime.Request{
		Body: map[string]any{"org": "hooli", "name": "skunkworks"},
	})
	require.Error(t, err)
	assert.True(t, runtime.IsValidation(err))
}

func TestExecuteCustom_ExprAndContextSetters(t *testing.T) {
	ex, _ := seededExecutor(t)
	ep := &defs.EndpointDef{
		Kind:   defs.EndpointCustomOne,
		Target: orgBySlug("slug"),
		Actions: []defs.ActionDef{
			&defs.RespondAction{
				Body: &defs.SetArray{Items: []defs.FieldSetter{
					&defs.SetExpr{Expr: &defs.FunctionExpr{
						Name: defs.FnConcat,
						Args: []defs.TypedExpr{
							&defs.PathExpr{Path: []string{"org", "slug"}},
							&defs.LiteralExpr{Type: defs.TypeText, Value: "!"},
						},
					}},
					&defs.SetContext{Kind: defs.ContextAuthToken},
				}},
			},
		},
	}

	resp, err := ex.Execute(context.Background(), ep, runtime.Request{
		PathParams: []any{"acme"}, AuthToken: "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"acme!", "tok"}, resp.Body)

	// Without a principal the auth token resolves to null.
	resp, err = ex.Execute(context.Background(), ep, runtime.Request{PathParams: []any{"acme"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"acme!", nil}, resp.Body)
}

func TestExecuteCustom_QuerySetter(t *testing.T) {
	ex, _ := seededExecutor(t)
	ep := &defs.EndpointDef{
		Kind:   defs.EndpointCustomMany,
		Target: defs.TargetDef{Model: "Repo", Alias: "repo"},
		Actions: []defs.ActionDef{
			&defs.RespondAction{
				Body: &defs.SetQuery{
					Model: "Repo",
					Many:  true,
					Filter: &defs.BinaryExpr{
						Op:    defs.OpIs,
						Left:  &defs.PathExpr{Path: []string{"is_public"}},
						Right: &defs.LiteralExpr{Type: defs.TypeBoolean, Value: true},
					},
					Select: []defs.SelectItem{sel("name")},
				},
			},
		},
	}
	resp, err := ex.Execute(context.Background(), ep, runtime.Request{})
	require.NoError(t, err)
	rows := resp.Body.([]any)
	require.Len(t, rows, 2)
	names := []string{
		rows[0].(map[string]any)["name"].(string),
		rows[1].(map[string]any)["name"].(string),
	}
	assert.ElementsMatch(t, []string{"api", "site"}, names)
}
