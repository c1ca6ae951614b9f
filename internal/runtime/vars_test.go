package runtime_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/runtime"
)

func TestVars_BindOnce(t *testing.T) {
	v := runtime.NewVars()
	require.NoError(t, v.Bind("org", map[string]any{"id": int64(1)}))
	assert.True(t, v.Has("org"))

	err := v.Bind("org", map[string]any{"id": int64(2)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already bound")

	err = v.Bind("", 1)
	require.Error(t, err)
}

func TestVars_LookupPath(t *testing.T) {
	v := runtime.NewVars()
	require.NoError(t, v.Bind("org", map[string]any{
		"id":    int64(7),
		"repos": []any{map[string]any{"name": "api"}},
	}))
	require.NoError(t, v.Bind("@auth", nil))

	got, err := v.LookupPath([]string{"org", "id"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)

	got, err = v.LookupPath([]string{"org", "repos", "0", "name"})
	require.NoError(t, err)
	assert.Equal(t, "api", got)

	got, err = v.LookupPath([]string{"@auth"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVars_LookupPathErrors(t *testing.T) {
	v := runtime.NewVars()
	require.NoError(t, v.Bind("org", map[string]any{"id": int64(7), "parent": nil}))
	require.NoError(t, v.Bind("list", []any{1, 2}))

	_, err := v.LookupPath([]string{"missing"})
	require.Error(t, err)

	_, err = v.LookupPath([]string{"org", "nope"})
	require.Error(t, err)

	_, err = v.LookupPath([]string{"org", "id", "deeper"})
	require.Error(t, err)

	_, err = v.LookupPath([]string{"org", "parent", "id"})
	require.Error(t, err)

	_, err = v.LookupPath([]string{"list", "two"})
	require.Error(t, err)

	_, err = v.LookupPath([]string{"list", "5"})
	require.Error(t, err)
}
