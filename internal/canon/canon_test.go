package canon_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/canon"
)

func TestMarshal_SortsKeys(t *testing.T) {
	got, err := canon.Marshal(map[string]any{
		"zeta":  int64(1),
		"alpha": int64(2),
		"mid":   int64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":3,"zeta":1}`, string(got))
}

func TestMarshal_Scalars(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{true, "true"},
		{false, "false"},
		{int64(42), "42"},
		{int64(-7), "-7"},
		{1.5, "1.5"},
		{"plain", `"plain"`},
		{[]any{int64(1), "two", nil}, `[1,"two",null]`},
	}
	for _, c := range cases {
		got, err := canon.Marshal(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, string(got))
	}
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	got, err := canon.Marshal("<a> & <b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a> & <b>"`, string(got))
}

func TestMarshal_NFCNormalization(t *testing.T) {
	// e + combining acute normalizes to the precomposed form.
	decomposed := "é"
	got, err := canon.Marshal(decomposed)
	require.NoError(t, err)
	assert.Equal(t, "\"é\"", string(got))
}

func TestMarshal_LineSeparatorsLiteral(t *testing.T) {
	got, err := canon.Marshal("a b c")
	require.NoError(t, err)
	assert.Equal(t, "\"a b c\"", string(got))

	// A literal backslash before the text "u2028" stays escaped.
	got, err = canon.Marshal(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(got))
}

func TestMarshal_UTF16KeyOrder(t *testing.T) {
	// U+1D306 (surrogate pair, leading unit 0xD834) sorts before U+FF01
	// under UTF-16 code units even though its code point is larger.
	got, err := canon.Marshal(map[string]any{
		"\U0001D306": int64(1),
		"！":     int64(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001D306\":1,\"！\":2}", string(got))
}

func TestMarshal_Nested(t *testing.T) {
	got, err := canon.Marshal(map[string]any{
		"org": map[string]any{
			"slug":  "acme",
			"repos": []any{map[string]any{"name": "api"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"org":{"repos":[{"name":"api"}],"slug":"acme"}}`, string(got))
}

func TestMarshal_RejectsUnsupported(t *testing.T) {
	_, err := canon.Marshal(struct{}{})
	require.Error(t, err)

	_, err = canon.Marshal(math.Inf(1))
	require.Error(t, err)

	_, err = canon.Marshal(math.NaN())
	require.Error(t, err)
}
