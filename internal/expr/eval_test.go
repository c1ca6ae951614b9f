package expr

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/defs"
)

func lit(v any) defs.TypedExpr {
	return &defs.LiteralExpr{Value: v}
}

func path(segments ...string) defs.TypedExpr {
	return &defs.PathExpr{Path: segments}
}

func bin(op defs.BinaryOp, l, r defs.TypedExpr) defs.TypedExpr {
	return &defs.BinaryExpr{Op: op, Left: l, Right: r}
}

func fn(name defs.FunctionName, args ...defs.TypedExpr) defs.TypedExpr {
	return &defs.FunctionExpr{Name: name, Args: args}
}

func mapEnv(vals map[string]any) Env {
	return EnvFunc(func(p []string) (any, error) {
		key := ""
		for i, s := range p {
			if i > 0 {
				key += "."
			}
			key += s
		}
		v, ok := vals[key]
		if !ok {
			return nil, fmt.Errorf("unbound path %q", key)
		}
		return v, nil
	})
}

func TestEvaluate_Literals(t *testing.T) {
	env := mapEnv(nil)
	for _, v := range []any{int64(7), "s", true, 1.5, nil} {
		got, err := Evaluate(lit(v), env)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestEvaluate_PathLookup(t *testing.T) {
	env := mapEnv(map[string]any{"org.id": int64(3)})

	got, err := Evaluate(path("org", "id"), env)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	_, err = Evaluate(path("org", "missing"), env)
	assert.EqualError(t, err, `unbound path "org.missing"`)
}

func TestEvaluate_Arithmetic(t *testing.T) {
	env := mapEnv(nil)
	tests := []struct {
		op   defs.BinaryOp
		l, r any
		want any
	}{
		{defs.OpAdd, int64(2), int64(3), int64(5)},
		{defs.OpSub, int64(2), int64(3), int64(-1)},
		{defs.OpMul, int64(4), int64(3), int64(12)},
		{defs.OpAdd, 1.5, int64(1), 2.5},
		{defs.OpDiv, int64(7), int64(2), 3.5},
	}
	for _, tc := range tests {
		got, err := Evaluate(bin(tc.op, lit(tc.l), lit(tc.r)), env)
		require.NoError(t, err, "%v %s %v", tc.l, tc.op, tc.r)
		assert.Equal(t, tc.want, got, "%v %s %v", tc.l, tc.op, tc.r)
	}

	_, err := Evaluate(bin(defs.OpDiv, lit(int64(1)), lit(int64(0))), env)
	assert.EqualError(t, err, "division by zero")
}

func TestEvaluate_Comparisons(t *testing.T) {
	env := mapEnv(nil)
	tests := []struct {
		op   defs.BinaryOp
		l, r any
		want bool
	}{
		{defs.OpLt, int64(1), int64(2), true},
		{defs.OpLte, int64(2), int64(2), true},
		{defs.OpGt, int64(2), 1.5, true},
		{defs.OpGte, int64(1), int64(2), false},
		{defs.OpLt, "a", "b", true},
	}
	for _, tc := range tests {
		got, err := Evaluate(bin(tc.op, lit(tc.l), lit(tc.r)), env)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%v %s %v", tc.l, tc.op, tc.r)
	}

	_, err := Evaluate(bin(defs.OpLt, lit("a"), lit(int64(1))), env)
	assert.Error(t, err)
}

func TestEvaluate_IsAndIn(t *testing.T) {
	env := mapEnv(map[string]any{"ids": []any{int64(1), int64(2)}})

	got, err := Evaluate(bin(defs.OpIs, lit("x"), lit("x")), env)
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = Evaluate(bin(defs.OpIsNot, lit(nil), lit("x")), env)
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = Evaluate(bin(defs.OpIn, lit(int64(2)), path("ids")), env)
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = Evaluate(bin(defs.OpNotIn, lit(int64(9)), path("ids")), env)
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestEvaluate_BooleanShortCircuit(t *testing.T) {
	// The right side is an unbound path; and must not touch it once the
	// left side decides the result.
	env := mapEnv(nil)

	got, err := Evaluate(bin(defs.OpAnd, lit(false), path("boom")), env)
	require.NoError(t, err)
	assert.Equal(t, false, got)

	got, err = Evaluate(bin(defs.OpOr, lit(true), path("boom")), env)
	require.NoError(t, err)
	assert.Equal(t, true, got)

	_, err = Evaluate(bin(defs.OpAnd, lit(true), path("boom")), env)
	assert.Error(t, err)
}

func TestEvaluate_StringFunctions(t *testing.T) {
	env := mapEnv(nil)

	got, err := Evaluate(fn(defs.FnLength, lit("hello")), env)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	got, err = Evaluate(fn(defs.FnConcat, lit("a"), lit("-"), lit("b")), env)
	require.NoError(t, err)
	assert.Equal(t, "a-b", got)

	got, err = Evaluate(fn(defs.FnLower, lit("AbC")), env)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	got, err = Evaluate(fn(defs.FnUpper, lit("AbC")), env)
	require.NoError(t, err)
	assert.Equal(t, "ABC", got)

	got, err = Evaluate(fn(defs.FnStringify, lit(int64(12))), env)
	require.NoError(t, err)
	assert.Equal(t, "12", got)
}

func TestEvaluate_Now(t *testing.T) {
	before := time.Now().UnixMilli()
	got, err := Evaluate(fn(defs.FnNow), mapEnv(nil))
	after := time.Now().UnixMilli()

	require.NoError(t, err)
	ms, ok := got.(int64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, ms, before)
	assert.LessOrEqual(t, ms, after)
}

func TestEvaluate_CryptoRoundTrip(t *testing.T) {
	env := mapEnv(nil)

	hashed, err := Evaluate(fn(defs.FnCryptoHash, lit("s3cret"), lit(int64(4))), env)
	require.NoError(t, err)

	ok, err := Evaluate(fn(defs.FnCryptoCompare, lit("s3cret"), lit(hashed)), env)
	require.NoError(t, err)
	assert.Equal(t, true, ok)

	// Wrong password and garbage hash both yield false, never an error.
	ok, err = Evaluate(fn(defs.FnCryptoCompare, lit("wrong"), lit(hashed)), env)
	require.NoError(t, err)
	assert.Equal(t, false, ok)

	ok, err = Evaluate(fn(defs.FnCryptoCompare, lit("s3cret"), lit("not-a-hash")), env)
	require.NoError(t, err)
	assert.Equal(t, false, ok)
}

func TestEvaluate_CryptoToken(t *testing.T) {
	env := mapEnv(nil)

	a, err := Evaluate(fn(defs.FnCryptoToken, lit(int64(32))), env)
	require.NoError(t, err)
	b, err := Evaluate(fn(defs.FnCryptoToken, lit(int64(32))), env)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)

	_, err = Evaluate(fn(defs.FnCryptoToken, lit(int64(0))), env)
	assert.Error(t, err)
}

func TestDeterministic(t *testing.T) {
	assert.True(t, defs.Deterministic(fn(defs.FnConcat, lit("a"))))
	assert.True(t, defs.Deterministic(bin(defs.OpAdd, lit(int64(1)), lit(int64(2)))))
	assert.False(t, defs.Deterministic(fn(defs.FnCryptoToken, lit(int64(8)))))
	assert.False(t, defs.Deterministic(bin(defs.OpIs,
		fn(defs.FnCryptoHash, lit("x"), lit(int64(4))), lit("y"))))
}
