// Package expr evaluates typed expressions in process, against already
// resolved values: changeset setters, computed fields after fetch, hook
// select arguments.
//
// Expressions inside filters never reach this package at run time; the
// query compiler turns them into SQL fragments instead. Operand types are
// checked when the Definition is built, so the evaluator trusts the
// declared kinds and reports the few remaining dynamic mismatches as plain
// errors.
package expr

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lattice-dev/lattice/internal/defs"
)

// Env supplies values for path lookups during evaluation.
type Env interface {
	// LookupPath resolves an alias path such as ["org", "id"].
	LookupPath(path []string) (any, error)
}

// EnvFunc adapts a function to Env.
type EnvFunc func(path []string) (any, error)

// LookupPath implements Env.
func (f EnvFunc) LookupPath(path []string) (any, error) { return f(path) }

// Evaluate computes the value of x against env. The result is a scalar
// (int64, float64, string, bool or nil) or, for path lookups that land on a
// row set, whatever the environment returns.
func Evaluate(x defs.TypedExpr, env Env) (any, error) {
	switch e := x.(type) {
	case *defs.LiteralExpr:
		return e.Value, nil
	case *defs.PathExpr:
		return env.LookupPath(e.Path)
	case *defs.AggregateExpr:
		return env.LookupPath(e.Path)
	case *defs.BinaryExpr:
		return evalBinary(e, env)
	case *defs.FunctionExpr:
		return evalFunction(e, env)
	case *defs.InSubqueryExpr:
		return evalInSubquery(e, env)
	case nil:
		return nil, fmt.Errorf("evaluate nil expression")
	default:
		return nil, fmt.Errorf("unsupported expression kind %T", x)
	}
}

func evalBinary(e *defs.BinaryExpr, env Env) (any, error) {
	// and/or short-circuit; everything else is strict.
	switch e.Op {
	case defs.OpAnd, defs.OpOr:
		l, err := Evaluate(e.Left, env)
		if err != nil {
			return nil, err
		}
		lb, err := asBool(l)
		if err != nil {
			return nil, err
		}
		if e.Op == defs.OpAnd && !lb {
			return false, nil
		}
		if e.Op == defs.OpOr && lb {
			return true, nil
		}
		r, err := Evaluate(e.Right, env)
		if err != nil {
			return nil, err
		}
		return asBool(r)
	}

	l, err := Evaluate(e.Left, env)
	if err != nil {
		return nil, err
	}
	r, err := Evaluate(e.Right, env)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case defs.OpIs:
		return valueEqual(l, r), nil
	case defs.OpIsNot:
		return !valueEqual(l, r), nil
	case defs.OpIn, defs.OpNotIn:
		set, ok := r.([]any)
		if !ok {
			return nil, fmt.Errorf("operator %q: right operand is %T, not a row set", e.Op, r)
		}
		found := false
		for _, v := range set {
			if valueEqual(l, v) {
				found = true
				break
			}
		}
		if e.Op == defs.OpNotIn {
			return !found, nil
		}
		return found, nil
	case defs.OpLt, defs.OpLte, defs.OpGt, defs.OpGte:
		return compare(e.Op, l, r)
	case defs.OpAdd, defs.OpSub, defs.OpMul, defs.OpDiv:
		return arithmetic(e.Op, l, r)
	default:
		return nil, fmt.Errorf("unsupported binary operator %q", e.Op)
	}
}

func evalInSubquery(e *defs.InSubqueryExpr, env Env) (any, error) {
	needle, err := Evaluate(e.Needle, env)
	if err != nil {
		return nil, err
	}
	rows, err := env.LookupPath(e.Path)
	if err != nil {
		return nil, err
	}
	set, ok := rows.([]any)
	if !ok {
		return nil, fmt.Errorf("in-subquery path %v yielded %T, not a row set", e.Path, rows)
	}
	found := false
	for _, v := range set {
		if valueEqual(needle, v) {
			found = true
			break
		}
	}
	if e.Negate {
		return !found, nil
	}
	return found, nil
}

func evalFunction(e *defs.FunctionExpr, env Env) (any, error) {
	args := make([]any, len(e.Args))
	for i, a := range e.Args {
		v, err := Evaluate(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch e.Name {
	case defs.FnLength:
		s, err := argString(e.Name, args, 0)
		if err != nil {
			return nil, err
		}
		return int64(len(s)), nil
	case defs.FnConcat:
		var b strings.Builder
		for i := range args {
			s, err := argString(e.Name, args, i)
			if err != nil {
				return nil, err
			}
			b.WriteString(s)
		}
		return b.String(), nil
	case defs.FnLower:
		s, err := argString(e.Name, args, 0)
		if err != nil {
			return nil, err
		}
		return strings.ToLower(s), nil
	case defs.FnUpper:
		s, err := argString(e.Name, args, 0)
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(s), nil
	case defs.FnNow:
		return time.Now().UnixMilli(), nil
	case defs.FnStringify:
		if len(args) != 1 {
			return nil, fmt.Errorf("stringify takes one argument, got %d", len(args))
		}
		out, err := json.Marshal(args[0])
		if err != nil {
			return nil, fmt.Errorf("stringify: %w", err)
		}
		return string(out), nil
	case defs.FnCryptoHash:
		return cryptoHash(e.Name, args)
	case defs.FnCryptoCompare:
		return cryptoCompare(e.Name, args)
	case defs.FnCryptoToken:
		return cryptoToken(e.Name, args)
	default:
		return nil, fmt.Errorf("unsupported function %q", e.Name)
	}
}

func argString(fn defs.FunctionName, args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%s: missing argument %d", fn, i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d is %T, want string", fn, i, args[i])
	}
	return s, nil
}

func argInt(fn defs.FunctionName, args []any, i int) (int64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%s: missing argument %d", fn, i)
	}
	switch v := args[i].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("%s: argument %d is %T, want integer", fn, i, args[i])
	}
}

func asBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("value %v (%T) is not boolean", v, v)
	}
	return b, nil
}

// valueEqual compares scalars, treating integral floats and ints from
// different decode paths as equal.
func valueEqual(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	if lf, lok := toFloat(l); lok {
		if rf, rok := toFloat(r); rok {
			return lf == rf
		}
		return false
	}
	return l == r
}

func compare(op defs.BinaryOp, l, r any) (any, error) {
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if lok && rok {
		switch op {
		case defs.OpLt:
			return lf < rf, nil
		case defs.OpLte:
			return lf <= rf, nil
		case defs.OpGt:
			return lf > rf, nil
		case defs.OpGte:
			return lf >= rf, nil
		}
	}
	ls, lsok := l.(string)
	rs, rsok := r.(string)
	if lsok && rsok {
		switch op {
		case defs.OpLt:
			return ls < rs, nil
		case defs.OpLte:
			return ls <= rs, nil
		case defs.OpGt:
			return ls > rs, nil
		case defs.OpGte:
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("operator %q: cannot compare %T with %T", op, l, r)
}

func arithmetic(op defs.BinaryOp, l, r any) (any, error) {
	li, lik := toInt(l)
	ri, rik := toInt(r)
	if lik && rik && op != defs.OpDiv {
		switch op {
		case defs.OpAdd:
			return li + ri, nil
		case defs.OpSub:
			return li - ri, nil
		case defs.OpMul:
			return li * ri, nil
		}
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %q: cannot apply to %T and %T", op, l, r)
	}
	switch op {
	case defs.OpAdd:
		return lf + rf, nil
	case defs.OpSub:
		return lf - rf, nil
	case defs.OpMul:
		return lf * rf, nil
	case defs.OpDiv:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	}
	return nil, fmt.Errorf("unsupported arithmetic operator %q", op)
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
