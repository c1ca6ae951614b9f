package defs

// TypedExpr is a sealed interface over the expression kinds the engine can
// evaluate or compile into SQL. Only types in this package implement it.
type TypedExpr interface {
	typedExpr()
}

// LiteralExpr is a constant scalar. Value holds one of int64, float64,
// string, bool or nil, matching Type.
type LiteralExpr struct {
	Type  ScalarType
	Value any
}

func (*LiteralExpr) typedExpr() {}

// PathExpr addresses a value by walking alias and member names, e.g.
// ["org", "id"] or ["repo", "owner", "name"]. Inside a filter the path
// compiles to a column reference; inside a setter it reads resolved values.
type PathExpr struct {
	Path []string
}

func (*PathExpr) typedExpr() {}

// BinaryExpr applies a binary operator to two sub-expressions. Operand
// types are checked when the Definition is built, not at evaluation time.
type BinaryExpr struct {
	Op    BinaryOp
	Left  TypedExpr
	Right TypedExpr
}

func (*BinaryExpr) typedExpr() {}

// BinaryOp enumerates the binary operators.
type BinaryOp string

const (
	OpAnd   BinaryOp = "and"
	OpOr    BinaryOp = "or"
	OpIs    BinaryOp = "is"
	OpIsNot BinaryOp = "is not"
	OpIn    BinaryOp = "in"
	OpNotIn BinaryOp = "not in"
	OpLt    BinaryOp = "<"
	OpLte   BinaryOp = "<="
	OpGt    BinaryOp = ">"
	OpGte   BinaryOp = ">="
	OpAdd   BinaryOp = "+"
	OpSub   BinaryOp = "-"
	OpDiv   BinaryOp = "/"
	OpMul   BinaryOp = "*"
)

// FunctionExpr calls one of the built-in scalar functions.
type FunctionExpr struct {
	Name FunctionName
	Args []TypedExpr
}

func (*FunctionExpr) typedExpr() {}

// FunctionName enumerates the built-in functions.
type FunctionName string

const (
	FnLength        FunctionName = "length"
	FnConcat        FunctionName = "concat"
	FnLower         FunctionName = "lower"
	FnUpper         FunctionName = "upper"
	FnNow           FunctionName = "now"
	FnStringify     FunctionName = "stringify"
	FnCryptoHash    FunctionName = "cryptoHash"
	FnCryptoCompare FunctionName = "cryptoCompare"
	FnCryptoToken   FunctionName = "cryptoToken"
)

// AggregateExpr aggregates over a to-many path, e.g. count over ["repos"]
// or sum over ["items", "price"] (the final segment names the summed field).
// Inside a filter it compiles to a correlated scalar subquery, never to an
// application-level pass over fetched rows.
type AggregateExpr struct {
	Func AggregateFunc
	Path []string
}

func (*AggregateExpr) typedExpr() {}

// InSubqueryExpr tests membership of Needle in the single-column row set
// addressed by Path (a to-many hop chain ending in a field name).
type InSubqueryExpr struct {
	Needle TypedExpr
	Path   []string
	Negate bool
}

func (*InSubqueryExpr) typedExpr() {}

// Deterministic reports whether every evaluation of x yields the same value
// given the same environment. cryptoHash and cryptoToken are the only
// non-deterministic expressions; once computed within one changeset pass
// they must not be re-evaluated.
func Deterministic(x TypedExpr) bool {
	switch e := x.(type) {
	case *LiteralExpr, *PathExpr, *AggregateExpr:
		return true
	case *BinaryExpr:
		return Deterministic(e.Left) && Deterministic(e.Right)
	case *InSubqueryExpr:
		return Deterministic(e.Needle)
	case *FunctionExpr:
		if e.Name == FnCryptoHash || e.Name == FnCryptoToken {
			return false
		}
		for _, a := range e.Args {
			if !Deterministic(a) {
				return false
			}
		}
		return true
	case nil:
		return true
	default:
		return true
	}
}
