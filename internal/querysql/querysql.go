// Package querysql renders compiled query trees into parameterized SQLite
// SQL.
//
// Values are always bound through placeholders, never interpolated. Every
// statement carries a deterministic ORDER BY ending in the root primary key
// so result order is stable across runs.
//
// A tree renders to one root statement plus one batched statement per
// to-many child: single-valued children become JOINs inside the parent
// statement, while many-valued children are fetched keyed on the join
// column and collapsed into sub-arrays by the caller. Keeping to-many rows
// out of the root statement is what keeps LIMIT/OFFSET and the count
// variant exact.
package querysql

import (
	"fmt"

	"github.com/lattice-dev/lattice/internal/graph"
)

// BindFunc resolves an environment path (one whose root is not a model
// member) to a bound parameter value.
type BindFunc func(path []string) (any, error)

// Compiler renders query trees for one model graph.
type Compiler struct {
	graph *graph.Graph
	binds BindFunc
}

// New creates a Compiler. binds may be nil when the compiled trees contain
// no environment references.
func New(g *graph.Graph, binds BindFunc) *Compiler {
	return &Compiler{graph: g, binds: binds}
}

// OutCol describes one output column of a statement, in SELECT order.
// NodePath walks Children indexes from the statement's node down to the
// owning node; it is empty for columns of the statement node itself.
type OutCol struct {
	NodePath []int
	Name     string
	// Hidden columns exist for decoding (child presence, stitch keys) and
	// are stripped from the response.
	Hidden bool
	// PK marks the owning node's primary key column; a NULL PK on a
	// left-joined child means the child row is absent.
	PK bool
}

// Statement is one renderable SQL statement with its bound arguments and
// output layout.
type Statement struct {
	SQL  string
	Args []any
	Cols []OutCol
}

// aliasGen hands out statement-scoped table aliases.
type aliasGen struct {
	n int
}

func (a *aliasGen) next() string {
	alias := fmt.Sprintf("t%d", a.n)
	a.n++
	return alias
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func colRef(alias, col string) string {
	return quoteIdent(alias) + "." + quoteIdent(col)
}
