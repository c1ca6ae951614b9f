// Package querytree compiles a target path through the model graph plus a
// nested selection spec into an executable tree of joins, selects,
// aggregates and pagination.
//
// The compiled tree is backend-neutral: querysql renders it to parameterized
// SQL, and the runtime stitches fetched rows back into the nested response
// shape. Compilation resolves every path segment eagerly; an unresolvable
// segment is a PathResolutionError here, never a deferred execution error.
package querytree

import (
	"fmt"
	"strings"

	"github.com/lattice-dev/lattice/internal/defs"
)

// JoinKind is the SQL join flavor a hop compiles to.
type JoinKind string

const (
	JoinInner JoinKind = "inner"
	JoinLeft  JoinKind = "left"
)

// Cardinality describes how a node's rows relate to its parent's.
type Cardinality string

const (
	// CardOne: exactly one child row per parent row.
	CardOne Cardinality = "one"
	// CardNullableOne: zero or one child row; absence surfaces as null,
	// never by dropping the parent row.
	CardNullableOne Cardinality = "nullable-one"
	// CardMany: any number of child rows, collapsed into a sub-array per
	// parent row.
	CardMany Cardinality = "many"
)

// Link is one join step of a hop chain. ParentCol names a column on the
// previous element's model, ChildCol a column on Model; both are store
// names. Filter, when set, is relative to Model.
type Link struct {
	Model     *defs.ModelDef
	ParentCol string
	ChildCol  string
	Filter    defs.TypedExpr
}

// Node is one compiled query-tree node: a model, the join chain reaching it
// from its parent, its predicate, and its requested output shape.
//
// Single-valued children (one, nullable-one) are rendered into the parent's
// statement as JOINs. Many-valued children run as separate batched
// statements keyed on the first link's join column, so outer pagination and
// counts stay exact.
type Node struct {
	Model *defs.ModelDef
	// Name is the response key this node's output lands under. Empty on
	// the root.
	Name string

	Join JoinKind
	Card Cardinality

	// Links is the join chain from the parent element down to this node;
	// the last link's model is Model. A named query hop may contribute
	// several links. On the tree root, Links holds at most one element,
	// connecting it to the last ancestor.
	Links []Link

	// Ancestors is the upward scoping chain compiled from the target
	// path, outermost first. Only the tree root carries ancestors.
	// Ancestors always join INNER: each identity filter pins its row, so
	// there is no outer row to preserve.
	Ancestors []*Ancestor

	// Filter is this node's predicate: hop filters merged with whatever
	// part of the endpoint authorize expression this node owns.
	Filter defs.TypedExpr

	Fields     []FieldSel
	Aggregates []AggregateSel
	Hooks      []HookSel
	Children   []*Node

	OrderBy []defs.OrderBySpec
	Limit   *int64
	Offset  *int64
}

// Ancestor is one element of the upward scoping chain. Link connects it to
// the previous (outer) element; it is nil on the chain root.
type Ancestor struct {
	Model  *defs.ModelDef
	Alias  string // binding alias from the endpoint target chain
	Filter defs.TypedExpr
	Link   *Link
}

// FieldSel projects one scalar under Name. Expr is relative to the owning
// node's model; computed fields arrive already inlined.
type FieldSel struct {
	Name string
	Expr defs.TypedExpr
}

// AggregateSel projects one correlated scalar subquery under Name.
type AggregateSel struct {
	Name string
	Func defs.AggregateFunc
	Hops []Link
	// TargetColumn is the summed column on the innermost hop, store name.
	// Empty for count.
	TargetColumn string
}

// HookSel marks one model hook for post-fetch, in-process evaluation.
type HookSel struct {
	Name string
	Hook *defs.ModelHookDef
}

// PathResolutionError reports a select or target path segment that does not
// resolve on the model it is applied to. Always a compile-time failure.
type PathResolutionError struct {
	Model   string
	Segment string
	Path    []string
}

func (e *PathResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %q on model %s (path %s)",
		e.Segment, e.Model, strings.Join(e.Path, "."))
}
