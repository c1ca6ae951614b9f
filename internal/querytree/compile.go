package querytree

import (
	"fmt"

	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/graph"
)

// TargetStep is one hop of an endpoint's scoping chain. The first step
// names its model directly; each later step resolves Through on the
// previous step's model. Filter is the step's identity predicate, relative
// to the step's model.
type TargetStep struct {
	Model   string
	Through string
	Alias   string
	Filter  defs.TypedExpr
}

// Spec is the requested output of a compilation: selection shape, extra
// filter, authorize predicate, ordering and pagination. Limit and Offset
// apply only at the outermost node.
type Spec struct {
	Select    []defs.SelectItem
	Filter    defs.TypedExpr
	Authorize defs.TypedExpr
	OrderBy   []defs.OrderBySpec
	Limit     *int64
	Offset    *int64
}

// Compile walks the target chain hop by hop, resolves the selection spec
// against the final model, and merges filters and the authorize predicate
// onto the nodes that own the path segments they reference.
func Compile(g *graph.Graph, target []TargetStep, spec Spec) (*Node, error) {
	if len(target) == 0 {
		return nil, fmt.Errorf("compile: empty target path")
	}
	rootModel := g.Model(target[0].Model)
	if rootModel == nil {
		return nil, &PathResolutionError{Model: target[0].Model, Segment: target[0].Model,
			Path: []string{target[0].Model}}
	}

	// Build the flat element chain first: the named step elements plus any
	// anonymous intermediates contributed by query hops. The last element
	// becomes the result node, the rest its ancestors.
	type element struct {
		model  *defs.ModelDef
		alias  string
		filter defs.TypedExpr
		link   *Link
	}
	chain := []element{{model: rootModel, alias: target[0].Alias, filter: target[0].Filter}}

	for i := 1; i < len(target); i++ {
		step := target[i]
		cur := chain[len(chain)-1].model
		links, _, _, _, err := resolveHops(g, cur, []string{step.Through})
		if err != nil {
			return nil, err
		}
		for j := range links[:len(links)-1] {
			l := links[j]
			chain = append(chain, element{model: l.Model, filter: l.Filter, link: &l})
		}
		last := links[len(links)-1]
		filter := andExpr(last.Filter, step.Filter)
		last.Filter = nil
		chain = append(chain, element{model: last.Model, alias: step.Alias, filter: filter, link: &last})
	}

	result := chain[len(chain)-1]
	node := &Node{
		Model:   result.model,
		Card:    CardMany,
		Join:    JoinInner,
		Filter:  result.filter,
		OrderBy: spec.OrderBy,
		Limit:   spec.Limit,
		Offset:  spec.Offset,
	}
	if result.link != nil {
		node.Links = []Link{*result.link}
	}
	for _, el := range chain[:len(chain)-1] {
		node.Ancestors = append(node.Ancestors, &Ancestor{
			Model: el.model, Alias: el.alias, Filter: el.filter, Link: el.link,
		})
	}

	if err := compileSelect(g, node, spec.Select); err != nil {
		return nil, err
	}

	if spec.Filter != nil {
		if err := validateExpr(g, node.Model, spec.Filter, true); err != nil {
			return nil, err
		}
		node.Filter = andExpr(node.Filter, spec.Filter)
	}
	if spec.Authorize != nil {
		if err := mergeAuthorize(g, node, spec.Authorize); err != nil {
			return nil, err
		}
	}

	return node, nil
}

// ResolveLinks resolves a hop path from a model into its join link chain.
// It reports whether the chain is to-many and whether it can be absent.
// Exposed for the SQL renderer, which needs the same resolution for
// correlated subqueries inside filters.
func ResolveLinks(g *graph.Graph, model *defs.ModelDef, segs []string) ([]Link, bool, bool, error) {
	links, many, nullable, _, err := resolveHops(g, model, segs)
	return links, many, nullable, err
}

// ResolveAggregate resolves an aggregate path into its correlated hop
// chain, exactly as a selected aggregate would compile.
func ResolveAggregate(g *graph.Graph, model *defs.ModelDef, fn defs.AggregateFunc, path []string) (*AggregateSel, error) {
	return compileAggregate(g, model, "", fn, path)
}

// resolveHops resolves a sequence of hop names from model into join links.
// A named query hop expands into its own from-path plus filter, so one
// segment may contribute several links. Returns the links, whether the
// chain is to-many, whether it can be absent, and the query def that ended
// the chain (for its ordering and limit), if any.
func resolveHops(g *graph.Graph, model *defs.ModelDef, segs []string) ([]Link, bool, bool, *defs.QueryDef, error) {
	var links []Link
	many := false
	nullable := false
	var endQuery *defs.QueryDef

	cur := model
	for _, seg := range segs {
		member, ok := g.Member(cur, seg)
		if !ok {
			return nil, false, false, nil, &PathResolutionError{Model: cur.Name, Segment: seg, Path: segs}
		}
		endQuery = nil
		switch {
		case member.Reference != nil:
			ref := member.Reference
			fk, err := g.FieldByRef(ref.FieldRef)
			if err != nil {
				return nil, false, false, nil, err
			}
			to, err := g.ReferenceTarget(ref)
			if err != nil {
				return nil, false, false, nil, err
			}
			links = append(links, Link{Model: to, ParentCol: fk.StoreName, ChildCol: to.PrimaryField().StoreName})
			if ref.Nullable {
				nullable = true
			}
			cur = to
		case member.Relation != nil:
			rel := member.Relation
			from, ref, err := g.RelationThrough(rel)
			if err != nil {
				return nil, false, false, nil, err
			}
			fk, err := g.FieldByRef(ref.FieldRef)
			if err != nil {
				return nil, false, false, nil, err
			}
			links = append(links, Link{Model: from, ParentCol: cur.PrimaryField().StoreName, ChildCol: fk.StoreName})
			nullable = true
			if !rel.Unique {
				many = true
			}
			cur = from
		case member.Query != nil:
			q := member.Query
			sub, subMany, subNullable, subEnd, err := resolveHops(g, cur, q.FromPath)
			if err != nil {
				return nil, false, false, nil, err
			}
			if len(sub) == 0 {
				return nil, false, false, nil, &PathResolutionError{Model: cur.Name, Segment: seg, Path: q.FromPath}
			}
			if q.Filter != nil {
				last := &sub[len(sub)-1]
				if err := validateExpr(g, last.Model, q.Filter, true); err != nil {
					return nil, false, false, nil, err
				}
				last.Filter = andExpr(last.Filter, q.Filter)
			}
			links = append(links, sub...)
			many = many || subMany
			nullable = nullable || subNullable
			endQuery = q
			if subEnd != nil && q.Limit == nil && len(q.OrderBy) == 0 {
				endQuery = subEnd
			}
			cur = sub[len(sub)-1].Model
		default:
			return nil, false, false, nil, &PathResolutionError{Model: cur.Name, Segment: seg, Path: segs}
		}
	}
	return links, many, nullable, endQuery, nil
}

// compileSelect resolves the select items of one node into fields,
// aggregates, hook marks and child nodes.
func compileSelect(g *graph.Graph, node *Node, items []defs.SelectItem) error {
	if len(items) == 0 {
		// Default shape: every plain field.
		for _, f := range node.Model.Fields {
			node.Fields = append(node.Fields, FieldSel{
				Name: f.Name,
				Expr: &defs.PathExpr{Path: []string{f.Name}},
			})
		}
		return nil
	}

	for _, item := range items {
		switch it := item.(type) {
		case *defs.SelectExpr:
			if err := compileSelectExpr(g, node, it); err != nil {
				return err
			}
		case *defs.SelectNested:
			child, err := compileNested(g, node.Model, it)
			if err != nil {
				return err
			}
			node.Children = append(node.Children, child)
		case *defs.SelectHook:
			node.Hooks = append(node.Hooks, HookSel{Name: it.Alias, Hook: it.Hook})
		default:
			return fmt.Errorf("unsupported select item %T", item)
		}
	}
	return nil
}

// compileSelectExpr lands one scalar projection: a plain expression, or an
// aggregate (named or inline) rewritten into a correlated subquery.
func compileSelectExpr(g *graph.Graph, node *Node, it *defs.SelectExpr) error {
	if agg, ok := it.Expr.(*defs.AggregateExpr); ok {
		sel, err := compileAggregate(g, node.Model, it.Alias, agg.Func, agg.Path)
		if err != nil {
			return err
		}
		node.Aggregates = append(node.Aggregates, *sel)
		return nil
	}
	// A bare path naming an AggregateDef member is the same thing by
	// another route.
	if p, ok := it.Expr.(*defs.PathExpr); ok && len(p.Path) == 1 {
		if member, found := g.Member(node.Model, p.Path[0]); found && member.Aggregate != nil {
			a := member.Aggregate
			sel, err := compileAggregate(g, node.Model, it.Alias, a.Func, a.TargetPath)
			if err != nil {
				return err
			}
			node.Aggregates = append(node.Aggregates, *sel)
			return nil
		}
	}
	if err := validateExpr(g, node.Model, it.Expr, false); err != nil {
		return err
	}
	node.Fields = append(node.Fields, FieldSel{Name: it.Alias, Expr: it.Expr})
	return nil
}

// compileAggregate resolves an aggregate path into its correlated hop
// chain. For sum the final segment names the summed field.
func compileAggregate(g *graph.Graph, model *defs.ModelDef, name string, fn defs.AggregateFunc, path []string) (*AggregateSel, error) {
	hopSegs := path
	targetCol := ""
	if fn == defs.AggregateSum {
		if len(path) < 2 {
			return nil, fmt.Errorf("sum aggregate %q needs a hop path plus a field", name)
		}
		hopSegs = path[:len(path)-1]
	}
	links, _, _, _, err := resolveHops(g, model, hopSegs)
	if err != nil {
		return nil, err
	}
	if fn == defs.AggregateSum {
		last := links[len(links)-1].Model
		fieldSeg := path[len(path)-1]
		f := last.Field(fieldSeg)
		if f == nil {
			return nil, &PathResolutionError{Model: last.Name, Segment: fieldSeg, Path: path}
		}
		targetCol = f.StoreName
	}
	return &AggregateSel{Name: name, Func: fn, Hops: links, TargetColumn: targetCol}, nil
}

// compileNested builds a child node for one nested select.
func compileNested(g *graph.Graph, parent *defs.ModelDef, it *defs.SelectNested) (*Node, error) {
	links, many, nullable, endQuery, err := resolveHops(g, parent, []string{it.Target})
	if err != nil {
		return nil, err
	}

	child := &Node{
		Model: links[len(links)-1].Model,
		Name:  it.Alias,
		Links: links,
	}
	switch {
	case many:
		child.Card = CardMany
	case nullable:
		child.Card = CardNullableOne
	default:
		child.Card = CardOne
	}
	// Join-type rule: INNER only for a chain of non-nullable single-valued
	// references. Anything that can be absent or multiple joins LEFT so
	// the outer row survives.
	if child.Card == CardOne {
		child.Join = JoinInner
	} else {
		child.Join = JoinLeft
	}
	if endQuery != nil {
		child.OrderBy = endQuery.OrderBy
		child.Limit = endQuery.Limit
		child.Offset = endQuery.Offset
	}

	// The last link's filter belongs to the child node itself.
	if lf := child.Links[len(child.Links)-1].Filter; lf != nil {
		child.Filter = andExpr(child.Filter, lf)
		child.Links[len(child.Links)-1].Filter = nil
	}

	if err := compileSelect(g, child, it.Select); err != nil {
		return nil, err
	}
	return child, nil
}

// mergeAuthorize pushes the authorize predicate into the tree. Each
// top-level conjunct lands on the node that owns the path segment it
// references: a conjunct rooted at an ancestor alias attaches to that
// ancestor (with the alias stripped), everything else attaches to the
// result node. Authorization failures for ancestor context then produce
// the same absent-row semantics as a missing root row.
func mergeAuthorize(g *graph.Graph, node *Node, authorize defs.TypedExpr) error {
	for _, conjunct := range splitAnd(authorize) {
		placed := false
		if root, ok := soleAliasRoot(conjunct); ok {
			for _, anc := range node.Ancestors {
				if anc.Alias != "" && anc.Alias == root {
					stripped := stripAliasRoot(conjunct, root)
					if err := validateExpr(g, anc.Model, stripped, true); err != nil {
						return err
					}
					anc.Filter = andExpr(anc.Filter, stripped)
					placed = true
					break
				}
			}
		}
		if !placed {
			if err := validateExpr(g, node.Model, conjunct, true); err != nil {
				return err
			}
			node.Filter = andExpr(node.Filter, conjunct)
		}
	}
	return nil
}

// splitAnd flattens top-level and-chains into conjuncts.
func splitAnd(x defs.TypedExpr) []defs.TypedExpr {
	if b, ok := x.(*defs.BinaryExpr); ok && b.Op == defs.OpAnd {
		return append(splitAnd(b.Left), splitAnd(b.Right)...)
	}
	return []defs.TypedExpr{x}
}

// soleAliasRoot reports the single path root of a conjunct when every path
// in it shares that root.
func soleAliasRoot(x defs.TypedExpr) (string, bool) {
	roots := map[string]bool{}
	var walk func(defs.TypedExpr)
	walk = func(x defs.TypedExpr) {
		switch e := x.(type) {
		case *defs.PathExpr:
			if len(e.Path) > 1 {
				roots[e.Path[0]] = true
			}
		case *defs.AggregateExpr:
			if len(e.Path) > 1 {
				roots[e.Path[0]] = true
			}
		case *defs.BinaryExpr:
			walk(e.Left)
			walk(e.Right)
		case *defs.FunctionExpr:
			for _, a := range e.Args {
				walk(a)
			}
		case *defs.InSubqueryExpr:
			walk(e.Needle)
		}
	}
	walk(x)
	if len(roots) != 1 {
		return "", false
	}
	for r := range roots {
		return r, true
	}
	return "", false
}

// stripAliasRoot removes the leading alias segment from every path rooted
// at it, producing a model-relative expression.
func stripAliasRoot(x defs.TypedExpr, root string) defs.TypedExpr {
	switch e := x.(type) {
	case *defs.PathExpr:
		if len(e.Path) > 1 && e.Path[0] == root {
			return &defs.PathExpr{Path: e.Path[1:]}
		}
		return e
	case *defs.AggregateExpr:
		if len(e.Path) > 1 && e.Path[0] == root {
			return &defs.AggregateExpr{Func: e.Func, Path: e.Path[1:]}
		}
		return e
	case *defs.BinaryExpr:
		return &defs.BinaryExpr{Op: e.Op,
			Left:  stripAliasRoot(e.Left, root),
			Right: stripAliasRoot(e.Right, root)}
	case *defs.FunctionExpr:
		args := make([]defs.TypedExpr, len(e.Args))
		for i, a := range e.Args {
			args[i] = stripAliasRoot(a, root)
		}
		return &defs.FunctionExpr{Name: e.Name, Args: args}
	case *defs.InSubqueryExpr:
		return &defs.InSubqueryExpr{Needle: stripAliasRoot(e.Needle, root), Path: e.Path, Negate: e.Negate}
	default:
		return x
	}
}

// validateExpr checks every model-relative path of an expression against
// the graph. In filter and authorize contexts, paths whose root is not a
// member are environment bindings and resolve to parameters later; select
// projections have no environment, so allowEnv is false there and an
// unknown root fails compilation.
func validateExpr(g *graph.Graph, model *defs.ModelDef, x defs.TypedExpr, allowEnv bool) error {
	switch e := x.(type) {
	case nil, *defs.LiteralExpr:
		return nil
	case *defs.PathExpr:
		return validatePath(g, model, e.Path, allowEnv)
	case *defs.AggregateExpr:
		_, err := compileAggregate(g, model, "", e.Func, e.Path)
		return err
	case *defs.BinaryExpr:
		if err := validateExpr(g, model, e.Left, allowEnv); err != nil {
			return err
		}
		return validateExpr(g, model, e.Right, allowEnv)
	case *defs.FunctionExpr:
		for _, a := range e.Args {
			if err := validateExpr(g, model, a, allowEnv); err != nil {
				return err
			}
		}
		return nil
	case *defs.InSubqueryExpr:
		if err := validateExpr(g, model, e.Needle, allowEnv); err != nil {
			return err
		}
		if len(e.Path) < 2 {
			return fmt.Errorf("in-subquery path must end in a field")
		}
		links, _, _, _, err := resolveHops(g, model, e.Path[:len(e.Path)-1])
		if err != nil {
			return err
		}
		last := links[len(links)-1].Model
		if last.Field(e.Path[len(e.Path)-1]) == nil {
			return &PathResolutionError{Model: last.Name, Segment: e.Path[len(e.Path)-1], Path: e.Path}
		}
		return nil
	default:
		return fmt.Errorf("unsupported expression kind %T", x)
	}
}

func validatePath(g *graph.Graph, model *defs.ModelDef, path []string, allowEnv bool) error {
	if len(path) == 0 {
		return fmt.Errorf("empty path")
	}
	if _, ok := g.Member(model, path[0]); !ok && allowEnv {
		// Environment binding; resolved against Vars at execution time.
		return nil
	}
	cur := model
	for i, seg := range path {
		member, ok := g.Member(cur, seg)
		if !ok {
			return &PathResolutionError{Model: cur.Name, Segment: seg, Path: path}
		}
		switch {
		case member.Field != nil, member.Computed != nil, member.Aggregate != nil:
			if i != len(path)-1 {
				return &PathResolutionError{Model: cur.Name, Segment: path[i+1], Path: path}
			}
		case member.Reference != nil:
			to, err := g.ReferenceTarget(member.Reference)
			if err != nil {
				return err
			}
			cur = to
		case member.Relation != nil:
			from, _, err := g.RelationThrough(member.Relation)
			if err != nil {
				return err
			}
			cur = from
		case member.Query != nil:
			links, _, _, _, err := resolveHops(g, cur, []string{seg})
			if err != nil {
				return err
			}
			cur = links[len(links)-1].Model
		default:
			return &PathResolutionError{Model: cur.Name, Segment: seg, Path: path}
		}
	}
	return nil
}

func andExpr(l, r defs.TypedExpr) defs.TypedExpr {
	if l == nil {
		return r
	}
	if r == nil {
		return l
	}
	return &defs.BinaryExpr{Op: defs.OpAnd, Left: l, Right: r}
}
