package graph

import (
	"github.com/lattice-dev/lattice/internal/defs"
)

// checkComputedCycles verifies that the dependency graph among one model's
// computed fields is acyclic. Dependencies are the sibling computed names an
// expression reaches through its path roots.
//
// Uses an iterative depth-first walk with an explicit stack so the cycle
// path can be reported and deeply chained definitions cannot overflow.
func checkComputedCycles(m *defs.ModelDef) error {
	if len(m.Computeds) == 0 {
		return nil
	}

	deps := make(map[string][]string, len(m.Computeds))
	for _, c := range m.Computeds {
		var ds []string
		for _, root := range exprPathRoots(c.Expr) {
			if m.Computed(root) != nil {
				ds = append(ds, root)
			}
		}
		deps[c.Name] = ds
	}

	const (
		white = 0 // unvisited
		grey  = 1 // on the current walk
		black = 2 // fully explored
	)
	color := make(map[string]int, len(deps))

	for _, c := range m.Computeds {
		if color[c.Name] != white {
			continue
		}
		// Frame stack: each entry is a node plus the index of the next
		// dependency to explore.
		type frame struct {
			name string
			next int
		}
		stack := []frame{{name: c.Name}}
		color[c.Name] = grey

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			ds := deps[top.name]
			if top.next >= len(ds) {
				color[top.name] = black
				stack = stack[:len(stack)-1]
				continue
			}
			d := ds[top.next]
			top.next++
			switch color[d] {
			case white:
				color[d] = grey
				stack = append(stack, frame{name: d})
			case grey:
				// Found a back edge; slice the cycle out of the stack.
				start := 0
				for i, f := range stack {
					if f.name == d {
						start = i
						break
					}
				}
				var cycle []string
				for _, f := range stack[start:] {
					cycle = append(cycle, f.name)
				}
				cycle = append(cycle, d)
				return &CircularDefinitionError{Model: m.Name, Cycle: cycle}
			}
		}
	}
	return nil
}

// exprPathRoots collects the first segment of every path the expression
// touches.
func exprPathRoots(x defs.TypedExpr) []string {
	var roots []string
	var walk func(defs.TypedExpr)
	walk = func(x defs.TypedExpr) {
		switch e := x.(type) {
		case *defs.PathExpr:
			if len(e.Path) > 0 {
				roots = append(roots, e.Path[0])
			}
		case *defs.BinaryExpr:
			walk(e.Left)
			walk(e.Right)
		case *defs.FunctionExpr:
			for _, a := range e.Args {
				walk(a)
			}
		case *defs.AggregateExpr:
			if len(e.Path) > 0 {
				roots = append(roots, e.Path[0])
			}
		case *defs.InSubqueryExpr:
			walk(e.Needle)
			if len(e.Path) > 0 {
				roots = append(roots, e.Path[0])
			}
		}
	}
	walk(x)
	return roots
}
