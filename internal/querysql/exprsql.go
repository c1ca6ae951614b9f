package querysql

import (
	"fmt"
	"strings"

	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/querytree"
)

// compileExpr renders a filter expression to a SQL fragment with bound
// arguments. Paths rooted at a model member become column references or
// correlated subqueries; every other path resolves through the bind
// function into a parameter. Values are never interpolated.
func (c *Compiler) compileExpr(sc scope, aliases *aliasGen, x defs.TypedExpr) (string, []any, error) {
	switch e := x.(type) {
	case *defs.LiteralExpr:
		if e.Value == nil {
			return "NULL", nil, nil
		}
		return "?", []any{e.Value}, nil
	case *defs.PathExpr:
		return c.compilePath(sc, aliases, e.Path)
	case *defs.AggregateExpr:
		agg, err := querytree.ResolveAggregate(c.graph, sc.model, e.Func, e.Path)
		if err != nil {
			return "", nil, err
		}
		return c.compileAggregate(sc, aliases, agg.Func, agg.Hops, agg.TargetColumn)
	case *defs.BinaryExpr:
		return c.compileBinary(sc, aliases, e)
	case *defs.FunctionExpr:
		return c.compileFunction(sc, aliases, e)
	case *defs.InSubqueryExpr:
		return c.compileInSubquery(sc, aliases, e)
	default:
		return "", nil, fmt.Errorf("unsupported expression kind %T in SQL context", x)
	}
}

func (c *Compiler) compilePath(sc scope, aliases *aliasGen, path []string) (string, []any, error) {
	if len(path) == 0 {
		return "", nil, fmt.Errorf("empty path in SQL context")
	}
	member, isMember := c.graph.Member(sc.model, path[0])
	if !isMember {
		// Environment binding: resolve the value now and pass it as a
		// parameter.
		if c.binds == nil {
			return "", nil, fmt.Errorf("unbound path %q and no bind environment", strings.Join(path, "."))
		}
		v, err := c.binds(path)
		if err != nil {
			return "", nil, err
		}
		if v == nil {
			return "NULL", nil, nil
		}
		return "?", []any{v}, nil
	}

	if len(path) == 1 {
		switch {
		case member.Field != nil:
			return colRef(sc.alias, member.Field.StoreName), nil, nil
		case member.Computed != nil:
			return c.compileExpr(sc, aliases, member.Computed.Expr)
		case member.Aggregate != nil:
			agg, err := querytree.ResolveAggregate(c.graph, sc.model, member.Aggregate.Func, member.Aggregate.TargetPath)
			if err != nil {
				return "", nil, err
			}
			return c.compileAggregate(sc, aliases, agg.Func, agg.Hops, agg.TargetColumn)
		default:
			return "", nil, fmt.Errorf("member %q of model %s is not scalar", path[0], sc.model.Name)
		}
	}

	// A deeper path becomes a correlated scalar subquery over its hop
	// chain.
	return c.compileScalarSubquery(sc, aliases, path)
}

// compileScalarSubquery renders a multi-segment path such as "org.name" to
// a correlated subquery selecting the final scalar.
func (c *Compiler) compileScalarSubquery(sc scope, aliases *aliasGen, path []string) (string, []any, error) {
	links, _, _, err := querytree.ResolveLinks(c.graph, sc.model, path[:len(path)-1])
	if err != nil {
		return "", nil, err
	}
	last := links[len(links)-1].Model
	leaf := path[len(path)-1]

	sub, lastAlias, args, err := c.correlatedFrom(sc, aliases, links)
	if err != nil {
		return "", nil, err
	}

	var sel string
	f := last.Field(leaf)
	switch {
	case f != nil:
		sel = colRef(lastAlias, f.StoreName)
	case last.Computed(leaf) != nil:
		inner, innerArgs, err := c.compileExpr(scope{model: last, alias: lastAlias}, aliases, last.Computed(leaf).Expr)
		if err != nil {
			return "", nil, err
		}
		sel = inner
		args = append(innerArgs, args...)
	default:
		return "", nil, fmt.Errorf("cannot resolve %q on model %s", leaf, last.Name)
	}

	return fmt.Sprintf("(SELECT %s %s LIMIT 1)", sel, sub), args, nil
}

// correlatedFrom builds "FROM ... JOIN ... WHERE corr AND filters" for a
// hop chain, correlated to the enclosing scope's alias. Returns the clause,
// the alias of the chain's final model, and bound arguments.
func (c *Compiler) correlatedFrom(sc scope, aliases *aliasGen, links []querytree.Link) (string, string, []any, error) {
	var sb strings.Builder
	var args []any
	var wheres []string

	first := links[0]
	alias := aliases.next()
	sb.WriteString(fmt.Sprintf("FROM %s AS %s", quoteIdent(first.Model.StoreName), quoteIdent(alias)))
	wheres = append(wheres, fmt.Sprintf("%s = %s",
		colRef(alias, first.ChildCol), colRef(sc.alias, first.ParentCol)))
	if first.Filter != nil {
		sql, fargs, err := c.compileExpr(scope{model: first.Model, alias: alias}, aliases, first.Filter)
		if err != nil {
			return "", "", nil, err
		}
		wheres = append(wheres, sql)
		args = append(args, fargs...)
	}

	cur := alias
	for _, link := range links[1:] {
		alias = aliases.next()
		sb.WriteString(fmt.Sprintf(" INNER JOIN %s AS %s ON %s = %s",
			quoteIdent(link.Model.StoreName), quoteIdent(alias),
			colRef(alias, link.ChildCol), colRef(cur, link.ParentCol)))
		if link.Filter != nil {
			sql, fargs, err := c.compileExpr(scope{model: link.Model, alias: alias}, aliases, link.Filter)
			if err != nil {
				return "", "", nil, err
			}
			wheres = append(wheres, sql)
			args = append(args, fargs...)
		}
		cur = alias
	}

	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(wheres, " AND "))
	return sb.String(), cur, args, nil
}

// compileAggregate renders a correlated scalar subquery for one aggregate.
// Aggregates always run in SQL, never as an application pass over fetched
// rows, so pagination counts stay correct.
func (c *Compiler) compileAggregate(sc scope, aliases *aliasGen, fn defs.AggregateFunc, hops []querytree.Link, targetCol string) (string, []any, error) {
	sub, lastAlias, args, err := c.correlatedFrom(sc, aliases, hops)
	if err != nil {
		return "", nil, err
	}
	var sel string
	switch fn {
	case defs.AggregateCount:
		sel = "COUNT(*)"
	case defs.AggregateSum:
		sel = fmt.Sprintf("COALESCE(SUM(%s), 0)", colRef(lastAlias, targetCol))
	default:
		return "", nil, fmt.Errorf("unsupported aggregate function %q", fn)
	}
	return fmt.Sprintf("(SELECT %s %s)", sel, sub), args, nil
}

func (c *Compiler) compileBinary(sc scope, aliases *aliasGen, e *defs.BinaryExpr) (string, []any, error) {
	switch e.Op {
	case defs.OpIn, defs.OpNotIn:
		return c.compileMembership(sc, aliases, e)
	}

	left, largs, err := c.compileExpr(sc, aliases, e.Left)
	if err != nil {
		return "", nil, err
	}
	right, rargs, err := c.compileExpr(sc, aliases, e.Right)
	if err != nil {
		return "", nil, err
	}

	// Null comparisons need IS / IS NOT to behave as equality.
	if e.Op == defs.OpIs || e.Op == defs.OpIsNot {
		if right == "NULL" || left == "NULL" {
			operand := left
			if operand == "NULL" {
				operand = right
			}
			if e.Op == defs.OpIs {
				return fmt.Sprintf("(%s IS NULL)", operand), append(largs, rargs...), nil
			}
			return fmt.Sprintf("(%s IS NOT NULL)", operand), append(largs, rargs...), nil
		}
	}

	var op string
	switch e.Op {
	case defs.OpAnd:
		op = "AND"
	case defs.OpOr:
		op = "OR"
	case defs.OpIs:
		op = "="
	case defs.OpIsNot:
		op = "<>"
	case defs.OpLt:
		op = "<"
	case defs.OpLte:
		op = "<="
	case defs.OpGt:
		op = ">"
	case defs.OpGte:
		op = ">="
	case defs.OpAdd:
		op = "+"
	case defs.OpSub:
		op = "-"
	case defs.OpMul:
		op = "*"
	case defs.OpDiv:
		op = "/"
	default:
		return "", nil, fmt.Errorf("unsupported binary operator %q in SQL context", e.Op)
	}
	return fmt.Sprintf("(%s %s %s)", left, op, right), append(largs, rargs...), nil
}

// compileMembership renders in / not in. A member-rooted path on the right
// becomes a correlated subquery; a bound list expands into placeholders.
func (c *Compiler) compileMembership(sc scope, aliases *aliasGen, e *defs.BinaryExpr) (string, []any, error) {
	left, largs, err := c.compileExpr(sc, aliases, e.Left)
	if err != nil {
		return "", nil, err
	}
	not := ""
	if e.Op == defs.OpNotIn {
		not = "NOT "
	}

	if p, ok := e.Right.(*defs.PathExpr); ok {
		if _, isMember := c.graph.Member(sc.model, p.Path[0]); isMember && len(p.Path) > 1 {
			sub, subArgs, err := c.compileSetSubquery(sc, aliases, p.Path)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("(%s %sIN %s)", left, not, sub), append(largs, subArgs...), nil
		}
	}

	rv, rargs, err := c.compileExpr(sc, aliases, e.Right)
	if err != nil {
		return "", nil, err
	}
	// A bound list arrives as one argument; expand it.
	if rv == "?" && len(rargs) == 1 {
		if list, ok := rargs[0].([]any); ok {
			if len(list) == 0 {
				if e.Op == defs.OpNotIn {
					return "(1 = 1)", largs, nil
				}
				return "(1 = 0)", largs, nil
			}
			ph := strings.TrimSuffix(strings.Repeat("?, ", len(list)), ", ")
			return fmt.Sprintf("(%s %sIN (%s))", left, not, ph), append(largs, list...), nil
		}
	}
	return fmt.Sprintf("(%s %sIN (%s))", left, not, rv), append(largs, rargs...), nil
}

// compileSetSubquery renders a to-many path ending in a field as an
// uncorrelated-select over the hop chain, correlated to the scope row.
func (c *Compiler) compileSetSubquery(sc scope, aliases *aliasGen, path []string) (string, []any, error) {
	links, _, _, err := querytree.ResolveLinks(c.graph, sc.model, path[:len(path)-1])
	if err != nil {
		return "", nil, err
	}
	last := links[len(links)-1].Model
	f := last.Field(path[len(path)-1])
	if f == nil {
		return "", nil, fmt.Errorf("cannot resolve %q on model %s", path[len(path)-1], last.Name)
	}
	sub, lastAlias, args, err := c.correlatedFrom(sc, aliases, links)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("(SELECT %s %s)", colRef(lastAlias, f.StoreName), sub), args, nil
}

func (c *Compiler) compileInSubquery(sc scope, aliases *aliasGen, e *defs.InSubqueryExpr) (string, []any, error) {
	needle, nargs, err := c.compileExpr(sc, aliases, e.Needle)
	if err != nil {
		return "", nil, err
	}
	sub, subArgs, err := c.compileSetSubquery(sc, aliases, e.Path)
	if err != nil {
		return "", nil, err
	}
	not := ""
	if e.Negate {
		not = "NOT "
	}
	return fmt.Sprintf("(%s %sIN %s)", needle, not, sub), append(nargs, subArgs...), nil
}

func (c *Compiler) compileFunction(sc scope, aliases *aliasGen, e *defs.FunctionExpr) (string, []any, error) {
	argSQL := make([]string, len(e.Args))
	var args []any
	for i, a := range e.Args {
		sql, aargs, err := c.compileExpr(sc, aliases, a)
		if err != nil {
			return "", nil, err
		}
		argSQL[i] = sql
		args = append(args, aargs...)
	}

	switch e.Name {
	case defs.FnLength:
		return fmt.Sprintf("length(%s)", argSQL[0]), args, nil
	case defs.FnConcat:
		return "(" + strings.Join(argSQL, " || ") + ")", args, nil
	case defs.FnLower:
		return fmt.Sprintf("lower(%s)", argSQL[0]), args, nil
	case defs.FnUpper:
		return fmt.Sprintf("upper(%s)", argSQL[0]), args, nil
	case defs.FnNow:
		return "(CAST(strftime('%s','now') AS INTEGER) * 1000)", args, nil
	case defs.FnStringify:
		return fmt.Sprintf("CAST(%s AS TEXT)", argSQL[0]), args, nil
	case defs.FnCryptoHash, defs.FnCryptoCompare, defs.FnCryptoToken:
		return "", nil, fmt.Errorf("function %q is not expressible in SQL", e.Name)
	default:
		return "", nil, fmt.Errorf("unsupported function %q in SQL context", e.Name)
	}
}
