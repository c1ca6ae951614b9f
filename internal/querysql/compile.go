package querysql

import (
	"fmt"
	"strings"

	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/querytree"
)

// stmtBuilder accumulates one statement's clauses. Arguments are kept per
// clause group so their final order matches placeholder order: select args,
// then join args, then where args, then pagination.
type stmtBuilder struct {
	c       *Compiler
	aliases aliasGen

	selects    []string
	selectArgs []any
	cols       []OutCol

	from     string
	joins    []string
	joinArgs []any

	wheres    []string
	whereArgs []any

	orderBy []string
}

// scope is the expression compilation context: which model and alias
// unqualified paths resolve against.
type scope struct {
	model *defs.ModelDef
	alias string
}

// CompileSelect renders the root statement for a tree: the result model,
// its ancestor scoping chain, its single-valued descendants, aggregates,
// deterministic ordering and pagination.
func (c *Compiler) CompileSelect(n *querytree.Node) (*Statement, error) {
	b := &stmtBuilder{c: c}
	rootAlias := b.aliases.next()
	b.from = fmt.Sprintf("%s AS %s", quoteIdent(n.Model.StoreName), quoteIdent(rootAlias))

	if err := b.joinAncestors(n, rootAlias); err != nil {
		return nil, err
	}
	if n.Filter != nil {
		sql, args, err := c.compileExpr(scope{model: n.Model, alias: rootAlias}, &b.aliases, n.Filter)
		if err != nil {
			return nil, err
		}
		b.wheres = append(b.wheres, sql)
		b.whereArgs = append(b.whereArgs, args...)
	}

	if err := b.selectNode(n, rootAlias, nil); err != nil {
		return nil, err
	}

	if err := b.orderNode(n, rootAlias); err != nil {
		return nil, err
	}

	var tail string
	var tailArgs []any
	if n.Limit != nil {
		tail += " LIMIT ?"
		tailArgs = append(tailArgs, *n.Limit)
		if n.Offset != nil {
			tail += " OFFSET ?"
			tailArgs = append(tailArgs, *n.Offset)
		}
	}

	stmt := b.assemble("SELECT " + strings.Join(b.selects, ", "))
	stmt.SQL += tail
	stmt.Args = append(stmt.Args, tailArgs...)
	return stmt, nil
}

// CompileCount renders the parallel count variant: same joins, same
// filters, same authorize predicates, no selection, no pagination. The
// count therefore matches exactly the rows the unlimited select would
// return, never the unfiltered table size.
func (c *Compiler) CompileCount(n *querytree.Node) (*Statement, error) {
	b := &stmtBuilder{c: c}
	rootAlias := b.aliases.next()
	b.from = fmt.Sprintf("%s AS %s", quoteIdent(n.Model.StoreName), quoteIdent(rootAlias))

	if err := b.joinAncestors(n, rootAlias); err != nil {
		return nil, err
	}
	if n.Filter != nil {
		sql, args, err := c.compileExpr(scope{model: n.Model, alias: rootAlias}, &b.aliases, n.Filter)
		if err != nil {
			return nil, err
		}
		b.wheres = append(b.wheres, sql)
		b.whereArgs = append(b.whereArgs, args...)
	}
	// Single-valued child joins cannot change the row count (INNER is only
	// used for non-nullable references), so the count variant skips them
	// entirely. To-many children never enter the root statement at all.
	return b.assemble("SELECT COUNT(*)"), nil
}

// CompileChildBatch renders the batched statement for one to-many child:
// its rows for every parent key at once, stitch key first, ordered by key
// so the caller can group them back per parent row. Per-group limits are
// the caller's concern during stitching.
func (c *Compiler) CompileChildBatch(child *querytree.Node, parentKeys []any) (*Statement, error) {
	if len(child.Links) == 0 {
		return nil, fmt.Errorf("child %q has no join chain", child.Name)
	}
	b := &stmtBuilder{c: c}
	rootAlias := b.aliases.next()
	b.from = fmt.Sprintf("%s AS %s", quoteIdent(child.Model.StoreName), quoteIdent(rootAlias))

	// Join back up the link chain to the model adjacent to the parent;
	// links[0].ChildCol on that model carries the stitch key.
	links := child.Links
	keyAlias := rootAlias
	cur := rootAlias
	for i := len(links) - 1; i >= 1; i-- {
		up := b.aliases.next()
		b.joins = append(b.joins, fmt.Sprintf("INNER JOIN %s AS %s ON %s = %s",
			quoteIdent(links[i-1].Model.StoreName), quoteIdent(up),
			colRef(up, links[i].ParentCol), colRef(cur, links[i].ChildCol)))
		if links[i-1].Filter != nil {
			sql, args, err := c.compileExpr(scope{model: links[i-1].Model, alias: up}, &b.aliases, links[i-1].Filter)
			if err != nil {
				return nil, err
			}
			b.wheres = append(b.wheres, sql)
			b.whereArgs = append(b.whereArgs, args...)
		}
		cur = up
		keyAlias = up
	}

	keyCol := colRef(keyAlias, links[0].ChildCol)
	b.selects = append(b.selects, keyCol)
	b.cols = append(b.cols, OutCol{Name: "__key", Hidden: true})

	placeholders := "NULL"
	if len(parentKeys) > 0 {
		placeholders = strings.TrimSuffix(strings.Repeat("?, ", len(parentKeys)), ", ")
	}
	b.wheres = append(b.wheres, fmt.Sprintf("%s IN (%s)", keyCol, placeholders))
	b.whereArgs = append(b.whereArgs, parentKeys...)

	if child.Filter != nil {
		sql, args, err := c.compileExpr(scope{model: child.Model, alias: rootAlias}, &b.aliases, child.Filter)
		if err != nil {
			return nil, err
		}
		b.wheres = append(b.wheres, sql)
		b.whereArgs = append(b.whereArgs, args...)
	}

	if err := b.selectNode(child, rootAlias, nil); err != nil {
		return nil, err
	}

	b.orderBy = append(b.orderBy, keyCol+" ASC")
	if err := b.orderNode(child, rootAlias); err != nil {
		return nil, err
	}

	return b.assemble("SELECT " + strings.Join(b.selects, ", ")), nil
}

// joinAncestors renders the upward scoping chain as INNER joins with each
// ancestor's identity and authorize predicates in the WHERE clause.
// Identity filters pin one row per ancestor, so INNER never drops a row it
// should keep.
func (b *stmtBuilder) joinAncestors(n *querytree.Node, rootAlias string) error {
	if len(n.Ancestors) == 0 {
		return nil
	}
	if len(n.Links) != 1 {
		return fmt.Errorf("root node with ancestors must carry exactly one link, got %d", len(n.Links))
	}

	// Walk inner to outer so each join can reference the previous alias.
	aliases := make([]string, len(n.Ancestors))
	inner := rootAlias
	innerLink := &n.Links[0]
	for i := len(n.Ancestors) - 1; i >= 0; i-- {
		anc := n.Ancestors[i]
		alias := b.aliases.next()
		aliases[i] = alias
		b.joins = append(b.joins, fmt.Sprintf("INNER JOIN %s AS %s ON %s = %s",
			quoteIdent(anc.Model.StoreName), quoteIdent(alias),
			colRef(alias, innerLink.ParentCol), colRef(inner, innerLink.ChildCol)))
		inner = alias
		innerLink = anc.Link
	}

	for i, anc := range n.Ancestors {
		if anc.Filter == nil {
			continue
		}
		sql, args, err := b.c.compileExpr(scope{model: anc.Model, alias: aliases[i]}, &b.aliases, anc.Filter)
		if err != nil {
			return err
		}
		b.wheres = append(b.wheres, sql)
		b.whereArgs = append(b.whereArgs, args...)
	}
	return nil
}

// selectNode emits a node's output columns: hidden primary key, fields,
// aggregates, then single-valued children as joins. Many-valued children
// are left for their own batched statements.
func (b *stmtBuilder) selectNode(n *querytree.Node, alias string, nodePath []int) error {
	pk := n.Model.PrimaryField()
	b.selects = append(b.selects, colRef(alias, pk.StoreName))
	b.cols = append(b.cols, OutCol{NodePath: nodePath, Name: pk.Name, Hidden: true, PK: true})

	// A to-many child batches on its first link's parent column. When that
	// is not the primary key (a query hop opening with a reference), the
	// column still has to come back with the row for stitching.
	batchKeys := map[string]bool{pk.StoreName: true}
	for _, child := range n.Children {
		if child.Card != querytree.CardMany || len(child.Links) == 0 {
			continue
		}
		col := child.Links[0].ParentCol
		if batchKeys[col] {
			continue
		}
		f := n.Model.FieldByStoreName(col)
		if f == nil {
			return fmt.Errorf("child %q of %s batches on unknown column %q", child.Name, n.Model.Name, col)
		}
		batchKeys[col] = true
		b.selects = append(b.selects, colRef(alias, col))
		b.cols = append(b.cols, OutCol{NodePath: nodePath, Name: f.Name, Hidden: true})
	}

	sc := scope{model: n.Model, alias: alias}
	for _, f := range n.Fields {
		sql, args, err := b.c.compileExpr(sc, &b.aliases, f.Expr)
		if err != nil {
			return err
		}
		b.selects = append(b.selects, sql)
		b.selectArgs = append(b.selectArgs, args...)
		b.cols = append(b.cols, OutCol{NodePath: nodePath, Name: f.Name})
	}
	for _, agg := range n.Aggregates {
		sql, args, err := b.c.compileAggregate(sc, &b.aliases, agg.Func, agg.Hops, agg.TargetColumn)
		if err != nil {
			return err
		}
		b.selects = append(b.selects, sql)
		b.selectArgs = append(b.selectArgs, args...)
		b.cols = append(b.cols, OutCol{NodePath: nodePath, Name: agg.Name})
	}

	for i, child := range n.Children {
		if child.Card == querytree.CardMany {
			continue
		}
		childAlias, err := b.joinSingle(child, alias)
		if err != nil {
			return err
		}
		childPath := append(append([]int{}, nodePath...), i)
		if err := b.selectNode(child, childAlias, childPath); err != nil {
			return err
		}
	}
	return nil
}

// joinSingle renders the join chain of a single-valued child and returns
// the alias of the child's own table. Link and node filters go into the ON
// clause so a LEFT join never erases the outer row.
func (b *stmtBuilder) joinSingle(child *querytree.Node, parentAlias string) (string, error) {
	kind := "INNER JOIN"
	if child.Join == querytree.JoinLeft {
		kind = "LEFT JOIN"
	}
	cur := parentAlias
	var alias string
	for i := range child.Links {
		link := child.Links[i]
		alias = b.aliases.next()
		on := fmt.Sprintf("%s = %s", colRef(alias, link.ChildCol), colRef(cur, link.ParentCol))
		var onArgs []any
		if link.Filter != nil {
			sql, args, err := b.c.compileExpr(scope{model: link.Model, alias: alias}, &b.aliases, link.Filter)
			if err != nil {
				return "", err
			}
			on += " AND " + sql
			onArgs = append(onArgs, args...)
		}
		if i == len(child.Links)-1 && child.Filter != nil {
			sql, args, err := b.c.compileExpr(scope{model: link.Model, alias: alias}, &b.aliases, child.Filter)
			if err != nil {
				return "", err
			}
			on += " AND " + sql
			onArgs = append(onArgs, args...)
		}
		b.joins = append(b.joins, fmt.Sprintf("%s %s AS %s ON %s",
			kind, quoteIdent(link.Model.StoreName), quoteIdent(alias), on))
		b.joinArgs = append(b.joinArgs, onArgs...)
		cur = alias
	}
	return alias, nil
}

// orderNode appends the node's declared ordering plus the mandatory primary
// key tiebreaker, so every statement is deterministic.
func (b *stmtBuilder) orderNode(n *querytree.Node, alias string) error {
	for _, ob := range n.OrderBy {
		f := n.Model.Field(ob.Field)
		if f == nil {
			return fmt.Errorf("order by: model %s has no field %q", n.Model.Name, ob.Field)
		}
		dir := "ASC"
		if ob.Desc {
			dir = "DESC"
		}
		b.orderBy = append(b.orderBy, fmt.Sprintf("%s %s", colRef(alias, f.StoreName), dir))
	}
	pk := n.Model.PrimaryField()
	b.orderBy = append(b.orderBy, colRef(alias, pk.StoreName)+" ASC")
	return nil
}

func (b *stmtBuilder) assemble(selectClause string) *Statement {
	var sb strings.Builder
	sb.WriteString(selectClause)
	sb.WriteString(" FROM ")
	sb.WriteString(b.from)
	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	if len(b.wheres) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.wheres, " AND "))
	}
	if len(b.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBy, ", "))
	}

	args := make([]any, 0, len(b.selectArgs)+len(b.joinArgs)+len(b.whereArgs))
	args = append(args, b.selectArgs...)
	args = append(args, b.joinArgs...)
	args = append(args, b.whereArgs...)

	return &Statement{SQL: sb.String(), Args: args, Cols: b.cols}
}
