package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/expr"
	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/querysql"
	"github.com/lattice-dev/lattice/internal/querytree"
)

// Queryer abstracts the read side of the store. Both *store.Store and
// *store.Tx satisfy it.
type Queryer interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// HookRunner is the pluggable external code-execution boundary. The engine
// only calls it and wraps failures; execution mechanics live outside.
type HookRunner interface {
	Run(ctx context.Context, hook defs.HookDef, args map[string]any) (any, error)
}

// Runner executes compiled query trees: renders them to SQL, decodes rows
// into the nested response shape, fetches to-many children in batched
// follow-up statements, and evaluates post-fetch hook selects.
//
// Returned row maps keep each node's primary key even when the selection
// did not ask for it; StripHidden removes the extras before a row set
// becomes a response payload.
type Runner struct {
	graph *graph.Graph
	db    Queryer
	env   expr.Env
	hooks HookRunner
}

// NewRunner creates a runner executing against db. env supplies values for
// environment-rooted filter paths; hooks may be nil when the trees carry no
// hook selects.
func NewRunner(g *graph.Graph, db Queryer, env expr.Env, hooks HookRunner) *Runner {
	return &Runner{graph: g, db: db, env: env, hooks: hooks}
}

func (r *Runner) compiler() *querysql.Compiler {
	return querysql.New(r.graph, func(path []string) (any, error) {
		if r.env == nil {
			return nil, fmt.Errorf("unbound path %q", strings.Join(path, "."))
		}
		return r.env.LookupPath(path)
	})
}

// Rows fetches the full row set of a compiled tree.
func (r *Runner) Rows(ctx context.Context, node *querytree.Node) ([]map[string]any, error) {
	stmt, err := r.compiler().CompileSelect(node)
	if err != nil {
		return nil, err
	}
	rows, err := r.runStatement(ctx, node, stmt, false)
	if err != nil {
		return nil, err
	}
	if err := r.fetchChildren(ctx, node, rows); err != nil {
		return nil, err
	}
	if err := r.evalHooks(ctx, node, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// One fetches the first row of a compiled tree, or nil when it is empty.
func (r *Runner) One(ctx context.Context, node *querytree.Node) (map[string]any, error) {
	rows, err := r.Rows(ctx, node)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Count runs the parallel count variant of a compiled tree.
func (r *Runner) Count(ctx context.Context, node *querytree.Node) (int64, error) {
	stmt, err := r.compiler().CompileCount(node)
	if err != nil {
		return 0, err
	}
	rows, err := r.db.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, fmt.Errorf("count query: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, fmt.Errorf("count query returned no row")
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, fmt.Errorf("count query: %w", err)
	}
	return n, rows.Err()
}

// runStatement executes one statement and decodes its rows. When batch is
// set the first output column is the stitch key and each decoded row keeps
// it under stitchKey.
func (r *Runner) runStatement(ctx context.Context, node *querytree.Node, stmt *querysql.Statement, batch bool) ([]map[string]any, error) {
	rows, err := r.db.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", node.Model.Name, err)
	}
	defer rows.Close()

	var out []map[string]any
	vals := make([]any, len(stmt.Cols))
	ptrs := make([]any, len(stmt.Cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", node.Model.Name, err)
		}
		skip := 0
		if batch {
			skip = 1
		}
		row := r.decodeRow(node, stmt.Cols[skip:], vals[skip:])
		if batch {
			row[stitchKey] = normalizeValue(vals[0])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// stitchKey is the transient map key carrying a batch row's parent key.
const stitchKey = "__key"

// decodeRow builds the nested map of one scanned row. Column order follows
// statement layout: each node's hidden primary key opens the node, so the
// parent map always exists before its single-valued children arrive, and a
// NULL child key marks the whole child null.
func (r *Runner) decodeRow(node *querytree.Node, cols []querysql.OutCol, vals []any) map[string]any {
	root := make(map[string]any)
	maps := map[string]map[string]any{"": root}

	for i, c := range cols {
		pathKey := nodePathKey(c.NodePath)
		owner := nodeAt(node, c.NodePath)
		v := normalizeValue(vals[i])

		if c.PK && c.Hidden {
			if len(c.NodePath) > 0 {
				parent := maps[nodePathKey(c.NodePath[:len(c.NodePath)-1])]
				if parent == nil {
					continue
				}
				if v == nil {
					parent[owner.Name] = nil
					continue
				}
				m := make(map[string]any)
				parent[owner.Name] = m
				maps[pathKey] = m
			}
			maps[pathKey][c.Name] = v
			continue
		}

		m := maps[pathKey]
		if m == nil {
			continue
		}
		m[c.Name] = convertValue(owner.Model, c.Name, v)
	}
	return root
}

// fetchChildren loads the to-many children of every node in the tree with
// one batched statement per child, then stitches their rows back into the
// parent maps per parent primary key.
func (r *Runner) fetchChildren(ctx context.Context, node *querytree.Node, rows []map[string]any) error {
	for _, child := range node.Children {
		if child.Card == querytree.CardMany {
			if err := r.fetchManyChild(ctx, node, child, rows); err != nil {
				return err
			}
			continue
		}
		// Single-valued children were joined into the parent statement;
		// recurse into their materialized maps for deeper levels.
		var sub []map[string]any
		for _, row := range rows {
			if m, ok := row[child.Name].(map[string]any); ok {
				sub = append(sub, m)
			}
		}
		if err := r.fetchChildren(ctx, child, sub); err != nil {
			return err
		}
		if err := r.evalHooks(ctx, child, sub); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) fetchManyChild(ctx context.Context, parent, child *querytree.Node, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	if len(child.Links) == 0 {
		return fmt.Errorf("child %q of %s has no join chain", child.Name, parent.Model.Name)
	}
	// The batch key is whatever column the first link joins on: the parent
	// primary key for relations, a foreign-key column for query hops that
	// open with a reference. The parent statement kept it hidden.
	keyField := parent.Model.FieldByStoreName(child.Links[0].ParentCol)
	if keyField == nil {
		return fmt.Errorf("child %q of %s batches on unknown column %q",
			child.Name, parent.Model.Name, child.Links[0].ParentCol)
	}

	var keys []any
	seen := make(map[any]bool)
	for _, row := range rows {
		k := row[keyField.Name]
		if k == nil || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}

	stmt, err := r.compiler().CompileChildBatch(child, keys)
	if err != nil {
		return err
	}
	childRows, err := r.runStatement(ctx, child, stmt, true)
	if err != nil {
		return err
	}

	groups := make(map[any][]map[string]any, len(keys))
	for _, cr := range childRows {
		k := cr[stitchKey]
		delete(cr, stitchKey)
		groups[k] = append(groups[k], cr)
	}

	var kept []map[string]any
	for _, row := range rows {
		group := windowRows(groups[row[keyField.Name]], child.Limit, child.Offset)
		vals := make([]any, len(group))
		for i, g := range group {
			vals[i] = g
		}
		row[child.Name] = vals
		kept = append(kept, group...)
	}

	if err := r.fetchChildren(ctx, child, kept); err != nil {
		return err
	}
	return r.evalHooks(ctx, child, kept)
}

// windowRows applies a child node's per-group limit and offset. The batched
// statement cannot express them per parent key, so they land here.
func windowRows(rows []map[string]any, limit, offset *int64) []map[string]any {
	if offset != nil {
		o := int(*offset)
		if o >= len(rows) {
			return nil
		}
		rows = rows[o:]
	}
	if limit != nil && int64(len(rows)) > *limit {
		rows = rows[:*limit]
	}
	return rows
}

// evalHooks resolves every hook select of a node against its fetched rows.
func (r *Runner) evalHooks(ctx context.Context, node *querytree.Node, rows []map[string]any) error {
	if len(node.Hooks) == 0 {
		return nil
	}
	if r.hooks == nil {
		return fmt.Errorf("model %s selects a hook but no hook runner is configured", node.Model.Name)
	}
	for _, h := range node.Hooks {
		for _, row := range rows {
			scope := &setterScope{
				graph: r.graph,
				db:    r.db,
				env:   rowEnv{row: row, next: r.env},
				hooks: r.hooks,
			}
			args, err := scope.resolveChangeset(ctx, h.Hook.Args)
			if err != nil {
				return fmt.Errorf("hook %q args: %w", h.Name, err)
			}
			v, err := r.hooks.Run(ctx, h.Hook.Hook, args)
			if err != nil {
				return wrapHookError(h.Hook.Hook.Code, err)
			}
			row[h.Name] = v
		}
	}
	return nil
}

// StripHidden removes the keys the runner kept for stitching (primary keys
// and to-many batch columns) from every node whose selection did not
// request them. Call it once a row set becomes a response payload.
func StripHidden(node *querytree.Node, rows []map[string]any) {
	hidden := map[string]bool{node.Model.PrimaryField().Name: true}
	for _, child := range node.Children {
		if child.Card != querytree.CardMany || len(child.Links) == 0 {
			continue
		}
		if f := node.Model.FieldByStoreName(child.Links[0].ParentCol); f != nil {
			hidden[f.Name] = true
		}
	}
	for _, f := range node.Fields {
		delete(hidden, f.Name)
	}
	for _, row := range rows {
		if row == nil {
			continue
		}
		for name := range hidden {
			delete(row, name)
		}
		for _, child := range node.Children {
			switch cv := row[child.Name].(type) {
			case map[string]any:
				StripHidden(child, []map[string]any{cv})
			case []any:
				sub := make([]map[string]any, 0, len(cv))
				for _, el := range cv {
					if m, ok := el.(map[string]any); ok {
						sub = append(sub, m)
					}
				}
				StripHidden(child, sub)
			}
		}
	}
}

// nodeAt walks Children indexes from node down to the owning node.
func nodeAt(node *querytree.Node, path []int) *querytree.Node {
	cur := node
	for _, i := range path {
		cur = cur.Children[i]
	}
	return cur
}

func nodePathKey(path []int) string {
	if len(path) == 0 {
		return ""
	}
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ".")
}

// normalizeValue maps driver values onto the engine's scalar set.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// convertValue applies declared field types the store cannot represent:
// SQLite stores booleans as integers.
func convertValue(m *defs.ModelDef, name string, v any) any {
	if v == nil {
		return nil
	}
	var t defs.ScalarType
	if f := m.Field(name); f != nil {
		t = f.Type
	} else if c := m.Computed(name); c != nil {
		t = c.Type
	} else {
		return v
	}
	if t == defs.TypeBoolean {
		if n, ok := v.(int64); ok {
			return n != 0
		}
	}
	return v
}
