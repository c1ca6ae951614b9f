package runtime

import (
	"context"
	"fmt"

	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/querytree"
	"github.com/lattice-dev/lattice/internal/store"
)

func (inv *invocation) runAction(ctx context.Context, a defs.ActionDef) error {
	switch act := a.(type) {
	case *defs.CreateOneAction:
		return inv.runCreateOne(ctx, act)
	case *defs.UpdateOneAction:
		return inv.runUpdateOne(ctx, act)
	case *defs.DeleteOneAction:
		return inv.runDeleteOne(ctx, act)
	case *defs.QueryAction:
		return inv.runQuery(ctx, act)
	case *defs.ExecuteHookAction:
		return inv.runExecuteHook(ctx, act)
	case *defs.RespondAction:
		return inv.runRespond(ctx, act)
	case *defs.ValidateAction:
		return fmt.Errorf("validate action is not implemented")
	default:
		return fmt.Errorf("unsupported action type %T", a)
	}
}

func (inv *invocation) runCreateOne(ctx context.Context, act *defs.CreateOneAction) error {
	model := inv.ex.graph.Model(act.Model)
	if model == nil {
		return fmt.Errorf("unknown model %q", act.Model)
	}
	resolved, err := inv.scope.resolveChangeset(ctx, act.Changeset)
	if err != nil {
		return err
	}
	values, err := inv.columnValues(model, resolved)
	if err != nil {
		return err
	}
	if len(act.TargetPath) > 0 {
		if err := inv.applyRelationTarget(model, act.TargetPath, values); err != nil {
			return err
		}
	}

	id, err := inv.tx.Insert(ctx, model, values)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return &ValidationError{Fields: map[string]string{
				model.Name: "violates a unique constraint",
			}}
		}
		return err
	}
	if inv.resultID == nil && act.Model == inv.ep.Target.Model {
		inv.resultID = id
	}
	if act.Alias == "" {
		return nil
	}
	inv.aliasModels[act.Alias] = act.Model
	if idOnlySelect(model, act.Select) {
		return inv.vars.Bind(act.Alias, map[string]any{model.PrimaryField().Name: id})
	}
	row, err := inv.fetchByID(ctx, model, id, act.Select)
	if err != nil {
		return err
	}
	if row == nil {
		return &ResourceNotFoundError{Model: model.Name}
	}
	return inv.vars.Bind(act.Alias, row)
}

func (inv *invocation) runUpdateOne(ctx context.Context, act *defs.UpdateOneAction) error {
	model := inv.ex.graph.Model(act.Model)
	if model == nil {
		return fmt.Errorf("unknown model %q", act.Model)
	}
	id, err := inv.targetRowID(model, act.TargetPath)
	if err != nil {
		return err
	}
	resolved, err := inv.scope.resolveChangeset(ctx, act.Changeset)
	if err != nil {
		return err
	}
	values, err := inv.columnValues(model, resolved)
	if err != nil {
		return err
	}
	if err := inv.tx.Update(ctx, model, id, values); err != nil {
		if store.IsUniqueViolation(err) {
			return &ValidationError{Fields: map[string]string{
				model.Name: "violates a unique constraint",
			}}
		}
		return err
	}
	if inv.resultID == nil && act.Model == inv.ep.Target.Model {
		inv.resultID = id
	}
	if act.Alias == "" {
		return nil
	}
	inv.aliasModels[act.Alias] = act.Model
	if idOnlySelect(model, act.Select) {
		return inv.vars.Bind(act.Alias, map[string]any{model.PrimaryField().Name: id})
	}
	row, err := inv.fetchByID(ctx, model, id, act.Select)
	if err != nil {
		return err
	}
	return inv.vars.Bind(act.Alias, row)
}

func (inv *invocation) runDeleteOne(ctx context.Context, act *defs.DeleteOneAction) error {
	model := inv.ex.graph.Model(act.Model)
	if model == nil {
		return fmt.Errorf("unknown model %q", act.Model)
	}
	id, err := inv.targetRowID(model, act.TargetPath)
	if err != nil {
		return err
	}
	n, err := inv.tx.DeleteByIDs(ctx, model, []any{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return &ResourceNotFoundError{Model: model.Name}
	}
	if inv.resultID == nil && act.Model == inv.ep.Target.Model {
		inv.resultID = id
	}
	return nil
}

// runQuery fetches the matching rows first; for update and delete the
// mutation then applies to exactly that id set.
func (inv *invocation) runQuery(ctx context.Context, act *defs.QueryAction) error {
	model := inv.ex.graph.Model(act.Model)
	if model == nil {
		return fmt.Errorf("unknown model %q", act.Model)
	}
	node, err := querytree.Compile(inv.ex.graph, []querytree.TargetStep{{
		Model:  act.Model,
		Filter: act.Filter,
	}}, querytree.Spec{Select: act.Select})
	if err != nil {
		return err
	}
	rows, err := inv.run.Rows(ctx, node)
	if err != nil {
		return err
	}

	pk := model.PrimaryField().Name
	switch act.Op {
	case defs.QuerySelect:
		// nothing beyond the fetch
	case defs.QueryUpdate:
		resolved, err := inv.scope.resolveChangeset(ctx, act.Changeset)
		if err != nil {
			return err
		}
		values, err := inv.columnValues(model, resolved)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := inv.tx.Update(ctx, model, row[pk], values); err != nil {
				return err
			}
		}
	case defs.QueryDelete:
		ids := make([]any, len(rows))
		for i, row := range rows {
			ids[i] = row[pk]
		}
		if len(ids) > 0 {
			if _, err := inv.tx.DeleteByIDs(ctx, model, ids); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported query op %q", act.Op)
	}

	if act.Alias == "" {
		return nil
	}
	inv.aliasModels[act.Alias] = act.Model
	if act.Many {
		return inv.vars.Bind(act.Alias, rowsAny(rows))
	}
	if len(rows) == 0 {
		return inv.vars.Bind(act.Alias, nil)
	}
	return inv.vars.Bind(act.Alias, rows[0])
}

func (inv *invocation) runExecuteHook(ctx context.Context, act *defs.ExecuteHookAction) error {
	if inv.ex.hooks == nil {
		return fmt.Errorf("no hook runner configured")
	}
	args, err := inv.scope.resolveChangeset(ctx, act.Args)
	if err != nil {
		return err
	}
	v, err := inv.ex.hooks.Run(ctx, act.Hook, args)
	if err != nil {
		return wrapHookError(act.Hook.Code, err)
	}
	if act.Alias == "" {
		return nil
	}
	return inv.vars.Bind(act.Alias, v)
}

// runRespond resolves body, status and each header independently, so a
// header failure surfaces on its own rather than masking the body.
func (inv *invocation) runRespond(ctx context.Context, act *defs.RespondAction) error {
	body, err := inv.scope.computeSetter(ctx, act.Body, map[string]any{})
	if err != nil {
		return err
	}
	status := 200
	if act.Status != nil {
		v, err := inv.scope.computeSetter(ctx, act.Status, map[string]any{})
		if err != nil {
			return err
		}
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("respond status resolved to %T, want integer", v)
		}
		status = int(n)
	}

	var headers map[string][]string
	for _, h := range act.Headers {
		v, err := inv.scope.computeSetter(ctx, h.Value, map[string]any{})
		if err != nil {
			return err
		}
		if headers == nil {
			headers = make(map[string][]string)
		}
		if v == nil {
			delete(headers, h.Name)
			continue
		}
		if list, ok := v.([]any); ok {
			vals := make([]string, len(list))
			for i, item := range list {
				vals[i] = fmt.Sprint(item)
			}
			headers[h.Name] = vals
			continue
		}
		headers[h.Name] = []string{fmt.Sprint(v)}
	}

	inv.resp = &Response{Status: status, Headers: headers, Body: body}
	inv.state = stateResponded
	return nil
}

// columnValues translates a resolved changeset into column values keyed by
// field name. Reference items accept either a bare key or a bound row map,
// in which case the target's primary key is taken. Names matching no model
// member are scratch values and are dropped.
func (inv *invocation) columnValues(m *defs.ModelDef, resolved map[string]any) (map[string]any, error) {
	values := make(map[string]any)
	for name, v := range resolved {
		if f := m.Field(name); f != nil {
			values[f.Name] = v
			continue
		}
		ref := m.Reference(name)
		if ref == nil {
			continue
		}
		fk, err := inv.ex.graph.FieldByRef(ref.FieldRef)
		if err != nil {
			return nil, err
		}
		if row, ok := v.(map[string]any); ok {
			target, err := inv.ex.graph.ReferenceTarget(ref)
			if err != nil {
				return nil, err
			}
			values[fk.Name] = row[target.PrimaryField().Name]
			continue
		}
		values[fk.Name] = v
	}
	return values, nil
}

// applyRelationTarget hangs a new row off a bound parent: the path's head
// segments address the parent row through the environment and the last
// segment names the relation on the parent's model. The relation's foreign
// key column gets the parent's primary key.
func (inv *invocation) applyRelationTarget(child *defs.ModelDef, path []string, values map[string]any) error {
	if len(path) < 2 {
		return fmt.Errorf("relation target path %v needs an alias and a relation", path)
	}
	parentPath, relName := path[:len(path)-1], path[len(path)-1]
	parentModelName, ok := inv.aliasModels[parentPath[0]]
	if !ok {
		return fmt.Errorf("alias %q is not bound to a model", parentPath[0])
	}
	parentModel := inv.ex.graph.Model(parentModelName)
	rel := parentModel.Relation(relName)
	if rel == nil {
		return fmt.Errorf("model %q has no relation %q", parentModelName, relName)
	}
	from, through, err := inv.ex.graph.RelationThrough(rel)
	if err != nil {
		return err
	}
	if from.Name != child.Name {
		return fmt.Errorf("relation %q creates %q rows, not %q", relName, from.Name, child.Name)
	}
	fk, err := inv.ex.graph.FieldByRef(through.FieldRef)
	if err != nil {
		return err
	}
	pk := parentModel.PrimaryField().Name
	v, err := inv.vars.LookupPath(append(parentPath, pk))
	if err != nil {
		return err
	}
	values[fk.Name] = v
	return nil
}

// targetRowID resolves the primary key of the row a mutation addresses. The
// path normally names a bound alias; a longer path may reach the id value
// itself.
func (inv *invocation) targetRowID(m *defs.ModelDef, path []string) (any, error) {
	if len(path) == 0 {
		path = []string{targetAlias(inv.ep.Target)}
	}
	v, err := inv.vars.LookupPath(path)
	if err != nil {
		return nil, err
	}
	if row, ok := v.(map[string]any); ok {
		return row[m.PrimaryField().Name], nil
	}
	return v, nil
}

func (inv *invocation) fetchByID(ctx context.Context, m *defs.ModelDef, id any, sel []defs.SelectItem) (map[string]any, error) {
	node, err := querytree.Compile(inv.ex.graph, []querytree.TargetStep{{
		Model:  m.Name,
		Filter: idFilter(m, id),
	}}, querytree.Spec{Select: sel})
	if err != nil {
		return nil, err
	}
	return inv.run.One(ctx, node)
}

// idOnlySelect reports whether the select names nothing but the primary
// key, in which case the post-insert re-fetch is skipped.
func idOnlySelect(m *defs.ModelDef, sel []defs.SelectItem) bool {
	if len(sel) != 1 {
		return false
	}
	se, ok := sel[0].(*defs.SelectExpr)
	if !ok {
		return false
	}
	p, ok := se.Expr.(*defs.PathExpr)
	return ok && len(p.Path) == 1 && p.Path[0] == m.PrimaryField().Name
}
