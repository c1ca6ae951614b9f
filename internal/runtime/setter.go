package runtime

import (
	"context"
	"fmt"

	"github.com/lattice-dev/lattice/internal/changeset"
	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/expr"
	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/querytree"
)

// setterScope carries everything one changeset resolution can reach: the
// graph, the store handle, the request environment, fieldset input and the
// request context values.
type setterScope struct {
	graph *graph.Graph
	db    Queryer
	env   expr.Env
	hooks HookRunner

	input     map[string]any // validated fieldset input; nil outside endpoints
	body      map[string]any // raw request body
	authToken string
}

// rowEnv layers one row's values over an outer environment: paths rooted at
// a key of the row resolve locally, everything else falls through.
type rowEnv struct {
	row  map[string]any
	next expr.Env
}

func (e rowEnv) LookupPath(path []string) (any, error) {
	if len(path) > 0 {
		if v, ok := e.row[path[0]]; ok {
			return descend(v, path[1:])
		}
	}
	if e.next == nil {
		return nil, fmt.Errorf("lookup: %q is not bound", path[0])
	}
	return e.next.LookupPath(path)
}

func descend(v any, rest []string) (any, error) {
	cur := v
	for _, seg := range rest {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("lookup: cannot descend %q into %T", seg, cur)
		}
		cur, ok = m[seg]
		if !ok {
			return nil, fmt.Errorf("lookup: row has no value %q", seg)
		}
	}
	return cur, nil
}

// resolveChangeset runs the fixpoint resolver over a changeset definition
// and returns the resolved name-value map. Sibling references resolve
// through the shared map, so item order in the definition does not matter.
func (s *setterScope) resolveChangeset(ctx context.Context, cs defs.ChangesetDef) (map[string]any, error) {
	resolved := make(map[string]any, len(cs.Items))
	items := make([]changeset.Item, len(cs.Items))
	for i, it := range cs.Items {
		name, setter := it.Name, it.Setter
		items[i] = changeset.Item{
			Name: name,
			Compute: func() (any, error) {
				v, err := s.computeSetter(ctx, setter, resolved)
				if err != nil {
					return nil, err
				}
				// Publish into the shared map so sibling references
				// resolve in later sweeps.
				resolved[name] = v
				return v, nil
			},
		}
	}
	if _, err := changeset.Resolve(items); err != nil {
		return nil, err
	}
	return resolved, nil
}

// computeSetter evaluates one setter kind. siblings holds the values already
// resolved in this changeset; an unresolved sibling reference fails this
// sweep and retries in the next.
func (s *setterScope) computeSetter(ctx context.Context, setter defs.FieldSetter, siblings map[string]any) (any, error) {
	switch st := setter.(type) {
	case *defs.SetLiteral:
		return st.Value, nil

	case *defs.SetReference:
		if s.env == nil {
			return nil, fmt.Errorf("no environment for reference %v", st.Path)
		}
		return s.env.LookupPath(st.Path)

	case *defs.SetInput:
		v, ok := s.input[st.Field]
		if !ok {
			if st.Optional {
				if st.Default == nil {
					return nil, nil
				}
				return s.computeSetter(ctx, st.Default, siblings)
			}
			return nil, &ValidationError{Fields: map[string]string{st.Field: "is required"}}
		}
		return v, nil

	case *defs.SetReferenceInput:
		return s.lookupReferenceInput(ctx, st)

	case *defs.SetChangesetRef:
		v, ok := siblings[st.Name]
		if !ok {
			return nil, fmt.Errorf("changeset value %q is not resolved yet", st.Name)
		}
		return v, nil

	case *defs.SetHook:
		if s.hooks == nil {
			return nil, fmt.Errorf("setter invokes a hook but no hook runner is configured")
		}
		args, err := s.resolveChangeset(ctx, st.Args)
		if err != nil {
			return nil, err
		}
		v, err := s.hooks.Run(ctx, st.Hook, args)
		if err != nil {
			return nil, wrapHookError(st.Hook.Code, err)
		}
		return v, nil

	case *defs.SetExpr:
		return expr.Evaluate(st.Expr, rowEnv{row: siblings, next: s.env})

	case *defs.SetContext:
		switch st.Kind {
		case defs.ContextAuthToken:
			if s.authToken == "" {
				return nil, nil
			}
			return s.authToken, nil
		case defs.ContextRequestBody:
			return s.body, nil
		default:
			return nil, fmt.Errorf("unsupported context kind %q", st.Kind)
		}

	case *defs.SetQuery:
		return s.runSetQuery(ctx, st, siblings)

	case *defs.SetArray:
		out := make([]any, len(st.Items))
		for i, el := range st.Items {
			v, err := s.computeSetter(ctx, el, siblings)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported setter kind %T", setter)
	}
}

// lookupReferenceInput resolves a foreign key from fieldset input: the
// input value matches a unique field on the reference target, and the
// setter yields that row's primary key. No match is a validation failure on
// the input field, not an internal error.
func (s *setterScope) lookupReferenceInput(ctx context.Context, st *defs.SetReferenceInput) (any, error) {
	v, ok := s.input[st.Field]
	if !ok {
		return nil, &ValidationError{Fields: map[string]string{st.Field: "is required"}}
	}

	node, err := querytree.Compile(s.graph, []querytree.TargetStep{{
		Model: st.Reference,
		Filter: &defs.BinaryExpr{
			Op:    defs.OpIs,
			Left:  &defs.PathExpr{Path: []string{st.Through}},
			Right: &defs.LiteralExpr{Value: v},
		},
	}}, querytree.Spec{})
	if err != nil {
		return nil, err
	}
	runner := NewRunner(s.graph, s.db, s.env, s.hooks)
	row, err := runner.One(ctx, node)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, &ValidationError{Fields: map[string]string{st.Field: "does not match any row"}}
	}
	return row[s.graph.Model(st.Reference).PrimaryField().Name], nil
}

// runSetQuery fetches rows ad hoc against the current environment layered
// with the already-resolved siblings.
func (s *setterScope) runSetQuery(ctx context.Context, st *defs.SetQuery, siblings map[string]any) (any, error) {
	node, err := querytree.Compile(s.graph, []querytree.TargetStep{{Model: st.Model}}, querytree.Spec{
		Select: st.Select,
		Filter: st.Filter,
	})
	if err != nil {
		return nil, err
	}
	runner := NewRunner(s.graph, s.db, rowEnv{row: siblings, next: s.env}, s.hooks)
	if st.Many {
		rows, err := runner.Rows(ctx, node)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(rows))
		for i, r := range rows {
			out[i] = r
		}
		return out, nil
	}
	return runner.One(ctx, node)
}
