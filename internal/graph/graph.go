// Package graph builds and validates the Model Graph: the immutable,
// process-wide view of all models, fields, references, relations, queries,
// aggregates and computed fields.
//
// Resolution runs once at definition-build time. Any violation aborts
// construction; no partial graph is ever returned. The resolved graph is
// read-only afterwards and safe to share across concurrent invocations.
package graph

import (
	"fmt"

	"github.com/lattice-dev/lattice/internal/defs"
)

// Graph is the resolved model graph.
type Graph struct {
	models []*defs.ModelDef
	byName map[string]*defs.ModelDef
	byRef  map[defs.RefKey]any
}

// Models returns the models in declaration order.
func (g *Graph) Models() []*defs.ModelDef {
	return g.models
}

// Model returns the named model, or nil.
func (g *Graph) Model(name string) *defs.ModelDef {
	return g.byName[name]
}

// ModelByRef resolves a model RefKey.
func (g *Graph) ModelByRef(key defs.RefKey) (*defs.ModelDef, error) {
	m, ok := g.byRef[key].(*defs.ModelDef)
	if !ok {
		return nil, fmt.Errorf("unknown model ref %q", key)
	}
	return m, nil
}

// FieldByRef resolves a field RefKey.
func (g *Graph) FieldByRef(key defs.RefKey) (*defs.FieldDef, error) {
	f, ok := g.byRef[key].(*defs.FieldDef)
	if !ok {
		return nil, fmt.Errorf("unknown field ref %q", key)
	}
	return f, nil
}

// Member is the resolved target of one model member name.
// Exactly one of the pointers is set.
type Member struct {
	Field     *defs.FieldDef
	Reference *defs.ReferenceDef
	Relation  *defs.RelationDef
	Query     *defs.QueryDef
	Aggregate *defs.AggregateDef
	Computed  *defs.ComputedDef
	Hook      *defs.ModelHookDef
}

// Member looks up a named member on a model, searching fields, references,
// relations, queries, aggregates, computed fields and hooks in that order.
func (g *Graph) Member(m *defs.ModelDef, name string) (Member, bool) {
	if f := m.Field(name); f != nil {
		return Member{Field: f}, true
	}
	if r := m.Reference(name); r != nil {
		return Member{Reference: r}, true
	}
	if r := m.Relation(name); r != nil {
		return Member{Relation: r}, true
	}
	if q := m.Query(name); q != nil {
		return Member{Query: q}, true
	}
	if a := m.Aggregate(name); a != nil {
		return Member{Aggregate: a}, true
	}
	if c := m.Computed(name); c != nil {
		return Member{Computed: c}, true
	}
	if h := m.Hook(name); h != nil {
		return Member{Hook: h}, true
	}
	return Member{}, false
}

// ReferenceTarget resolves the model a reference points at.
func (g *Graph) ReferenceTarget(r *defs.ReferenceDef) (*defs.ModelDef, error) {
	return g.ModelByRef(r.ToModelRef)
}

// RelationThrough resolves the reference a relation mirrors, along with the
// model that owns it.
func (g *Graph) RelationThrough(rel *defs.RelationDef) (*defs.ModelDef, *defs.ReferenceDef, error) {
	from := g.Model(rel.FromModel)
	if from == nil {
		return nil, nil, fmt.Errorf("relation %q: unknown model %q", rel.Name, rel.FromModel)
	}
	ref := from.Reference(rel.Through)
	if ref == nil {
		return nil, nil, fmt.Errorf("relation %q: model %q has no reference %q", rel.Name, rel.FromModel, rel.Through)
	}
	return from, ref, nil
}
