package graph

import (
	"fmt"

	"github.com/lattice-dev/lattice/internal/defs"
)

// Resolve validates raw model definitions into an immutable Graph.
//
// Resolution performs, in order:
//  1. model name and RefKey uniqueness,
//  2. synthetic id primary-key injection on every model,
//  3. member-name uniqueness within each model,
//  4. reference target and backing-field resolution (a missing backing
//     field is synthesized as "<name>_id"),
//  5. relation inversion: through must name a reference on the from-model
//     whose target is the relation's own model,
//  6. query and aggregate path resolution,
//  7. computed-field dependency cycle detection per model.
//
// Any violation aborts construction; no partial graph is returned.
func Resolve(models []*defs.ModelDef) (*Graph, error) {
	g := &Graph{
		models: models,
		byName: make(map[string]*defs.ModelDef, len(models)),
		byRef:  make(map[defs.RefKey]any),
	}

	for _, m := range models {
		if m.Name == "" {
			return nil, &Error{Message: "model with empty name"}
		}
		if _, dup := g.byName[m.Name]; dup {
			return nil, &Error{Model: m.Name, Message: "duplicate model name"}
		}
		if m.RefKey == "" {
			m.RefKey = defs.RefKey(m.Name)
		}
		if m.StoreName == "" {
			m.StoreName = defs.StoreNameOf(m.Name)
		}
		if err := g.register(m.RefKey, m); err != nil {
			return nil, err
		}
		g.byName[m.Name] = m
	}

	for _, m := range models {
		injectPrimaryKey(m)
	}

	for _, m := range models {
		if err := g.resolveModel(m); err != nil {
			return nil, err
		}
	}

	for _, m := range models {
		if err := checkComputedCycles(m); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func (g *Graph) register(key defs.RefKey, def any) error {
	if _, dup := g.byRef[key]; dup {
		return &Error{Message: fmt.Sprintf("duplicate ref key %q", key)}
	}
	g.byRef[key] = def
	return nil
}

// injectPrimaryKey prepends the synthetic id field unless the model already
// declares a primary field.
func injectPrimaryKey(m *defs.ModelDef) {
	for _, f := range m.Fields {
		if f.Primary {
			return
		}
	}
	id := &defs.FieldDef{
		Name:      "id",
		StoreName: "id",
		Type:      defs.TypeInteger,
		Primary:   true,
		Unique:    true,
	}
	m.Fields = append([]*defs.FieldDef{id}, m.Fields...)
}

func (g *Graph) resolveModel(m *defs.ModelDef) error {
	seen := make(map[string]bool)
	claim := func(name string) error {
		if name == "" {
			return &Error{Model: m.Name, Message: "member with empty name"}
		}
		if seen[name] {
			return &Error{Model: m.Name, Member: name, Message: "duplicate member name"}
		}
		seen[name] = true
		return nil
	}

	for _, f := range m.Fields {
		if err := claim(f.Name); err != nil {
			return err
		}
		if f.StoreName == "" {
			f.StoreName = defs.StoreNameOf(f.Name)
		}
		f.ModelRef = m.RefKey
		if f.RefKey == "" {
			f.RefKey = memberKey(m, f.Name)
		}
		if err := g.register(f.RefKey, f); err != nil {
			return err
		}
	}

	for _, r := range m.References {
		if err := claim(r.Name); err != nil {
			return err
		}
		if err := g.resolveReference(m, r); err != nil {
			return err
		}
	}

	for _, rel := range m.Relations {
		if err := claim(rel.Name); err != nil {
			return err
		}
		if err := g.resolveRelation(m, rel); err != nil {
			return err
		}
	}

	for _, q := range m.Queries {
		if err := claim(q.Name); err != nil {
			return err
		}
		q.ModelRef = m.RefKey
		q.RefKey = memberKey(m, q.Name)
		if err := g.register(q.RefKey, q); err != nil {
			return err
		}
	}

	for _, a := range m.Aggregates {
		if err := claim(a.Name); err != nil {
			return err
		}
		a.ModelRef = m.RefKey
		a.RefKey = memberKey(m, a.Name)
		if err := g.register(a.RefKey, a); err != nil {
			return err
		}
		if a.Func != defs.AggregateCount && a.Func != defs.AggregateSum {
			return &Error{Model: m.Name, Member: a.Name,
				Message: fmt.Sprintf("unsupported aggregate function %q", a.Func)}
		}
		if len(a.TargetPath) == 0 {
			return &Error{Model: m.Name, Member: a.Name, Message: "aggregate with empty target path"}
		}
	}

	for _, c := range m.Computeds {
		if err := claim(c.Name); err != nil {
			return err
		}
		c.ModelRef = m.RefKey
		c.RefKey = memberKey(m, c.Name)
		if err := g.register(c.RefKey, c); err != nil {
			return err
		}
	}

	for _, h := range m.Hooks {
		if err := claim(h.Name); err != nil {
			return err
		}
		h.ModelRef = m.RefKey
		h.RefKey = memberKey(m, h.Name)
		if err := g.register(h.RefKey, h); err != nil {
			return err
		}
	}

	return nil
}

// resolveReference wires one many-to-one edge: target model, target primary
// key, and the backing foreign-key field (synthesized when absent).
func (g *Graph) resolveReference(m *defs.ModelDef, r *defs.ReferenceDef) error {
	r.ModelRef = m.RefKey
	if r.RefKey == "" {
		r.RefKey = memberKey(m, r.Name)
	}
	if err := g.register(r.RefKey, r); err != nil {
		return err
	}

	target := g.Model(string(r.ToModelRef))
	if target == nil {
		return &Error{Model: m.Name, Member: r.Name,
			Message: fmt.Sprintf("reference target model %q does not exist", r.ToModelRef)}
	}
	r.ToModelRef = target.RefKey
	pk := target.PrimaryField()
	r.ToFieldRef = pk.RefKey

	fkName := r.Name + "_id"
	fk := m.Field(fkName)
	if fk == nil {
		fk = &defs.FieldDef{
			Name:      fkName,
			StoreName: defs.StoreNameOf(fkName),
			Type:      pk.Type,
			Nullable:  r.Nullable,
			Unique:    r.Unique,
			ModelRef:  m.RefKey,
			RefKey:    memberKey(m, fkName),
		}
		m.Fields = append(m.Fields, fk)
		if err := g.register(fk.RefKey, fk); err != nil {
			return err
		}
	}
	r.FieldRef = fk.RefKey

	if r.OnDelete != "" && r.OnDelete != defs.OnDeleteSetNull && r.OnDelete != defs.OnDeleteCascade {
		return &Error{Model: m.Name, Member: r.Name,
			Message: fmt.Sprintf("unsupported on-delete policy %q", r.OnDelete)}
	}
	return nil
}

// resolveRelation checks the inversion invariant: through must name a
// reference on the from-model pointing back at the relation's own model.
func (g *Graph) resolveRelation(m *defs.ModelDef, rel *defs.RelationDef) error {
	rel.ModelRef = m.RefKey
	rel.RefKey = memberKey(m, rel.Name)
	if err := g.register(rel.RefKey, rel); err != nil {
		return err
	}

	from := g.Model(rel.FromModel)
	if from == nil {
		return &Error{Model: m.Name, Member: rel.Name,
			Message: fmt.Sprintf("relation from-model %q does not exist", rel.FromModel)}
	}
	ref := from.Reference(rel.Through)
	if ref == nil {
		return &Error{Model: m.Name, Member: rel.Name,
			Message: fmt.Sprintf("model %q has no reference %q", rel.FromModel, rel.Through)}
	}
	if string(ref.ToModelRef) != m.Name && ref.ToModelRef != m.RefKey {
		return &Error{Model: m.Name, Member: rel.Name,
			Message: fmt.Sprintf("reference %s.%s targets %q, not %q",
				rel.FromModel, rel.Through, ref.ToModelRef, m.Name)}
	}
	rel.Unique = ref.Unique
	return nil
}

func memberKey(m *defs.ModelDef, name string) defs.RefKey {
	return defs.RefKey(m.Name + "." + name)
}
