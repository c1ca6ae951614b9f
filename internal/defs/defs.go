// Package defs holds the resolved Definition type model: models, fields,
// references, relations, queries, aggregates, computed fields, endpoints,
// actions, changesets and expressions.
//
// A Definition is pure data. It arrives fully resolved and type-checked from
// the front end; nothing in this package parses source text. The sealed
// interfaces (TypedExpr, SelectItem, ActionDef, FieldSetter) use unexported
// marker methods so that type switches over them are exhaustive by
// construction - adding a new kind is a compile error at every switch that
// does not handle it.
package defs

// RefKey is a stable, process-wide unique key identifying one definition.
// Model keys are the model name; member keys are "Model.member".
type RefKey string

// ScalarType enumerates the storable scalar field types.
type ScalarType string

const (
	TypeInteger ScalarType = "integer"
	TypeText    ScalarType = "text"
	TypeBoolean ScalarType = "boolean"
	TypeFloat   ScalarType = "float"
)

// OnDelete is the referential action applied when a referenced row is deleted.
type OnDelete string

const (
	OnDeleteSetNull OnDelete = "setNull"
	OnDeleteCascade OnDelete = "cascade"
)

// AggregateFunc enumerates the supported aggregate functions.
type AggregateFunc string

const (
	AggregateCount AggregateFunc = "count"
	AggregateSum   AggregateFunc = "sum"
)

// ModelDef describes one data model. It owns all of its child definitions;
// identity is the RefKey, unique process-wide.
type ModelDef struct {
	RefKey    RefKey
	Name      string
	StoreName string // backing table name, lower snake case

	Fields     []*FieldDef
	References []*ReferenceDef
	Relations  []*RelationDef
	Queries    []*QueryDef
	Aggregates []*AggregateDef
	Computeds  []*ComputedDef
	Hooks      []*ModelHookDef
}

// Field returns the named field, or nil.
func (m *ModelDef) Field(name string) *FieldDef {
	for _, f := range m.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FieldByStoreName returns the field backed by the named column, or nil.
func (m *ModelDef) FieldByStoreName(store string) *FieldDef {
	for _, f := range m.Fields {
		if f.StoreName == store {
			return f
		}
	}
	return nil
}

// Reference returns the named reference, or nil.
func (m *ModelDef) Reference(name string) *ReferenceDef {
	for _, r := range m.References {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Relation returns the named relation, or nil.
func (m *ModelDef) Relation(name string) *RelationDef {
	for _, r := range m.Relations {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Query returns the named query, or nil.
func (m *ModelDef) Query(name string) *QueryDef {
	for _, q := range m.Queries {
		if q.Name == name {
			return q
		}
	}
	return nil
}

// Aggregate returns the named aggregate, or nil.
func (m *ModelDef) Aggregate(name string) *AggregateDef {
	for _, a := range m.Aggregates {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Computed returns the named computed field, or nil.
func (m *ModelDef) Computed(name string) *ComputedDef {
	for _, c := range m.Computeds {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Hook returns the named model hook, or nil.
func (m *ModelDef) Hook(name string) *ModelHookDef {
	for _, h := range m.Hooks {
		if h.Name == name {
			return h
		}
	}
	return nil
}

// PrimaryField returns the model's primary key field.
// Every resolved model has exactly one (the synthetic id).
func (m *ModelDef) PrimaryField() *FieldDef {
	for _, f := range m.Fields {
		if f.Primary {
			return f
		}
	}
	return nil
}

// FieldDef describes one scalar column on a model. A reference's foreign-key
// column is itself represented as a FieldDef.
type FieldDef struct {
	RefKey    RefKey
	ModelRef  RefKey
	Name      string
	StoreName string
	Type      ScalarType
	Primary   bool
	Unique    bool
	Nullable  bool

	Validators []ValidatorDef
}

// ValidatorDef is one value validator attached to a field or fieldset entry.
type ValidatorDef struct {
	Kind  ValidatorKind
	Int   int64  // bound for min/max/minLength/maxLength
	Float float64
}

// ValidatorKind enumerates supported field validators.
type ValidatorKind string

const (
	ValidatorMin       ValidatorKind = "min"
	ValidatorMax       ValidatorKind = "max"
	ValidatorMinLength ValidatorKind = "minLength"
	ValidatorMaxLength ValidatorKind = "maxLength"
	ValidatorIsEmail   ValidatorKind = "isEmail"
)

// ReferenceDef describes a many-to-one edge between two models.
// Exactly one FieldDef backs each reference; FieldRef names it.
type ReferenceDef struct {
	RefKey   RefKey
	ModelRef RefKey
	Name     string

	FieldRef   RefKey // the FK column on the owning model
	ToModelRef RefKey // target model
	ToFieldRef RefKey // target field, always the target's primary key

	Nullable bool
	Unique   bool
	OnDelete OnDelete // empty means restrict (database default)
}

// RelationDef is the inverse view of a reference: the one-to-many (or, when
// the mirrored reference is unique, one-to-one) edge seen from the target
// model. Through names the reference on FromModel that points back here.
type RelationDef struct {
	RefKey   RefKey
	ModelRef RefKey
	Name     string

	FromModel string // model owning the mirrored reference
	Through   string // reference name on FromModel
	Unique    bool   // uniqueness on Through makes this single-valued
}

// QueryDef is a named, reusable path expression from a model: a sequence of
// reference/relation/query hops plus filter, ordering and limit/offset.
// Any hop in FromPath may itself name another QueryDef.
type QueryDef struct {
	RefKey   RefKey
	ModelRef RefKey
	Name     string

	FromPath []string
	Filter   TypedExpr // optional
	OrderBy  []OrderBySpec
	Limit    *int64
	Offset   *int64
}

// OrderBySpec orders query results by one field.
type OrderBySpec struct {
	Field string
	Desc  bool
}

// AggregateDef is a named scalar aggregate over a path from a model.
// For sum, the last TargetPath segment names the field being summed;
// for count, TargetPath addresses the row set being counted.
type AggregateDef struct {
	RefKey   RefKey
	ModelRef RefKey
	Name     string

	Func       AggregateFunc
	TargetPath []string
}

// ComputedDef is a lazily resolved scalar expression over sibling members.
// Dependencies among computed fields within one model must form a DAG;
// graph resolution rejects cycles.
type ComputedDef struct {
	RefKey   RefKey
	ModelRef RefKey
	Name     string
	Type     ScalarType
	Expr     TypedExpr
}

// ModelHookDef is a hook exposed as a selectable member of a model. It is
// not expressible in SQL; query compilation marks it for post-fetch,
// in-process evaluation through the hook runner.
type ModelHookDef struct {
	RefKey   RefKey
	ModelRef RefKey
	Name     string

	Hook HookDef
	Args ChangesetDef
}

// HookDef identifies one externally executed hook. The engine only invokes
// it over the pluggable hook channel and wraps any failure; the execution
// mechanics live outside this module.
type HookDef struct {
	Runtime string // runtime/plugin name, may be empty for the default
	Code    string // opaque hook code or symbol reference
}
