package defs

// ChangesetDef is an ordered list of named value computations. Items may
// depend on each other in any order; the changeset resolver finds a fixpoint.
type ChangesetDef struct {
	Items []ChangesetItem
}

// ChangesetItem binds one name to the setter that computes its value.
type ChangesetItem struct {
	Name   string
	Setter FieldSetter
}

// Item returns the named item, or nil.
func (c ChangesetDef) Item(name string) *ChangesetItem {
	for i := range c.Items {
		if c.Items[i].Name == name {
			return &c.Items[i]
		}
	}
	return nil
}

// FieldSetter is a sealed interface over the ways one changeset value can be
// computed. Only types in this package implement it.
type FieldSetter interface {
	fieldSetter()
}

// SetLiteral yields a constant value.
type SetLiteral struct {
	Value any
}

func (*SetLiteral) fieldSetter() {}

// SetReference reads a previously bound alias path from the request
// environment, e.g. ["org", "id"].
type SetReference struct {
	Path []string
}

func (*SetReference) fieldSetter() {}

// SetInput reads one field from the validated fieldset input. When the field
// is absent and Optional is set, Default (which may be nil) supplies the
// value instead.
type SetInput struct {
	Field    string
	Optional bool
	Default  FieldSetter
}

func (*SetInput) fieldSetter() {}

// SetReferenceInput resolves a foreign key from fieldset input: the input
// carries the target's Through field value (a unique field), and the setter
// yields the matching row's primary key. A missing match is a validation
// failure on Field, not a generic error.
type SetReferenceInput struct {
	Field     string // fieldset input name
	Reference string // target model of the reference being set
	Through   string // unique field on the target model used for lookup
}

func (*SetReferenceInput) fieldSetter() {}

// SetChangesetRef reads another item of the same changeset by name. This is
// the dependency edge the fixpoint resolver exists for.
type SetChangesetRef struct {
	Name string
}

func (*SetChangesetRef) fieldSetter() {}

// SetHook computes the value by invoking an external hook with its own
// argument changeset.
type SetHook struct {
	Hook HookDef
	Args ChangesetDef
}

func (*SetHook) fieldSetter() {}

// SetExpr evaluates a typed expression against the resolved sibling values
// and the request environment.
type SetExpr struct {
	Expr TypedExpr
}

func (*SetExpr) fieldSetter() {}

// SetContext reads a value from the request context.
type SetContext struct {
	Kind ContextKind
}

func (*SetContext) fieldSetter() {}

// ContextKind enumerates the request-context values a setter can read.
type ContextKind string

const (
	// ContextAuthToken is the authenticated principal's opaque token.
	ContextAuthToken ContextKind = "authToken"
	// ContextRequestBody is the raw (validated) request body.
	ContextRequestBody ContextKind = "requestBody"
)

// SetQuery fetches rows ad hoc: a filter over Model evaluated against the
// current environment, shaped by Select. Many selects a row set; otherwise
// the first row or nil.
type SetQuery struct {
	Model  string
	Filter TypedExpr
	Select []SelectItem
	Many   bool
}

func (*SetQuery) fieldSetter() {}

// SetArray yields an array of element setter results, in order.
type SetArray struct {
	Items []FieldSetter
}

func (*SetArray) fieldSetter() {}
