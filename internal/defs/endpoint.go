package defs

// EndpointKind discriminates the endpoint shapes.
type EndpointKind string

const (
	EndpointList       EndpointKind = "list"
	EndpointGet        EndpointKind = "get"
	EndpointCreate     EndpointKind = "create"
	EndpointUpdate     EndpointKind = "update"
	EndpointDelete     EndpointKind = "delete"
	EndpointCustomOne  EndpointKind = "custom-one"
	EndpointCustomMany EndpointKind = "custom-many"
)

// Mutating reports whether the endpoint kind runs an action pipeline.
func (k EndpointKind) Mutating() bool {
	switch k {
	case EndpointCreate, EndpointUpdate, EndpointDelete, EndpointCustomOne, EndpointCustomMany:
		return true
	}
	return false
}

// TargetDef is one hop of an endpoint's scoping chain: the model it lands
// on, the alias it binds, and how the row is identified from a path
// parameter. Through names the relation/reference hop from the previous
// target; it is empty on the chain root.
type TargetDef struct {
	Model        string
	Alias        string
	Through      string
	IdentifyWith string // field used to match the path parameter; "id" when empty
}

// EndpointDef is one endpoint specification against the model graph.
//
// ParentContext is the ordered chain of ancestor targets establishing
// scoping (e.g. org -> repo); Target is the endpoint's own model. List and
// custom-many endpoints bind no single target row.
type EndpointDef struct {
	Kind EndpointKind

	ParentContext []TargetDef
	Target        TargetDef

	Authorize TypedExpr // optional; pushed into the target query
	Response  []SelectItem

	Actions  []ActionDef   // mutating kinds only
	Fieldset *FieldsetDef  // externally validated input shape
	Pageable bool          // list endpoints only
	OrderBy  []OrderBySpec // list endpoints only

	// Custom endpoints carry their route fragment and method.
	Method string
	Path   string
}

// FieldsetDef is the validated shape of request input for a mutating
// endpoint. Validation happens before any action runs and reports all
// failures at once, keyed per field.
type FieldsetDef struct {
	Fields []FieldsetField
}

// FieldsetField describes one accepted input value.
type FieldsetField struct {
	Name       string
	Type       ScalarType
	Required   bool
	Nullable   bool
	Validators []ValidatorDef
}

// Field returns the named fieldset entry, or nil.
func (f *FieldsetDef) Field(name string) *FieldsetField {
	if f == nil {
		return nil
	}
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i]
		}
	}
	return nil
}

// ActionDef is a sealed interface over the executable step kinds of an
// endpoint's pipeline. Only types in this package implement it.
type ActionDef interface {
	actionDef()
}

// CreateOneAction inserts one row.
//
// TargetPath addresses where the new row hangs: empty for the endpoint
// target model itself, or an alias path reaching a relation. Alias, when
// non-empty, binds the created row for later steps; Select is the shape to
// re-fetch after the insert (an id-only select skips the re-fetch).
type CreateOneAction struct {
	Model      string
	TargetPath []string
	Alias      string
	Changeset  ChangesetDef
	Select     []SelectItem
}

func (*CreateOneAction) actionDef() {}

// UpdateOneAction updates the single row addressed by TargetPath.
type UpdateOneAction struct {
	Model      string
	TargetPath []string
	Alias      string
	Changeset  ChangesetDef
	Select     []SelectItem
}

func (*UpdateOneAction) actionDef() {}

// DeleteOneAction deletes the single row addressed by TargetPath.
// No alias, no re-fetch.
type DeleteOneAction struct {
	Model      string
	TargetPath []string
}

func (*DeleteOneAction) actionDef() {}

// QueryActionOp discriminates the ad-hoc query action flavors.
type QueryActionOp string

const (
	QuerySelect QueryActionOp = "select"
	QueryUpdate QueryActionOp = "update"
	QueryDelete QueryActionOp = "delete"
)

// QueryAction compiles and runs an ad-hoc query against the current
// environment. For update and delete the mutation applies to exactly the
// fetched id set, never to an independently re-derived condition.
type QueryAction struct {
	Op     QueryActionOp
	Model  string
	Alias  string
	Filter TypedExpr
	Select []SelectItem
	Many   bool

	// Changeset supplies the new values for QueryUpdate.
	Changeset ChangesetDef
}

func (*QueryAction) actionDef() {}

// ExecuteHookAction invokes an external hook with a resolved argument
// changeset and binds its result to Alias. Only valid inside an endpoint.
type ExecuteHookAction struct {
	Alias string
	Hook  HookDef
	Args  ChangesetDef
}

func (*ExecuteHookAction) actionDef() {}

// HeaderDef computes one response header. A nil resolved value removes the
// header; an array value sets it multi-valued.
type HeaderDef struct {
	Name  string
	Value FieldSetter
}

// RespondAction constructs the response explicitly. Body, Status and the
// header values resolve as independent changesets so a header failure does
// not mask the body. At most one action per endpoint responds; the
// Definition builder enforces that, not the executor.
type RespondAction struct {
	Body    FieldSetter
	Status  FieldSetter // optional; 200 when nil
	Headers []HeaderDef
}

func (*RespondAction) actionDef() {}

// ValidateAction asserts an expression mid-pipeline. Present in the type
// model as an extension point; execution is not implemented yet.
type ValidateAction struct {
	Key  string
	Expr TypedExpr
}

func (*ValidateAction) actionDef() {}
