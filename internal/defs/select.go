package defs

// SelectItem is a sealed interface over the requested output shapes of one
// query-tree node. Only types in this package implement it.
type SelectItem interface {
	selectItem()
}

// SelectExpr projects one scalar expression under Alias. The common case is
// a bare field path; computed fields and arbitrary expressions also land
// here.
type SelectExpr struct {
	Alias string
	Expr  TypedExpr
}

func (*SelectExpr) selectItem() {}

// SelectNested recurses into a related model. Target names the reference,
// relation or query hop on the enclosing model; the child node carries its
// own select list.
type SelectNested struct {
	Alias  string
	Target string
	Select []SelectItem
}

func (*SelectNested) selectItem() {}

// SelectHook projects a model hook's output under Alias. Hooks cannot run
// in SQL; the compiled tree marks them for post-fetch evaluation against
// each fetched row.
type SelectHook struct {
	Alias string
	Hook  *ModelHookDef
}

func (*SelectHook) selectItem() {}
