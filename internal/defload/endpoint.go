package defload

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/lattice-dev/lattice/internal/defs"
)

func decodeEndpoint(v cue.Value) (*defs.EndpointDef, error) {
	kind, err := reqString(v, "kind")
	if err != nil {
		return nil, err
	}
	switch defs.EndpointKind(kind) {
	case defs.EndpointList, defs.EndpointGet, defs.EndpointCreate, defs.EndpointUpdate,
		defs.EndpointDelete, defs.EndpointCustomOne, defs.EndpointCustomMany:
	default:
		return nil, &DecodeError{Field: "kind", Message: fmt.Sprintf("unknown endpoint kind %q", kind), Pos: v.Pos()}
	}

	ep := &defs.EndpointDef{Kind: defs.EndpointKind(kind)}

	err = eachListItem(v, "parents", func(tv cue.Value) error {
		t, err := decodeTarget(tv)
		if err != nil {
			return err
		}
		ep.ParentContext = append(ep.ParentContext, t)
		return nil
	})
	if err != nil {
		return nil, err
	}

	targetVal := v.LookupPath(cue.ParsePath("target"))
	if !targetVal.Exists() {
		return nil, &DecodeError{Field: "target", Message: "target is required", Pos: v.Pos()}
	}
	ep.Target, err = decodeTarget(targetVal)
	if err != nil {
		return nil, err
	}

	if av := v.LookupPath(cue.ParsePath("authorize")); av.Exists() {
		ep.Authorize, err = decodeExpr(av)
		if err != nil {
			return nil, err
		}
	}
	ep.Response, err = decodeSelect(v, "response")
	if err != nil {
		return nil, err
	}
	err = eachListItem(v, "actions", func(av cue.Value) error {
		a, err := decodeAction(av)
		if err != nil {
			return err
		}
		ep.Actions = append(ep.Actions, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ep.Fieldset, err = decodeFieldset(v)
	if err != nil {
		return nil, err
	}
	ep.Pageable, err = optBool(v, "pageable")
	if err != nil {
		return nil, err
	}
	ep.OrderBy, err = decodeOrderBy(v)
	if err != nil {
		return nil, err
	}
	ep.Method, err = optString(v, "method")
	if err != nil {
		return nil, err
	}
	ep.Path, err = optString(v, "path")
	if err != nil {
		return nil, err
	}
	return ep, nil
}

func decodeTarget(v cue.Value) (defs.TargetDef, error) {
	model, err := optString(v, "model")
	if err != nil {
		return defs.TargetDef{}, err
	}
	alias, err := optString(v, "alias")
	if err != nil {
		return defs.TargetDef{}, err
	}
	through, err := optString(v, "through")
	if err != nil {
		return defs.TargetDef{}, err
	}
	identify, err := optString(v, "identifyWith")
	if err != nil {
		return defs.TargetDef{}, err
	}
	if model == "" && through == "" {
		return defs.TargetDef{}, &DecodeError{Field: "target", Message: "target needs a model or a through hop", Pos: v.Pos()}
	}
	return defs.TargetDef{Model: model, Alias: alias, Through: through, IdentifyWith: identify}, nil
}

func decodeFieldset(v cue.Value) (*defs.FieldsetDef, error) {
	fv := v.LookupPath(cue.ParsePath("fieldset"))
	if !fv.Exists() {
		return nil, nil
	}
	fs := &defs.FieldsetDef{}
	err := eachListItem(fv, "fields", func(fieldVal cue.Value) error {
		name, err := reqString(fieldVal, "name")
		if err != nil {
			return err
		}
		typ, err := scalarType(fieldVal, "type")
		if err != nil {
			return err
		}
		required, err := optBool(fieldVal, "required")
		if err != nil {
			return err
		}
		nullable, err := optBool(fieldVal, "nullable")
		if err != nil {
			return err
		}
		validators, err := decodeValidators(fieldVal)
		if err != nil {
			return err
		}
		fs.Fields = append(fs.Fields, defs.FieldsetField{
			Name: name, Type: typ,
			Required: required, Nullable: nullable,
			Validators: validators,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// decodeExpr reads one tagged expression object. The tag is the "kind"
// field: literal, path, binary, fn, aggregate or in.
func decodeExpr(v cue.Value) (defs.TypedExpr, error) {
	if !v.Exists() {
		return nil, &DecodeError{Field: "expr", Message: "expression is required", Pos: v.Pos()}
	}
	kind, err := reqString(v, "kind")
	if err != nil {
		return nil, err
	}

	switch kind {
	case "literal":
		typ, err := scalarType(v, "type")
		if err != nil {
			return nil, err
		}
		value, err := scalarValue(v.LookupPath(cue.ParsePath("value")))
		if err != nil {
			return nil, err
		}
		return &defs.LiteralExpr{Type: typ, Value: value}, nil

	case "path":
		path, err := stringList(v, "path")
		if err != nil {
			return nil, err
		}
		if len(path) == 0 {
			return nil, &DecodeError{Field: "path", Message: "path must not be empty", Pos: v.Pos()}
		}
		return &defs.PathExpr{Path: path}, nil

	case "binary":
		op, err := reqString(v, "op")
		if err != nil {
			return nil, err
		}
		if !validBinaryOp(defs.BinaryOp(op)) {
			return nil, &DecodeError{Field: "op", Message: fmt.Sprintf("unknown operator %q", op), Pos: v.Pos()}
		}
		left, err := decodeExpr(v.LookupPath(cue.ParsePath("left")))
		if err != nil {
			return nil, err
		}
		right, err := decodeExpr(v.LookupPath(cue.ParsePath("right")))
		if err != nil {
			return nil, err
		}
		return &defs.BinaryExpr{Op: defs.BinaryOp(op), Left: left, Right: right}, nil

	case "fn":
		name, err := reqString(v, "name")
		if err != nil {
			return nil, err
		}
		fn := defs.FunctionName(name)
		switch fn {
		case defs.FnLength, defs.FnConcat, defs.FnLower, defs.FnUpper, defs.FnNow,
			defs.FnStringify, defs.FnCryptoHash, defs.FnCryptoCompare, defs.FnCryptoToken:
		default:
			return nil, &DecodeError{Field: "name", Message: fmt.Sprintf("unknown function %q", name), Pos: v.Pos()}
		}
		var args []defs.TypedExpr
		err = eachListItem(v, "args", func(av cue.Value) error {
			a, err := decodeExpr(av)
			if err != nil {
				return err
			}
			args = append(args, a)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &defs.FunctionExpr{Name: fn, Args: args}, nil

	case "aggregate":
		fn, err := reqString(v, "func")
		if err != nil {
			return nil, err
		}
		path, err := stringList(v, "path")
		if err != nil {
			return nil, err
		}
		return &defs.AggregateExpr{Func: defs.AggregateFunc(fn), Path: path}, nil

	case "in":
		needle, err := decodeExpr(v.LookupPath(cue.ParsePath("needle")))
		if err != nil {
			return nil, err
		}
		path, err := stringList(v, "path")
		if err != nil {
			return nil, err
		}
		negate, err := optBool(v, "negate")
		if err != nil {
			return nil, err
		}
		return &defs.InSubqueryExpr{Needle: needle, Path: path, Negate: negate}, nil

	default:
		return nil, &DecodeError{Field: "kind", Message: fmt.Sprintf("unknown expression kind %q", kind), Pos: v.Pos()}
	}
}

func validBinaryOp(op defs.BinaryOp) bool {
	switch op {
	case defs.OpAnd, defs.OpOr, defs.OpIs, defs.OpIsNot, defs.OpIn, defs.OpNotIn,
		defs.OpLt, defs.OpLte, defs.OpGt, defs.OpGte,
		defs.OpAdd, defs.OpSub, defs.OpDiv, defs.OpMul:
		return true
	}
	return false
}

// decodeSelect reads a select list. A plain string item is shorthand for
// projecting the named member under its own name.
func decodeSelect(v cue.Value, field string) ([]defs.SelectItem, error) {
	var out []defs.SelectItem
	err := eachListItem(v, field, func(iv cue.Value) error {
		item, err := decodeSelectItem(iv)
		if err != nil {
			return err
		}
		out = append(out, item)
		return nil
	})
	return out, err
}

func decodeSelectItem(v cue.Value) (defs.SelectItem, error) {
	if v.Kind() == cue.StringKind {
		name, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return &defs.SelectExpr{Alias: name, Expr: &defs.PathExpr{Path: []string{name}}}, nil
	}

	alias, err := reqString(v, "alias")
	if err != nil {
		return nil, err
	}
	if nv := v.LookupPath(cue.ParsePath("nested")); nv.Exists() {
		target, err := reqString(nv, "target")
		if err != nil {
			return nil, err
		}
		sub, err := decodeSelect(nv, "select")
		if err != nil {
			return nil, err
		}
		return &defs.SelectNested{Alias: alias, Target: target, Select: sub}, nil
	}
	expr, err := decodeExpr(v.LookupPath(cue.ParsePath("expr")))
	if err != nil {
		return nil, err
	}
	return &defs.SelectExpr{Alias: alias, Expr: expr}, nil
}

func decodeChangeset(v cue.Value, field string) (defs.ChangesetDef, error) {
	var cs defs.ChangesetDef
	err := eachListItem(v, field, func(iv cue.Value) error {
		name, err := reqString(iv, "name")
		if err != nil {
			return err
		}
		setter, err := decodeSetter(iv.LookupPath(cue.ParsePath("set")))
		if err != nil {
			return err
		}
		cs.Items = append(cs.Items, defs.ChangesetItem{Name: name, Setter: setter})
		return nil
	})
	return cs, err
}

// decodeSetter reads one tagged setter object.
func decodeSetter(v cue.Value) (defs.FieldSetter, error) {
	if !v.Exists() {
		return nil, &DecodeError{Field: "set", Message: "setter is required", Pos: v.Pos()}
	}
	kind, err := reqString(v, "kind")
	if err != nil {
		return nil, err
	}

	switch kind {
	case "literal":
		value, err := scalarValue(v.LookupPath(cue.ParsePath("value")))
		if err != nil {
			return nil, err
		}
		return &defs.SetLiteral{Value: value}, nil

	case "reference":
		path, err := stringList(v, "path")
		if err != nil {
			return nil, err
		}
		if len(path) == 0 {
			return nil, &DecodeError{Field: "path", Message: "reference path must not be empty", Pos: v.Pos()}
		}
		return &defs.SetReference{Path: path}, nil

	case "input":
		field, err := reqString(v, "field")
		if err != nil {
			return nil, err
		}
		optional, err := optBool(v, "optional")
		if err != nil {
			return nil, err
		}
		st := &defs.SetInput{Field: field, Optional: optional}
		if dv := v.LookupPath(cue.ParsePath("default")); dv.Exists() {
			st.Default, err = decodeSetter(dv)
			if err != nil {
				return nil, err
			}
		}
		return st, nil

	case "referenceInput":
		field, err := reqString(v, "field")
		if err != nil {
			return nil, err
		}
		reference, err := reqString(v, "reference")
		if err != nil {
			return nil, err
		}
		through, err := reqString(v, "through")
		if err != nil {
			return nil, err
		}
		return &defs.SetReferenceInput{Field: field, Reference: reference, Through: through}, nil

	case "changesetRef":
		name, err := reqString(v, "name")
		if err != nil {
			return nil, err
		}
		return &defs.SetChangesetRef{Name: name}, nil

	case "hook":
		hook, err := decodeHook(v.LookupPath(cue.ParsePath("hook")))
		if err != nil {
			return nil, err
		}
		args, err := decodeChangeset(v, "args")
		if err != nil {
			return nil, err
		}
		return &defs.SetHook{Hook: hook, Args: args}, nil

	case "expr":
		expr, err := decodeExpr(v.LookupPath(cue.ParsePath("expr")))
		if err != nil {
			return nil, err
		}
		return &defs.SetExpr{Expr: expr}, nil

	case "context":
		ck, err := reqString(v, "context")
		if err != nil {
			return nil, err
		}
		switch defs.ContextKind(ck) {
		case defs.ContextAuthToken, defs.ContextRequestBody:
		default:
			return nil, &DecodeError{Field: "context", Message: fmt.Sprintf("unknown context kind %q", ck), Pos: v.Pos()}
		}
		return &defs.SetContext{Kind: defs.ContextKind(ck)}, nil

	case "query":
		model, err := reqString(v, "model")
		if err != nil {
			return nil, err
		}
		st := &defs.SetQuery{Model: model}
		if fv := v.LookupPath(cue.ParsePath("filter")); fv.Exists() {
			st.Filter, err = decodeExpr(fv)
			if err != nil {
				return nil, err
			}
		}
		st.Select, err = decodeSelect(v, "select")
		if err != nil {
			return nil, err
		}
		st.Many, err = optBool(v, "many")
		if err != nil {
			return nil, err
		}
		return st, nil

	case "array":
		st := &defs.SetArray{}
		err := eachListItem(v, "items", func(iv cue.Value) error {
			el, err := decodeSetter(iv)
			if err != nil {
				return err
			}
			st.Items = append(st.Items, el)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return st, nil

	default:
		return nil, &DecodeError{Field: "kind", Message: fmt.Sprintf("unknown setter kind %q", kind), Pos: v.Pos()}
	}
}

// decodeAction reads one tagged action object.
func decodeAction(v cue.Value) (defs.ActionDef, error) {
	kind, err := reqString(v, "kind")
	if err != nil {
		return nil, err
	}

	switch kind {
	case "create-one", "update-one":
		model, err := reqString(v, "model")
		if err != nil {
			return nil, err
		}
		targetPath, err := stringList(v, "targetPath")
		if err != nil {
			return nil, err
		}
		alias, err := optString(v, "alias")
		if err != nil {
			return nil, err
		}
		cs, err := decodeChangeset(v, "changeset")
		if err != nil {
			return nil, err
		}
		sel, err := decodeSelect(v, "select")
		if err != nil {
			return nil, err
		}
		if kind == "create-one" {
			return &defs.CreateOneAction{
				Model: model, TargetPath: targetPath, Alias: alias,
				Changeset: cs, Select: sel,
			}, nil
		}
		return &defs.UpdateOneAction{
			Model: model, TargetPath: targetPath, Alias: alias,
			Changeset: cs, Select: sel,
		}, nil

	case "delete-one":
		model, err := reqString(v, "model")
		if err != nil {
			return nil, err
		}
		targetPath, err := stringList(v, "targetPath")
		if err != nil {
			return nil, err
		}
		return &defs.DeleteOneAction{Model: model, TargetPath: targetPath}, nil

	case "query":
		op, err := reqString(v, "op")
		if err != nil {
			return nil, err
		}
		switch defs.QueryActionOp(op) {
		case defs.QuerySelect, defs.QueryUpdate, defs.QueryDelete:
		default:
			return nil, &DecodeError{Field: "op", Message: fmt.Sprintf("unknown query op %q", op), Pos: v.Pos()}
		}
		model, err := reqString(v, "model")
		if err != nil {
			return nil, err
		}
		act := &defs.QueryAction{Op: defs.QueryActionOp(op), Model: model}
		act.Alias, err = optString(v, "alias")
		if err != nil {
			return nil, err
		}
		if fv := v.LookupPath(cue.ParsePath("filter")); fv.Exists() {
			act.Filter, err = decodeExpr(fv)
			if err != nil {
				return nil, err
			}
		}
		act.Select, err = decodeSelect(v, "select")
		if err != nil {
			return nil, err
		}
		act.Many, err = optBool(v, "many")
		if err != nil {
			return nil, err
		}
		act.Changeset, err = decodeChangeset(v, "changeset")
		if err != nil {
			return nil, err
		}
		return act, nil

	case "execute-hook":
		alias, err := optString(v, "alias")
		if err != nil {
			return nil, err
		}
		hook, err := decodeHook(v.LookupPath(cue.ParsePath("hook")))
		if err != nil {
			return nil, err
		}
		args, err := decodeChangeset(v, "args")
		if err != nil {
			return nil, err
		}
		return &defs.ExecuteHookAction{Alias: alias, Hook: hook, Args: args}, nil

	case "respond":
		body, err := decodeSetter(v.LookupPath(cue.ParsePath("body")))
		if err != nil {
			return nil, err
		}
		act := &defs.RespondAction{Body: body}
		if sv := v.LookupPath(cue.ParsePath("status")); sv.Exists() {
			act.Status, err = decodeSetter(sv)
			if err != nil {
				return nil, err
			}
		}
		err = eachListItem(v, "headers", func(hv cue.Value) error {
			name, err := reqString(hv, "name")
			if err != nil {
				return err
			}
			value, err := decodeSetter(hv.LookupPath(cue.ParsePath("value")))
			if err != nil {
				return err
			}
			act.Headers = append(act.Headers, defs.HeaderDef{Name: name, Value: value})
			return nil
		})
		if err != nil {
			return nil, err
		}
		return act, nil

	case "validate":
		key, err := reqString(v, "key")
		if err != nil {
			return nil, err
		}
		expr, err := decodeExpr(v.LookupPath(cue.ParsePath("expr")))
		if err != nil {
			return nil, err
		}
		return &defs.ValidateAction{Key: key, Expr: expr}, nil

	default:
		return nil, &DecodeError{Field: "kind", Message: fmt.Sprintf("unknown action kind %q", kind), Pos: v.Pos()}
	}
}
