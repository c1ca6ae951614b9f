package defload

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/lattice-dev/lattice/internal/defs"
)

func decodeModel(v cue.Value) (*defs.ModelDef, error) {
	name, err := reqString(v, "name")
	if err != nil {
		return nil, err
	}
	m := &defs.ModelDef{Name: name}

	err = eachListItem(v, "fields", func(fv cue.Value) error {
		f, err := decodeField(fv)
		if err != nil {
			return err
		}
		m.Fields = append(m.Fields, f)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachListItem(v, "references", func(rv cue.Value) error {
		r, err := decodeReference(rv)
		if err != nil {
			return err
		}
		m.References = append(m.References, r)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachListItem(v, "relations", func(rv cue.Value) error {
		name, err := reqString(rv, "name")
		if err != nil {
			return err
		}
		from, err := reqString(rv, "from")
		if err != nil {
			return err
		}
		through, err := reqString(rv, "through")
		if err != nil {
			return err
		}
		m.Relations = append(m.Relations, &defs.RelationDef{
			Name: name, FromModel: from, Through: through,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachListItem(v, "queries", func(qv cue.Value) error {
		q, err := decodeQuery(qv)
		if err != nil {
			return err
		}
		m.Queries = append(m.Queries, q)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachListItem(v, "aggregates", func(av cue.Value) error {
		a, err := decodeAggregate(av)
		if err != nil {
			return err
		}
		m.Aggregates = append(m.Aggregates, a)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachListItem(v, "computed", func(cv cue.Value) error {
		name, err := reqString(cv, "name")
		if err != nil {
			return err
		}
		typ, err := scalarType(cv, "type")
		if err != nil {
			return err
		}
		expr, err := decodeExpr(cv.LookupPath(cue.ParsePath("expr")))
		if err != nil {
			return err
		}
		m.Computeds = append(m.Computeds, &defs.ComputedDef{
			Name: name, Type: typ, Expr: expr,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachListItem(v, "hooks", func(hv cue.Value) error {
		name, err := reqString(hv, "name")
		if err != nil {
			return err
		}
		hook, err := decodeHook(hv.LookupPath(cue.ParsePath("hook")))
		if err != nil {
			return err
		}
		args, err := decodeChangeset(hv, "args")
		if err != nil {
			return err
		}
		m.Hooks = append(m.Hooks, &defs.ModelHookDef{
			Name: name, Hook: hook, Args: args,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

func decodeField(v cue.Value) (*defs.FieldDef, error) {
	name, err := reqString(v, "name")
	if err != nil {
		return nil, err
	}
	typ, err := scalarType(v, "type")
	if err != nil {
		return nil, err
	}
	unique, err := optBool(v, "unique")
	if err != nil {
		return nil, err
	}
	nullable, err := optBool(v, "nullable")
	if err != nil {
		return nil, err
	}
	primary, err := optBool(v, "primary")
	if err != nil {
		return nil, err
	}
	validators, err := decodeValidators(v)
	if err != nil {
		return nil, err
	}
	return &defs.FieldDef{
		Name: name, Type: typ,
		Unique: unique, Nullable: nullable, Primary: primary,
		Validators: validators,
	}, nil
}

func decodeReference(v cue.Value) (*defs.ReferenceDef, error) {
	name, err := reqString(v, "name")
	if err != nil {
		return nil, err
	}
	to, err := reqString(v, "to")
	if err != nil {
		return nil, err
	}
	nullable, err := optBool(v, "nullable")
	if err != nil {
		return nil, err
	}
	unique, err := optBool(v, "unique")
	if err != nil {
		return nil, err
	}
	onDelete, err := optString(v, "onDelete")
	if err != nil {
		return nil, err
	}
	switch defs.OnDelete(onDelete) {
	case "", defs.OnDeleteSetNull, defs.OnDeleteCascade:
	default:
		return nil, &DecodeError{Field: "onDelete", Message: fmt.Sprintf("unknown action %q", onDelete), Pos: v.Pos()}
	}
	return &defs.ReferenceDef{
		Name: name, ToModelRef: defs.RefKey(to),
		Nullable: nullable, Unique: unique,
		OnDelete: defs.OnDelete(onDelete),
	}, nil
}

func decodeQuery(v cue.Value) (*defs.QueryDef, error) {
	name, err := reqString(v, "name")
	if err != nil {
		return nil, err
	}
	from, err := stringList(v, "from")
	if err != nil {
		return nil, err
	}
	if len(from) == 0 {
		return nil, &DecodeError{Field: "from", Message: "query path must not be empty", Pos: v.Pos()}
	}
	q := &defs.QueryDef{Name: name, FromPath: from}

	if fv := v.LookupPath(cue.ParsePath("filter")); fv.Exists() {
		q.Filter, err = decodeExpr(fv)
		if err != nil {
			return nil, err
		}
	}
	q.OrderBy, err = decodeOrderBy(v)
	if err != nil {
		return nil, err
	}
	if n, ok, err := optInt(v, "limit"); err != nil {
		return nil, err
	} else if ok {
		q.Limit = &n
	}
	if n, ok, err := optInt(v, "offset"); err != nil {
		return nil, err
	} else if ok {
		q.Offset = &n
	}
	return q, nil
}

func decodeAggregate(v cue.Value) (*defs.AggregateDef, error) {
	name, err := reqString(v, "name")
	if err != nil {
		return nil, err
	}
	fn, err := reqString(v, "func")
	if err != nil {
		return nil, err
	}
	switch defs.AggregateFunc(fn) {
	case defs.AggregateCount, defs.AggregateSum:
	default:
		return nil, &DecodeError{Field: "func", Message: fmt.Sprintf("unknown aggregate %q", fn), Pos: v.Pos()}
	}
	path, err := stringList(v, "path")
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, &DecodeError{Field: "path", Message: "aggregate path must not be empty", Pos: v.Pos()}
	}
	return &defs.AggregateDef{
		Name: name, Func: defs.AggregateFunc(fn), TargetPath: path,
	}, nil
}

func decodeValidators(v cue.Value) ([]defs.ValidatorDef, error) {
	var out []defs.ValidatorDef
	err := eachListItem(v, "validators", func(vv cue.Value) error {
		kind, err := reqString(vv, "kind")
		if err != nil {
			return err
		}
		d := defs.ValidatorDef{Kind: defs.ValidatorKind(kind)}
		switch d.Kind {
		case defs.ValidatorMin, defs.ValidatorMax, defs.ValidatorMinLength, defs.ValidatorMaxLength:
			n, ok, err := optInt(vv, "value")
			if err != nil {
				return err
			}
			if !ok {
				return &DecodeError{Field: "value", Message: kind + " needs a bound", Pos: vv.Pos()}
			}
			d.Int = n
		case defs.ValidatorIsEmail:
		default:
			return &DecodeError{Field: "kind", Message: fmt.Sprintf("unknown validator %q", kind), Pos: vv.Pos()}
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

func decodeOrderBy(v cue.Value) ([]defs.OrderBySpec, error) {
	var out []defs.OrderBySpec
	err := eachListItem(v, "orderBy", func(ov cue.Value) error {
		field, err := reqString(ov, "field")
		if err != nil {
			return err
		}
		desc, err := optBool(ov, "desc")
		if err != nil {
			return err
		}
		out = append(out, defs.OrderBySpec{Field: field, Desc: desc})
		return nil
	})
	return out, err
}

func decodeHook(v cue.Value) (defs.HookDef, error) {
	if !v.Exists() {
		return defs.HookDef{}, &DecodeError{Field: "hook", Message: "hook is required", Pos: v.Pos()}
	}
	runtime, err := optString(v, "runtime")
	if err != nil {
		return defs.HookDef{}, err
	}
	code, err := reqString(v, "code")
	if err != nil {
		return defs.HookDef{}, err
	}
	return defs.HookDef{Runtime: runtime, Code: code}, nil
}
