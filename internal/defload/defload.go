// Package defload decodes a Definition document written in CUE into defs
// values. The document is the serialized Definition itself - models,
// endpoints, expressions - not schema source text; the DSL front end that
// produces it lives outside this module.
package defload

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/graph"
)

// Definition is a decoded document: the model set plus its endpoints.
type Definition struct {
	Models    []*defs.ModelDef
	Endpoints []*defs.EndpointDef
}

// Resolve builds the model graph from the decoded models.
func (d *Definition) Resolve() (*graph.Graph, error) {
	return graph.Resolve(d.Models)
}

// LoadFile reads and decodes one Definition document.
func LoadFile(path string) (*Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	return LoadBytes(path, src)
}

// LoadString decodes a Definition document from source text.
func LoadString(src string) (*Definition, error) {
	return LoadBytes("definition", []byte(src))
}

// LoadBytes decodes a Definition document, attributing errors to filename.
func LoadBytes(filename string, src []byte) (*Definition, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Decode(v)
}

// Decode walks a compiled CUE value holding a Definition document.
func Decode(v cue.Value) (*Definition, error) {
	def := &Definition{}

	modelsVal := v.LookupPath(cue.ParsePath("models"))
	if !modelsVal.Exists() {
		return nil, &DecodeError{Field: "models", Message: "models is required", Pos: v.Pos()}
	}
	iter, err := modelsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		m, err := decodeModel(iter.Value())
		if err != nil {
			return nil, err
		}
		def.Models = append(def.Models, m)
	}
	if len(def.Models) == 0 {
		return nil, &DecodeError{Field: "models", Message: "at least one model is required", Pos: modelsVal.Pos()}
	}

	endpointsVal := v.LookupPath(cue.ParsePath("endpoints"))
	if endpointsVal.Exists() {
		iter, err := endpointsVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			ep, err := decodeEndpoint(iter.Value())
			if err != nil {
				return nil, err
			}
			def.Endpoints = append(def.Endpoints, ep)
		}
	}

	return def, nil
}

// DecodeError is one document decoding failure with its source position.
type DecodeError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *DecodeError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError surfaces the first CUE error with position info.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &DecodeError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}

// Small field accessors shared by the decoders. Optional fields report
// their zero value when absent; required fields raise a DecodeError.

func optString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func reqString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", &DecodeError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optBool(v cue.Value, field string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func optInt(v cue.Value, field string) (int64, bool, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return 0, false, nil
	}
	n, err := f.Int64()
	if err != nil {
		return 0, false, formatCUEError(err)
	}
	return n, true, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return nil, nil
	}
	iter, err := f.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func eachListItem(v cue.Value, field string, fn func(cue.Value) error) error {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return nil
	}
	iter, err := f.List()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func scalarType(v cue.Value, field string) (defs.ScalarType, error) {
	s, err := reqString(v, field)
	if err != nil {
		return "", err
	}
	switch t := defs.ScalarType(s); t {
	case defs.TypeInteger, defs.TypeText, defs.TypeBoolean, defs.TypeFloat:
		return t, nil
	default:
		return "", &DecodeError{Field: field, Message: fmt.Sprintf("unknown scalar type %q", s), Pos: v.Pos()}
	}
}

// scalarValue decodes a concrete CUE scalar into a runtime value.
func scalarValue(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.NullKind:
		return nil, nil
	case cue.StringKind:
		return v.String()
	case cue.IntKind:
		return v.Int64()
	case cue.FloatKind, cue.NumberKind:
		return v.Float64()
	case cue.BoolKind:
		return v.Bool()
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var out []any
		for iter.Next() {
			el, err := scalarValue(iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, el)
		}
		return out, nil
	default:
		return nil, &DecodeError{Field: "value", Message: fmt.Sprintf("unsupported value kind %v", v.Kind()), Pos: v.Pos()}
	}
}
