package runtime

import (
	"fmt"
	"strings"

	"github.com/lattice-dev/lattice/internal/defs"
)

// ValidateFieldset checks request input against the endpoint's fieldset:
// required presence, nullability, scalar type and per-field validators.
// Every failing field is reported at once in one ValidationError.
func ValidateFieldset(fs *defs.FieldsetDef, body map[string]any) error {
	if fs == nil {
		return nil
	}

	failures := make(map[string]string)
	for _, f := range fs.Fields {
		v, present := body[f.Name]
		if !present {
			if f.Required {
				failures[f.Name] = "is required"
			}
			continue
		}
		if v == nil {
			if !f.Nullable {
				failures[f.Name] = "must not be null"
			}
			continue
		}
		if msg := checkScalar(f.Type, v); msg != "" {
			failures[f.Name] = msg
			continue
		}
		for _, val := range f.Validators {
			if msg := checkValidator(val, v); msg != "" {
				failures[f.Name] = msg
				break
			}
		}
	}

	if len(failures) > 0 {
		return &ValidationError{Fields: failures}
	}
	return nil
}

func checkScalar(t defs.ScalarType, v any) string {
	switch t {
	case defs.TypeInteger:
		switch n := v.(type) {
		case int64, int:
			return ""
		case float64:
			// JSON numbers decode as float64; whole values are fine.
			if n == float64(int64(n)) {
				return ""
			}
			return "must be an integer"
		}
		return "must be an integer"
	case defs.TypeFloat:
		switch v.(type) {
		case float64, int64, int:
			return ""
		}
		return "must be a number"
	case defs.TypeText:
		if _, ok := v.(string); !ok {
			return "must be a string"
		}
		return ""
	case defs.TypeBoolean:
		if _, ok := v.(bool); !ok {
			return "must be a boolean"
		}
		return ""
	}
	return fmt.Sprintf("unsupported type %q", t)
}

func checkValidator(val defs.ValidatorDef, v any) string {
	switch val.Kind {
	case defs.ValidatorMin:
		if n, ok := asNumber(v); ok && n < float64(val.Int) {
			return fmt.Sprintf("must be at least %d", val.Int)
		}
	case defs.ValidatorMax:
		if n, ok := asNumber(v); ok && n > float64(val.Int) {
			return fmt.Sprintf("must be at most %d", val.Int)
		}
	case defs.ValidatorMinLength:
		if s, ok := v.(string); ok && int64(len(s)) < val.Int {
			return fmt.Sprintf("must be at least %d characters", val.Int)
		}
	case defs.ValidatorMaxLength:
		if s, ok := v.(string); ok && int64(len(s)) > val.Int {
			return fmt.Sprintf("must be at most %d characters", val.Int)
		}
	case defs.ValidatorIsEmail:
		if s, ok := v.(string); ok && !looksLikeEmail(s) {
			return "must be an email address"
		}
	}
	return ""
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// looksLikeEmail applies the same shallow shape check the front end uses:
// one "@" with a dotted domain after it.
func looksLikeEmail(s string) bool {
	at := strings.Index(s, "@")
	if at <= 0 || at == len(s)-1 {
		return false
	}
	domain := s[at+1:]
	dot := strings.Index(domain, ".")
	return dot > 0 && dot < len(domain)-1 && !strings.Contains(domain, "@")
}
