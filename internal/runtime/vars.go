package runtime

import (
	"fmt"
	"strconv"
)

// Vars is the per-invocation binding environment: alias names mapped to
// rows, row sets or scalars. Bindings are write-once; rebinding a name is a
// logic error in the endpoint definition, never a silent overwrite.
//
// Vars is exclusively owned by one invocation and is not safe for
// concurrent use.
type Vars struct {
	values map[string]any
}

// NewVars creates an empty environment.
func NewVars() *Vars {
	return &Vars{values: make(map[string]any)}
}

// Bind associates name with value. Binding an already-bound name fails.
func (v *Vars) Bind(name string, value any) error {
	if name == "" {
		return fmt.Errorf("bind: empty name")
	}
	if _, exists := v.values[name]; exists {
		return fmt.Errorf("bind: %q is already bound", name)
	}
	v.values[name] = value
	return nil
}

// Has reports whether name is bound.
func (v *Vars) Has(name string) bool {
	_, ok := v.values[name]
	return ok
}

// LookupPath resolves an alias path such as ["org", "id"]: the root names a
// binding, later segments index into row maps (or, for row sets and arrays,
// a decimal element index). Implements expr.Env.
func (v *Vars) LookupPath(path []string) (any, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("lookup: empty path")
	}
	cur, ok := v.values[path[0]]
	if !ok {
		return nil, fmt.Errorf("lookup: %q is not bound", path[0])
	}
	for _, seg := range path[1:] {
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[seg]
			if !ok {
				return nil, fmt.Errorf("lookup: row has no value %q", seg)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil {
				return nil, fmt.Errorf("lookup: %q is not an element index", seg)
			}
			if i < 0 || i >= len(c) {
				return nil, fmt.Errorf("lookup: index %d out of range (%d elements)", i, len(c))
			}
			cur = c[i]
		case nil:
			return nil, fmt.Errorf("lookup: cannot descend %q into null", seg)
		default:
			return nil, fmt.Errorf("lookup: cannot descend %q into scalar %T", seg, cur)
		}
	}
	return cur, nil
}
