// Package changeset resolves ordered lists of named value computations
// whose items may depend on one another in any declaration order.
//
// Resolution is an iterative fixpoint: sweep the pending items, attempt each
// one's compute exactly once per sweep, and stop when a full sweep makes no
// progress. Items that keep failing after a stagnant sweep are reported
// together with their last error. The algorithm is deliberately iterative,
// never recursive, so a true cycle terminates after one stagnant sweep
// instead of looping or overflowing.
package changeset

import (
	"fmt"
	"sort"
	"strings"
)

// Item is one named computation. Compute runs at most once per sweep; a
// returned error parks the item for the next sweep without aborting it.
type Item struct {
	Name    string
	Compute func() (any, error)
}

// Resolved is one successfully computed item.
type Resolved struct {
	Name  string
	Value any
}

// ResolutionError reports the items still failing after resolution
// stagnated, each with the last error its compute returned.
type ResolutionError struct {
	Failed map[string]error
}

func (e *ResolutionError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for n := range e.Failed {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", n, e.Failed[n]))
	}
	return "changeset resolution failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the item errors to errors.Is and errors.As.
func (e *ResolutionError) Unwrap() []error {
	names := make([]string, 0, len(e.Failed))
	for n := range e.Failed {
		names = append(names, n)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, n := range names {
		errs = append(errs, e.Failed[n])
	}
	return errs
}

// Resolve computes every item, sweeping until a fixpoint.
//
// Results are returned in resolution order, not input order: an item that
// resolved on the second sweep follows everything that resolved on the
// first. Callers index results by name.
//
// If a sweep completes without growing the resolved set, the remaining
// items are returned inside a ResolutionError alongside the partial result.
func Resolve(items []Item) ([]Resolved, error) {
	resolved := make([]Resolved, 0, len(items))
	pending := make([]Item, len(items))
	copy(pending, items)
	lastErr := make(map[string]error, len(items))

	for len(pending) > 0 {
		var next []Item
		progressed := false

		for _, it := range pending {
			v, err := it.Compute()
			if err != nil {
				lastErr[it.Name] = err
				next = append(next, it)
				continue
			}
			delete(lastErr, it.Name)
			resolved = append(resolved, Resolved{Name: it.Name, Value: v})
			progressed = true
		}

		if !progressed {
			failed := make(map[string]error, len(next))
			for _, it := range next {
				failed[it.Name] = lastErr[it.Name]
			}
			return resolved, &ResolutionError{Failed: failed}
		}
		pending = next
	}

	return resolved, nil
}
