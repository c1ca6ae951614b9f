// Package harness runs declarative engine scenarios: YAML files that pair
// a Definition document with seed rows and a script of endpoint
// invocations. Every scenario runs against a fresh in-memory store with a
// fixed invocation token, so traces are deterministic and can be compared
// against golden files.
package harness

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lattice-dev/lattice/internal/canon"
	"github.com/lattice-dev/lattice/internal/defload"
	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/runtime"
	"github.com/lattice-dev/lattice/internal/store"
	"github.com/lattice-dev/lattice/internal/testutil"
)

// Result is one scenario's observed trace.
type Result struct {
	Name  string
	Trace []map[string]any
}

// Run executes the scenario from scratch: compile the definition, open an
// in-memory store, seed it, and play every step in order. A step whose
// expectation fails stops the run with an error; engine errors a step
// expects are recorded in the trace instead.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	def, err := defload.LoadString(sc.Definition)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	g, err := def.Resolve()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: resolve: %w", sc.Name, err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, err
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx, g); err != nil {
		return nil, fmt.Errorf("scenario %s: schema: %w", sc.Name, err)
	}
	if err := seed(ctx, st, g, sc.Seed); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	token := sc.Token
	if token == "" {
		token = "test-invocation"
	}
	ex := runtime.NewExecutor(g, st, runtime.Config{
		Tokens: testutil.NewFixedTokens(token),
	})
	clock := testutil.NewSeqClock()

	res := &Result{Name: sc.Name}
	for i, step := range sc.Steps {
		ep, err := findEndpoint(def, step.Invoke)
		if err != nil {
			return nil, fmt.Errorf("scenario %s step %d: %w", sc.Name, i, err)
		}
		event := map[string]any{
			"seq":      clock.Next(),
			"endpoint": fmt.Sprintf("%s %s", ep.Kind, ep.Target.Model),
		}
		resp, err := ex.Execute(ctx, ep, runtime.Request{
			PathParams: step.Path,
			Body:       step.Body,
			AuthToken:  step.Auth,
			Page:       step.Page,
			PageSize:   step.PageSize,
		})
		if err != nil {
			event["error"] = classify(err)
		} else {
			event["status"] = resp.Status
			if body, err := jsonAny(resp.Body); err != nil {
				return nil, fmt.Errorf("scenario %s step %d: encode body: %w", sc.Name, i, err)
			} else if body != nil {
				event["body"] = body
			}
			if len(resp.Headers) > 0 {
				event["headers"] = headerMap(resp.Headers)
			}
		}
		res.Trace = append(res.Trace, event)

		if cerr := checkExpect(step.Expect, resp, err); cerr != nil {
			return nil, fmt.Errorf("scenario %s step %d: %w", sc.Name, i, cerr)
		}
	}
	return res, nil
}

// seed inserts the scenario's rows inside one transaction, in file order,
// so later rows can carry foreign keys of earlier ones.
func seed(ctx context.Context, st *store.Store, g *graph.Graph, rows []SeedRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := st.Begin(ctx)
	if err != nil {
		return err
	}
	for i, r := range rows {
		m := g.Model(r.Model)
		if m == nil {
			tx.Rollback()
			return fmt.Errorf("seed %d: unknown model %q", i, r.Model)
		}
		if _, err := tx.Insert(ctx, m, r.Row); err != nil {
			tx.Rollback()
			return fmt.Errorf("seed %d (%s): %w", i, r.Model, err)
		}
	}
	return tx.Commit()
}

// findEndpoint resolves an invoke reference against the definition's
// endpoints. Kind and target model must match; a route path narrows the
// match when a definition carries several customs on one model.
func findEndpoint(def *defload.Definition, ref InvokeRef) (*defs.EndpointDef, error) {
	for _, ep := range def.Endpoints {
		if string(ep.Kind) != ref.Kind || ep.Target.Model != ref.Model {
			continue
		}
		if ref.Path != "" && ep.Path != ref.Path {
			continue
		}
		return ep, nil
	}
	return nil, fmt.Errorf("no endpoint matches %s %s", ref.Kind, ref.Model)
}

// classify maps an engine error onto its scenario-facing class.
func classify(err error) string {
	switch {
	case runtime.IsNotFound(err):
		return "notFound"
	case runtime.IsForbidden(err):
		return "forbidden"
	case runtime.IsUnauthenticated(err):
		return "unauthenticated"
	case runtime.IsValidation(err):
		return "validation"
	case runtime.IsBusiness(err):
		return "business"
	case runtime.IsHookError(err):
		return "hook"
	default:
		return "internal"
	}
}

// jsonAny reprojects a response body through JSON so the trace holds only
// the plain types canonical encoding accepts.
func jsonAny(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func headerMap(h map[string][]string) map[string]any {
	out := make(map[string]any, len(h))
	for name, values := range h {
		vs := make([]any, len(values))
		for i, v := range values {
			vs[i] = v
		}
		out[name] = vs
	}
	return out
}

// checkExpect validates a step outcome against its expectation. Bodies
// compare by canonical JSON, so map ordering and numeric spellings do not
// produce spurious mismatches.
func checkExpect(exp *Expect, resp *runtime.Response, err error) error {
	if exp == nil {
		if err != nil {
			return fmt.Errorf("unexpected error: %w", err)
		}
		return nil
	}
	if exp.Error != "" {
		if err == nil {
			return fmt.Errorf("expected %s error, got status %d", exp.Error, resp.Status)
		}
		if got := classify(err); got != exp.Error {
			return fmt.Errorf("expected %s error, got %s: %w", exp.Error, got, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("unexpected error: %w", err)
	}
	if exp.Status != 0 && resp.Status != exp.Status {
		return fmt.Errorf("expected status %d, got %d", exp.Status, resp.Status)
	}
	if exp.Body != nil {
		want, err := canonJSON(exp.Body)
		if err != nil {
			return fmt.Errorf("encode expected body: %w", err)
		}
		got, err := canonJSON(resp.Body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		if want != got {
			return fmt.Errorf("body mismatch\nwant: %s\ngot:  %s", want, got)
		}
	}
	return nil
}

func canonJSON(v any) (string, error) {
	plain, err := jsonAny(v)
	if err != nil {
		return "", err
	}
	b, err := canon.Marshal(plain)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
