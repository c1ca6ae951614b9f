package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/lattice-dev/lattice/internal/canon"
)

// snapshot renders a result as canonical JSON. Trace events are plain maps
// already, so only the slice type needs widening.
func snapshot(res *Result) ([]byte, error) {
	trace := make([]any, len(res.Trace))
	for i, ev := range res.Trace {
		trace[i] = ev
	}
	return canon.Marshal(map[string]any{
		"name":  res.Name,
		"trace": trace,
	})
}

// RunGolden runs a scenario and compares its trace against
// testdata/golden/{name}.golden. Regenerate with go test -update.
func RunGolden(t *testing.T, sc *Scenario) {
	t.Helper()

	res, err := Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("run %s: %v", sc.Name, err)
	}
	AssertGolden(t, res)
}

// AssertGolden compares an already-obtained result against its golden file.
func AssertGolden(t *testing.T, res *Result) {
	t.Helper()

	data, err := snapshot(res)
	if err != nil {
		t.Fatalf("snapshot %s: %v", res.Name, err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, res.Name, data)
}
