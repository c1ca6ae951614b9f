package harness_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/harness"
)

func loadScenario(t *testing.T, path string) *harness.Scenario {
	t.Helper()
	sc, err := harness.LoadScenario(path)
	require.NoError(t, err)
	return sc
}

func TestScenario_OrgRead(t *testing.T) {
	harness.RunGolden(t, loadScenario(t, "testdata/org_read.yaml"))
}

func TestScenario_RepoCreate(t *testing.T) {
	harness.RunGolden(t, loadScenario(t, "testdata/repo_create.yaml"))
}

func TestRun_UnknownSeedModel(t *testing.T) {
	sc := loadScenario(t, "testdata/org_read.yaml")
	sc.Seed = append(sc.Seed, harness.SeedRow{Model: "Ghost", Row: map[string]any{"x": 1}})

	_, err := harness.Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown model "Ghost"`)
}

func TestRun_ExpectationMismatch(t *testing.T) {
	sc := loadScenario(t, "testdata/org_read.yaml")
	sc.Steps[0].Expect.Status = 418

	_, err := harness.Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected status 418, got 200")
}

func TestRun_UnknownEndpoint(t *testing.T) {
	sc := loadScenario(t, "testdata/org_read.yaml")
	sc.Steps[0].Invoke.Kind = "delete"

	_, err := harness.Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no endpoint matches delete Org")
}

func TestParseScenario_Errors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"no name", "definition: x\nsteps: [{}]", "no name"},
		{"no definition", "name: a\nsteps: [{}]", "no definition"},
		{"no steps", "name: a\ndefinition: x", "no steps"},
		{"bad yaml", "name: [unterminated", "parse scenario"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := harness.ParseScenario([]byte(tc.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
