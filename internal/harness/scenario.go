package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one declarative engine test: a definition document, seed
// rows, and a sequence of endpoint invocations with expectations.
type Scenario struct {
	// Name uniquely identifies the scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description,omitempty"`

	// Definition is the inline CUE Definition document.
	Definition string `yaml:"definition"`

	// Seed rows insert in order before any step runs, so references can
	// point at earlier rows.
	Seed []SeedRow `yaml:"seed,omitempty"`

	// Steps run sequentially against one store.
	Steps []Step `yaml:"steps"`

	// Token is the fixed invocation token. Empty means
	// "test-invocation", keeping golden traces deterministic.
	Token string `yaml:"token,omitempty"`
}

// SeedRow inserts one row directly into a model's table.
type SeedRow struct {
	Model string         `yaml:"model"`
	Row   map[string]any `yaml:"row"`
}

// Step invokes one endpoint of the scenario's definition.
type Step struct {
	// Invoke selects the endpoint by kind and target model (and route
	// path, when one definition carries several custom endpoints).
	Invoke InvokeRef `yaml:"invoke"`

	Path []any          `yaml:"path,omitempty"`
	Body map[string]any `yaml:"body,omitempty"`
	Auth string         `yaml:"auth,omitempty"`

	Page     int64 `yaml:"page,omitempty"`
	PageSize int64 `yaml:"pageSize,omitempty"`

	// Expect validates the step outcome. Nil means the step only has to
	// succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// InvokeRef addresses one endpoint in the definition.
type InvokeRef struct {
	Kind  string `yaml:"kind"`
	Model string `yaml:"model"`
	Path  string `yaml:"path,omitempty"`
}

// Expect is the expected outcome of one step. Body compares by canonical
// JSON equality; Error names the expected error class (notFound, forbidden,
// unauthenticated, validation, business, hook).
type Expect struct {
	Status int    `yaml:"status,omitempty"`
	Body   any    `yaml:"body,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// LoadScenario reads one YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes YAML scenario bytes.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario has no name")
	}
	if sc.Definition == "" {
		return nil, fmt.Errorf("scenario %q has no definition", sc.Name)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", sc.Name)
	}
	return &sc, nil
}
