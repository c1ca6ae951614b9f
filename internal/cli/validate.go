package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lattice-dev/lattice/internal/defload"
	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/querytree"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition.cue>",
		Short: "Validate a definition document without running it",
		Long: `Validate a definition document: decode it, resolve the model graph, and
compile every endpoint's query shape. Reports decode errors, unknown
references, computed-field cycles and unresolvable paths without touching
a store.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	def, err := defload.LoadFile(path)
	if err != nil {
		formatter.Error("E001", err.Error(), nil)
		return NewExitError(ExitFailure, "definition invalid")
	}
	formatter.VerboseLog("decoded %d model(s), %d endpoint(s)", len(def.Models), len(def.Endpoints))

	g, err := def.Resolve()
	if err != nil {
		formatter.Error("E002", err.Error(), nil)
		return NewExitError(ExitFailure, "definition invalid")
	}

	for i, ep := range def.Endpoints {
		if err := checkEndpoint(g, ep); err != nil {
			formatter.Error("E003", fmt.Sprintf("endpoint %d (%s %s): %v", i, ep.Kind, ep.Target.Model, err), nil)
			return NewExitError(ExitFailure, "definition invalid")
		}
		formatter.VerboseLog("endpoint %s %s compiles", ep.Kind, ep.Target.Model)
	}

	return formatter.Success(
		fmt.Sprintf("✓ definition valid: %d model(s), %d endpoint(s)", len(def.Models), len(def.Endpoints)),
		map[string]any{"models": len(def.Models), "endpoints": len(def.Endpoints)},
	)
}

// checkEndpoint compiles the endpoint's read shape so path and reference
// mistakes surface at validation time rather than on first invocation.
func checkEndpoint(g *graph.Graph, ep *defs.EndpointDef) error {
	steps := make([]querytree.TargetStep, 0, len(ep.ParentContext)+1)
	for _, t := range ep.ParentContext {
		steps = append(steps, querytree.TargetStep{Model: t.Model, Through: t.Through, Alias: t.Alias})
	}
	steps = append(steps, querytree.TargetStep{
		Model:   ep.Target.Model,
		Through: ep.Target.Through,
		Alias:   ep.Target.Alias,
	})
	_, err := querytree.Compile(g, steps, querytree.Spec{
		Select:    ep.Response,
		Authorize: ep.Authorize,
		OrderBy:   ep.OrderBy,
	})
	return err
}
