package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lattice-dev/lattice/internal/defload"
	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/querysql"
	"github.com/lattice-dev/lattice/internal/querytree"
)

// explainStatement is one rendered statement of an endpoint's plan.
type explainStatement struct {
	Name string `json:"name"`
	SQL  string `json:"sql"`
	Args []any  `json:"args,omitempty"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	var route string

	cmd := &cobra.Command{
		Use:   "explain <definition.cue> <kind> <model>",
		Short: "Print the SQL an endpoint compiles to",
		Long: `Compile one endpoint of a definition document and print its SQL plan:
the root statement plus one batched statement per to-many child.
Environment references render as named arguments, never interpolated.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(rootOpts, args[0], args[1], args[2], route, cmd)
		},
	}
	cmd.Flags().StringVar(&route, "route", "", "route path, to disambiguate custom endpoints")

	return cmd
}

func runExplain(opts *RootOptions, path, kind, model, route string, cmd *cobra.Command) error {
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
	g, err := def.Resolve()
	if err != nil {
		formatter.Error("E002", err.Error(), nil)
		return NewExitError(ExitFailure, "definition invalid")
	}

	ep := pickEndpoint(def, kind, model, route)
	if ep == nil {
		formatter.Error("E004", fmt.Sprintf("no endpoint matches %s %s", kind, model), nil)
		return NewExitError(ExitCommandError, "unknown endpoint")
	}

	stmts, err := explainEndpoint(g, ep)
	if err != nil {
		formatter.Error("E003", err.Error(), nil)
		return NewExitError(ExitFailure, "endpoint does not compile")
	}

	if opts.Format == "json" {
		return formatter.Success("", map[string]any{
			"endpoint":   fmt.Sprintf("%s %s", ep.Kind, ep.Target.Model),
			"statements": stmts,
		})
	}
	var b strings.Builder
	for i, st := range stmts {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "-- %s\n%s\n", st.Name, st.SQL)
		if len(st.Args) > 0 {
			fmt.Fprintf(&b, "-- args: %v\n", st.Args)
		}
	}
	return formatter.Success(strings.TrimRight(b.String(), "\n"), nil)
}

func pickEndpoint(def *defload.Definition, kind, model, route string) *defs.EndpointDef {
	for _, ep := range def.Endpoints {
		if string(ep.Kind) != kind || ep.Target.Model != model {
			continue
		}
		if route != "" && ep.Path != route {
			continue
		}
		return ep
	}
	return nil
}

// explainEndpoint compiles the endpoint's read plan the way an invocation
// would: parents pinned by path parameter, the target pinned for
// row-addressing kinds, authorize merged in. Environment references bind
// as symbolic arguments.
func explainEndpoint(g *graph.Graph, ep *defs.EndpointDef) ([]explainStatement, error) {
	identified := false
	switch ep.Kind {
	case defs.EndpointGet, defs.EndpointUpdate, defs.EndpointDelete, defs.EndpointCustomOne:
		identified = true
	}

	steps := make([]querytree.TargetStep, 0, len(ep.ParentContext)+1)
	for i, t := range ep.ParentContext {
		steps = append(steps, explainStep(t, i, len(steps) == 0, true))
	}
	steps = append(steps, explainStep(ep.Target, len(ep.ParentContext), len(steps) == 0, identified))

	node, err := querytree.Compile(g, steps, querytree.Spec{
		Select:    ep.Response,
		Authorize: ep.Authorize,
		OrderBy:   ep.OrderBy,
	})
	if err != nil {
		return nil, err
	}

	comp := querysql.New(g, func(path []string) (any, error) {
		return "$" + strings.Join(path, "."), nil
	})
	root, err := comp.CompileSelect(node)
	if err != nil {
		return nil, err
	}
	stmts := []explainStatement{{Name: "root", SQL: root.SQL, Args: root.Args}}
	return appendChildren(comp, node, "", stmts)
}

// appendChildren renders to-many child batches depth first. Single-valued
// children are already joined into their parent's statement.
func appendChildren(comp *querysql.Compiler, n *querytree.Node, prefix string, stmts []explainStatement) ([]explainStatement, error) {
	for _, child := range n.Children {
		name := child.Name
		if prefix != "" {
			name = prefix + "." + child.Name
		}
		if child.Card == querytree.CardMany {
			st, err := comp.CompileChildBatch(child, []any{"$parent-keys"})
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, explainStatement{Name: name, SQL: st.SQL, Args: st.Args})
		}
		var err error
		stmts, err = appendChildren(comp, child, name, stmts)
		if err != nil {
			return nil, err
		}
	}
	return stmts, nil
}

func explainStep(t defs.TargetDef, paramIndex int, root, identified bool) querytree.TargetStep {
	alias := t.Alias
	if alias == "" {
		alias = defs.StoreNameOf(t.Model)
	}
	step := querytree.TargetStep{Alias: alias}
	if root {
		step.Model = t.Model
	} else {
		step.Through = t.Through
	}
	if identified {
		field := t.IdentifyWith
		if field == "" {
			field = "id"
		}
		step.Filter = &defs.BinaryExpr{
			Op:    defs.OpIs,
			Left:  &defs.PathExpr{Path: []string{field}},
			Right: &defs.PathExpr{Path: []string{"@path", strconv.Itoa(paramIndex)}},
		}
	}
	return step
}
