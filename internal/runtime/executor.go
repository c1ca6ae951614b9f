package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/lattice-dev/lattice/internal/defs"
	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/querytree"
	"github.com/lattice-dev/lattice/internal/store"
)

// Request carries one endpoint invocation's external input: path
// parameters in target-chain order, the JSON request body, and the
// authenticated principal's opaque token (empty when unauthenticated).
type Request struct {
	PathParams []any
	Body       map[string]any
	AuthToken  string

	// Page and PageSize select the window of a pageable list. Zero values
	// mean the first page of fifty rows.
	Page     int64
	PageSize int64
}

// Response is the invocation result: status, headers and the shaped body.
type Response struct {
	Status  int
	Headers map[string][]string
	Body    any
}

// PageEnvelope wraps a pageable list body.
type PageEnvelope struct {
	Page       int64 `json:"page"`
	PageSize   int64 `json:"pageSize"`
	TotalPages int64 `json:"totalPages"`
	TotalCount int64 `json:"totalCount"`
	Data       []any `json:"data"`
}

const defaultPageSize = 50

// invocationState tracks one invocation through its lifecycle.
type invocationState int

const (
	stateIdle invocationState = iota
	stateRunning
	stateResponded
	stateCommitted
	stateRolledBack
)

// Executor runs endpoint invocations against one store. It holds no
// mutable cross-request state; the graph is read-only and every invocation
// owns its Vars and transaction exclusively.
type Executor struct {
	graph  *graph.Graph
	store  *store.Store
	hooks  HookRunner
	tokens TokenSource
	log    *slog.Logger
}

// Config carries the executor's optional collaborators.
type Config struct {
	Hooks  HookRunner
	Tokens TokenSource
	Logger *slog.Logger
}

// NewExecutor creates an executor over a resolved graph and an opened
// store whose schema matches the graph.
func NewExecutor(g *graph.Graph, st *store.Store, cfg Config) *Executor {
	if cfg.Tokens == nil {
		cfg.Tokens = UUIDTokens{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		graph:  g,
		store:  st,
		hooks:  cfg.Hooks,
		tokens: cfg.Tokens,
		log:    cfg.Logger,
	}
}

// Execute runs one endpoint invocation. Read-only kinds (get, list) run
// without a transaction; mutating kinds run their whole action pipeline
// inside exactly one, committed only after the last step.
func (e *Executor) Execute(ctx context.Context, ep *defs.EndpointDef, req Request) (*Response, error) {
	token := e.tokens.Generate()
	log := e.log.With(
		slog.String("invocation", token),
		slog.String("kind", string(ep.Kind)),
		slog.String("model", ep.Target.Model),
	)
	log.Debug("invocation started")

	if ep.Kind.Mutating() {
		if err := ValidateFieldset(ep.Fieldset, req.Body); err != nil {
			log.Debug("fieldset rejected", slog.String("error", err.Error()))
			return nil, err
		}
	}

	vars := NewVars()
	if err := vars.Bind("@path", req.PathParams); err != nil {
		return nil, err
	}
	if err := vars.Bind("@input", anyMap(req.Body)); err != nil {
		return nil, err
	}
	var auth any
	if req.AuthToken != "" {
		auth = req.AuthToken
	}
	if err := vars.Bind("@auth", auth); err != nil {
		return nil, err
	}

	switch ep.Kind {
	case defs.EndpointGet:
		return e.executeGet(ctx, ep, req, vars)
	case defs.EndpointList:
		return e.executeList(ctx, ep, req, vars)
	case defs.EndpointCreate, defs.EndpointUpdate, defs.EndpointDelete,
		defs.EndpointCustomOne, defs.EndpointCustomMany:
		return e.executeMutation(ctx, ep, req, vars, log)
	default:
		return nil, fmt.Errorf("unsupported endpoint kind %q", ep.Kind)
	}
}

func anyMap(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// targetSteps builds the query target chain for an endpoint: every parent
// context hop pinned to its path parameter, plus optionally the endpoint's
// own target (pinned when identified is set).
func targetSteps(ep *defs.EndpointDef, includeTarget, identified bool) []querytree.TargetStep {
	var steps []querytree.TargetStep
	for i, t := range ep.ParentContext {
		steps = append(steps, targetStep(t, i, len(steps) == 0, true))
	}
	if includeTarget {
		steps = append(steps, targetStep(ep.Target, len(ep.ParentContext), len(steps) == 0, identified))
	}
	return steps
}

func targetStep(t defs.TargetDef, paramIndex int, root, identified bool) querytree.TargetStep {
	step := querytree.TargetStep{Alias: targetAlias(t)}
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

func targetAlias(t defs.TargetDef) string {
	if t.Alias != "" {
		return t.Alias
	}
	return defs.StoreNameOf(t.Model)
}

// fetchAuthorized runs a target query and classifies an empty result:
// the row is absent (not found), or present but rejected by authorize
// (forbidden with a principal, unauthenticated without one).
func (e *Executor) fetchAuthorized(ctx context.Context, r *Runner, steps []querytree.TargetStep,
	sel []defs.SelectItem, authorize defs.TypedExpr, model string, token string) (map[string]any, *querytree.Node, error) {

	node, err := querytree.Compile(e.graph, steps, querytree.Spec{Select: sel, Authorize: authorize})
	if err != nil {
		return nil, nil, err
	}
	row, err := r.One(ctx, node)
	if err != nil {
		return nil, nil, err
	}
	if row != nil {
		return row, node, nil
	}
	if authorize != nil {
		bare, err := querytree.Compile(e.graph, steps, querytree.Spec{Select: sel})
		if err != nil {
			return nil, nil, err
		}
		exists, err := r.One(ctx, bare)
		if err != nil {
			return nil, nil, err
		}
		if exists != nil {
			if token == "" {
				return nil, nil, &UnauthenticatedError{}
			}
			return nil, nil, &ForbiddenError{Model: model}
		}
	}
	return nil, nil, &ResourceNotFoundError{Model: model}
}

func (e *Executor) executeGet(ctx context.Context, ep *defs.EndpointDef, req Request, vars *Vars) (*Response, error) {
	r := NewRunner(e.graph, e.store, vars, e.hooks)
	steps := targetSteps(ep, true, true)
	row, node, err := e.fetchAuthorized(ctx, r, steps, ep.Response, ep.Authorize, ep.Target.Model, req.AuthToken)
	if err != nil {
		return nil, err
	}
	StripHidden(node, []map[string]any{row})
	return &Response{Status: 200, Body: row}, nil
}

func (e *Executor) executeList(ctx context.Context, ep *defs.EndpointDef, req Request, vars *Vars) (*Response, error) {
	r := NewRunner(e.graph, e.store, vars, e.hooks)
	steps := targetSteps(ep, true, false)

	spec := querytree.Spec{
		Select:    ep.Response,
		Authorize: ep.Authorize,
		OrderBy:   ep.OrderBy,
	}

	if !ep.Pageable {
		node, err := querytree.Compile(e.graph, steps, spec)
		if err != nil {
			return nil, err
		}
		rows, err := r.Rows(ctx, node)
		if err != nil {
			return nil, err
		}
		StripHidden(node, rows)
		return &Response{Status: 200, Body: rowsAny(rows)}, nil
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	limit := pageSize
	offset := (page - 1) * pageSize
	spec.Limit = &limit
	spec.Offset = &offset

	node, err := querytree.Compile(e.graph, steps, spec)
	if err != nil {
		return nil, err
	}
	rows, err := r.Rows(ctx, node)
	if err != nil {
		return nil, err
	}
	total, err := r.Count(ctx, node)
	if err != nil {
		return nil, err
	}
	StripHidden(node, rows)

	totalPages := total / pageSize
	if total%pageSize != 0 {
		totalPages++
	}
	return &Response{Status: 200, Body: &PageEnvelope{
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		TotalCount: total,
		Data:       rowsAny(rows),
	}}, nil
}

func rowsAny(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

// invocation is the per-request execution state of a mutating endpoint.
type invocation struct {
	ex    *Executor
	ep    *defs.EndpointDef
	req   Request
	log   *slog.Logger
	vars  *Vars
	tx    *store.Tx
	run   *Runner
	scope *setterScope

	state invocationState
	step  int

	// aliasModels tracks which model each bound row alias belongs to.
	aliasModels map[string]string

	resp     *Response
	resultID any
}

func (e *Executor) executeMutation(ctx context.Context, ep *defs.EndpointDef, req Request, vars *Vars, log *slog.Logger) (*Response, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}

	inv := &invocation{
		ex:   e,
		ep:   ep,
		req:  req,
		log:  log,
		vars: vars,
		tx:   tx,
		run:  NewRunner(e.graph, tx, vars, e.hooks),
		scope: &setterScope{
			graph:     e.graph,
			db:        tx,
			env:       vars,
			hooks:     e.hooks,
			input:     req.Body,
			body:      req.Body,
			authToken: req.AuthToken,
		},
		state:       stateRunning,
		aliasModels: make(map[string]string),
	}

	resp, err := inv.execute(ctx)
	if err != nil {
		tx.Rollback()
		inv.state = stateRolledBack
		log.Debug("invocation rolled back", slog.String("error", err.Error()))
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		inv.state = stateRolledBack
		return nil, err
	}
	if inv.state != stateResponded {
		inv.state = stateCommitted
	}
	log.Debug("invocation committed")
	return resp, nil
}

func (inv *invocation) execute(ctx context.Context) (*Response, error) {
	if err := inv.bindTargets(ctx); err != nil {
		return nil, err
	}

	actions := inv.ep.Actions
	if len(actions) == 0 {
		actions = inv.synthesizedActions()
	}
	for i, a := range actions {
		inv.step = i
		inv.log.Debug("action", slog.Int("step", i), slog.String("type", fmt.Sprintf("%T", a)))
		if err := inv.runAction(ctx, a); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
	}

	if inv.resp != nil {
		return inv.resp, nil
	}
	return inv.defaultResponse(ctx)
}

// bindTargets runs the pre-mutation target query: for row-addressing kinds
// the full identified chain with authorize, for create kinds the parent
// chain only. Every aliased hop gets its row bound before any action runs.
func (inv *invocation) bindTargets(ctx context.Context) error {
	ep := inv.ep
	addressesRow := ep.Kind == defs.EndpointUpdate || ep.Kind == defs.EndpointDelete ||
		ep.Kind == defs.EndpointCustomOne

	// Parent aliases bind from prefix fetches; identity filters pin one
	// row each.
	for i, t := range ep.ParentContext {
		prefix := targetSteps(ep, false, false)[:i+1]
		node, err := querytree.Compile(inv.ex.graph, prefix, querytree.Spec{})
		if err != nil {
			return err
		}
		row, err := inv.run.One(ctx, node)
		if err != nil {
			return err
		}
		if row == nil {
			return &ResourceNotFoundError{Model: t.Model}
		}
		inv.aliasModels[targetAlias(t)] = t.Model
		if err := inv.vars.Bind(targetAlias(t), row); err != nil {
			return err
		}
	}

	if !addressesRow {
		if ep.Authorize != nil && len(ep.ParentContext) > 0 {
			steps := targetSteps(ep, false, false)
			if _, _, err := inv.ex.fetchAuthorized(ctx, inv.run, steps, nil, ep.Authorize,
				ep.ParentContext[len(ep.ParentContext)-1].Model, inv.req.AuthToken); err != nil {
				return err
			}
		}
		return nil
	}

	steps := targetSteps(ep, true, true)
	row, _, err := inv.ex.fetchAuthorized(ctx, inv.run, steps, nil, ep.Authorize, ep.Target.Model, inv.req.AuthToken)
	if err != nil {
		return err
	}
	inv.aliasModels[targetAlias(ep.Target)] = ep.Target.Model
	return inv.vars.Bind(targetAlias(ep.Target), row)
}

// synthesizedActions supplies the implicit pipeline of a create, update or
// delete endpoint declared without explicit actions: one action over the
// endpoint target driven directly by the fieldset input.
func (inv *invocation) synthesizedActions() []defs.ActionDef {
	ep := inv.ep
	alias := targetAlias(ep.Target)
	switch ep.Kind {
	case defs.EndpointCreate:
		var items []defs.ChangesetItem
		if ep.Fieldset != nil {
			for _, f := range ep.Fieldset.Fields {
				items = append(items, defs.ChangesetItem{
					Name:   f.Name,
					Setter: &defs.SetInput{Field: f.Name, Optional: !f.Required},
				})
			}
		}
		return []defs.ActionDef{&defs.CreateOneAction{
			Model:     ep.Target.Model,
			Alias:     alias,
			Changeset: defs.ChangesetDef{Items: items},
		}}
	case defs.EndpointUpdate:
		var items []defs.ChangesetItem
		if ep.Fieldset != nil {
			for _, f := range ep.Fieldset.Fields {
				if _, present := inv.req.Body[f.Name]; !present {
					continue
				}
				items = append(items, defs.ChangesetItem{
					Name:   f.Name,
					Setter: &defs.SetInput{Field: f.Name},
				})
			}
		}
		return []defs.ActionDef{&defs.UpdateOneAction{
			Model:      ep.Target.Model,
			TargetPath: []string{alias},
			Changeset:  defs.ChangesetDef{Items: items},
		}}
	case defs.EndpointDelete:
		return []defs.ActionDef{&defs.DeleteOneAction{
			Model:      ep.Target.Model,
			TargetPath: []string{alias},
		}}
	}
	return nil
}

// defaultResponse re-fetches the endpoint's declared response shape for the
// row the pipeline produced. Delete endpoints report the removed id.
func (inv *invocation) defaultResponse(ctx context.Context) (*Response, error) {
	if inv.ep.Kind == defs.EndpointDelete {
		return &Response{Status: 200, Body: map[string]any{"id": inv.resultID}}, nil
	}
	if len(inv.ep.Response) == 0 || inv.resultID == nil {
		return &Response{Status: 200, Body: map[string]any{"id": inv.resultID}}, nil
	}

	model := inv.ex.graph.Model(inv.ep.Target.Model)
	node, err := querytree.Compile(inv.ex.graph, []querytree.TargetStep{{
		Model:  model.Name,
		Filter: idFilter(model, inv.resultID),
	}}, querytree.Spec{Select: inv.ep.Response})
	if err != nil {
		return nil, err
	}
	rows, err := inv.run.Rows(ctx, node)
	if err != nil {
		return nil, err
	}
	StripHidden(node, rows)
	if inv.ep.Kind == defs.EndpointCustomMany {
		return &Response{Status: 200, Body: rowsAny(rows)}, nil
	}
	if len(rows) == 0 {
		return &Response{Status: 200, Body: nil}, nil
	}
	return &Response{Status: 200, Body: rows[0]}, nil
}

func idFilter(m *defs.ModelDef, id any) defs.TypedExpr {
	return &defs.BinaryExpr{
		Op:    defs.OpIs,
		Left:  &defs.PathExpr{Path: []string{m.PrimaryField().Name}},
		Right: &defs.LiteralExpr{Type: defs.TypeInteger, Value: id},
	}
}
