package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ddx/pkg/api"
	"ddx/pkg/config"
	apperrors "ddx/pkg/errors"
	"ddx/pkg/extract"
	"ddx/pkg/monitor"
)

// Deps are the collaborators of one case run. Priors and Catalog are
// read-only snapshots shared across cases.
type Deps struct {
	Priors   api.PriorProvider
	Catalog  api.TestCatalog
	Results  api.ResultSource
	Oracle   api.ReasoningOracle
	Recorder api.TrailRecorder
}

// Orchestrator drives a single case through the hypothesis, selection and
// stewardship agents until it reaches a terminal status.
type Orchestrator struct {
	engine      *HypothesisEngine
	selector    *TestSelector
	gate        *StewardshipGate
	catalog     api.TestCatalog
	results     api.ResultSource
	recorder    api.TrailRecorder
	cfg         config.DiagnosticConfig
	stepTimeout time.Duration
	now         func() time.Time
}

func NewOrchestrator(deps Deps, cfg config.DiagnosticConfig, stepTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		engine:      NewHypothesisEngine(deps.Priors, deps.Oracle, cfg, stepTimeout),
		selector:    NewTestSelector(),
		gate:        NewStewardshipGate(cfg, deps.Catalog),
		catalog:     deps.Catalog,
		results:     deps.Results,
		recorder:    deps.Recorder,
		cfg:         cfg,
		stepTimeout: stepTimeout,
		now:         time.Now,
	}
}

// Run loops until the case is terminal. cancel may be nil; closing it (or
// cancelling ctx) stops the case at the next iteration boundary.
func (o *Orchestrator) Run(ctx context.Context, state api.DiagnosticState, pending []api.Evidence, cancel <-chan struct{}) api.DiagnosticState {
	ctx = monitor.WithCaseID(ctx, state.CaseID)
	if state.Status == "" {
		state.Status = api.StatusActive
	}
	slog.DebugContext(ctx, "Case started", "region", state.Region, "symptoms", len(state.Symptoms), "evidence", len(pending))

	for !state.Status.Terminal() {
		if cancelled(ctx, cancel) {
			state = Cancel(state)
			o.emit(state, AgentOrchestrator, "cancelled", "case cancelled at iteration boundary", nil)
			break
		}
		state, pending = o.Step(ctx, state, pending)
	}

	slog.InfoContext(ctx, "Case finished",
		"status", state.Status,
		"iterations", state.Iteration,
		"cost", state.CumulativeCost,
		"top", Describe(state.Candidates, 1))
	return state
}

// Step runs one pass of the loop and returns the new state plus the evidence
// pending for the next pass.
func (o *Orchestrator) Step(ctx context.Context, state api.DiagnosticState, pending []api.Evidence) (api.DiagnosticState, []api.Evidence) {
	if state.Status.Terminal() {
		return state, nil
	}
	state = BeginIteration(state)

	cands, report := o.engine.Update(ctx, state, pending)
	state = ApplyUpdate(state, cands, report)
	for _, w := range report.Warnings {
		slog.WarnContext(ctx, "⚠️ "+w, "iteration", state.Iteration)
	}
	o.emit(state, AgentHypothesis, "update", Describe(state.Candidates, 3), nil)

	proposal := o.selector.SelectNext(state, o.catalog)
	state = ApplyProposal(state, proposal)
	if proposal != nil {
		o.emit(state, AgentSelector, "proposal", fmt.Sprintf("%s VOI=%.4f", proposal.Test.Name, proposal.VOI), nil)
	}

	decision := o.gate.Review(state, proposal)
	if decision.Verdict != api.VerdictFinalize && state.Iteration >= o.cfg.MaxIterations {
		state = ReachCeiling(state, o.cfg.MaxIterations)
		o.emit(state, AgentOrchestrator, "ceiling", fmt.Sprintf("iteration ceiling %d reached", o.cfg.MaxIterations), nil)
		return state, nil
	}

	state = ApplyDecision(state, proposal, decision)
	o.emit(state, AgentStewardship, "decision", decision.Reason, &decision)
	if decision.Verdict != api.VerdictApprove || proposal == nil {
		return state, nil
	}

	rec, ev, warning := o.order(ctx, state, proposal.Test)
	state = ApplyResult(state, rec, warning)
	if warning != "" {
		slog.WarnContext(ctx, "⚠️ "+warning, "iteration", state.Iteration)
		o.emit(state, AgentOrchestrator, "result", warning, nil)
		return state, nil
	}
	o.emit(state, AgentOrchestrator, "result", fmt.Sprintf("%s = %s", rec.Test, rec.Outcome), nil)
	return state, []api.Evidence{ev}
}

// order fetches and parses the result of an approved test under the step
// timeout. A non-empty warning means no evidence is produced.
func (o *Orchestrator) order(ctx context.Context, state api.DiagnosticState, t api.TestOption) (api.TestRecord, api.Evidence, string) {
	rec := api.TestRecord{Test: t.Name, Cost: t.Cost, Iteration: state.Iteration}
	if o.results == nil {
		return rec, api.Evidence{}, apperrors.DataGap("no result source for %s", t.Name).Error()
	}

	raw, err := callWithTimeout(ctx, o.stepTimeout, func(ctx context.Context) (string, error) {
		return o.results.Result(ctx, state.CaseID, t)
	})
	if err != nil {
		return rec, api.Evidence{}, apperrors.ProviderFailure(err, "result of %s unavailable", t.Name).Error()
	}
	rec.Raw = raw

	outcome, ok := extract.ParseOutcome(t, raw)
	if !ok {
		return rec, api.Evidence{}, apperrors.MalformedInput("unparseable result %q for %s", raw, t.Name).Error()
	}
	rec.Outcome = outcome
	return rec, t.OutcomeEvidence(outcome), ""
}

func (o *Orchestrator) emit(state api.DiagnosticState, agent, kind, message string, d *api.Decision) {
	if o.recorder == nil {
		return
	}
	o.recorder.Record(api.TrailEvent{
		Timestamp: o.now(),
		CaseID:    state.CaseID,
		Iteration: state.Iteration,
		Agent:     agent,
		Kind:      kind,
		Message:   message,
		Status:    state.Status,
		Decision:  d,
	})
}

func cancelled(ctx context.Context, cancel <-chan struct{}) bool {
	select {
	case <-cancel:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// callWithTimeout bounds fn by d even when fn ignores its context. A zero d
// means no bound beyond ctx.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
