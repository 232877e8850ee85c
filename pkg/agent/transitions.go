package agent

import (
	"fmt"

	"ddx/pkg/api"
)

// Agent names used in the reasoning trace and trail events.
const (
	AgentHypothesis   = "hypothesis"
	AgentSelector     = "selector"
	AgentStewardship  = "stewardship"
	AgentOrchestrator = "orchestrator"
)

// Every function in this file is a pure transition (state, output) → state.
// The input state is never modified and terminal states are returned as is.

func cloneState(s api.DiagnosticState) api.DiagnosticState {
	out := s
	out.Symptoms = append([]string(nil), s.Symptoms...)
	out.Variants = append([]string(nil), s.Variants...)
	out.TestsPerformed = append([]api.TestRecord(nil), s.TestsPerformed...)
	out.Candidates = cloneCandidates(s.Candidates)
	out.Excluded = append([]string(nil), s.Excluded...)
	out.Warnings = append([]string(nil), s.Warnings...)
	out.Trace = append([]api.TraceEntry(nil), s.Trace...)
	return out
}

func trace(s *api.DiagnosticState, agent, format string, args ...any) {
	s.Trace = append(s.Trace, api.TraceEntry{
		Iteration: s.Iteration,
		Agent:     agent,
		Message:   fmt.Sprintf(format, args...),
	})
}

// BeginIteration opens the next pass of the loop.
func BeginIteration(s api.DiagnosticState) api.DiagnosticState {
	if s.Status.Terminal() {
		return s
	}
	next := cloneState(s)
	next.Status = api.StatusActive
	next.Iteration++
	return next
}

// ApplyUpdate installs the engine's new candidate list and folds its report.
func ApplyUpdate(s api.DiagnosticState, cands []api.DiagnosisCandidate, report UpdateReport) api.DiagnosticState {
	if s.Status.Terminal() {
		return s
	}
	next := cloneState(s)
	next.Candidates = cloneCandidates(cands)
	next.Seeded = next.Seeded || report.Seeded
	next.Warnings = append(next.Warnings, report.Warnings...)
	next.Flags.DegradedPrior = next.Flags.DegradedPrior || report.DegradedPrior
	next.Flags.DegradedReasoning = next.Flags.DegradedReasoning || report.DegradedReasoning

	if report.Seeded {
		trace(&next, AgentHypothesis, "seeded %d candidates for %s", len(next.Candidates), next.Region)
	}
	for _, label := range report.Applied {
		trace(&next, AgentHypothesis, "applied %s", label)
	}
	trace(&next, AgentHypothesis, "differential: %s", Describe(next.Candidates, 3))
	return next
}

// ApplyProposal records what the selector suggested.
func ApplyProposal(s api.DiagnosticState, p *api.Proposal) api.DiagnosticState {
	if s.Status.Terminal() {
		return s
	}
	next := cloneState(s)
	if p == nil {
		trace(&next, AgentSelector, "no informative test remains")
	} else {
		trace(&next, AgentSelector, "proposed %s (VOI %.4f bits, $%.2f)", p.Test.Name, p.VOI, p.Test.Cost)
	}
	return next
}

// ApplyDecision enacts the stewardship verdict. APPROVE charges the test's
// cost immediately; VETO excludes the test for the rest of the case; FINALIZE
// moves to the decided terminal status.
func ApplyDecision(s api.DiagnosticState, p *api.Proposal, d api.Decision) api.DiagnosticState {
	if s.Status.Terminal() {
		return s
	}
	next := cloneState(s)
	switch d.Verdict {
	case api.VerdictFinalize:
		next.Status = d.Status
		trace(&next, AgentStewardship, "finalize %s: %s", d.Status, d.Reason)
	case api.VerdictVeto:
		if p != nil {
			next.Excluded = append(next.Excluded, p.Test.Name)
		}
		if d.Alternative != "" {
			trace(&next, AgentStewardship, "veto: %s; consider %s", d.Reason, d.Alternative)
		} else {
			trace(&next, AgentStewardship, "veto: %s", d.Reason)
		}
	case api.VerdictApprove:
		if p != nil {
			next.CumulativeCost += p.Test.Cost
		}
		trace(&next, AgentStewardship, "approve: %s", d.Reason)
	}
	return next
}

// ApplyResult appends the record of an ordered test. warning is non-empty
// when the result could not be turned into evidence.
func ApplyResult(s api.DiagnosticState, rec api.TestRecord, warning string) api.DiagnosticState {
	if s.Status.Terminal() {
		return s
	}
	next := cloneState(s)
	next.TestsPerformed = append(next.TestsPerformed, rec)
	if warning != "" {
		next.Warnings = append(next.Warnings, warning)
		trace(&next, AgentOrchestrator, "%s returned no usable result", rec.Test)
	} else {
		trace(&next, AgentOrchestrator, "%s resulted %s", rec.Test, rec.Outcome)
	}
	return next
}

// ReachCeiling forces INCONCLUSIVE when the iteration ceiling is hit without
// the gate finalizing.
func ReachCeiling(s api.DiagnosticState, maxIterations int) api.DiagnosticState {
	if s.Status.Terminal() {
		return s
	}
	next := cloneState(s)
	next.Status = api.StatusInconclusive
	next.Flags.CeilingReached = true
	trace(&next, AgentOrchestrator, "iteration ceiling %d reached", maxIterations)
	return next
}

// Cancel ends the case as INCONCLUSIVE with the cancelled flag.
func Cancel(s api.DiagnosticState) api.DiagnosticState {
	if s.Status.Terminal() {
		return s
	}
	next := cloneState(s)
	next.Status = api.StatusInconclusive
	next.Flags.Cancelled = true
	trace(&next, AgentOrchestrator, "cancelled")
	return next
}
