package agent

import (
	"fmt"

	"ddx/pkg/api"
	"ddx/pkg/config"
)

// StewardshipGate rules on every proposal: approve it, veto it as poor value,
// or stop the case.
type StewardshipGate struct {
	cfg     config.DiagnosticConfig
	catalog api.TestCatalog
}

// NewStewardshipGate creates a gate. catalog is only used to suggest a cheaper
// alternative on veto and may be nil.
func NewStewardshipGate(cfg config.DiagnosticConfig, catalog api.TestCatalog) *StewardshipGate {
	return &StewardshipGate{cfg: cfg, catalog: catalog}
}

// Review applies the stewardship rules in order. The first matching rule wins.
func (g *StewardshipGate) Review(state api.DiagnosticState, proposal *api.Proposal) api.Decision {
	top, _ := state.Top()

	if top.Posterior >= g.cfg.ConfidenceThreshold && len(state.Candidates) > 0 {
		return api.Decision{
			Verdict: api.VerdictFinalize,
			Status:  api.StatusDiagnosed,
			Reason:  fmt.Sprintf("%s reached %.3f (threshold %.2f)", top.Name, top.Posterior, g.cfg.ConfidenceThreshold),
		}
	}

	if proposal == nil {
		if len(state.Candidates) > 0 && top.Posterior >= g.cfg.Floor() {
			return api.Decision{
				Verdict: api.VerdictFinalize,
				Status:  api.StatusDiagnosed,
				Reason:  fmt.Sprintf("no informative test left; %s accepted at %.3f", top.Name, top.Posterior),
			}
		}
		return api.Decision{
			Verdict: api.VerdictFinalize,
			Status:  api.StatusInconclusive,
			Reason:  fmt.Sprintf("no informative test left; leader at %.3f is below %.2f", top.Posterior, g.cfg.Floor()),
		}
	}

	t := proposal.Test
	if state.CumulativeCost+t.Cost > g.cfg.CostCap {
		return api.Decision{
			Verdict: api.VerdictFinalize,
			Status:  api.StatusCostCapped,
			Reason:  fmt.Sprintf("%s ($%.2f) would exceed budget: spent $%.2f of $%.2f", t.Name, t.Cost, state.CumulativeCost, g.cfg.CostCap),
		}
	}

	if t.Cost > 0 && proposal.VOI/t.Cost < g.cfg.MinVOIPerCost {
		return api.Decision{
			Verdict:     api.VerdictVeto,
			Reason:      fmt.Sprintf("%s yields %.4f bits/$, below %.4f", t.Name, proposal.VOI/t.Cost, g.cfg.MinVOIPerCost),
			Alternative: g.alternative(state, t, top.Name),
		}
	}

	return api.Decision{
		Verdict: api.VerdictApprove,
		Reason:  fmt.Sprintf("%s approved: %.3f bits for $%.2f", t.Name, proposal.VOI, t.Cost),
	}
}

// alternative finds the cheapest remaining test, cheaper than the vetoed one,
// that carries a specific outcome row for the leading candidate.
func (g *StewardshipGate) alternative(state api.DiagnosticState, vetoed api.TestOption, leader string) string {
	if g.catalog == nil || leader == "" {
		return ""
	}
	var best *api.TestOption
	for _, t := range g.catalog.Tests() {
		if t.Name == vetoed.Name || t.Cost >= vetoed.Cost || state.Done(t.Name) {
			continue
		}
		if _, ok := t.Distribution(leader); !ok {
			continue
		}
		if best == nil || t.Cost < best.Cost || (t.Cost == best.Cost && t.Name < best.Name) {
			tt := t
			best = &tt
		}
	}
	if best == nil {
		return ""
	}
	return best.Name
}
