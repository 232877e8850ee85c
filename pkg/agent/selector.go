package agent

import (
	"math"

	"ddx/pkg/api"
)

// TestSelector proposes the test with the greatest expected information gain.
// It is pure: no I/O, no state of its own.
type TestSelector struct{}

func NewTestSelector() *TestSelector {
	return &TestSelector{}
}

// SelectNext returns the best remaining test, or nil when no test left in the
// catalog has strictly positive value of information.
func (s *TestSelector) SelectNext(state api.DiagnosticState, catalog api.TestCatalog) *api.Proposal {
	if catalog == nil || len(state.Candidates) == 0 {
		return nil
	}

	var best *api.Proposal
	for _, t := range catalog.Tests() {
		if state.Done(t.Name) {
			continue
		}
		voi := VOI(state.Candidates, t)
		if voi <= 0 {
			continue
		}
		if best == nil || better(voi, t, best) {
			best = &api.Proposal{Test: t, VOI: voi}
		}
	}
	return best
}

// better orders proposals: higher VOI, then lower cost, then name.
func better(voi float64, t api.TestOption, cur *api.Proposal) bool {
	if math.Abs(voi-cur.VOI) > voiEpsilon {
		return voi > cur.VOI
	}
	if t.Cost != cur.Test.Cost {
		return t.Cost < cur.Test.Cost
	}
	return t.Name < cur.Test.Name
}

// VOI is the expected entropy reduction, in bits, from observing the test:
//
//	H(p) − Σ_o P(o) H(p | o),  P(o) = Σ_d p(d) P(o | d)
func VOI(cands []api.DiagnosisCandidate, t api.TestOption) float64 {
	names, post := vectors(cands)
	prior := entropyBits(post)
	if prior == 0 {
		return 0
	}

	var expected float64
	for _, outcome := range t.OutcomeNames() {
		likelihood := func(candidate string) float64 {
			dist, _ := t.Distribution(candidate)
			return dist[outcome]
		}
		var pOutcome float64
		for i, name := range names {
			pOutcome += post[i] * likelihood(name)
		}
		if pOutcome <= 0 {
			continue
		}
		next, ok := project(names, post, likelihood)
		if !ok {
			continue
		}
		expected += pOutcome * entropyBits(next)
	}

	voi := prior - expected
	if voi < voiEpsilon {
		return 0
	}
	return voi
}
