package agent

import (
	"math"
	"testing"

	"ddx/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniform(names ...string) []api.DiagnosisCandidate {
	out := make([]api.DiagnosisCandidate, len(names))
	for i, n := range names {
		out[i] = api.DiagnosisCandidate{Name: n, Prior: 1 / float64(len(names)), Posterior: 1 / float64(len(names))}
	}
	return out
}

func binaryTest(name string, cost float64, pos map[string]float64, defaultPos float64) api.TestOption {
	t := api.TestOption{
		Name:     name,
		Cost:     cost,
		Outcomes: map[string]api.OutcomeDistribution{},
		Default:  api.OutcomeDistribution{"positive": defaultPos, "negative": 1 - defaultPos},
	}
	for d, p := range pos {
		t.Outcomes[d] = api.OutcomeDistribution{"positive": p, "negative": 1 - p}
	}
	return t
}

func TestVOI(t *testing.T) {
	cands := uniform("a", "b")

	perfect := binaryTest("perfect", 1, map[string]float64{"a": 1, "b": 0}, 0)
	assert.InDelta(t, 1.0, VOI(cands, perfect), 1e-12)

	// P(pos)=0.5, H(p|pos)=H(p|neg)=H(0.9)
	partial := binaryTest("partial", 1, map[string]float64{"a": 0.9, "b": 0.1}, 0)
	h09 := -(0.9*math.Log2(0.9) + 0.1*math.Log2(0.1))
	assert.InDelta(t, 1-h09, VOI(cands, partial), 1e-12)

	flat := binaryTest("flat", 1, map[string]float64{"a": 0.7, "b": 0.7}, 0.7)
	assert.Equal(t, 0.0, VOI(cands, flat))

	// a single candidate carries no uncertainty to reduce
	assert.Equal(t, 0.0, VOI(uniform("a"), perfect))
}

func TestSelectNext(t *testing.T) {
	state := api.DiagnosticState{Candidates: uniform("a", "b", "c")}
	catalog := staticCatalog{
		binaryTest("flat", 1, map[string]float64{"a": 0.5, "b": 0.5, "c": 0.5}, 0.5),
		binaryTest("weak", 5, map[string]float64{"a": 0.6}, 0.4),
		binaryTest("strong", 50, map[string]float64{"a": 0.99}, 0.01),
	}

	p := NewTestSelector().SelectNext(state, catalog)
	require.NotNil(t, p)
	assert.Equal(t, "strong", p.Test.Name)

	state.TestsPerformed = []api.TestRecord{{Test: "strong"}}
	p = NewTestSelector().SelectNext(state, catalog)
	require.NotNil(t, p)
	assert.Equal(t, "weak", p.Test.Name)

	state.Excluded = []string{"weak"}
	assert.Nil(t, NewTestSelector().SelectNext(state, catalog), "only a zero-VOI test remains")
}

func TestSelectNext_ZeroVOINeverBeatsPositive(t *testing.T) {
	state := api.DiagnosticState{Candidates: uniform("a", "b")}
	catalog := staticCatalog{
		binaryTest("identical", 0, map[string]float64{"a": 0.3, "b": 0.3}, 0.3),
		binaryTest("tiny", 1000, map[string]float64{"a": 0.51, "b": 0.49}, 0.5),
	}
	p := NewTestSelector().SelectNext(state, catalog)
	require.NotNil(t, p)
	assert.Equal(t, "tiny", p.Test.Name)
}

func TestSelectNext_TieBreaks(t *testing.T) {
	state := api.DiagnosticState{Candidates: uniform("a", "b")}
	same := map[string]float64{"a": 0.9, "b": 0.1}

	p := NewTestSelector().SelectNext(state, staticCatalog{
		binaryTest("b-pricey", 20, same, 0),
		binaryTest("a-pricey", 20, same, 0),
		binaryTest("z-cheap", 10, same, 0),
	})
	require.NotNil(t, p)
	assert.Equal(t, "z-cheap", p.Test.Name)

	p = NewTestSelector().SelectNext(state, staticCatalog{
		binaryTest("b-pricey", 20, same, 0),
		binaryTest("a-pricey", 20, same, 0),
	})
	require.NotNil(t, p)
	assert.Equal(t, "a-pricey", p.Test.Name)
}

func TestSelectNext_EmptyInputs(t *testing.T) {
	sel := NewTestSelector()
	assert.Nil(t, sel.SelectNext(api.DiagnosticState{Candidates: uniform("a", "b")}, staticCatalog{}))
	assert.Nil(t, sel.SelectNext(api.DiagnosticState{Candidates: uniform("a", "b")}, nil))
	assert.Nil(t, sel.SelectNext(api.DiagnosticState{}, staticCatalog{binaryTest("t", 1, map[string]float64{"a": 1}, 0)}))
}
