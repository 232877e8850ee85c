package agent

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"ddx/pkg/api"
	"ddx/pkg/config"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threePriors() mapPriors {
	return mapPriors{
		diseases: []string{"a", "b", "c"},
		epi:      map[string]float64{"a": 0.02, "b": 0.01, "c": 0.01},
	}
}

func TestUpdate_SeedsFromPriorsAndGenomics(t *testing.T) {
	p := threePriors()
	p.risk = map[string]float64{"c": 4}
	h := NewHypothesisEngine(p, nil, config.DefaultDiagnosticConfig(), 0)

	cands, report := h.Update(context.Background(), api.DiagnosticState{Variants: []string{"known", "rs404"}}, nil)

	assert.True(t, report.Seeded)
	assert.False(t, report.DegradedPrior)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "rs404")

	want := []api.DiagnosisCandidate{
		{Name: "c", Prior: 4.0 / 7, Posterior: 4.0 / 7},
		{Name: "a", Prior: 2.0 / 7, Posterior: 2.0 / 7},
		{Name: "b", Prior: 1.0 / 7, Posterior: 1.0 / 7},
	}
	assert.Empty(t, cmp.Diff(want, cands, cmpFloat))
}

var cmpFloat = cmp.Comparer(func(x, y float64) bool {
	d := x - y
	return d < 1e-9 && d > -1e-9
})

func TestUpdate_SequentialEqualsBatch(t *testing.T) {
	h := NewHypothesisEngine(threePriors(), nil, config.DefaultDiagnosticConfig(), 0)
	e1 := api.Evidence{Label: "e1", Likelihoods: map[string]float64{"a": 0.2, "b": 0.9}, Default: 0.5}
	e2 := api.Evidence{Label: "e2", Likelihoods: map[string]float64{"a": 0.7, "c": 0.1}, Default: 0.4}

	batch, _ := h.Update(context.Background(), api.DiagnosticState{}, []api.Evidence{e1, e2})

	first, r := h.Update(context.Background(), api.DiagnosticState{}, []api.Evidence{e1})
	state := ApplyUpdate(api.DiagnosticState{Status: api.StatusActive}, first, r)
	seq, report := h.Update(context.Background(), state, []api.Evidence{e2})

	assert.False(t, report.Seeded)
	assert.Empty(t, cmp.Diff(batch, seq, cmpFloat))
	assert.Equal(t, []string{"e1", "e2"}, seq[0].Trace)
}

func TestUpdate_DoesNotMutateState(t *testing.T) {
	h := NewHypothesisEngine(threePriors(), nil, config.DefaultDiagnosticConfig(), 0)
	seed, r := h.Update(context.Background(), api.DiagnosticState{}, nil)
	state := ApplyUpdate(api.DiagnosticState{Status: api.StatusActive}, seed, r)
	before := cloneState(state)

	_, _ = h.Update(context.Background(), state, []api.Evidence{{Label: "x", Likelihoods: map[string]float64{"a": 1}, Default: 0.1}})

	assert.Empty(t, cmp.Diff(before, state))
}

func TestUpdate_PrunesAndNeverResurrects(t *testing.T) {
	cfg := config.DefaultDiagnosticConfig()
	cfg.RetentionThreshold = 0.01
	h := NewHypothesisEngine(threePriors(), nil, cfg, 0)

	killB := api.Evidence{Label: "kill-b", Likelihoods: map[string]float64{"b": 0.001}, Default: 1}
	cands, r := h.Update(context.Background(), api.DiagnosticState{}, []api.Evidence{killB})
	require.Len(t, cands, 2)
	assert.NotContains(t, []string{cands[0].Name, cands[1].Name}, "b")

	state := ApplyUpdate(api.DiagnosticState{Status: api.StatusActive}, cands, r)
	favorB := api.Evidence{Label: "favor-b", Likelihoods: map[string]float64{"b": 1}, Default: 0.01}
	cands, _ = h.Update(context.Background(), state, []api.Evidence{favorB})
	for _, c := range cands {
		assert.NotEqual(t, "b", c.Name)
	}
	assert.InDelta(t, 1, sum(cands), posteriorTolerance)
}

func TestUpdate_TopK(t *testing.T) {
	cfg := config.DefaultDiagnosticConfig()
	cfg.TopK = 2
	h := NewHypothesisEngine(mapPriors{
		diseases: []string{"d", "c", "b", "a"},
		epi:      map[string]float64{"a": 0.25, "b": 0.25, "c": 0.25, "d": 0.25},
	}, nil, cfg, 0)

	cands, _ := h.Update(context.Background(), api.DiagnosticState{}, nil)
	require.Len(t, cands, 2)
	// equal posteriors rank by name
	assert.Equal(t, "a", cands[0].Name)
	assert.Equal(t, "b", cands[1].Name)
	assert.InDelta(t, 0.5, cands[0].Posterior, 1e-12)
}

func TestUpdate_FallbackPrior(t *testing.T) {
	p := mapPriors{
		diseases: []string{"a", "b", "c", "d"},
		epi:      map[string]float64{"a": 0.1, "b": 0.3, "c": 0.2},
	}

	t.Run("median of known priors", func(t *testing.T) {
		h := NewHypothesisEngine(p, nil, config.DefaultDiagnosticConfig(), 0)
		cands, report := h.Update(context.Background(), api.DiagnosticState{Region: "Nowhere"}, nil)
		assert.True(t, report.DegradedPrior)
		require.Len(t, report.Warnings, 1)
		assert.Contains(t, report.Warnings[0], "no prior for d")
		// d gets the median 0.2, so it ties with c
		got := map[string]float64{}
		for _, c := range cands {
			got[c.Name] = c.Posterior
		}
		assert.InDelta(t, got["c"], got["d"], 1e-12)
		assert.InDelta(t, 0.25, got["c"], 1e-12)
	})

	t.Run("configured value", func(t *testing.T) {
		cfg := config.DefaultDiagnosticConfig()
		cfg.FallbackPrior = 0.4
		h := NewHypothesisEngine(p, nil, cfg, 0)
		cands, report := h.Update(context.Background(), api.DiagnosticState{}, nil)
		assert.True(t, report.DegradedPrior)
		assert.Equal(t, "d", cands[0].Name)
		assert.InDelta(t, 0.4, cands[0].Posterior, 1e-12)
	})

	t.Run("nothing known is uniform", func(t *testing.T) {
		h := NewHypothesisEngine(mapPriors{diseases: []string{"a", "b"}}, nil, config.DefaultDiagnosticConfig(), 0)
		cands, report := h.Update(context.Background(), api.DiagnosticState{}, nil)
		assert.True(t, report.DegradedPrior)
		assert.InDelta(t, 0.5, cands[0].Posterior, 1e-12)
	})
}

func TestUpdate_RejectsContradictoryEvidence(t *testing.T) {
	h := NewHypothesisEngine(threePriors(), nil, config.DefaultDiagnosticConfig(), 0)
	seed, _ := h.Update(context.Background(), api.DiagnosticState{}, nil)

	cands, report := h.Update(context.Background(), api.DiagnosticState{}, []api.Evidence{{Label: "impossible", Likelihoods: map[string]float64{}}})

	assert.Empty(t, report.Applied)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "impossible")
	assert.Empty(t, cmp.Diff(seed, cands, cmpFloat))
}

func TestUpdate_UnstructuredEvidence(t *testing.T) {
	narrative := api.Evidence{Kind: api.EvidenceNarrative, Label: "narrative", Text: "recent gut infection"}

	t.Run("scored by oracle", func(t *testing.T) {
		oracle := &stubOracle{scores: map[string]float64{"b": 0.9, "a": 0.1}}
		h := NewHypothesisEngine(threePriors(), oracle, config.DefaultDiagnosticConfig(), 0)
		cands, report := h.Update(context.Background(), api.DiagnosticState{}, []api.Evidence{narrative})

		assert.Equal(t, 1, oracle.calls)
		assert.False(t, report.DegradedReasoning)
		assert.Equal(t, []string{"narrative"}, report.Applied)
		assert.Equal(t, "b", cands[0].Name)
		// c was not scored and takes the weakest score
		assert.InDelta(t, 0.01*0.1/(0.02*0.1+0.01*0.9+0.01*0.1), posterior(cands, "c"), 1e-12)
	})

	t.Run("oracle failure degrades", func(t *testing.T) {
		oracle := &stubOracle{err: errors.New("all providers down")}
		h := NewHypothesisEngine(threePriors(), oracle, config.DefaultDiagnosticConfig(), 0)
		seed, _ := NewHypothesisEngine(threePriors(), nil, config.DefaultDiagnosticConfig(), 0).Update(context.Background(), api.DiagnosticState{}, nil)

		cands, report := h.Update(context.Background(), api.DiagnosticState{}, []api.Evidence{narrative})
		assert.True(t, report.DegradedReasoning)
		assert.Empty(t, report.Applied)
		assert.Empty(t, cmp.Diff(seed, cands, cmpFloat))
	})

	t.Run("no oracle degrades", func(t *testing.T) {
		h := NewHypothesisEngine(threePriors(), nil, config.DefaultDiagnosticConfig(), 0)
		_, report := h.Update(context.Background(), api.DiagnosticState{}, []api.Evidence{narrative})
		assert.True(t, report.DegradedReasoning)
	})
}

func TestUpdate_PosteriorsAlwaysSumToOne(t *testing.T) {
	diseases := []string{"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7"}
	epi := map[string]float64{}
	for i, d := range diseases {
		epi[d] = float64(i+1) / 100
	}
	cfg := config.DefaultDiagnosticConfig()
	cfg.TopK = 5
	h := NewHypothesisEngine(mapPriors{diseases: diseases, epi: epi}, nil, cfg, 0)

	rng := rand.New(rand.NewSource(7))
	state := api.DiagnosticState{Status: api.StatusActive}
	for round := 0; round < 50; round++ {
		ev := api.Evidence{Label: "r", Likelihoods: map[string]float64{}, Default: rng.Float64()}
		for _, d := range diseases {
			if rng.Intn(2) == 0 {
				ev.Likelihoods[d] = rng.Float64()
			}
		}
		cands, report := h.Update(context.Background(), state, []api.Evidence{ev})
		state = ApplyUpdate(state, cands, report)
		require.True(t, state.Normalized(posteriorTolerance), "round %d sum %v", round, state.PosteriorSum())
		require.LessOrEqual(t, len(state.Candidates), 5)
	}
}

func sum(cands []api.DiagnosisCandidate) float64 {
	var s float64
	for _, c := range cands {
		s += c.Posterior
	}
	return s
}

func posterior(cands []api.DiagnosisCandidate, name string) float64 {
	for _, c := range cands {
		if c.Name == name {
			return c.Posterior
		}
	}
	return 0
}
