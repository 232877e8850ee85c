package agent

import (
	"math"
	"sort"

	"ddx/pkg/api"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// posteriorTolerance is the allowed drift of Σ posterior from 1.
const posteriorTolerance = 1e-6

// voiEpsilon: expected information gains below this are treated as exactly 0,
// so floating point noise never makes an uninformative test look useful.
const voiEpsilon = 1e-9

// normalize scales p in place so it sums to 1. It reports false, leaving p
// untouched, when the mass is zero or not finite.
func normalize(p []float64) bool {
	sum := floats.Sum(p)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return false
	}
	floats.Scale(1/sum, p)
	return true
}

// entropyBits is the Shannon entropy of p in bits.
func entropyBits(p []float64) float64 {
	if len(p) == 0 {
		return 0
	}
	return stat.Entropy(p) / math.Ln2
}

// project applies one piece of evidence to a posterior vector without
// touching it. It is the single Bayesian rule shared by the engine and the
// selector's what-if projections. ok is false when the evidence would zero
// every candidate.
func project(names []string, posterior []float64, likelihood func(string) float64) ([]float64, bool) {
	out := make([]float64, len(posterior))
	for i, name := range names {
		out[i] = posterior[i] * likelihood(name)
	}
	if !normalize(out) {
		return nil, false
	}
	return out, true
}

// vectors splits a candidate list into parallel name and posterior slices.
func vectors(cands []api.DiagnosisCandidate) ([]string, []float64) {
	names := make([]string, len(cands))
	post := make([]float64, len(cands))
	for i, c := range cands {
		names[i] = c.Name
		post[i] = c.Posterior
	}
	return names, post
}

// rank sorts candidates by posterior, descending, ties by name.
func rank(cands []api.DiagnosisCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Posterior != cands[j].Posterior {
			return cands[i].Posterior > cands[j].Posterior
		}
		return cands[i].Name < cands[j].Name
	})
}

// cloneCandidates deep copies a candidate list including traces.
func cloneCandidates(cands []api.DiagnosisCandidate) []api.DiagnosisCandidate {
	if cands == nil {
		return nil
	}
	out := make([]api.DiagnosisCandidate, len(cands))
	for i, c := range cands {
		out[i] = c
		out[i].Trace = append([]string(nil), c.Trace...)
	}
	return out
}
