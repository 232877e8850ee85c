package extract

import (
	"sort"

	"ddx/pkg/api"
)

// ConditionMapper resolves a classifier condition to the diseases it supports.
type ConditionMapper interface {
	ConditionDiseases(condition string) []string
}

// ImageEvidence turns classifier scores into evidence over diseases:
// L(d) = floor + Σ P(condition) over the conditions mapped to d, capped at 1.
// Diseases no scored condition maps to get the floor. The saliency artifact
// is never read.
func ImageEvidence(name string, cls api.Classification, m ConditionMapper, floor float64) (api.Evidence, bool) {
	if len(cls.Scores) == 0 {
		return api.Evidence{}, false
	}

	scores := append([]api.ConditionScore(nil), cls.Scores...)
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Probability != scores[j].Probability {
			return scores[i].Probability > scores[j].Probability
		}
		return scores[i].Condition < scores[j].Condition
	})

	likelihoods := make(map[string]float64)
	for _, s := range scores {
		if s.Probability <= 0 {
			continue
		}
		for _, d := range m.ConditionDiseases(s.Condition) {
			if _, ok := likelihoods[d]; !ok {
				likelihoods[d] = floor
			}
			likelihoods[d] += s.Probability
			if likelihoods[d] > 1 {
				likelihoods[d] = 1
			}
		}
	}

	return api.Evidence{
		Kind:        api.EvidenceImage,
		Label:       "image:" + name + "=" + scores[0].Condition,
		Likelihoods: likelihoods,
		Default:     floor,
	}, true
}
