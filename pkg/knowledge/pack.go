package knowledge

import (
	"math"
	"sort"
	"strings"

	"ddx/pkg/api"
	apperrors "ddx/pkg/errors"
)

// GlobalRegion backfills prevalence for regions without their own rows.
const GlobalRegion = "Global"

// Pack is the on-disk knowledge pack: priors, symptom model, test catalog,
// image condition mapping and treatment plans.
type Pack struct {
	Version                  string              `json:"version" yaml:"version"`
	DefaultSymptomLikelihood float64             `json:"default_symptom_likelihood" yaml:"default_symptom_likelihood"`
	Diseases                 []Disease           `json:"diseases" yaml:"diseases"`
	Symptoms                 []Symptom           `json:"symptoms" yaml:"symptoms"`
	Prevalence               []Prevalence        `json:"prevalence" yaml:"prevalence"`
	Seasonal                 []Seasonal          `json:"seasonal" yaml:"seasonal"`
	Variants                 []RiskAllele        `json:"variants" yaml:"variants"`
	Tests                    []api.TestOption    `json:"tests" yaml:"tests"`
	Conditions               []ImageCondition    `json:"conditions" yaml:"conditions"`
	Treatments               []api.TreatmentPlan `json:"treatments" yaml:"treatments"`
}

// Disease is a member of the candidate universe.
type Disease struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Symptom is a recognized symptom tag with its likelihood under each disease.
type Symptom struct {
	Tag         string             `json:"tag" yaml:"tag"`
	Name        string             `json:"name" yaml:"name"`
	Synonyms    []string           `json:"synonyms,omitempty" yaml:"synonyms,omitempty"`
	Likelihoods map[string]float64 `json:"likelihoods" yaml:"likelihoods"`
}

// Prevalence is the number of cases per 100k people of a disease in a region.
type Prevalence struct {
	Region  string  `json:"region" yaml:"region"`
	Disease string  `json:"disease" yaml:"disease"`
	Per100k float64 `json:"per_100k" yaml:"per_100k"`
}

// Seasonal scales a disease's prior in the listed months.
type Seasonal struct {
	Disease    string  `json:"disease" yaml:"disease"`
	Months     []int   `json:"months" yaml:"months"`
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
}

// RiskAllele is a genomic variant and its relative risk for one disease.
type RiskAllele struct {
	ID         string  `json:"id" yaml:"id"`
	Gene       string  `json:"gene,omitempty" yaml:"gene,omitempty"`
	Disease    string  `json:"disease" yaml:"disease"`
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
}

// ImageCondition maps a classifier condition onto the diseases it supports.
type ImageCondition struct {
	Condition string   `json:"condition" yaml:"condition"`
	Diseases  []string `json:"diseases" yaml:"diseases"`
}

const distributionTolerance = 1e-6

// Validate rejects packs the reasoning core cannot run on. It also fills
// missing test default distributions with a uniform one and reports each
// filled gap in the returned warnings.
func (p *Pack) Validate() ([]string, error) {
	var warnings []string

	if len(p.Diseases) == 0 {
		return nil, apperrors.KnowledgeInvalid("pack has no diseases")
	}
	known := make(map[string]struct{}, len(p.Diseases))
	for _, d := range p.Diseases {
		if d.ID == "" {
			return nil, apperrors.KnowledgeInvalid("disease with empty id")
		}
		if _, dup := known[d.ID]; dup {
			return nil, apperrors.KnowledgeInvalid("duplicate disease %q", d.ID)
		}
		known[d.ID] = struct{}{}
	}
	checkDisease := func(where, id string) error {
		if _, ok := known[id]; !ok {
			return apperrors.KnowledgeInvalid("%s references unknown disease %q", where, id)
		}
		return nil
	}

	if p.DefaultSymptomLikelihood < 0 || p.DefaultSymptomLikelihood > 1 {
		return nil, apperrors.KnowledgeInvalid("default_symptom_likelihood out of range: %v", p.DefaultSymptomLikelihood)
	}

	tags := make(map[string]struct{}, len(p.Symptoms))
	for _, s := range p.Symptoms {
		if s.Tag == "" {
			return nil, apperrors.KnowledgeInvalid("symptom with empty tag")
		}
		if _, dup := tags[s.Tag]; dup {
			return nil, apperrors.KnowledgeInvalid("duplicate symptom %q", s.Tag)
		}
		tags[s.Tag] = struct{}{}
		for d, l := range s.Likelihoods {
			if err := checkDisease("symptom "+s.Tag, d); err != nil {
				return nil, err
			}
			if l < 0 || l > 1 {
				return nil, apperrors.KnowledgeInvalid("symptom %q likelihood for %q out of range: %v", s.Tag, d, l)
			}
		}
	}

	for _, row := range p.Prevalence {
		if err := checkDisease("prevalence", row.Disease); err != nil {
			return nil, err
		}
		if row.Per100k < 0 || row.Per100k > 100000 {
			return nil, apperrors.KnowledgeInvalid("prevalence of %q in %q out of range: %v", row.Disease, row.Region, row.Per100k)
		}
	}

	for _, row := range p.Seasonal {
		if err := checkDisease("seasonal", row.Disease); err != nil {
			return nil, err
		}
		if row.Multiplier <= 0 {
			return nil, apperrors.KnowledgeInvalid("seasonal multiplier for %q must be positive", row.Disease)
		}
		for _, m := range row.Months {
			if m < 1 || m > 12 {
				return nil, apperrors.KnowledgeInvalid("seasonal month %d for %q out of range", m, row.Disease)
			}
		}
	}

	for _, v := range p.Variants {
		if v.ID == "" {
			return nil, apperrors.KnowledgeInvalid("variant with empty id")
		}
		if err := checkDisease("variant "+v.ID, v.Disease); err != nil {
			return nil, err
		}
		if v.Multiplier <= 0 {
			return nil, apperrors.KnowledgeInvalid("variant %q multiplier must be positive", v.ID)
		}
	}

	names := make(map[string]struct{}, len(p.Tests))
	for i := range p.Tests {
		t := &p.Tests[i]
		if t.Name == "" {
			return nil, apperrors.KnowledgeInvalid("test with empty name")
		}
		if _, dup := names[t.Name]; dup {
			return nil, apperrors.KnowledgeInvalid("duplicate test %q", t.Name)
		}
		names[t.Name] = struct{}{}
		if t.Cost < 0 || math.IsNaN(t.Cost) {
			return nil, apperrors.KnowledgeInvalid("test %q has invalid cost %v", t.Name, t.Cost)
		}
		for d, dist := range t.Outcomes {
			if err := checkDisease("test "+t.Name, d); err != nil {
				return nil, err
			}
			if err := checkDistribution(t.Name, d, dist); err != nil {
				return nil, err
			}
		}
		if len(t.Default) == 0 {
			outcomes := t.OutcomeNames()
			if len(outcomes) == 0 {
				return nil, apperrors.KnowledgeInvalid("test %q has no outcomes", t.Name)
			}
			if len(t.Outcomes) < len(p.Diseases) {
				warnings = append(warnings, apperrors.DataGap("test %q has no default distribution; using uniform", t.Name).Error())
			}
			t.Default = make(api.OutcomeDistribution, len(outcomes))
			for _, o := range outcomes {
				t.Default[o] = 1 / float64(len(outcomes))
			}
		} else if err := checkDistribution(t.Name, "default", t.Default); err != nil {
			return nil, err
		}
	}

	for _, c := range p.Conditions {
		if c.Condition == "" {
			return nil, apperrors.KnowledgeInvalid("image condition with empty name")
		}
		for _, d := range c.Diseases {
			if err := checkDisease("condition "+c.Condition, d); err != nil {
				return nil, err
			}
		}
	}

	for _, tp := range p.Treatments {
		if err := checkDisease("treatment", tp.Disease); err != nil {
			return nil, err
		}
	}

	return warnings, nil
}

func checkDistribution(test, row string, dist api.OutcomeDistribution) error {
	var sum float64
	keys := make([]string, 0, len(dist))
	for o, p := range dist {
		if p < 0 || p > 1 {
			return apperrors.KnowledgeInvalid("test %q row %q outcome %q probability out of range: %v", test, row, o, p)
		}
		sum += p
		keys = append(keys, o)
	}
	if math.Abs(sum-1) > distributionTolerance {
		sort.Strings(keys)
		return apperrors.KnowledgeInvalid("test %q row %q outcomes [%s] sum to %v, not 1", test, row, strings.Join(keys, ","), sum)
	}
	return nil
}
