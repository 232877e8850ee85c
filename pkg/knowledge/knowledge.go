package knowledge

import (
	"sort"
	"strings"

	"ddx/pkg/api"
)

// Knowledge is an immutable, indexed snapshot of a validated Pack. It serves
// as PriorProvider, SymptomModel and TestCatalog and is safe for concurrent
// readers without locking.
type Knowledge struct {
	pack       Pack
	diseases   []string
	names      map[string]string
	prevalence map[string]map[string]float64 // region (lower) -> disease -> per 100k
	seasonal   map[string]map[int]float64    // disease -> month -> multiplier
	variants   map[string][]RiskAllele       // variant id (lower) -> rows
	symptoms   map[string]Symptom
	tests      []api.TestOption
	testIndex  map[string]int
	conditions map[string][]string
	treatments map[string]api.TreatmentPlan
	warnings   []string
}

var (
	_ api.PriorProvider = (*Knowledge)(nil)
	_ api.SymptomModel  = (*Knowledge)(nil)
	_ api.TestCatalog   = (*Knowledge)(nil)
)

// Compile validates a pack and builds its lookup indexes.
func Compile(p Pack) (*Knowledge, error) {
	warnings, err := p.Validate()
	if err != nil {
		return nil, err
	}

	k := &Knowledge{
		pack:       p,
		names:      make(map[string]string, len(p.Diseases)),
		prevalence: make(map[string]map[string]float64),
		seasonal:   make(map[string]map[int]float64),
		variants:   make(map[string][]RiskAllele),
		symptoms:   make(map[string]Symptom, len(p.Symptoms)),
		testIndex:  make(map[string]int, len(p.Tests)),
		conditions: make(map[string][]string, len(p.Conditions)),
		treatments: make(map[string]api.TreatmentPlan, len(p.Treatments)),
		warnings:   warnings,
	}

	for _, d := range p.Diseases {
		k.diseases = append(k.diseases, d.ID)
		name := d.Name
		if name == "" {
			name = d.ID
		}
		k.names[d.ID] = name
	}

	for _, row := range p.Prevalence {
		region := strings.ToLower(strings.TrimSpace(row.Region))
		if k.prevalence[region] == nil {
			k.prevalence[region] = make(map[string]float64)
		}
		k.prevalence[region][row.Disease] = row.Per100k
	}

	for _, row := range p.Seasonal {
		if k.seasonal[row.Disease] == nil {
			k.seasonal[row.Disease] = make(map[int]float64)
		}
		for _, m := range row.Months {
			k.seasonal[row.Disease][m] = row.Multiplier
		}
	}

	for _, v := range p.Variants {
		id := strings.ToLower(v.ID)
		k.variants[id] = append(k.variants[id], v)
	}

	for _, s := range p.Symptoms {
		k.symptoms[s.Tag] = s
	}

	k.tests = append([]api.TestOption(nil), p.Tests...)
	for i, t := range k.tests {
		k.testIndex[t.Name] = i
	}

	for _, c := range p.Conditions {
		k.conditions[strings.ToLower(c.Condition)] = c.Diseases
	}

	for _, tp := range p.Treatments {
		k.treatments[tp.Disease] = tp
	}

	return k, nil
}

// Warnings returns data gaps found while compiling.
func (k *Knowledge) Warnings() []string {
	return k.warnings
}

// Version returns the pack version string.
func (k *Knowledge) Version() string {
	return k.pack.Version
}

// Diseases implements api.PriorProvider.
func (k *Knowledge) Diseases() []string {
	return append([]string(nil), k.diseases...)
}

// DisplayName returns the human readable disease name.
func (k *Knowledge) DisplayName(disease string) string {
	if n, ok := k.names[disease]; ok {
		return n
	}
	return disease
}

// Epidemiology implements api.PriorProvider. Prevalence rows of the region win;
// Global rows backfill diseases the region does not list. Diseases with no row
// at all are left out so the caller can apply its fallback prior.
func (k *Knowledge) Epidemiology(region string, month int) map[string]float64 {
	regional := k.prevalence[strings.ToLower(strings.TrimSpace(region))]
	global := k.prevalence[strings.ToLower(GlobalRegion)]

	out := make(map[string]float64, len(k.diseases))
	for _, d := range k.diseases {
		per100k, ok := regional[d]
		if !ok {
			per100k, ok = global[d]
		}
		if !ok {
			continue
		}
		p := per100k / 100000
		if mult, ok := k.seasonal[d][month]; ok {
			p *= mult
		}
		if p > 1 {
			p = 1
		}
		out[d] = p
	}
	return out
}

// GenomicRisk implements api.PriorProvider. Multipliers of several variants
// affecting the same disease are multiplied together.
func (k *Knowledge) GenomicRisk(variants []string) (map[string]float64, []string) {
	out := make(map[string]float64)
	var unknown []string
	seen := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		id := strings.ToLower(strings.TrimSpace(v))
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rows, ok := k.variants[id]
		if !ok {
			unknown = append(unknown, v)
			continue
		}
		for _, r := range rows {
			if cur, ok := out[r.Disease]; ok {
				out[r.Disease] = cur * r.Multiplier
			} else {
				out[r.Disease] = r.Multiplier
			}
		}
	}
	return out, unknown
}

// SymptomEvidence implements api.SymptomModel.
func (k *Knowledge) SymptomEvidence(tag string) (api.Evidence, bool) {
	s, ok := k.symptoms[tag]
	if !ok {
		return api.Evidence{}, false
	}
	likelihoods := make(map[string]float64, len(s.Likelihoods))
	for d, l := range s.Likelihoods {
		likelihoods[d] = l
	}
	return api.Evidence{
		Kind:        api.EvidenceSymptom,
		Label:       "symptom:" + s.Tag,
		Likelihoods: likelihoods,
		Default:     k.pack.DefaultSymptomLikelihood,
	}, true
}

// Vocabulary returns the recognized symptoms sorted by tag.
func (k *Knowledge) Vocabulary() []Symptom {
	out := make([]Symptom, 0, len(k.symptoms))
	for _, s := range k.symptoms {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Tests implements api.TestCatalog in pack order.
func (k *Knowledge) Tests() []api.TestOption {
	return append([]api.TestOption(nil), k.tests...)
}

// Lookup implements api.TestCatalog. Exact names win over case-insensitive matches.
func (k *Knowledge) Lookup(name string) (api.TestOption, bool) {
	if i, ok := k.testIndex[name]; ok {
		return k.tests[i], true
	}
	for _, t := range k.tests {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return api.TestOption{}, false
}

// Conditions returns the enumerated image conditions, sorted.
func (k *Knowledge) Conditions() []string {
	out := make([]string, 0, len(k.pack.Conditions))
	for _, c := range k.pack.Conditions {
		out = append(out, c.Condition)
	}
	sort.Strings(out)
	return out
}

// ConditionDiseases returns the diseases an image condition supports.
func (k *Knowledge) ConditionDiseases(condition string) []string {
	return k.conditions[strings.ToLower(strings.TrimSpace(condition))]
}

// Treatment returns the treatment plan for a disease, if the pack has one.
func (k *Knowledge) Treatment(disease string) (api.TreatmentPlan, bool) {
	tp, ok := k.treatments[disease]
	return tp, ok
}
