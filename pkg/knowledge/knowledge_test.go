package knowledge

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"ddx/pkg/api"
	apperrors "ddx/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func mustDefault(t *testing.T) *Knowledge {
	t.Helper()
	k, err := Default()
	require.NoError(t, err)
	return k
}

func TestDefaultPack(t *testing.T) {
	k := mustDefault(t)

	assert.Len(t, k.Diseases(), 9)
	assert.Equal(t, "reactive_arthritis", k.Diseases()[0])
	assert.Equal(t, "Reactive Arthritis", k.DisplayName("reactive_arthritis"))
	assert.Empty(t, k.Warnings())

	esr, ok := k.Lookup("esr/crp")
	require.True(t, ok)
	assert.Equal(t, "ESR/CRP", esr.Name)
	assert.Equal(t, 15.0, esr.Cost)
	assert.Equal(t, []string{"negative", "positive"}, esr.OutcomeNames())
}

func TestEpidemiology(t *testing.T) {
	k := mustDefault(t)

	march := k.Epidemiology("south asia", 3)
	assert.InDelta(t, 0.003, march["dengue"], 1e-12)
	assert.InDelta(t, 0.0003, march["reactive_arthritis"], 1e-12)

	august := k.Epidemiology("South Asia", 8)
	assert.InDelta(t, 0.0075, august["dengue"], 1e-12)

	// Europe lists three diseases; the rest come from Global rows
	europe := k.Epidemiology("Europe", 3)
	assert.Len(t, europe, 9)
	assert.InDelta(t, 0.008, europe["influenza"], 1e-12)
	assert.InDelta(t, 0.0005, europe["dengue"], 1e-12)
}

func TestEpidemiology_MissingRowsAreAbsent(t *testing.T) {
	k, err := Compile(Pack{
		Diseases:   []Disease{{ID: "a"}, {ID: "b"}},
		Prevalence: []Prevalence{{Region: "North", Disease: "a", Per100k: 10}},
	})
	require.NoError(t, err)

	priors := k.Epidemiology("North", 1)
	assert.Contains(t, priors, "a")
	assert.NotContains(t, priors, "b")
	assert.Empty(t, k.Epidemiology("South", 1))
}

func TestGenomicRisk(t *testing.T) {
	k := mustDefault(t)

	risk, unknown := k.GenomicRisk([]string{"hla-b27", "rs0000", "HLA-B27", "HLA-DRB1*04"})
	assert.Equal(t, map[string]float64{
		"reactive_arthritis":     20,
		"ankylosing_spondylitis": 10,
		"rheumatoid_arthritis":   3,
	}, risk)
	assert.Equal(t, []string{"rs0000"}, unknown)
}

func TestSymptomEvidence(t *testing.T) {
	k := mustDefault(t)

	ev, ok := k.SymptomEvidence("fever")
	require.True(t, ok)
	assert.Equal(t, api.EvidenceSymptom, ev.Kind)
	assert.Equal(t, "symptom:fever", ev.Label)
	assert.Equal(t, 0.9, ev.Likelihood("dengue"))
	assert.Equal(t, 0.05, ev.Likelihood("unknown"))

	_, ok = k.SymptomEvidence("hiccups")
	assert.False(t, ok)
}

func TestTreatmentsAndConditions(t *testing.T) {
	k := mustDefault(t)

	plan, ok := k.Treatment("reactive_arthritis")
	require.True(t, ok)
	assert.NotEmpty(t, plan.Medications)

	assert.Equal(t, []string{"gout"}, k.ConditionDiseases("Tophus"))
	assert.Contains(t, k.Conditions(), "synovitis")
}

func TestValidate_Errors(t *testing.T) {
	base := func() Pack {
		return Pack{
			Diseases: []Disease{{ID: "a"}, {ID: "b"}},
			Tests: []api.TestOption{{
				Name: "t",
				Cost: 1,
				Outcomes: map[string]api.OutcomeDistribution{
					"a": {"pos": 0.9, "neg": 0.1},
				},
				Default: api.OutcomeDistribution{"pos": 0.1, "neg": 0.9},
			}},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Pack)
	}{
		{"no diseases", func(p *Pack) { p.Diseases = nil }},
		{"duplicate disease", func(p *Pack) { p.Diseases = append(p.Diseases, Disease{ID: "a"}) }},
		{"unknown disease in test", func(p *Pack) { p.Tests[0].Outcomes["zzz"] = api.OutcomeDistribution{"pos": 1} }},
		{"distribution does not sum", func(p *Pack) { p.Tests[0].Outcomes["a"] = api.OutcomeDistribution{"pos": 0.5} }},
		{"negative cost", func(p *Pack) { p.Tests[0].Cost = -3 }},
		{"bad likelihood", func(p *Pack) {
			p.Symptoms = []Symptom{{Tag: "x", Likelihoods: map[string]float64{"a": 1.5}}}
		}},
		{"bad month", func(p *Pack) { p.Seasonal = []Seasonal{{Disease: "a", Months: []int{13}, Multiplier: 2}} }},
		{"zero variant multiplier", func(p *Pack) { p.Variants = []RiskAllele{{ID: "v", Disease: "a"}} }},
	}
	valid := base()
	_, err := valid.Validate()
	require.NoError(t, err)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.mutate(&p)
			_, err := p.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.CodeKnowledge))
		})
	}
}

func TestValidate_FillsUniformDefault(t *testing.T) {
	p := Pack{
		Diseases: []Disease{{ID: "a"}, {ID: "b"}},
		Tests: []api.TestOption{{
			Name:     "t",
			Outcomes: map[string]api.OutcomeDistribution{"a": {"pos": 0.9, "neg": 0.1}},
		}},
	}
	warnings, err := p.Validate()
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "no default distribution")
	assert.Equal(t, api.OutcomeDistribution{"neg": 0.5, "pos": 0.5}, p.Tests[0].Default)
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"version": "j1",
		"default_symptom_likelihood": 0.1,
		"diseases": [{"id": "flu"}, {"id": "cold"}],
		"symptoms": [{"tag": "cough", "likelihoods": {"flu": 0.8, "cold": 0.6}}],
		"prevalence": [{"region": "Global", "disease": "flu", "per_100k": 500}],
		"tests": [{"name": "swab", "cost": 20,
			"outcomes": {"flu": {"positive": 0.9, "negative": 0.1}},
			"default": {"positive": 0.1, "negative": 0.9}}]
	}`), 0644))

	k, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "j1", k.Version())
	assert.InDelta(t, 0.005, k.Epidemiology("Anywhere", 5)["flu"], 1e-12)
	_, ok := k.Lookup("swab")
	assert.True(t, ok)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	_, err := Load("pack.csv")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeKnowledge, apperrors.GetCode(err))
}

func TestDecode_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	sheets := map[string][][]any{
		SheetMeta:         {{"key", "value"}, {"version", "x1"}, {"default_symptom_likelihood", "0.05"}},
		SheetDiseases:     {{"id", "name"}, {"flu", "Influenza"}, {"cold", "Common Cold"}},
		SheetSymptoms:     {{"tag", "name", "synonyms"}, {"cough", "Cough", "dry cough; hacking"}},
		SheetLikelihoods:  {{"tag", "disease", "likelihood"}, {"cough", "flu", "0.8"}, {"cough", "cold", "0.6"}},
		SheetPrevalence:   {{"region", "disease", "per_100k"}, {"Global", "flu", "500"}, {"Global", "cold", "2000"}},
		SheetSeasonal:     {{"disease", "months", "multiplier"}, {"flu", "12;1;2", "1.5"}},
		SheetVariants:     {{"id", "gene", "disease", "multiplier"}, {"rs1", "IFITM3", "flu", "1.4"}},
		SheetTests:        {{"name", "cost"}, {"swab", "20"}},
		SheetTestOutcomes: {{"test", "disease", "outcome", "probability"}, {"swab", "flu", "positive", "0.9"}, {"swab", "flu", "negative", "0.1"}, {"swab", "*", "positive", "0.05"}, {"swab", "*", "negative", "0.95"}},
		SheetConditions:   {{"condition", "disease"}, {"normal", ""}},
	}
	for name, rows := range sheets {
		_, err := f.NewSheet(name)
		require.NoError(t, err)
		for i, row := range rows {
			cellRef, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cellRef, &row))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	pack, err := Decode(&buf, FormatXLSX)
	require.NoError(t, err)
	k, err := Compile(*pack)
	require.NoError(t, err)

	assert.Equal(t, "x1", k.Version())
	assert.Equal(t, []string{"flu", "cold"}, k.Diseases())
	assert.InDelta(t, 0.0075, k.Epidemiology("Global", 1)["flu"], 1e-12)
	risk, _ := k.GenomicRisk([]string{"rs1"})
	assert.Equal(t, 1.4, risk["flu"])
	swab, ok := k.Lookup("swab")
	require.True(t, ok)
	assert.Equal(t, 0.9, swab.Outcomes["flu"]["positive"])
	assert.Equal(t, 0.95, swab.Default["negative"])
	assert.Equal(t, []string{"dry cough", "hacking"}, k.Vocabulary()[0].Synonyms)
}

func TestStore_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.yaml")
	write := func(version string) {
		require.NoError(t, os.WriteFile(path, []byte("version: "+version+"\ndiseases:\n  - {id: a}\n"), 0644))
	}
	write("v1")

	s, err := NewStore(path)
	require.NoError(t, err)
	first := s.Current()
	assert.Equal(t, "v1", first.Version())

	write("v2")
	require.NoError(t, s.Reload())
	assert.Equal(t, "v2", s.Current().Version())
	// earlier snapshot is untouched
	assert.Equal(t, "v1", first.Version())

	require.NoError(t, os.WriteFile(path, []byte("diseases: ["), 0644))
	assert.Error(t, s.Reload())
	assert.Equal(t, "v2", s.Current().Version())
}
