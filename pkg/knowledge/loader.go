package knowledge

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ddx/pkg/api"
	apperrors "ddx/pkg/errors"

	jsoniter "github.com/json-iterator/go"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed packs/*.yaml
var packFS embed.FS

// DefaultPackName is the embedded pack used when no path is configured.
const DefaultPackName = "default.yaml"

// Format identifies a pack encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatXLSX Format = "xlsx"
)

// FormatOf infers the pack format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", apperrors.KnowledgeInvalid("unsupported knowledge pack extension %q", filepath.Ext(path))
	}
}

// Load reads, decodes and compiles a knowledge pack. An empty path loads the
// embedded default pack.
func Load(path string) (*Knowledge, error) {
	if path == "" {
		return Default()
	}
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open knowledge pack: %w", err)
	}
	defer f.Close()

	pack, err := Decode(f, format)
	if err != nil {
		return nil, apperrors.Wrapf(err, "decode %s", path)
	}
	return Compile(*pack)
}

// Default compiles the embedded default pack.
func Default() (*Knowledge, error) {
	data, err := packFS.ReadFile("packs/" + DefaultPackName)
	if err != nil {
		return nil, fmt.Errorf("read embedded pack: %w", err)
	}
	pack, err := Decode(bytes.NewReader(data), FormatYAML)
	if err != nil {
		return nil, err
	}
	return Compile(*pack)
}

// Decode parses a pack without validating it.
func Decode(r io.Reader, format Format) (*Pack, error) {
	var pack Pack
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&pack); err != nil {
			return nil, apperrors.WithCode(apperrors.CodeKnowledge, err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&pack); err != nil {
			return nil, apperrors.WithCode(apperrors.CodeKnowledge, err)
		}
	case FormatXLSX:
		p, err := decodeXLSX(r)
		if err != nil {
			return nil, err
		}
		pack = *p
	default:
		return nil, apperrors.KnowledgeInvalid("unknown format %q", format)
	}
	return &pack, nil
}

// Workbook sheet names. Each sheet has a header row.
const (
	SheetMeta         = "meta"          // key | value
	SheetDiseases     = "diseases"      // id | name
	SheetSymptoms     = "symptoms"      // tag | name | synonyms (";" separated)
	SheetLikelihoods  = "likelihoods"   // tag | disease | likelihood
	SheetPrevalence   = "prevalence"    // region | disease | per_100k
	SheetSeasonal     = "seasonal"      // disease | months (";" separated) | multiplier
	SheetVariants     = "variants"      // id | gene | disease | multiplier
	SheetTests        = "tests"         // name | cost
	SheetTestOutcomes = "test_outcomes" // test | disease ("*" for default) | outcome | probability
	SheetConditions   = "conditions"    // condition | disease
)

// decodeXLSX reads a workbook laid out as one sheet per pack section.
// Treatments are not representable in the workbook layout.
func decodeXLSX(r io.Reader) (*Pack, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeKnowledge, err)
	}
	defer f.Close()

	rows := func(sheet string) ([][]string, error) {
		idx, err := f.GetSheetIndex(sheet)
		if err != nil || idx < 0 {
			return nil, nil
		}
		all, err := f.GetRows(sheet)
		if err != nil {
			return nil, apperrors.WithCode(apperrors.CodeKnowledge, fmt.Errorf("sheet %s: %w", sheet, err))
		}
		if len(all) <= 1 {
			return nil, nil
		}
		return all[1:], nil
	}

	var pack Pack
	sheetErr := func(sheet string, line int, err error) error {
		return apperrors.KnowledgeInvalid("sheet %s row %d: %v", sheet, line+2, err)
	}

	meta, err := rows(SheetMeta)
	if err != nil {
		return nil, err
	}
	for i, row := range meta {
		switch cell(row, 0) {
		case "version":
			pack.Version = cell(row, 1)
		case "default_symptom_likelihood":
			v, err := parseFloat(cell(row, 1))
			if err != nil {
				return nil, sheetErr(SheetMeta, i, err)
			}
			pack.DefaultSymptomLikelihood = v
		}
	}

	diseases, err := rows(SheetDiseases)
	if err != nil {
		return nil, err
	}
	for _, row := range diseases {
		if cell(row, 0) == "" {
			continue
		}
		pack.Diseases = append(pack.Diseases, Disease{ID: cell(row, 0), Name: cell(row, 1)})
	}

	symptoms, err := rows(SheetSymptoms)
	if err != nil {
		return nil, err
	}
	symptomIdx := make(map[string]int)
	for _, row := range symptoms {
		tag := cell(row, 0)
		if tag == "" {
			continue
		}
		symptomIdx[tag] = len(pack.Symptoms)
		pack.Symptoms = append(pack.Symptoms, Symptom{
			Tag:         tag,
			Name:        cell(row, 1),
			Synonyms:    splitList(cell(row, 2)),
			Likelihoods: make(map[string]float64),
		})
	}

	likelihoods, err := rows(SheetLikelihoods)
	if err != nil {
		return nil, err
	}
	for i, row := range likelihoods {
		idx, ok := symptomIdx[cell(row, 0)]
		if !ok {
			return nil, sheetErr(SheetLikelihoods, i, fmt.Errorf("unknown symptom %q", cell(row, 0)))
		}
		v, err := parseFloat(cell(row, 2))
		if err != nil {
			return nil, sheetErr(SheetLikelihoods, i, err)
		}
		pack.Symptoms[idx].Likelihoods[cell(row, 1)] = v
	}

	prevalence, err := rows(SheetPrevalence)
	if err != nil {
		return nil, err
	}
	for i, row := range prevalence {
		v, err := parseFloat(cell(row, 2))
		if err != nil {
			return nil, sheetErr(SheetPrevalence, i, err)
		}
		pack.Prevalence = append(pack.Prevalence, Prevalence{Region: cell(row, 0), Disease: cell(row, 1), Per100k: v})
	}

	seasonal, err := rows(SheetSeasonal)
	if err != nil {
		return nil, err
	}
	for i, row := range seasonal {
		var months []int
		for _, m := range splitList(cell(row, 1)) {
			n, err := strconv.Atoi(m)
			if err != nil {
				return nil, sheetErr(SheetSeasonal, i, err)
			}
			months = append(months, n)
		}
		v, err := parseFloat(cell(row, 2))
		if err != nil {
			return nil, sheetErr(SheetSeasonal, i, err)
		}
		pack.Seasonal = append(pack.Seasonal, Seasonal{Disease: cell(row, 0), Months: months, Multiplier: v})
	}

	variants, err := rows(SheetVariants)
	if err != nil {
		return nil, err
	}
	for i, row := range variants {
		v, err := parseFloat(cell(row, 3))
		if err != nil {
			return nil, sheetErr(SheetVariants, i, err)
		}
		pack.Variants = append(pack.Variants, RiskAllele{ID: cell(row, 0), Gene: cell(row, 1), Disease: cell(row, 2), Multiplier: v})
	}

	tests, err := rows(SheetTests)
	if err != nil {
		return nil, err
	}
	testIdx := make(map[string]int)
	for i, row := range tests {
		name := cell(row, 0)
		if name == "" {
			continue
		}
		cost, err := parseFloat(cell(row, 1))
		if err != nil {
			return nil, sheetErr(SheetTests, i, err)
		}
		testIdx[name] = len(pack.Tests)
		pack.Tests = append(pack.Tests, api.TestOption{
			Name:     name,
			Cost:     cost,
			Outcomes: make(map[string]api.OutcomeDistribution),
		})
	}

	outcomes, err := rows(SheetTestOutcomes)
	if err != nil {
		return nil, err
	}
	for i, row := range outcomes {
		idx, ok := testIdx[cell(row, 0)]
		if !ok {
			return nil, sheetErr(SheetTestOutcomes, i, fmt.Errorf("unknown test %q", cell(row, 0)))
		}
		p, err := parseFloat(cell(row, 3))
		if err != nil {
			return nil, sheetErr(SheetTestOutcomes, i, err)
		}
		t := &pack.Tests[idx]
		disease, outcome := cell(row, 1), cell(row, 2)
		if disease == "*" {
			if t.Default == nil {
				t.Default = make(api.OutcomeDistribution)
			}
			t.Default[outcome] = p
			continue
		}
		if t.Outcomes[disease] == nil {
			t.Outcomes[disease] = make(api.OutcomeDistribution)
		}
		t.Outcomes[disease][outcome] = p
	}

	conditions, err := rows(SheetConditions)
	if err != nil {
		return nil, err
	}
	condIdx := make(map[string]int)
	for _, row := range conditions {
		name := cell(row, 0)
		if name == "" {
			continue
		}
		idx, ok := condIdx[name]
		if !ok {
			idx = len(pack.Conditions)
			condIdx[name] = idx
			pack.Conditions = append(pack.Conditions, ImageCondition{Condition: name})
		}
		if d := cell(row, 1); d != "" {
			pack.Conditions[idx].Diseases = append(pack.Conditions[idx].Diseases, d)
		}
	}

	return &pack, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}
