package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ddx/pkg/api"
	"ddx/pkg/config"
	"ddx/pkg/extract"
	"ddx/pkg/knowledge"

	"github.com/stretchr/testify/require"
)

type mapPriors struct {
	diseases []string
	epi      map[string]float64
	risk     map[string]float64
}

func (p mapPriors) Diseases() []string { return p.diseases }

func (p mapPriors) Epidemiology(string, int) map[string]float64 {
	out := make(map[string]float64, len(p.epi))
	for k, v := range p.epi {
		out[k] = v
	}
	return out
}

func (p mapPriors) GenomicRisk(variants []string) (map[string]float64, []string) {
	var unknown []string
	for _, v := range variants {
		if v != "known" {
			unknown = append(unknown, v)
		}
	}
	return p.risk, unknown
}

type staticCatalog []api.TestOption

func (c staticCatalog) Tests() []api.TestOption { return c }

func (c staticCatalog) Lookup(name string) (api.TestOption, bool) {
	for _, t := range c {
		if t.Name == name {
			return t, true
		}
	}
	return api.TestOption{}, false
}

// scriptedResults answers from a fixed table and records every request.
type scriptedResults struct {
	mu        sync.Mutex
	results   map[string]string
	requested []string
}

func (s *scriptedResults) Result(_ context.Context, _ string, t api.TestOption) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = append(s.requested, t.Name)
	raw, ok := s.results[t.Name]
	if !ok {
		return "", errors.New("no result scripted")
	}
	return raw, nil
}

type stubOracle struct {
	scores map[string]float64
	err    error
	calls  int
}

func (o *stubOracle) Score(context.Context, api.DiagnosticState, api.Evidence) (map[string]float64, error) {
	o.calls++
	return o.scores, o.err
}

type eventLog struct {
	mu     sync.Mutex
	events []api.TrailEvent
}

func (l *eventLog) Record(e api.TrailEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Kind
	}
	return out
}

func defaultPack(t *testing.T) *knowledge.Knowledge {
	t.Helper()
	k, err := knowledge.Default()
	require.NoError(t, err)
	return k
}

func scenarioIntake(k *knowledge.Knowledge) *Intake {
	return &Intake{
		Symptoms:   k,
		Extractor:  extract.NewKeywordExtractor(k.Vocabulary()),
		Conditions: k,
		ImageFloor: config.DefaultDiagnosticConfig().ImageFloor,
	}
}

func scenarioInput() CaseInput {
	return CaseInput{
		ID:       "case-1",
		Symptoms: []string{"fever", "jointPain"},
		Region:   "South Asia",
		Month:    3,
		Variants: []string{"HLA-B27"},
	}
}

func defaultConfig() config.DiagnosticConfig {
	return config.DefaultDiagnosticConfig()
}
