package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ddx/pkg/agent"
	"ddx/pkg/api"
	"ddx/pkg/config"
	apperrors "ddx/pkg/errors"
	"ddx/pkg/knowledge"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	mu      sync.Mutex
	events  []api.TrailEvent
	ctx     api.ChannelContext
	stopped bool
}

func (c *recordingChannel) ID() string { return "recording" }

func (c *recordingChannel) Start(ctx api.ChannelContext) error {
	c.ctx = ctx
	return nil
}

func (c *recordingChannel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

func (c *recordingChannel) Publish(e api.TrailEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *recordingChannel) summaries() []api.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []api.Summary
	for _, e := range c.events {
		if e.Summary != nil {
			out = append(out, *e.Summary)
		}
	}
	return out
}

type countingMonitor struct {
	mu      sync.Mutex
	started bool
	events  int
}

func (m *countingMonitor) Start() error { m.started = true; return nil }
func (m *countingMonitor) Stop() error  { return nil }

func (m *countingMonitor) OnEvent(api.TrailEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events++
}

func newManager(t *testing.T, workers int) (*CaseManager, *recordingChannel, *countingMonitor) {
	t.Helper()
	k, err := knowledge.Default()
	require.NoError(t, err)

	sys := config.DefaultSystemConfig()
	sys.Workers = workers
	sys.StepTimeoutMs = 5000

	ch := &recordingChannel{}
	mon := &countingMonitor{}
	m, err := NewCaseManagerBuilder(knowledge.NewStaticStore(k)).
		WithSystemConfig(sys).
		WithDiagnosticConfig(config.DefaultDiagnosticConfig()).
		WithMonitor(mon).
		WithChannel(ch).
		Build()
	require.NoError(t, err)
	t.Cleanup(m.StopAll)
	return m, ch, mon
}

func scenarioCase(id, expected string) agent.CaseInput {
	return agent.CaseInput{
		ID:       id,
		Symptoms: []string{"fever", "jointPain"},
		Region:   "South Asia",
		Month:    3,
		Variants: []string{"HLA-B27"},
		Results:  map[string]string{"esr/crp": "Positive (CRP 48 mg/L)"},
		Expected: expected,
	}
}

func TestCaseManager_Run(t *testing.T) {
	m, ch, mon := newManager(t, 1)
	assert.True(t, mon.started)
	assert.Same(t, m, ch.ctx)

	sum, err := m.Run(context.Background(), scenarioCase("c1", "reactive_arthritis"))
	require.NoError(t, err)

	assert.Equal(t, api.StatusDiagnosed, sum.Status)
	assert.Equal(t, "reactive_arthritis", sum.Diagnosis)
	assert.Equal(t, 15.0, sum.TotalCost)
	assert.Equal(t, 2, sum.Iterations)
	require.NotNil(t, sum.Treatment)
	assert.Equal(t, "Naproxen", sum.Treatment.Medications[0].Name)
	require.NotNil(t, sum.ExpectedMatch)
	assert.True(t, *sum.ExpectedMatch)

	// 最後一個事件是 summary
	if diff := cmp.Diff([]api.Summary{sum}, ch.summaries()); diff != "" {
		t.Errorf("published summaries mismatch (-want +got):\n%s", diff)
	}
	status, ok := m.CaseStatus("c1")
	require.True(t, ok)
	assert.Equal(t, api.StatusDiagnosed, status)
	assert.Equal(t, len(ch.events), mon.events)
}

func TestCaseManager_RunRejectsMalformedCases(t *testing.T) {
	m, _, _ := newManager(t, 1)

	_, err := m.Run(context.Background(), agent.CaseInput{Region: "Europe"})
	assert.True(t, apperrors.Is(err, apperrors.CodeMalformedInput))

	bad := scenarioCase("c2", "")
	bad.Month = 13
	_, err = m.Run(context.Background(), bad)
	assert.True(t, apperrors.Is(err, apperrors.CodeMalformedInput))
}

func TestCaseManager_UnreadableImageIsAWarning(t *testing.T) {
	m, _, _ := newManager(t, 1)
	in := scenarioCase("c3", "")
	in.Images = []string{filepath.Join(t.TempDir(), "missing.png")}

	sum, err := m.Run(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, sum.Warnings)
	assert.Contains(t, sum.Warnings[0], "image skipped")
	assert.Equal(t, api.StatusDiagnosed, sum.Status)
}

type gatedResults struct {
	entered chan struct{}
	release chan struct{}
}

func (g gatedResults) Result(ctx context.Context, _ string, _ api.TestOption) (string, error) {
	g.entered <- struct{}{}
	<-g.release
	return "negative", nil
}

func TestCaseManager_SubmitAndCancel(t *testing.T) {
	m, ch, _ := newManager(t, 1)
	gate := gatedResults{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m.SetResults(func(agent.CaseInput) api.ResultSource { return gate })

	id, err := m.SubmitCase([]byte(`{"id": "c4", "symptoms": ["fever", "joint pain"], "region": "South Asia", "month": 3, "variants": ["HLA-B27"]}`))
	require.NoError(t, err)
	assert.Equal(t, "c4", id)

	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("case never ordered a test")
	}

	status, ok := m.CaseStatus("c4")
	require.True(t, ok)
	assert.Equal(t, api.StatusActive, status)

	_, err = m.Submit(context.Background(), agent.CaseInput{ID: "c4", Symptoms: []string{"fever"}})
	assert.Error(t, err, "ids are unique while running")

	assert.True(t, m.CancelCase("c4"))
	assert.False(t, m.CancelCase("c4"))
	close(gate.release)
	m.Wait()

	sums := ch.summaries()
	require.Len(t, sums, 1)
	assert.Equal(t, api.StatusInconclusive, sums[0].Status)
	assert.True(t, sums[0].Flags.Cancelled)
	assert.Equal(t, 1, sums[0].Iterations)

	assert.False(t, m.CancelCase("nope"))
	_, ok = m.CaseStatus("nope")
	assert.False(t, ok)
}

func TestCaseManager_SubmitCaseRejectsGarbage(t *testing.T) {
	m, _, _ := newManager(t, 1)
	_, err := m.SubmitCase([]byte("   "))
	assert.Error(t, err)
	_, err = m.SubmitCase([]byte(`{"symptoms": [`))
	assert.True(t, apperrors.Is(err, apperrors.CodeMalformedInput))
}

func TestRunBatch(t *testing.T) {
	m, _, _ := newManager(t, 2)

	report, err := m.RunBatch(context.Background(), []agent.CaseInput{
		scenarioCase("right", "reactive_arthritis"),
		scenarioCase("wrong", "gout"),
		{ID: "empty"},
		scenarioCase("unlabelled", ""),
	})
	require.NoError(t, err)

	require.Len(t, report.Summaries, 4)
	assert.Equal(t, "right", report.Summaries[0].CaseID)
	assert.Equal(t, "unlabelled", report.Summaries[3].CaseID)
	assert.Contains(t, report.Failures, "empty")
	assert.Equal(t, 3, report.Diagnosed)
	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 1, report.Correct)
	assert.InDelta(t, 0.5, report.Accuracy, 1e-9)
	assert.Equal(t, Distribution{Mean: 15, Median: 15, P90: 15}, report.Cost)
	assert.Equal(t, Distribution{Mean: 2, Median: 2, P90: 2}, report.Iterations)

	// 兩個有標準答案的 case 都花 $15，每個預算點都涵蓋它們
	assert.GreaterOrEqual(t, report.Top3, 1)
	require.Len(t, report.Pareto, len(ParetoBudgets))
	for _, p := range report.Pareto {
		assert.Equal(t, 2, p.Cases)
		assert.InDelta(t, 0.5, p.Accuracy, 1e-9)
		assert.InDelta(t, 15, p.AvgCost, 1e-9)
	}
}

func TestBuildReport_Evaluation(t *testing.T) {
	yes, no := true, false
	diff := func(names ...string) []api.DiagnosisCandidate {
		out := make([]api.DiagnosisCandidate, len(names))
		for i, n := range names {
			out[i] = api.DiagnosisCandidate{Name: n}
		}
		return out
	}
	tests := func(n int) []api.TestRecord { return make([]api.TestRecord, n) }

	inputs := []agent.CaseInput{
		{ID: "a", Expected: "dengue"},
		{ID: "b", Expected: "chikungunya"},
		{ID: "c", Expected: "malaria"},
		{ID: "d"},
		{ID: "e", Expected: "gout"},
	}
	summaries := []api.Summary{
		{CaseID: "a", Status: api.StatusDiagnosed, Diagnosis: "dengue", Confidence: 0.9, TotalCost: 20, TestsOrdered: tests(1), ExpectedMatch: &yes,
			Differential: diff("dengue", "chikungunya")},
		{CaseID: "b", Status: api.StatusDiagnosed, Diagnosis: "dengue", Confidence: 0.6, TotalCost: 80, TestsOrdered: tests(3), ExpectedMatch: &no,
			Differential: diff("dengue", "influenza", "chikungunya", "malaria")},
		{CaseID: "c", Status: api.StatusCostCapped, Confidence: 0.4, TotalCost: 300, TestsOrdered: tests(5), ExpectedMatch: &no,
			Differential: diff("dengue", "influenza", "typhoid", "malaria")},
		{CaseID: "d", Status: api.StatusDiagnosed, Confidence: 0.95, TotalCost: 10},
		{},
	}
	errs := []error{nil, nil, nil, nil, errors.New("no symptoms")}

	r := buildReport(inputs, summaries, errs)

	assert.Equal(t, map[string]string{"e": "no symptoms"}, r.Failures)
	assert.Equal(t, 3, r.Diagnosed)
	assert.Equal(t, 3, r.Evaluated)
	assert.Equal(t, 1, r.Correct)
	assert.Equal(t, 2, r.Top3, "malaria is fourth in case c")
	assert.InDelta(t, 2.0/3, r.Top3Accuracy, 1e-9)
	assert.InDelta(t, 0.9, r.Calibration.Correct, 1e-9)
	assert.InDelta(t, 0.5, r.Calibration.Incorrect, 1e-9)

	want := []ParetoPoint{
		{Budget: 25, Cases: 1, Accuracy: 1, AvgCost: 20, AvgTests: 1},
		{Budget: 50, Cases: 1, Accuracy: 1, AvgCost: 20, AvgTests: 1},
		{Budget: 100, Cases: 2, Accuracy: 0.5, AvgCost: 50, AvgTests: 2},
		{Budget: 200, Cases: 2, Accuracy: 0.5, AvgCost: 50, AvgTests: 2},
		{Budget: 500, Cases: 3, Accuracy: 1.0 / 3, AvgCost: 400.0 / 3, AvgTests: 3},
	}
	if diff := cmp.Diff(want, r.Pareto, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("Pareto mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildReport_NoLabels(t *testing.T) {
	r := buildReport([]agent.CaseInput{{ID: "x"}}, []api.Summary{{CaseID: "x", TotalCost: 600}}, []error{nil})
	assert.Zero(t, r.Evaluated)
	assert.Zero(t, r.Top3Accuracy)
	assert.Empty(t, r.Pareto)
	assert.Equal(t, Calibration{}, r.Calibration)
}

func TestRunBatch_CancelledContext(t *testing.T) {
	m, _, _ := newManager(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.RunBatch(ctx, []agent.CaseInput{scenarioCase("a", "")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScriptedResults(t *testing.T) {
	s := ScriptedResults{"ESR/CRP": "positive"}

	raw, err := s.Result(context.Background(), "c", api.TestOption{Name: "esr/crp"})
	require.NoError(t, err)
	assert.Equal(t, "positive", raw)

	_, err = s.Result(context.Background(), "c", api.TestOption{Name: "Dengue NS1"})
	assert.True(t, apperrors.Is(err, apperrors.CodeDataGap))
}

func TestLoadCaseDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b.yaml":    "symptoms: [fever]\nregion: Europe\nmonth: 1\nimages: [knee.png]\n",
		"a.json":    `{"id": "first", "symptoms": ["rash"], "region": "Global", "month": 6}`,
		"notes.txt": "ignored",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	inputs, err := LoadCaseDir(dir)
	require.NoError(t, err)
	want := []agent.CaseInput{
		{ID: "first", Symptoms: []string{"rash"}, Region: "Global", Month: 6},
		{ID: "b", Symptoms: []string{"fever"}, Region: "Europe", Month: 1, Images: []string{filepath.Join(dir, "knee.png")}},
	}
	if diff := cmp.Diff(want, inputs); diff != "" {
		t.Errorf("LoadCaseDir() mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.json"), []byte("{broken"), 0o644))
	_, err = LoadCaseDir(dir)
	assert.Error(t, err)
}
