package main

import (
	"bytes"
	"strings"
	"testing"

	"ddx/pkg/api"
	"ddx/pkg/gateway"

	"github.com/stretchr/testify/assert"
)

type upperNames struct{}

func (upperNames) DisplayName(d string) string { return strings.ToUpper(d) }

func TestOutcomeLine(t *testing.T) {
	tests := []struct {
		name string
		in   api.Summary
		want string
	}{
		{
			name: "diagnosed",
			in:   api.Summary{Status: api.StatusDiagnosed, Diagnosis: "gout", Confidence: 0.9, Iterations: 2, TotalCost: 15},
			want: "✅ DIAGNOSED: GOUT (90.0%) after 2 iterations, $15.00",
		},
		{
			name: "ceiling",
			in:   api.Summary{Status: api.StatusInconclusive, Iterations: 10, Flags: api.CaseFlags{CeilingReached: true, DegradedReasoning: true}},
			want: "INCONCLUSIVE after 10 iterations, $0.00 [iteration ceiling, degraded reasoning]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outcomeLine(tt.in, upperNames{}))
		})
	}
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(&buf, api.Summary{
		CaseID:       "c1",
		Status:       api.StatusDiagnosed,
		Diagnosis:    "reactive_arthritis",
		Confidence:   0.87,
		Differential: []api.DiagnosisCandidate{{Name: "reactive_arthritis", Posterior: 0.87, Prior: 0.05}},
		TestsOrdered: []api.TestRecord{{Test: "ESR/CRP", Raw: "Positive", Outcome: "positive", Cost: 15, Iteration: 1}},
		TotalCost:    15,
		Iterations:   2,
		Treatment:    &api.TreatmentPlan{Medications: []api.Medication{{Name: "Naproxen", Dosage: "500mg"}}},
		Warnings:     []string{"symptom \"itch\" is not in the vocabulary"},
	}, upperNames{})

	out := buf.String()
	for _, want := range []string{"REACTIVE_ARTHRITIS", "87.0%", "ESR/CRP", "$15.00", "Naproxen 500mg", "⚠️ symptom"} {
		assert.Contains(t, out, want)
	}
}

func TestRenderBatch(t *testing.T) {
	match := true
	var buf bytes.Buffer
	renderBatch(&buf, gateway.BatchReport{
		Summaries: []api.Summary{{CaseID: "a", Status: api.StatusDiagnosed, Diagnosis: "gout", ExpectedMatch: &match}, {}},
		Failures:  map[string]string{"b": "case has no symptoms, narrative or images"},
		Evaluated: 1, Correct: 1, Accuracy: 1, Diagnosed: 1,
		Top3: 1, Top3Accuracy: 1,
		Calibration: gateway.Calibration{Correct: 0.873},
		Pareto:      []gateway.ParetoPoint{{Budget: 25, Cases: 1, Accuracy: 1, AvgCost: 15, AvgTests: 2}},
		Cost:        gateway.Distribution{Mean: 15, Median: 15, P90: 15},
	})

	out := buf.String()
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "1/1")
	assert.Contains(t, out, "87.3%")
	assert.Contains(t, out, "$25.00")
	assert.Contains(t, out, "❌ b: case has no symptoms")
}
