package agent

import (
	"ddx/pkg/api"
)

// TreatmentSource looks up management plans for confirmed diagnoses.
type TreatmentSource interface {
	Treatment(disease string) (api.TreatmentPlan, bool)
}

// Summarize reports the outcome of a terminal case. Treatment is only
// attached to DIAGNOSED cases. expected may be empty.
func Summarize(state api.DiagnosticState, treatments TreatmentSource, expected string) api.Summary {
	sum := api.Summary{
		CaseID:       state.CaseID,
		Status:       state.Status,
		Differential: cloneCandidates(state.Candidates),
		TestsOrdered: append([]api.TestRecord(nil), state.TestsPerformed...),
		TotalCost:    state.CumulativeCost,
		Iterations:   state.Iteration,
		Flags:        state.Flags,
		Warnings:     append([]string(nil), state.Warnings...),
		Trace:        append([]api.TraceEntry(nil), state.Trace...),
	}

	if top, ok := state.Top(); ok {
		sum.Confidence = top.Posterior
		if state.Status == api.StatusDiagnosed {
			sum.Diagnosis = top.Name
			if treatments != nil {
				if plan, ok := treatments.Treatment(top.Name); ok {
					sum.Treatment = &plan
				}
			}
		}
	}

	if expected != "" {
		match := sum.Diagnosis == expected
		sum.ExpectedMatch = &match
	}
	return sum
}
