package api

import (
	"math"
	"sort"
)

// Status is the lifecycle state of a diagnostic case.
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusDiagnosed    Status = "DIAGNOSED"
	StatusInconclusive Status = "INCONCLUSIVE"
	StatusCostCapped   Status = "COST_CAPPED"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s != StatusActive && s != ""
}

// Verdict is the stewardship outcome for a proposed test.
type Verdict string

const (
	VerdictApprove  Verdict = "APPROVE"
	VerdictVeto     Verdict = "VETO"
	VerdictFinalize Verdict = "FINALIZE"
)

// EvidenceKind classifies where a piece of evidence came from.
type EvidenceKind string

const (
	EvidenceSymptom   EvidenceKind = "symptom"
	EvidenceTest      EvidenceKind = "test_result"
	EvidenceImage     EvidenceKind = "image"
	EvidenceNarrative EvidenceKind = "narrative"
)

// DiagnosisCandidate is one entry of the differential.
type DiagnosisCandidate struct {
	Name      string   `json:"name"`
	Prior     float64  `json:"prior"`
	Posterior float64  `json:"posterior"`
	Trace     []string `json:"trace,omitempty"` // evidence labels applied, in order
}

// Evidence is a single observation with its likelihood under each candidate.
// Candidates missing from Likelihoods use Default. When Likelihoods is nil the
// item is unstructured and must be scored by a ReasoningOracle before use.
type Evidence struct {
	Kind        EvidenceKind       `json:"kind"`
	Label       string             `json:"label"`
	Likelihoods map[string]float64 `json:"likelihoods,omitempty"`
	Default     float64            `json:"default,omitempty"`
	Text        string             `json:"text,omitempty"`
}

// Structured reports whether the evidence carries its own likelihoods.
func (e Evidence) Structured() bool {
	return e.Likelihoods != nil
}

// Likelihood returns P(evidence | candidate).
func (e Evidence) Likelihood(candidate string) float64 {
	if v, ok := e.Likelihoods[candidate]; ok {
		return v
	}
	return e.Default
}

// OutcomeDistribution maps a result name (e.g. "positive") to its probability.
type OutcomeDistribution map[string]float64

// TestOption describes an orderable test. Immutable for the lifetime of a case.
type TestOption struct {
	Name     string                         `json:"name" yaml:"name"`
	Cost     float64                        `json:"cost" yaml:"cost"`
	Outcomes map[string]OutcomeDistribution `json:"outcomes" yaml:"outcomes"`
	Default  OutcomeDistribution            `json:"default,omitempty" yaml:"default,omitempty"`
}

// Distribution returns P(outcome | candidate) for every outcome. The second
// return value is false when the catalog has no row for the candidate and the
// default distribution was used instead.
func (t TestOption) Distribution(candidate string) (OutcomeDistribution, bool) {
	if d, ok := t.Outcomes[candidate]; ok {
		return d, true
	}
	return t.Default, false
}

// OutcomeNames returns the sorted union of all outcome names of the test.
func (t TestOption) OutcomeNames() []string {
	seen := make(map[string]struct{})
	for _, dist := range t.Outcomes {
		for o := range dist {
			seen[o] = struct{}{}
		}
	}
	for o := range t.Default {
		seen[o] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for o := range seen {
		names = append(names, o)
	}
	sort.Strings(names)
	return names
}

// OutcomeEvidence turns an observed outcome into evidence over candidates.
func (t TestOption) OutcomeEvidence(outcome string) Evidence {
	ev := Evidence{
		Kind:        EvidenceTest,
		Label:       t.Name + "=" + outcome,
		Likelihoods: make(map[string]float64, len(t.Outcomes)),
		Default:     t.Default[outcome],
	}
	for candidate, dist := range t.Outcomes {
		ev.Likelihoods[candidate] = dist[outcome]
	}
	return ev
}

// TestRecord is a test that was ordered for a case.
type TestRecord struct {
	Test      string  `json:"test"`
	Cost      float64 `json:"cost"`
	Raw       string  `json:"raw,omitempty"`
	Outcome   string  `json:"outcome,omitempty"`
	Iteration int     `json:"iteration"`
}

// Proposal is the next test suggested by the selector.
type Proposal struct {
	Test TestOption `json:"test"`
	VOI  float64    `json:"voi"`
}

// Decision is the stewardship ruling on a proposal.
type Decision struct {
	Verdict     Verdict `json:"verdict"`
	Status      Status  `json:"status,omitempty"`
	Reason      string  `json:"reason"`
	Alternative string  `json:"alternative,omitempty"`
}

// CaseFlags marks degraded or abnormal runs.
type CaseFlags struct {
	DegradedPrior     bool `json:"degraded_prior,omitempty"`
	DegradedReasoning bool `json:"degraded_reasoning,omitempty"`
	Cancelled         bool `json:"cancelled,omitempty"`
	CeilingReached    bool `json:"ceiling_reached,omitempty"`
}

// TraceEntry is one line of the audit trail kept inside the state.
type TraceEntry struct {
	Iteration int    `json:"iteration"`
	Agent     string `json:"agent"`
	Message   string `json:"message"`
}

// DiagnosticState is the per-case state owned by a single orchestrator run.
type DiagnosticState struct {
	CaseID         string               `json:"case_id"`
	Symptoms       []string             `json:"symptoms"`
	Region         string               `json:"region"`
	Month          int                  `json:"month"`
	Variants       []string             `json:"variants,omitempty"`
	Seeded         bool                 `json:"seeded"`
	TestsPerformed []TestRecord         `json:"tests_performed"`
	Candidates     []DiagnosisCandidate `json:"candidates"`
	CumulativeCost float64              `json:"cumulative_cost"`
	Iteration      int                  `json:"iteration"`
	Status         Status               `json:"status"`
	Excluded       []string             `json:"excluded,omitempty"`
	Flags          CaseFlags            `json:"flags"`
	Warnings       []string             `json:"warnings,omitempty"`
	Trace          []TraceEntry         `json:"trace,omitempty"`
}

// Top returns the leading candidate, if any.
func (s *DiagnosticState) Top() (DiagnosisCandidate, bool) {
	if len(s.Candidates) == 0 {
		return DiagnosisCandidate{}, false
	}
	return s.Candidates[0], true
}

// TopPosterior returns the posterior of the leading candidate or 0.
func (s *DiagnosticState) TopPosterior() float64 {
	if top, ok := s.Top(); ok {
		return top.Posterior
	}
	return 0
}

// Posteriors returns candidate name -> posterior.
func (s *DiagnosticState) Posteriors() map[string]float64 {
	out := make(map[string]float64, len(s.Candidates))
	for _, c := range s.Candidates {
		out[c.Name] = c.Posterior
	}
	return out
}

// Done reports whether a test was already performed or vetoed for this case.
func (s *DiagnosticState) Done(test string) bool {
	for _, r := range s.TestsPerformed {
		if r.Test == test {
			return true
		}
	}
	for _, name := range s.Excluded {
		if name == test {
			return true
		}
	}
	return false
}

// PosteriorSum returns the sum of active posteriors; used by invariants checks.
func (s *DiagnosticState) PosteriorSum() float64 {
	var sum float64
	for _, c := range s.Candidates {
		sum += c.Posterior
	}
	return sum
}

// Normalized reports whether the active posteriors sum to 1 within tol.
func (s *DiagnosticState) Normalized(tol float64) bool {
	if len(s.Candidates) == 0 {
		return true
	}
	return math.Abs(s.PosteriorSum()-1) <= tol
}
