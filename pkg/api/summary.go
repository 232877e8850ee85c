package api

// Medication is a single drug recommendation.
type Medication struct {
	Name      string `json:"name" yaml:"name"`
	Dosage    string `json:"dosage" yaml:"dosage"`
	Frequency string `json:"frequency" yaml:"frequency"`
	Duration  string `json:"duration" yaml:"duration"`
	Notes     string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// TreatmentPlan is the recommended management for a confirmed diagnosis.
type TreatmentPlan struct {
	Disease     string       `json:"disease" yaml:"disease"`
	Medications []Medication `json:"medications,omitempty" yaml:"medications,omitempty"`
	Lifestyle   []string     `json:"lifestyle,omitempty" yaml:"lifestyle,omitempty"`
	FollowUp    string       `json:"follow_up,omitempty" yaml:"follow_up,omitempty"`
	Warnings    []string     `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Referrals   []string     `json:"referrals,omitempty" yaml:"referrals,omitempty"`
}

// Summary is the final outcome of a case.
type Summary struct {
	CaseID        string               `json:"case_id"`
	Status        Status               `json:"status"`
	Diagnosis     string               `json:"diagnosis,omitempty"`
	Confidence    float64              `json:"confidence"`
	Differential  []DiagnosisCandidate `json:"differential"`
	TestsOrdered  []TestRecord         `json:"tests_ordered"`
	TotalCost     float64              `json:"total_cost"`
	Iterations    int                  `json:"iterations"`
	Flags         CaseFlags            `json:"flags"`
	Warnings      []string             `json:"warnings,omitempty"`
	Trace         []TraceEntry         `json:"trace,omitempty"`
	Treatment     *TreatmentPlan       `json:"treatment,omitempty"`
	ExpectedMatch *bool                `json:"expected_match,omitempty"`
}
