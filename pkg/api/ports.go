package api

import (
	"context"
	"time"
)

// PriorProvider is the read-only source of epidemiological and genomic priors.
type PriorProvider interface {
	// Diseases returns the candidate universe in a stable order.
	Diseases() []string
	// Epidemiology returns P(disease) for a region and month (1-12). Diseases
	// with no data for the region are absent from the map.
	Epidemiology(region string, month int) map[string]float64
	// GenomicRisk returns the combined risk multiplier per disease and the
	// variant ids it did not recognize.
	GenomicRisk(variants []string) (map[string]float64, []string)
}

// SymptomModel resolves symptom tags into structured evidence.
type SymptomModel interface {
	SymptomEvidence(tag string) (Evidence, bool)
}

// EvidenceExtractor maps free text to symptom tags on a best-effort basis.
type EvidenceExtractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// Image is an uploaded image to classify.
type Image struct {
	Name     string `json:"name"`
	MimeType string `json:"mime"`
	Data     []byte `json:"-"`
}

// ConditionScore is a classifier probability for one enumerated condition.
type ConditionScore struct {
	Condition   string  `json:"condition"`
	Probability float64 `json:"probability"`
}

// Classification is the classifier output. Saliency is display-only.
type Classification struct {
	Scores   []ConditionScore `json:"scores"`
	Saliency []byte           `json:"-"`
}

// ImageClassifier scores an image over a fixed set of conditions.
type ImageClassifier interface {
	Classify(ctx context.Context, img Image) (Classification, error)
}

// TestCatalog lists the orderable tests.
type TestCatalog interface {
	Tests() []TestOption
	Lookup(name string) (TestOption, bool)
}

// ResultSource executes (or simulates) an ordered test and returns its raw result.
type ResultSource interface {
	Result(ctx context.Context, caseID string, test TestOption) (string, error)
}

// ReasoningOracle scores unstructured evidence against the current candidates.
type ReasoningOracle interface {
	Score(ctx context.Context, state DiagnosticState, evidence Evidence) (map[string]float64, error)
}

// TrailEvent is one auditable step of a case, published to sinks.
type TrailEvent struct {
	Timestamp time.Time `json:"timestamp"`
	CaseID    string    `json:"case_id"`
	Iteration int       `json:"iteration"`
	Agent     string    `json:"agent"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Status    Status    `json:"status"`
	Decision  *Decision `json:"decision,omitempty"`
	Summary   *Summary  `json:"summary,omitempty"`
}

// TrailRecorder receives trail events. Implementations must not block for long.
type TrailRecorder interface {
	Record(event TrailEvent)
}

// TrailRecorderFunc adapts a function to TrailRecorder.
type TrailRecorderFunc func(TrailEvent)

func (f TrailRecorderFunc) Record(event TrailEvent) {
	f(event)
}
