package agent

import (
	"context"
	"log/slog"
	"time"

	"ddx/pkg/api"
	apperrors "ddx/pkg/errors"
	"ddx/pkg/extract"
	"ddx/pkg/monitor"

	"github.com/google/uuid"
)

// CaseInput is a patient case as submitted by the caller.
type CaseInput struct {
	ID        string   `json:"id,omitempty" yaml:"id,omitempty"`
	Symptoms  []string `json:"symptoms" yaml:"symptoms"`
	Narrative string   `json:"narrative,omitempty" yaml:"narrative,omitempty"`
	Region    string   `json:"region" yaml:"region"`
	Month     int      `json:"month" yaml:"month"`
	Variants  []string `json:"variants,omitempty" yaml:"variants,omitempty"`
	// Images are file paths, loaded by the caller.
	Images []string `json:"images,omitempty" yaml:"images,omitempty"`
	// Results scripts test results by test name for offline runs.
	Results map[string]string `json:"results,omitempty" yaml:"results,omitempty"`
	// Expected is the known diagnosis, used by batch evaluation.
	Expected string `json:"expected,omitempty" yaml:"expected,omitempty"`
}

// Intake turns a CaseInput into the initial state and evidence of a case.
// Every external call runs under the step timeout; failures and timeouts
// mean no additional evidence.
type Intake struct {
	Symptoms    api.SymptomModel
	Extractor   api.EvidenceExtractor
	Classifier  api.ImageClassifier
	Conditions  extract.ConditionMapper
	ImageFloor  float64
	StepTimeout time.Duration
}

// NewCase builds the ACTIVE state and the evidence for the first update.
func (in *Intake) NewCase(ctx context.Context, input CaseInput, images []api.Image) (api.DiagnosticState, []api.Evidence) {
	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}
	ctx = monitor.WithCaseID(ctx, id)

	state := api.DiagnosticState{
		CaseID:   id,
		Region:   input.Region,
		Month:    input.Month,
		Variants: append([]string(nil), input.Variants...),
		Status:   api.StatusActive,
	}

	var evidence []api.Evidence
	seen := make(map[string]struct{})
	addTag := func(tag string) bool {
		if _, dup := seen[tag]; dup {
			return true
		}
		ev, ok := in.Symptoms.SymptomEvidence(tag)
		if !ok {
			return false
		}
		seen[tag] = struct{}{}
		state.Symptoms = append(state.Symptoms, tag)
		evidence = append(evidence, ev)
		return true
	}

	for _, raw := range input.Symptoms {
		if addTag(extract.NormalizeTag(raw)) {
			continue
		}
		matched := false
		for _, tag := range in.extract(ctx, &state, raw) {
			matched = addTag(tag) || matched
		}
		if matched {
			continue
		}
		tag := extract.NormalizeTag(raw)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		state.Symptoms = append(state.Symptoms, tag)
		state.Warnings = append(state.Warnings, apperrors.DataGap("symptom %q is not in the vocabulary; left to the reasoning backend", raw).Error())
		evidence = append(evidence, api.Evidence{
			Kind:  api.EvidenceNarrative,
			Label: "symptom:" + tag,
			Text:  raw,
		})
	}

	if input.Narrative != "" {
		tags := in.extract(ctx, &state, input.Narrative)
		for _, tag := range tags {
			addTag(tag)
		}
		if len(tags) == 0 {
			evidence = append(evidence, api.Evidence{
				Kind:  api.EvidenceNarrative,
				Label: "narrative",
				Text:  input.Narrative,
			})
		}
	}

	for _, img := range images {
		if ev, ok := in.classify(ctx, &state, img); ok {
			evidence = append(evidence, ev)
		}
	}

	return state, evidence
}

func (in *Intake) extract(ctx context.Context, state *api.DiagnosticState, text string) []string {
	if in.Extractor == nil {
		return nil
	}
	tags, err := callWithTimeout(ctx, in.StepTimeout, func(ctx context.Context) ([]string, error) {
		return in.Extractor.Extract(ctx, text)
	})
	if err != nil {
		slog.WarnContext(ctx, "Symptom extraction failed, no additional evidence", "error", err)
		state.Warnings = append(state.Warnings, apperrors.ProviderFailure(err, "extraction failed").Error())
		return nil
	}
	return tags
}

func (in *Intake) classify(ctx context.Context, state *api.DiagnosticState, img api.Image) (api.Evidence, bool) {
	if in.Classifier == nil || in.Conditions == nil {
		state.Warnings = append(state.Warnings, apperrors.DataGap("no image classifier; %s ignored", img.Name).Error())
		return api.Evidence{}, false
	}
	cls, err := callWithTimeout(ctx, in.StepTimeout, func(ctx context.Context) (api.Classification, error) {
		return in.Classifier.Classify(ctx, img)
	})
	if err != nil {
		slog.WarnContext(ctx, "Image classification failed, no additional evidence", "image", img.Name, "error", err)
		state.Warnings = append(state.Warnings, apperrors.ProviderFailure(err, "classifying %s failed", img.Name).Error())
		return api.Evidence{}, false
	}
	ev, ok := extract.ImageEvidence(img.Name, cls, in.Conditions, in.ImageFloor)
	if !ok {
		state.Warnings = append(state.Warnings, apperrors.DataGap("classifier returned no scores for %s", img.Name).Error())
	}
	return ev, ok
}
