package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ddx/pkg/api"
	"ddx/pkg/config"
	apperrors "ddx/pkg/errors"

	"github.com/montanaflynn/stats"
)

// UpdateReport carries what the engine noticed while updating; the
// orchestrator folds it into the case state.
type UpdateReport struct {
	Seeded            bool
	Applied           []string
	Warnings          []string
	DegradedPrior     bool
	DegradedReasoning bool
}

func (r *UpdateReport) warn(err *apperrors.AppError) {
	r.Warnings = append(r.Warnings, err.Error())
}

// HypothesisEngine maintains the posterior over candidate diagnoses.
type HypothesisEngine struct {
	priors      api.PriorProvider
	oracle      api.ReasoningOracle
	cfg         config.DiagnosticConfig
	stepTimeout time.Duration
}

// NewHypothesisEngine creates an engine. oracle may be nil, in which case
// unstructured evidence is ignored and the case is marked degraded.
func NewHypothesisEngine(priors api.PriorProvider, oracle api.ReasoningOracle, cfg config.DiagnosticConfig, stepTimeout time.Duration) *HypothesisEngine {
	return &HypothesisEngine{
		priors:      priors,
		oracle:      oracle,
		cfg:         cfg,
		stepTimeout: stepTimeout,
	}
}

// Update returns a new ranked candidate list with evidence applied. The
// state's own candidates are never modified. On the first call for a case
// the list is seeded from epidemiology and genomic risk.
func (h *HypothesisEngine) Update(ctx context.Context, state api.DiagnosticState, evidence []api.Evidence) ([]api.DiagnosisCandidate, UpdateReport) {
	var report UpdateReport

	var cands []api.DiagnosisCandidate
	if state.Seeded {
		cands = cloneCandidates(state.Candidates)
	} else {
		cands = h.seed(state, &report)
		report.Seeded = true
	}

	for _, ev := range evidence {
		if len(cands) == 0 {
			break
		}
		if !ev.Structured() {
			scored, ok := h.score(ctx, state, cands, ev, &report)
			if !ok {
				continue
			}
			ev = scored
		}
		if h.apply(cands, ev) {
			report.Applied = append(report.Applied, ev.Label)
		} else {
			report.warn(apperrors.MalformedInput("evidence %q contradicts every candidate; ignored", ev.Label))
		}
	}

	return h.prune(cands), report
}

// seed builds the normalized prior over the full disease universe.
func (h *HypothesisEngine) seed(state api.DiagnosticState, report *UpdateReport) []api.DiagnosisCandidate {
	diseases := h.priors.Diseases()
	if len(diseases) == 0 {
		report.warn(apperrors.DataGap("no candidate diseases available"))
		return nil
	}

	epi := h.priors.Epidemiology(state.Region, state.Month)
	fallback := h.fallbackPrior(epi, len(diseases))

	risk, unknown := h.priors.GenomicRisk(state.Variants)
	for _, v := range unknown {
		report.warn(apperrors.MalformedInput("unrecognized genomic variant %q ignored", v))
	}

	names := make([]string, len(diseases))
	weights := make([]float64, len(diseases))
	for i, d := range diseases {
		p, ok := epi[d]
		if !ok {
			p = fallback
			report.DegradedPrior = true
			report.warn(apperrors.DataGap("no prior for %s in %q; using fallback %.3g", d, state.Region, fallback))
		}
		if m, ok := risk[d]; ok {
			p *= m
		}
		names[i] = d
		weights[i] = p
	}

	if !normalize(weights) {
		report.DegradedPrior = true
		report.warn(apperrors.DataGap("all priors are zero for %q; using uniform prior", state.Region))
		for i := range weights {
			weights[i] = 1 / float64(len(weights))
		}
	}

	cands := make([]api.DiagnosisCandidate, len(names))
	for i, d := range names {
		cands[i] = api.DiagnosisCandidate{Name: d, Prior: weights[i], Posterior: weights[i]}
	}
	return cands
}

// fallbackPrior is the configured value, or the median of known priors for
// the region, or uniform when nothing is known.
func (h *HypothesisEngine) fallbackPrior(known map[string]float64, n int) float64 {
	if h.cfg.FallbackPrior > 0 {
		return h.cfg.FallbackPrior
	}
	if len(known) > 0 {
		values := make(stats.Float64Data, 0, len(known))
		for _, v := range known {
			values = append(values, v)
		}
		if m, err := values.Median(); err == nil && m > 0 {
			return m
		}
	}
	return 1 / float64(n)
}

// score asks the oracle for likelihoods of evidence that has none.
func (h *HypothesisEngine) score(ctx context.Context, state api.DiagnosticState, cands []api.DiagnosisCandidate, ev api.Evidence, report *UpdateReport) (api.Evidence, bool) {
	if h.oracle == nil {
		report.DegradedReasoning = true
		report.warn(apperrors.ProviderFailure(nil, "no reasoning backend for %q; ignored", ev.Label))
		return ev, false
	}

	view := state
	view.Candidates = cloneCandidates(cands)
	scores, err := callWithTimeout(ctx, h.stepTimeout, func(ctx context.Context) (map[string]float64, error) {
		return h.oracle.Score(ctx, view, ev)
	})
	if err != nil {
		slog.WarnContext(ctx, "Reasoning oracle failed, continuing with structured evidence", "evidence", ev.Label, "error", err)
		report.DegradedReasoning = true
		report.warn(apperrors.ProviderFailure(err, "scoring %q failed; ignored", ev.Label))
		return ev, false
	}

	likelihoods := make(map[string]float64, len(cands))
	floor := -1.0
	for _, c := range cands {
		v, ok := scores[c.Name]
		if !ok || v < 0 {
			continue
		}
		if v > 1 {
			v = 1
		}
		likelihoods[c.Name] = v
		if floor < 0 || v < floor {
			floor = v
		}
	}
	if len(likelihoods) == 0 {
		report.DegradedReasoning = true
		report.warn(apperrors.ProviderFailure(nil, "oracle returned no usable scores for %q", ev.Label))
		return ev, false
	}

	ev.Likelihoods = likelihoods
	if ev.Default <= 0 {
		// unscored candidates are treated like the weakest scored one
		ev.Default = floor
	}
	return ev, true
}

// apply folds one structured evidence item into cands in place. It reports
// false and leaves cands alone when no candidate survives.
func (h *HypothesisEngine) apply(cands []api.DiagnosisCandidate, ev api.Evidence) bool {
	names, post := vectors(cands)
	next, ok := project(names, post, ev.Likelihood)
	if !ok {
		return false
	}
	for i := range cands {
		cands[i].Posterior = next[i]
		cands[i].Trace = append(cands[i].Trace, ev.Label)
	}
	return true
}

// prune drops candidates under the retention threshold, ranks, caps at top-K
// and renormalizes. The leader always survives.
func (h *HypothesisEngine) prune(cands []api.DiagnosisCandidate) []api.DiagnosisCandidate {
	if len(cands) == 0 {
		return cands
	}
	rank(cands)

	kept := make([]api.DiagnosisCandidate, 0, len(cands))
	for i, c := range cands {
		if i > 0 && c.Posterior < h.cfg.RetentionThreshold {
			continue
		}
		kept = append(kept, c)
	}
	if h.cfg.TopK > 0 && len(kept) > h.cfg.TopK {
		kept = kept[:h.cfg.TopK]
	}

	_, post := vectors(kept)
	if normalize(post) {
		for i := range kept {
			kept[i].Posterior = post[i]
		}
	}
	rank(kept)
	return kept
}

// Describe renders the leading candidates for trace messages.
func Describe(cands []api.DiagnosisCandidate, n int) string {
	if len(cands) < n {
		n = len(cands)
	}
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s %.3f", cands[i].Name, cands[i].Posterior)
	}
	return s
}
