package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ddx/pkg/api"
	"ddx/pkg/llm"
)

const scorePrompt = `You are a diagnostic reasoning assistant. Estimate how likely the observation
is for a patient who has each candidate disease, i.e. P(observation | disease).

Reply with a single JSON object mapping every candidate name to a number
between 0 and 1. Use only the candidate names listed. No prose.`

// Oracle scores unstructured evidence with an LLM.
type Oracle struct {
	client llm.LLMClient
}

var _ api.ReasoningOracle = (*Oracle)(nil)

func New(client llm.LLMClient) *Oracle {
	return &Oracle{client: client}
}

// Score asks the model for P(evidence | candidate) over the current
// differential. Names outside the differential are dropped; an answer that
// scores none of the candidates is an error.
func (o *Oracle) Score(ctx context.Context, state api.DiagnosticState, evidence api.Evidence) (map[string]float64, error) {
	names := make([]string, 0, len(state.Candidates))
	for _, c := range state.Candidates {
		names = append(names, c.Name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no candidates to score")
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Region: %s, month: %d\n", state.Region, state.Month)
	if len(state.Symptoms) > 0 {
		fmt.Fprintf(&user, "Known symptoms: %s\n", strings.Join(state.Symptoms, ", "))
	}
	fmt.Fprintf(&user, "Observation (%s): %s\n\nCandidates:\n%s", evidence.Label, evidence.Text, bulletList(names))

	reply, err := llm.Complete(ctx, o.client, []llm.Message{
		llm.NewSystemMessage(scorePrompt),
		llm.NewUserMessage(user.String()),
	})
	if err != nil {
		return nil, err
	}

	var raw map[string]float64
	if err := decodeReply(reply, &raw); err != nil {
		return nil, err
	}
	scores := probabilities(raw, names)
	if len(scores) == 0 {
		return nil, fmt.Errorf("reply scored none of the %d candidates", len(names))
	}
	slog.DebugContext(ctx, "🔮 Oracle scored evidence", "label", evidence.Label, "scored", len(scores))
	return scores, nil
}
