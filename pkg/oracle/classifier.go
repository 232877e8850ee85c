package oracle

import (
	"context"
	"fmt"
	"sort"

	"ddx/pkg/api"
	"ddx/pkg/llm"
)

const classifyPrompt = `You are a clinical image classifier. Estimate the probability that the image
shows each of the conditions below. Reply with a single JSON object mapping
condition names to numbers between 0 and 1. Use only the listed names. No prose.

Conditions:
`

// Classifier scores images over a fixed set of conditions with a
// vision-capable model. It produces no saliency map.
type Classifier struct {
	client     llm.LLMClient
	conditions []string
}

var _ api.ImageClassifier = (*Classifier)(nil)

func NewClassifier(client llm.LLMClient, conditions []string) *Classifier {
	return &Classifier{client: client, conditions: append([]string(nil), conditions...)}
}

func (c *Classifier) Classify(ctx context.Context, img api.Image) (api.Classification, error) {
	if len(c.conditions) == 0 {
		return api.Classification{}, fmt.Errorf("no conditions configured")
	}
	if len(img.Data) == 0 {
		return api.Classification{}, fmt.Errorf("image %s is empty", img.Name)
	}

	user := llm.NewUserMessage(fmt.Sprintf("Image: %s", img.Name))
	user.Content = append(user.Content, llm.NewImageBlock(img.Data, img.MimeType))

	reply, err := llm.Complete(ctx, c.client, []llm.Message{
		llm.NewSystemMessage(classifyPrompt + bulletList(c.conditions)),
		user,
	})
	if err != nil {
		return api.Classification{}, err
	}

	var raw map[string]float64
	if err := decodeReply(reply, &raw); err != nil {
		return api.Classification{}, err
	}

	probs := probabilities(raw, c.conditions)
	cls := api.Classification{Scores: make([]api.ConditionScore, 0, len(probs))}
	for cond, p := range probs {
		cls.Scores = append(cls.Scores, api.ConditionScore{Condition: cond, Probability: p})
	}
	sort.Slice(cls.Scores, func(i, j int) bool {
		if cls.Scores[i].Probability != cls.Scores[j].Probability {
			return cls.Scores[i].Probability > cls.Scores[j].Probability
		}
		return cls.Scores[i].Condition < cls.Scores[j].Condition
	})
	return cls, nil
}
