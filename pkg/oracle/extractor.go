package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ddx/pkg/api"
	"ddx/pkg/extract"
	"ddx/pkg/knowledge"
	"ddx/pkg/llm"
)

const extractPrompt = `You map a patient's description to symptom tags.
Reply with a JSON array containing only tags from the vocabulary below, in the
order the symptoms are mentioned. Reply [] if none apply. No prose.

Vocabulary (tag: name, synonyms):
`

// Extractor maps free text to symptom tags with an LLM. Failures and empty
// answers fall back to keyword matching, so extraction only errors when the
// context is done.
type Extractor struct {
	client   llm.LLMClient
	known    map[string]struct{}
	vocab    string
	fallback *extract.KeywordExtractor
}

var _ api.EvidenceExtractor = (*Extractor)(nil)

func NewExtractor(client llm.LLMClient, vocab []knowledge.Symptom) *Extractor {
	known := make(map[string]struct{}, len(vocab))
	var sb strings.Builder
	for _, s := range vocab {
		known[s.Tag] = struct{}{}
		fmt.Fprintf(&sb, "- %s: %s", s.Tag, s.Name)
		if len(s.Synonyms) > 0 {
			fmt.Fprintf(&sb, " (%s)", strings.Join(s.Synonyms, ", "))
		}
		sb.WriteString("\n")
	}
	return &Extractor{
		client:   client,
		known:    known,
		vocab:    sb.String(),
		fallback: extract.NewKeywordExtractor(vocab),
	}
}

func (e *Extractor) Extract(ctx context.Context, text string) ([]string, error) {
	tags, err := e.ask(ctx, text)
	if err == nil && len(tags) > 0 {
		return tags, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		slog.WarnContext(ctx, "⚠️ LLM extraction failed, using keyword matching", "error", err)
	}
	return e.fallback.Extract(ctx, text)
}

func (e *Extractor) ask(ctx context.Context, text string) ([]string, error) {
	reply, err := llm.Complete(ctx, e.client, []llm.Message{
		llm.NewSystemMessage(extractPrompt + e.vocab),
		llm.NewUserMessage(text),
	})
	if err != nil {
		return nil, err
	}

	var raw []string
	if err := decodeReply(reply, &raw); err != nil {
		return nil, err
	}

	var tags []string
	seen := make(map[string]struct{})
	for _, r := range raw {
		tag := extract.NormalizeTag(r)
		if _, ok := e.known[tag]; !ok {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags, nil
}
