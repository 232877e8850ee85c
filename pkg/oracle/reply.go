// Package oracle adapts an LLM backend to the reasoning ports of the engine:
// scoring unstructured evidence, extracting symptom tags from narrative text
// and classifying images. Every reply is requested as JSON and validated
// before it reaches the engine.
package oracle

import (
	"fmt"
	"math"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// decodeReply pulls the first JSON value out of a model reply. Models wrap
// JSON in ```json fences or prose often enough that a strict Unmarshal is not
// usable.
func decodeReply(reply string, v any) error {
	body := strings.TrimSpace(reply)
	if i := strings.Index(body, "```"); i >= 0 {
		body = body[i+3:]
		body = strings.TrimPrefix(body, "json")
		if j := strings.Index(body, "```"); j >= 0 {
			body = body[:j]
		}
		body = strings.TrimSpace(body)
	}

	start := strings.IndexAny(body, "{[")
	if start < 0 {
		return fmt.Errorf("no JSON in reply %q", truncate(reply, 80))
	}
	closer := byte('}')
	if body[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(body, closer)
	if end < start {
		return fmt.Errorf("unterminated JSON in reply %q", truncate(reply, 80))
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// probabilities keeps the entries of raw whose key is in allowed, clamped to
// [0, 1]. NaN and negative values are dropped.
func probabilities(raw map[string]float64, allowed []string) map[string]float64 {
	out := make(map[string]float64, len(allowed))
	for _, name := range allowed {
		v, ok := raw[name]
		if !ok || math.IsNaN(v) || v < 0 {
			continue
		}
		out[name] = math.Min(v, 1)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func bulletList(items []string) string {
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	var sb strings.Builder
	for _, it := range sorted {
		sb.WriteString("- ")
		sb.WriteString(it)
		sb.WriteString("\n")
	}
	return sb.String()
}
