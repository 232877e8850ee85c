package extract

import (
	"strings"

	"ddx/pkg/api"
)

const (
	OutcomePositive = "positive"
	OutcomeNegative = "negative"
)

// negations are checked before anything else, since most of them embed a
// positive word ("non-reactive", "not detected").
var negations = []string{"non_reactive", "nonreactive", "not_detected", "undetected", "not_positive", "not_seen", "absent"}

var synonyms = []struct {
	outcome string
	phrases []string
}{
	{OutcomeNegative, []string{"negative", "neg", "normal", "low", "within_normal_limits", "wnl"}},
	{OutcomePositive, []string{"positive", "pos", "reactive", "detected", "elevated", "high", "raised", "abnormal", "present"}},
}

// ParseOutcome maps a raw lab result onto one of the test's outcome names.
// It reports false when the result matches none of them.
func ParseOutcome(t api.TestOption, raw string) (string, bool) {
	names := t.OutcomeNames()
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	for _, n := range names {
		if strings.EqualFold(n, trimmed) {
			return n, true
		}
	}

	has := func(outcome string) bool {
		for _, n := range names {
			if n == outcome {
				return true
			}
		}
		return false
	}

	switch trimmed {
	case "+":
		return OutcomePositive, has(OutcomePositive)
	case "-":
		return OutcomeNegative, has(OutcomeNegative)
	}

	norm := NormalizeTag(trimmed)
	for _, p := range negations {
		if _, ok := containsPhrase(norm, p); ok && has(OutcomeNegative) {
			return OutcomeNegative, true
		}
	}

	best, bestPos := "", -1
	for _, n := range names {
		if pos, ok := containsPhrase(norm, NormalizeTag(n)); ok && (bestPos < 0 || pos < bestPos) {
			best, bestPos = n, pos
		}
	}
	if bestPos >= 0 {
		return best, true
	}

	for _, s := range synonyms {
		if !has(s.outcome) {
			continue
		}
		for _, p := range s.phrases {
			if _, ok := containsPhrase(norm, p); ok {
				return s.outcome, true
			}
		}
	}
	return "", false
}
