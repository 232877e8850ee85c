package extract

import (
	"context"
	"sort"
	"strings"

	"ddx/pkg/api"
	"ddx/pkg/knowledge"
)

// KeywordExtractor maps free text onto the symptom vocabulary of a knowledge
// pack by tag, display name, synonym and in-sentence phrase matches. It never
// fails and never blocks.
type KeywordExtractor struct {
	aliases []alias
}

type alias struct {
	phrase string // normalized
	tag    string
}

var _ api.EvidenceExtractor = (*KeywordExtractor)(nil)

func NewKeywordExtractor(vocab []knowledge.Symptom) *KeywordExtractor {
	var aliases []alias
	seen := make(map[string]struct{})
	add := func(s, tag string) {
		p := NormalizeTag(s)
		if p == "" {
			return
		}
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		aliases = append(aliases, alias{phrase: p, tag: tag})
	}
	for _, s := range vocab {
		add(s.Tag, s.Tag)
		add(s.Name, s.Tag)
		for _, syn := range s.Synonyms {
			add(syn, s.Tag)
		}
	}
	// Longest phrases first so "joint pain" wins over "pain".
	sort.SliceStable(aliases, func(i, j int) bool {
		return len(aliases[i].phrase) > len(aliases[j].phrase)
	})
	return &KeywordExtractor{aliases: aliases}
}

// Extract returns the recognized tags in order of first appearance.
func (k *KeywordExtractor) Extract(_ context.Context, text string) ([]string, error) {
	var tags []string
	seen := make(map[string]struct{})
	for _, fragment := range splitFragments(text) {
		norm := NormalizeTag(fragment)
		if norm == "" {
			continue
		}
		type hit struct {
			pos int
			tag string
		}
		var hits []hit
		taken := make([]bool, len(norm)+2)
		for _, a := range k.aliases {
			for _, pos := range phraseOffsets(norm, a.phrase) {
				if taken[pos] {
					continue
				}
				end := pos + len(a.phrase)
				for i := pos; i < end+1 && i < len(taken); i++ {
					taken[i] = true
				}
				// 否定的提及也要佔位，避免較短的別名再從中被抽出
				if negated(norm, pos, end) {
					continue
				}
				hits = append(hits, hit{pos: pos, tag: a.tag})
			}
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
		for _, h := range hits {
			if _, dup := seen[h.tag]; dup {
				continue
			}
			seen[h.tag] = struct{}{}
			tags = append(tags, h.tag)
		}
	}
	return tags, nil
}

// negationCues precede a denied symptom: "no fever", "denies joint pain".
var negationCues = []string{"no", "not", "denies", "denied", "deny", "without", "negative_for", "free_of", "absence_of", "never"}

// clauseBreaks end the reach of a preceding negation cue.
var clauseBreaks = map[string]bool{"but": true, "however": true, "though": true, "although": true, "yet": true, "except": true}

const negationWindow = 3 // words

// negated reports whether the phrase at norm[pos:end] is denied by a cue in
// the few words before it, or by a result negation right after it
// ("rash absent").
func negated(norm string, pos, end int) bool {
	before := strings.Split(strings.Trim(norm[:pos], "_"), "_")
	start := max(len(before)-negationWindow, 0)
	for i := len(before) - 1; i >= start; i-- {
		if clauseBreaks[before[i]] {
			start = i + 1
			break
		}
	}
	if window := strings.Join(before[start:], "_"); window != "" {
		for _, cue := range negationCues {
			if _, ok := containsPhrase(window, cue); ok {
				return true
			}
		}
	}

	after := strings.Split(strings.Trim(norm[end:], "_"), "_")
	window := strings.Join(after[:min(len(after), 2)], "_")
	for _, cue := range negations {
		if _, ok := containsPhrase(window, cue); ok {
			return true
		}
	}
	return false
}

func splitFragments(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ',', ';', '.', '\n', '\r', '!', '?':
			return true
		}
		return false
	})
}
