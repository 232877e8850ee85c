package extract

import (
	"strings"
	"unicode"
)

// NormalizeTag folds free-form symptom spellings onto the snake_case tag form:
// "jointPain", "Joint pain" and "joint-pain" all become "joint_pain".
func NormalizeTag(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	sep := false
	var prev rune
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsUpper(r):
			if b.Len() > 0 && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
				sep = true
			}
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
		default:
			sep = true
		}
		prev = r
	}
	return b.String()
}

// containsPhrase reports whether the normalized phrase occurs in the
// normalized text on tag-word boundaries, returning its byte offset.
func containsPhrase(text, phrase string) (int, bool) {
	if phrase == "" {
		return 0, false
	}
	i := strings.Index("_"+text+"_", "_"+phrase+"_")
	return i, i >= 0
}

// phraseOffsets returns the byte offset of every boundary-aligned occurrence
// of phrase in text.
func phraseOffsets(text, phrase string) []int {
	if phrase == "" {
		return nil
	}
	padded, needle := "_"+text+"_", "_"+phrase+"_"
	var out []int
	for from := 0; from < len(padded); {
		i := strings.Index(padded[from:], needle)
		if i < 0 {
			break
		}
		out = append(out, from+i)
		from += i + 1
	}
	return out
}
