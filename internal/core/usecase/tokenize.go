package usecase

import (
	"strings"
	"unicode/utf8"
)

// tokenize lowercases s and splits it on anything that is not an ASCII
// letter, an ASCII digit or a Hangul syllable. Single-rune tokens are dropped.
func tokenize(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		token := b.String()
		b.Reset()
		if utf8.RuneCountInString(token) > 1 {
			tokens = append(tokens, token)
		}
	}

	for _, r := range strings.ToLower(s) {
		if isTokenRune(r) {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

func isTokenRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || (r >= 0xAC00 && r <= 0xD7A3)
}

func toTokenSet(s string) map[string]struct{} {
	tokens := tokenize(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

// truncateRunes returns at most n leading runes of s.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
