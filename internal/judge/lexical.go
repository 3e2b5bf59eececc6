package judge

import (
	"context"
	"strings"
	"unicode"
)

// LexicalBackend scores by token Jaccard overlap. It needs no network and is
// meant for local development.
type LexicalBackend struct{}

func (LexicalBackend) Similarities(_ context.Context, master string, guesses []string) ([]float64, error) {
	want := tokens(master)
	out := make([]float64, len(guesses))
	for i, guess := range guesses {
		out[i] = jaccard(want, tokens(guess))
	}
	return out, nil
}

func tokens(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		set[field] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	shared := 0
	for token := range a {
		if _, ok := b[token]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}
