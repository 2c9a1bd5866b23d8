package dispatch

import (
	"sort"
	"strings"
	"unicode"
)

// WordSet is the set of lowercase words of an utterance.
type WordSet map[string]struct{}

// Words lowercases text, drops everything but letters, digits and spaces and
// splits it into a set.
func Words(text string) WordSet {
	clean := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, text)

	set := make(WordSet)
	for _, w := range strings.Fields(clean) {
		set[w] = struct{}{}
	}
	return set
}

func (w WordSet) Has(word string) bool {
	_, ok := w[word]
	return ok
}

// ContainsAll reports whether every keyword is in the set.
func (w WordSet) ContainsAll(keywords []string) bool {
	for _, k := range keywords {
		if !w.Has(k) {
			return false
		}
	}
	return true
}

// Sorted lists the words alphabetically.
func (w WordSet) Sorted() []string {
	out := make([]string, 0, len(w))
	for k := range w {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Vocabulary is a set of single-word names, such as activities or light
// scenes.
type Vocabulary map[string]struct{}

func NewVocabulary(words ...string) Vocabulary {
	v := make(Vocabulary, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			v[w] = struct{}{}
		}
	}
	return v
}

// Single returns the vocabulary word that was spoken, but only when exactly
// one was.
func (v Vocabulary) Single(words WordSet) (string, bool) {
	var (
		found string
		n     int
	)

	for w := range words {
		if _, ok := v[w]; ok {
			found = w
			n++
		}
	}

	if n != 1 {
		return "", false
	}
	return found, true
}
