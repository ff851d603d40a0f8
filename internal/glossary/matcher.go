// Package glossary picks the glossary entries relevant to a chunk of text.
package glossary

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MimeLyc/lexitra/internal/domain"
	"golang.org/x/text/cases"
)

// Match returns the entries whose source term occurs in any of texts, in
// entry order. Matching is case-insensitive. Terms made of Latin letters
// must match whole words; other scripts match as substrings.
func Match(entries []domain.GlossaryEntry, texts []string) []domain.GlossaryEntry {
	if len(entries) == 0 || len(texts) == 0 {
		return nil
	}
	folder := cases.Fold()
	folded := make([]string, len(texts))
	for i, t := range texts {
		folded[i] = folder.String(t)
	}

	var matched []domain.GlossaryEntry
	for _, e := range entries {
		term := folder.String(strings.TrimSpace(e.Source))
		if term == "" {
			continue
		}
		wordy := isLatinWord(term)
		for _, text := range folded {
			if contains(text, term, wordy) {
				matched = append(matched, e)
				break
			}
		}
	}
	return matched
}

// Longest orders entries so longer source terms come first, which keeps
// "credit card" ahead of "card" in prompts.
func Longest(entries []domain.GlossaryEntry) []domain.GlossaryEntry {
	out := append([]domain.GlossaryEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		return utf8.RuneCountInString(out[i].Source) > utf8.RuneCountInString(out[j].Source)
	})
	return out
}

func contains(text, term string, wholeWord bool) bool {
	if !wholeWord {
		return strings.Contains(text, term)
	}
	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], term)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(term)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isLatinWord(term string) bool {
	hasLetter := false
	for _, r := range term {
		if unicode.IsLetter(r) {
			if !unicode.Is(unicode.Latin, r) {
				return false
			}
			hasLetter = true
		}
	}
	return hasLetter
}
