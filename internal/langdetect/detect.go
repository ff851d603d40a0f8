// Package langdetect guesses the language of a document from its segments.
package langdetect

import (
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// minRunes skips fragments too short to classify.
const minRunes = 8

// Detect returns the ISO 639-1 code most segments are written in, weighting
// each segment by its length. ok is false when nothing could be classified.
func Detect(texts []string) (code string, ok bool) {
	votes := make(map[string]int)
	for _, text := range texts {
		text = strings.TrimSpace(text)
		n := utf8.RuneCountInString(text)
		if n < minRunes {
			continue
		}
		info := whatlanggo.Detect(text)
		if info.Lang < 0 {
			continue
		}
		lang := info.Lang.Iso6391()
		if lang == "" {
			continue
		}
		votes[lang] += n
	}

	var best string
	var bestVotes int
	for lang, v := range votes {
		if v > bestVotes || (v == bestVotes && lang < best) {
			best, bestVotes = lang, v
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// Normalize canonicalizes a BCP-47 code ("EN-us" → "en-US").
func Normalize(code string) (string, error) {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return "", err
	}
	return tag.String(), nil
}
