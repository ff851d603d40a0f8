package glossary

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MimeLyc/lexitra/internal/domain"
	"golang.org/x/text/language"
)

// Putter stores glossary entries.
type Putter interface {
	PutGlossaryEntry(ctx context.Context, pair domain.LanguagePair, entry domain.GlossaryEntry) error
}

// Terms maps source terms to their required translation. It is the layout of
// glossary files.
type Terms map[string]string

// Entries returns the terms sorted by source term.
func (t Terms) Entries() []domain.GlossaryEntry {
	ret := make([]domain.GlossaryEntry, 0, len(t))
	for src, tgt := range t {
		ret = append(ret, domain.GlossaryEntry{Source: src, Target: tgt})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Source < ret[j].Source })
	return ret
}

// Filename returns the glossary filename of a language pair, using base
// language codes: glossary.en-ko.json.
func Filename(sourceLang, targetLang string) string {
	return "glossary." + baseCode(sourceLang) + "-" + baseCode(targetLang) + ".json"
}

// PairFromFilename parses a name produced by Filename.
func PairFromFilename(path string) (domain.LanguagePair, bool) {
	name := strings.TrimSuffix(filepath.Base(path), ".json")
	rest, ok := strings.CutPrefix(name, "glossary.")
	if !ok {
		return domain.LanguagePair{}, false
	}
	src, tgt, ok := strings.Cut(rest, "-")
	if !ok || src == "" || tgt == "" {
		return domain.LanguagePair{}, false
	}
	return domain.LanguagePair{Source: src, Target: tgt}, true
}

// FindInAncestors walks up from startDir looking for the pair's glossary
// file. It returns "" when there is none.
func FindInAncestors(startDir, sourceLang, targetLang string) string {
	filename := Filename(sourceLang, targetLang)
	currentDir := startDir

	for {
		candidate := filepath.Join(currentDir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}

	return ""
}

func Load(path string) (Terms, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var terms Terms
	if err := json.Unmarshal(data, &terms); err != nil {
		return nil, fmt.Errorf("invalid glossary file %s: %w", path, err)
	}
	return terms, nil
}

func Save(path string, terms Terms) error {
	data, err := json.MarshalIndent(terms, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Import stores every entry with both terms set and returns how many were
// stored.
func Import(ctx context.Context, store Putter, pair domain.LanguagePair, entries []domain.GlossaryEntry) (int, error) {
	n := 0
	for _, e := range entries {
		if strings.TrimSpace(e.Source) == "" || strings.TrimSpace(e.Target) == "" {
			continue
		}
		if err := store.PutGlossaryEntry(ctx, pair, e); err != nil {
			return n, fmt.Errorf("failed to store term %q: %w", e.Source, err)
		}
		n++
	}
	return n, nil
}

func baseCode(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	base, _ := tag.Base()
	return base.String()
}
