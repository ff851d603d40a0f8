package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/lexitra/internal/domain"
)

func (s *SQLiteStore) PutGlossaryEntry(ctx context.Context, pair domain.LanguagePair, entry domain.GlossaryEntry) error {
	if strings.TrimSpace(entry.Source) == "" || strings.TrimSpace(entry.Target) == "" {
		return fmt.Errorf("glossary terms are required")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO glossary (source_lang, target_lang, source_term, target_term, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source_lang, target_lang, source_term) DO UPDATE SET
			target_term=excluded.target_term`,
		normalizeLang(pair.Source),
		normalizeLang(pair.Target),
		strings.TrimSpace(entry.Source),
		strings.TrimSpace(entry.Target),
		time.Now().UTC(),
	)
	return err
}

// Glossary returns all entries for the pair ordered by source term.
func (s *SQLiteStore) Glossary(ctx context.Context, pair domain.LanguagePair) ([]domain.GlossaryEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT source_term, target_term FROM glossary
		 WHERE source_lang = ? AND target_lang = ?
		 ORDER BY source_term ASC`,
		normalizeLang(pair.Source),
		normalizeLang(pair.Target),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]domain.GlossaryEntry, 0)
	for rows.Next() {
		var e domain.GlossaryEntry
		if err := rows.Scan(&e.Source, &e.Target); err != nil {
			return nil, err
		}
		ret = append(ret, e)
	}
	return ret, rows.Err()
}
