package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MimeLyc/lexitra/internal/domain"
)

// UpsertFile creates or renames a file and sets its language pair.
func (s *SQLiteStore) UpsertFile(ctx context.Context, file domain.FileSummary) error {
	if file.ID == "" {
		return fmt.Errorf("file id is required")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO files (id, name, source_lang, target_lang, processing_status, processing_progress, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			source_lang=excluded.source_lang,
			target_lang=excluded.target_lang,
			updated_at=excluded.updated_at`,
		file.ID,
		file.Name,
		normalizeLang(file.Languages.Source),
		normalizeLang(file.Languages.Target),
		string(file.ProcessingStatus),
		file.ProcessingProgress,
		now,
		now,
	)
	return err
}

func (s *SQLiteStore) FileSummary(ctx context.Context, fileID string) (domain.FileSummary, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, source_lang, target_lang, processing_status, processing_progress, updated_at
		 FROM files WHERE id = ?`,
		fileID,
	)
	var ret domain.FileSummary
	var status string
	if err := row.Scan(
		&ret.ID,
		&ret.Name,
		&ret.Languages.Source,
		&ret.Languages.Target,
		&status,
		&ret.ProcessingProgress,
		&ret.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FileSummary{}, false, nil
		}
		return domain.FileSummary{}, false, err
	}
	ret.ProcessingStatus = domain.FileStatus(status)
	return ret, true, nil
}

// LanguagePair returns domain.ErrNotFound when the file does not exist.
func (s *SQLiteStore) LanguagePair(ctx context.Context, fileID string) (domain.LanguagePair, error) {
	file, ok, err := s.FileSummary(ctx, fileID)
	if err != nil {
		return domain.LanguagePair{}, err
	}
	if !ok {
		return domain.LanguagePair{}, fmt.Errorf("file %s: %w", fileID, domain.ErrNotFound)
	}
	return file.Languages, nil
}

func (s *SQLiteStore) UpdateFileSummary(ctx context.Context, fileID string, status domain.FileStatus, progress int) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE files SET processing_status = ?, processing_progress = ?, updated_at = ? WHERE id = ?`,
		string(status),
		progress,
		time.Now().UTC(),
		fileID,
	)
	if err != nil {
		return err
	}
	return expectRow(res, "file", fileID)
}

func expectRow(res sql.Result, kind string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", kind, id, domain.ErrNotFound)
	}
	return nil
}
