package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/lexitra/internal/domain"
)

const jobColumns = `file_id, run_id, total_segments, completed_segments, status, started_at, completed_at, error_message, updated_at`

// UpsertJobRecord writes the record for rec.FileID.
//
// A record with a different RunID always replaces the stored one, so callers
// must not write for a run once a newer run of the file has started. Within
// the same run the write is dropped when it would move completed or status
// backwards, or touch a record that already reached a terminal state.
func (s *SQLiteStore) UpsertJobRecord(ctx context.Context, rec domain.JobRecord) error {
	if rec.FileID == "" {
		return fmt.Errorf("file id is required")
	}
	if rec.CompletedSegments < 0 || rec.CompletedSegments > rec.TotalSegments {
		return fmt.Errorf("completed %d out of range 0..%d", rec.CompletedSegments, rec.TotalSegments)
	}
	updatedAt := rec.UpdatedAt.UTC()
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	var completedAt any
	if rec.CompletedAt != nil {
		completedAt = rec.CompletedAt.UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO translation_jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET
			run_id=excluded.run_id,
			total_segments=excluded.total_segments,
			completed_segments=excluded.completed_segments,
			status=excluded.status,
			started_at=excluded.started_at,
			completed_at=excluded.completed_at,
			error_message=excluded.error_message,
			updated_at=excluded.updated_at
		 WHERE translation_jobs.run_id <> excluded.run_id
			OR (translation_jobs.status NOT IN ('completed', 'error')
				AND translation_jobs.completed_segments <= excluded.completed_segments
				AND `+statusRank("excluded.status")+` >= `+statusRank("translation_jobs.status")+`)`,
		rec.FileID,
		rec.RunID,
		rec.TotalSegments,
		rec.CompletedSegments,
		string(rec.Status),
		rec.StartedAt.UTC(),
		completedAt,
		rec.ErrorMessage,
		updatedAt,
	)
	return err
}

func (s *SQLiteStore) ReadJobRecord(ctx context.Context, fileID string) (domain.JobRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM translation_jobs WHERE file_id = ?`, fileID)
	rec, err := scanJobRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.JobRecord{}, false, nil
		}
		return domain.JobRecord{}, false, err
	}
	return rec, true, nil
}

// ListJobRecords returns records in any of the given statuses, or all when none are given.
func (s *SQLiteStore) ListJobRecords(ctx context.Context, statuses ...domain.JobStatus) ([]domain.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM translation_jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY started_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]domain.JobRecord, 0)
	for rows.Next() {
		rec, err := scanJobRecord(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func scanJobRecord(row rowScanner) (domain.JobRecord, error) {
	var rec domain.JobRecord
	var status string
	var completedAt sql.NullTime
	if err := row.Scan(
		&rec.FileID,
		&rec.RunID,
		&rec.TotalSegments,
		&rec.CompletedSegments,
		&status,
		&rec.StartedAt,
		&completedAt,
		&rec.ErrorMessage,
		&rec.UpdatedAt,
	); err != nil {
		return domain.JobRecord{}, err
	}
	rec.Status = domain.JobStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}

// statusRank renders domain.JobStatus.Rank as SQL.
func statusRank(col string) string {
	return `(CASE ` + col + ` WHEN 'pending' THEN 0 WHEN 'processing' THEN 1 WHEN 'partially_ready' THEN 2 WHEN 'completed' THEN 3 WHEN 'error' THEN 3 ELSE -1 END)`
}
