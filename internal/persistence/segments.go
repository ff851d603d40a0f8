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

const segmentColumns = `id, file_id, position, source, target, status, origin, retry_count, last_error_at, error_message, created_at, updated_at`

// InsertSegments appends sources to the file in order with status New.
func (s *SQLiteStore) InsertSegments(ctx context.Context, fileID string, sources []string) (int, error) {
	if len(sources) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM segments WHERE file_id = ?`, fileID).Scan(&next); err != nil {
		return 0, fmt.Errorf("next position: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO segments (file_id, position, source, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, src := range sources {
		if _, err := stmt.ExecContext(ctx, fileID, next+i, src, string(domain.SegmentNew), now, now); err != nil {
			return 0, fmt.Errorf("insert segment %d: %w", next+i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(sources), nil
}

func (s *SQLiteStore) LoadSegments(ctx context.Context, fileID string) ([]domain.Segment, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE file_id = ? ORDER BY position ASC, id ASC`,
		fileID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]domain.Segment, 0)
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) Segment(ctx context.Context, id int64) (domain.Segment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+segmentColumns+` FROM segments WHERE id = ?`, id)
	seg, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Segment{}, fmt.Errorf("segment %d: %w", id, domain.ErrNotFound)
	}
	return seg, err
}

// UpdateSegment writes only the fields set in upd.
func (s *SQLiteStore) UpdateSegment(ctx context.Context, id int64, upd domain.SegmentUpdate) error {
	sets := make([]string, 0, 7)
	args := make([]any, 0, 8)
	if upd.Target != nil {
		sets = append(sets, "target = ?")
		args = append(args, *upd.Target)
	}
	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.Origin != nil {
		sets = append(sets, "origin = ?")
		args = append(args, string(*upd.Origin))
	}
	if upd.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *upd.RetryCount)
	}
	if upd.LastErrorAt != nil {
		sets = append(sets, "last_error_at = ?")
		args = append(args, upd.LastErrorAt.UTC())
	}
	if upd.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx, `UPDATE segments SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return expectRow(res, "segment", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row rowScanner) (domain.Segment, error) {
	var seg domain.Segment
	var status, origin string
	var lastErr sql.NullTime
	if err := row.Scan(
		&seg.ID,
		&seg.FileID,
		&seg.Position,
		&seg.Source,
		&seg.Target,
		&status,
		&origin,
		&seg.RetryCount,
		&lastErr,
		&seg.ErrorMessage,
		&seg.CreatedAt,
		&seg.UpdatedAt,
	); err != nil {
		return domain.Segment{}, err
	}
	seg.Status = domain.SegmentStatus(status)
	seg.Origin = domain.Origin(origin)
	if lastErr.Valid {
		t := lastErr.Time
		seg.LastErrorAt = &t
	}
	return seg, nil
}
