package service

import (
	"context"
	"fmt"

	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/jobs"
	"github.com/MimeLyc/lexitra/pkg/log"
)

// Resume restarts every job whose record is still processing or
// partially_ready while no run for it is active in this process. Those are
// runs a previous process did not finish. It returns how many started.
func (s *Service) Resume(ctx context.Context) (int, error) {
	records, err := s.store.ListJobRecords(ctx, domain.JobProcessing, domain.JobPartiallyReady)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished jobs: %w", err)
	}

	started := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return started, err
		}
		if s.jobs.Active(rec.FileID) {
			continue
		}
		res := s.jobs.Start(ctx, rec.FileID)
		switch res.Status {
		case jobs.StatusStarted:
			started++
			log.Info("Resumed job for file %s at %d/%d", rec.FileID, rec.CompletedSegments, rec.TotalSegments)
		case jobs.StatusAlreadyProcessing:
		default:
			log.Warn("Could not resume job for file %s: %s %s", rec.FileID, res.Status, res.Message)
		}
	}
	return started, nil
}
