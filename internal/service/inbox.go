package service

import (
	"context"
	"errors"

	"github.com/MimeLyc/lexitra/internal/ingest"
	"github.com/MimeLyc/lexitra/internal/jobs"
	"github.com/MimeLyc/lexitra/pkg/file"
	"github.com/MimeLyc/lexitra/pkg/log"
)

// ScanInbox ingests documents added to the inbox since the last scan and
// starts a job for each. Documents ingested before are skipped.
func (s *Service) ScanInbox(ctx context.Context) (int, error) {
	s.mu.Lock()
	since := s.lastScan
	inbox := s.inbox
	s.mu.Unlock()
	if inbox.Dir == "" {
		return 0, nil
	}
	scanStart := s.now()

	paths, err := file.FindRecentAfter(inbox.Dir, since, ingest.Extensions...)
	if err != nil {
		return 0, err
	}
	log.Debug("Found %d new documents in %s", len(paths), inbox.Dir)

	ingested := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return ingested, err
		}
		res, err := ingest.File(ctx, s.store, path, ingest.Request{
			Target:    inbox.Target,
			Sentences: inbox.Sentences,
		})
		if errors.Is(err, ingest.ErrAlreadyIngested) {
			continue
		}
		if err != nil {
			log.Error("Failed to ingest %s: %v", path, err)
			continue
		}
		ingested++
		if start := s.jobs.Start(ctx, res.FileID); start.Status != jobs.StatusStarted {
			log.Warn("Ingested %s but job did not start: %s %s", path, start.Status, start.Message)
		}
	}

	s.mu.Lock()
	s.lastScan = scanStart
	s.mu.Unlock()
	return ingested, nil
}
