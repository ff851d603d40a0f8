// Package service runs the periodic background work: restarting jobs a
// previous process left unfinished and picking up new documents.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/ingest"
	"github.com/MimeLyc/lexitra/internal/jobs"
	"github.com/MimeLyc/lexitra/pkg/icron"
	"github.com/MimeLyc/lexitra/pkg/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// Jobs is the part of the supervisor the service drives.
type Jobs interface {
	Start(ctx context.Context, fileID string) jobs.StartResult
	Active(fileID string) bool
}

type Store interface {
	ingest.Store
	ListJobRecords(ctx context.Context, statuses ...domain.JobStatus) ([]domain.JobRecord, error)
}

// InboxConfig enables the inbox sweep when Dir is set.
type InboxConfig struct {
	Dir       string
	Target    string
	Sentences bool
}

// Report counts what one tick did.
type Report struct {
	Resumed  int `json:"resumed"`
	Ingested int `json:"ingested"`
}

type Service struct {
	store Store
	jobs  Jobs
	cron  *cron.Cron
	inbox InboxConfig
	now   func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	expr     string
	entry    cron.EntryID
	lastScan time.Time
}

func New(store Store, jobs Jobs, c *cron.Cron, inbox InboxConfig) *Service {
	return &Service{
		store: store,
		jobs:  jobs,
		cron:  c,
		inbox: inbox,
		now:   time.Now,
	}
}

// Schedule runs Tick on cronExpr, replacing any earlier schedule.
func (s *Service) Schedule(ctx context.Context, cronExpr string) error {
	info, err := icron.GetTriggerInfo(cronExpr, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.cron.AddFunc(cronExpr, func() {
		if _, err := s.Tick(ctx); err != nil {
			log.Error("Background sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %q: %w", cronExpr, err)
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = id
	s.expr = cronExpr
	log.Info("Background sweep scheduled with %q, next run in %s", cronExpr, info.TimeUntilNext.Round(time.Second))
	return nil
}

// SetInboxTarget changes the target language of documents ingested from now on.
func (s *Service) SetInboxTarget(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox.Target = target
}

// Expression is the active schedule.
func (s *Service) Expression() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr
}

// Tick resumes stale jobs, then sweeps the inbox. Overlapping calls share
// one execution.
func (s *Service) Tick(ctx context.Context) (Report, error) {
	v, err, _ := s.group.Do("tick", func() (any, error) {
		var rep Report
		var err error
		if rep.Resumed, err = s.Resume(ctx); err != nil {
			return rep, err
		}
		if rep.Ingested, err = s.ScanInbox(ctx); err != nil {
			return rep, err
		}
		return rep, nil
	})
	rep, _ := v.(Report)
	return rep, err
}
