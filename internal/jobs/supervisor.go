// Package jobs admits translation jobs, one active run per file, and keeps
// a handle on each run so callers can wait for it or cancel it.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/lexitra/internal/dispatch"
	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/progress"
	"github.com/MimeLyc/lexitra/pkg/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const defaultMaxSnapshots = 1000

type Config struct {
	// MaxActiveJobs caps how many runs translate at once. Admitted jobs over
	// the cap wait for a slot. 0 means unbounded.
	MaxActiveJobs int
	// MaxSnapshots bounds the in-memory job map; the oldest finished jobs
	// are dropped first.
	MaxSnapshots int
}

type task struct {
	runID  string
	ctx    context.Context
	cancel context.CancelCauseFunc

	readyOnce sync.Once
	ready     chan struct{}
	done      chan struct{}
	err       error
}

func (t *task) markReady() {
	t.readyOnce.Do(func() { close(t.ready) })
}

type entry struct {
	job  Job
	task *task
}

type Supervisor struct {
	store        Store
	runner       Runner
	slots        *semaphore.Weighted
	maxSnapshots int
	now          func() time.Time
	newRunID     func() string

	baseCtx context.Context
	stopAll context.CancelCauseFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	active  map[string]*task
	entries map[string]*entry
}

func NewSupervisor(store Store, runner Runner, cfg Config) *Supervisor {
	baseCtx, stopAll := context.WithCancelCause(context.Background())
	s := &Supervisor{
		store:        store,
		runner:       runner,
		maxSnapshots: cfg.MaxSnapshots,
		now:          time.Now,
		newRunID:     uuid.NewString,
		baseCtx:      baseCtx,
		stopAll:      stopAll,
		active:       make(map[string]*task),
		entries:      make(map[string]*entry),
	}
	if cfg.MaxActiveJobs > 0 {
		s.slots = semaphore.NewWeighted(int64(cfg.MaxActiveJobs))
	}
	if s.maxSnapshots <= 0 {
		s.maxSnapshots = defaultMaxSnapshots
	}
	return s
}

// Start admits a job for fileID and launches its run in the background.
// Failures of the run itself are persisted on the record and never
// returned here.
func (s *Supervisor) Start(ctx context.Context, fileID string) StartResult {
	t, res, ok := s.claim(fileID)
	if !ok {
		return res
	}

	segs, err := s.store.LoadSegments(ctx, fileID)
	if err != nil {
		s.release(fileID, t)
		jobErr := NewErrorWithCause(ErrStore, "failed to load segments", err).WithContext("file", fileID)
		log.Error("Job admission failed: %v", jobErr)
		return StartResult{Status: StatusError, Message: jobErr.Error()}
	}
	if len(segs) == 0 {
		s.release(fileID, t)
		return StartResult{Status: StatusNoSegments, Message: fmt.Sprintf("file %s has no segments", fileID)}
	}

	now := s.now().UTC()
	rec := domain.JobRecord{
		FileID:        fileID,
		RunID:         t.runID,
		TotalSegments: len(segs),
		Status:        domain.JobProcessing,
		StartedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.UpsertJobRecord(ctx, rec); err != nil {
		s.release(fileID, t)
		jobErr := NewErrorWithCause(ErrStore, "failed to create job record", err).WithContext("file", fileID)
		log.Error("Job admission failed: %v", jobErr)
		return StartResult{Status: StatusError, Message: jobErr.Error()}
	}
	if err := s.store.UpdateFileSummary(ctx, fileID, domain.FileTranslating, 0); err != nil {
		log.Warn("Failed to mark file %s as translating: %v", fileID, err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.release(fileID, t)
		return StartResult{Status: StatusError, Message: ErrShutdown.Error()}
	}
	s.entries[fileID] = &entry{
		job: Job{
			FileID:    fileID,
			RunID:     t.runID,
			Status:    domain.JobProcessing,
			Total:     len(segs),
			StartedAt: now,
			UpdatedAt: now,
		},
		task: t,
	}
	s.pruneLocked()
	s.wg.Add(1)
	s.mu.Unlock()

	run := dispatch.Run{
		FileID:     fileID,
		RunID:      t.runID,
		StartedAt:  now,
		Segments:   segs,
		OnProgress: func(st progress.State) { s.onProgress(fileID, t, st) },
		OnReady:    t.markReady,
	}
	go s.execute(t, run)

	log.Info("Started job %s for file %s with %d segments", t.runID, fileID, len(segs))
	return StartResult{Status: StatusStarted, RunID: t.runID}
}

// claim checks and marks fileID active under one lock.
func (s *Supervisor) claim(fileID string) (*task, StartResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, StartResult{Status: StatusError, Message: ErrShutdown.Error()}, false
	}
	if _, busy := s.active[fileID]; busy {
		return nil, StartResult{Status: StatusAlreadyProcessing, Message: fmt.Sprintf("file %s is already being translated", fileID)}, false
	}
	ctx, cancel := context.WithCancelCause(s.baseCtx)
	t := &task{
		runID:  s.newRunID(),
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.active[fileID] = t
	return t, StartResult{}, true
}

func (s *Supervisor) release(fileID string, t *task) {
	s.mu.Lock()
	if s.active[fileID] == t {
		delete(s.active, fileID)
	}
	s.mu.Unlock()
	t.err = ErrNoActiveJob
	t.markReady()
	close(t.done)
	t.cancel(nil)
}

func (s *Supervisor) execute(t *task, run dispatch.Run) {
	defer s.wg.Done()

	var st progress.State
	err := safeExecute(func() error {
		if s.slots != nil {
			if err := s.slots.Acquire(t.ctx, 1); err != nil {
				return err
			}
			defer s.slots.Release(1)
		}
		var err error
		st, err = s.runner.Run(t.ctx, run)
		return err
	})
	s.finish(run.FileID, t, st, err)
}

func (s *Supervisor) finish(fileID string, t *task, st progress.State, err error) {
	defer func() {
		s.mu.Lock()
		if s.active[fileID] == t {
			delete(s.active, fileID)
		}
		s.pruneLocked()
		s.mu.Unlock()
		t.markReady()
		close(t.done)
		t.cancel(nil)
	}()

	if err == nil {
		log.Info("Job %s for file %s completed (%d/%d)", t.runID, fileID, st.Completed, st.Total)
		return
	}

	cause := context.Cause(t.ctx)
	if errors.Is(cause, ErrShutdown) && isContextErr(err) {
		// left in processing so the resumer restarts it
		log.Warn("Job %s for file %s interrupted by shutdown at %d/%d", t.runID, fileID, st.Completed, st.Total)
		t.err = NewErrorWithCause(ErrCancelled, ErrShutdown.Error(), err)
		return
	}

	jobErr := classify(err, cause).WithContext("file", fileID)
	t.err = jobErr
	if jobErr.Kind == ErrCancelled {
		log.Warn("Job %s for file %s cancelled", t.runID, fileID)
	} else {
		log.Error("Job %s failed: %v", t.runID, jobErr)
	}
	s.persistFailure(fileID, t, jobErr)
}

// persistFailure moves the run's record to error, keeping its progress.
func (s *Supervisor) persistFailure(fileID string, t *task, jobErr *JobError) {
	ctx := context.Background()
	now := s.now().UTC()

	rec, ok, err := s.store.ReadJobRecord(ctx, fileID)
	if err != nil {
		log.Error("Failed to read job record of file %s: %v", fileID, err)
	}
	if !ok || rec.RunID != t.runID {
		rec = domain.JobRecord{FileID: fileID, RunID: t.runID, StartedAt: now}
	}
	rec.Status = domain.JobError
	rec.ErrorMessage = jobErr.Message
	rec.UpdatedAt = now
	if err := s.store.UpsertJobRecord(ctx, rec); err != nil {
		log.Error("Failed to persist error state of file %s: %v", fileID, err)
	}

	s.mu.Lock()
	percent := 0
	if e, ok := s.entries[fileID]; ok && e.task == t {
		e.job.Status = domain.JobError
		e.job.Error = jobErr.Message
		e.job.UpdatedAt = now
		percent = e.job.Percent
	}
	s.mu.Unlock()

	if err := s.store.UpdateFileSummary(ctx, fileID, domain.FileError, percent); err != nil {
		log.Error("Failed to mark file %s as failed: %v", fileID, err)
	}
}

func (s *Supervisor) onProgress(fileID string, t *task, st progress.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[fileID]; ok && e.task == t {
		e.job.apply(st, s.now().UTC())
	}
}

// Snapshot returns the in-memory job of fileID without touching the store.
func (s *Supervisor) Snapshot(fileID string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[fileID]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// List returns every in-memory job, most recently started first.
func (s *Supervisor) List() []Job {
	s.mu.RLock()
	ret := make([]Job, 0, len(s.entries))
	for _, e := range s.entries {
		ret = append(ret, e.job)
	}
	s.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].StartedAt.Equal(ret[j].StartedAt) {
			return ret[i].StartedAt.After(ret[j].StartedAt)
		}
		return ret[i].FileID < ret[j].FileID
	})
	return ret
}

// Active reports whether a run for fileID is admitted or running.
func (s *Supervisor) Active(fileID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[fileID]
	return ok
}

// Persisted reads the stored record of fileID.
func (s *Supervisor) Persisted(ctx context.Context, fileID string) (*PersistedJob, error) {
	rec, ok, err := s.store.ReadJobRecord(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("read job record of %s: %w", fileID, err)
	}
	if !ok {
		return nil, ErrJobNotFound
	}
	return &PersistedJob{
		JobRecord:  rec,
		Percentage: progress.Percentage(rec.CompletedSegments, rec.TotalSegments),
	}, nil
}

func (s *Supervisor) handle(fileID string) (*task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.active[fileID]; ok {
		return t, nil
	}
	if e, ok := s.entries[fileID]; ok && e.task != nil {
		return e.task, nil
	}
	return nil, ErrNoActiveJob
}

// Wait blocks until the latest run of fileID ends and returns its job
// error, nil when it completed.
func (s *Supervisor) Wait(ctx context.Context, fileID string) error {
	t, err := s.handle(fileID)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitReady blocks until the first phase of a two-phase run is done, or
// until the run ends.
func (s *Supervisor) WaitReady(ctx context.Context, fileID string) error {
	t, err := s.handle(fileID)
	if err != nil {
		return err
	}
	select {
	case <-t.ready:
		select {
		case <-t.done:
			return t.err
		default:
			return nil
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the active run of fileID. The run halts before its next
// chunk and its record moves to error with the message "cancelled".
func (s *Supervisor) Cancel(fileID string) error {
	s.mu.RLock()
	t, ok := s.active[fileID]
	s.mu.RUnlock()
	if !ok {
		return ErrNoActiveJob
	}
	t.cancel(errCancelRequested)
	log.Info("Cancel requested for job %s of file %s", t.runID, fileID)
	return nil
}

// Stop cancels every run and waits for them to return. Interrupted records
// stay in processing.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.stopAll(ErrShutdown)
	s.wg.Wait()
}

// pruneLocked drops the oldest finished jobs beyond maxSnapshots.
func (s *Supervisor) pruneLocked() {
	if len(s.entries) <= s.maxSnapshots {
		return
	}

	type candidate struct {
		fileID    string
		updatedAt time.Time
	}
	finished := make([]candidate, 0, len(s.entries))
	for id, e := range s.entries {
		if _, running := s.active[id]; running {
			continue
		}
		finished = append(finished, candidate{fileID: id, updatedAt: e.job.UpdatedAt})
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].updatedAt.Before(finished[j].updatedAt)
	})

	toRemove := min(len(s.entries)-s.maxSnapshots, len(finished))
	for i := 0; i < toRemove; i++ {
		delete(s.entries, finished[i].fileID)
	}
}
