// Package dispatch drives one file's pending segments through the provider
// chunk by chunk and hands failures to the retry scheduler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/langdetect"
	"github.com/MimeLyc/lexitra/internal/progress"
	"github.com/MimeLyc/lexitra/internal/provider"
	"github.com/MimeLyc/lexitra/internal/retry"
	"github.com/MimeLyc/lexitra/pkg/log"
	"golang.org/x/time/rate"
)

var (
	// ErrLanguageConfig means the file's language pair is missing or unusable.
	ErrLanguageConfig = errors.New("language configuration unavailable")
	// ErrStore wraps segment or record writes that failed.
	ErrStore = errors.New("segment store failure")
)

// Store is what a run reads and writes.
type Store interface {
	retry.Store
	LanguagePair(ctx context.Context, fileID string) (domain.LanguagePair, error)
	Glossary(ctx context.Context, pair domain.LanguagePair) ([]domain.GlossaryEntry, error)
	UpsertJobRecord(ctx context.Context, rec domain.JobRecord) error
	UpdateFileSummary(ctx context.Context, fileID string, status domain.FileStatus, progress int) error
}

// Run describes one job run over a file's segments in document order.
type Run struct {
	FileID    string
	RunID     string
	StartedAt time.Time
	Segments  []domain.Segment

	// OnProgress sees every persisted state, in order.
	OnProgress func(progress.State)
	// OnReady fires once when phase 1 of a two-phase run is done.
	OnReady func()
}

type Dispatcher struct {
	store    Store
	provider provider.Provider
	retry    *retry.Controller
	cfg      Config
	now      func() time.Time
}

func New(store Store, p provider.Provider, ctrl *retry.Controller, cfg Config) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dispatch config: %w", err)
	}
	return &Dispatcher{
		store:    store,
		provider: p,
		retry:    ctrl,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

func (d *Dispatcher) Config() Config {
	return d.cfg
}

// Run translates every pending segment of the run. Segments that are no
// longer New or Draft count as completed up front, so a restarted run only
// sends the remainder. Provider failures never fail the run; a missing
// language pair, store failures and cancellation do.
func (d *Dispatcher) Run(ctx context.Context, run Run) (progress.State, error) {
	pair, err := d.languagePair(ctx, run)
	if err != nil {
		return progress.State{Total: len(run.Segments), Status: domain.JobError}, err
	}

	terms, err := d.store.Glossary(ctx, pair)
	if err != nil {
		log.Warn("Failed to load glossary for %s->%s, continuing without: %v", pair.Source, pair.Target, err)
		terms = nil
	}

	pending, skipped := splitPending(run.Segments)
	readyAt := 0
	if d.cfg.TwoPhase.Enabled && len(pending) > d.cfg.TwoPhase.InitialBatch {
		readyAt = skipped + d.cfg.TwoPhase.InitialBatch
	}

	// writes must land even when the run is being cancelled
	storeCtx := context.WithoutCancel(ctx)
	w := &progressWriter{
		store:   d.store,
		tracker: progress.New(len(run.Segments), progress.Options{ReadyAt: readyAt, ReadyPercent: d.cfg.TwoPhase.ReadyPercent}),
		rec: domain.JobRecord{
			FileID:        run.FileID,
			RunID:         run.RunID,
			TotalSegments: len(run.Segments),
			StartedAt:     run.StartedAt,
		},
		onProgress: run.OnProgress,
		now:        d.now,
	}
	if skipped > 0 {
		log.Info("File %s: %d of %d segments already resolved", run.FileID, skipped, len(run.Segments))
	}
	w.advance(storeCtx, skipped)

	sched := d.retry.NewScheduler(retry.Request{SourceLang: pair.Source, TargetLang: pair.Target}, func(o retry.Outcome) {
		w.advance(storeCtx, 1)
	})
	schedCtx, stopSched := context.WithCancel(ctx)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(schedCtx)
	}()
	// no retry of this run touches the store once Run returns
	defer func() {
		stopSched()
		<-schedDone
	}()

	c := &chunkRunner{
		d:        d,
		run:      run,
		pair:     pair,
		glossary: terms,
		sched:    sched,
		w:        w,
		storeCtx: storeCtx,
		position: positions(run.Segments),
	}
	if d.cfg.ChunkDelay > 0 {
		c.limiter = rate.NewLimiter(rate.Every(d.cfg.ChunkDelay), 1)
	}

	phases := [][]domain.Segment{pending}
	if readyAt > 0 {
		k := d.cfg.TwoPhase.InitialBatch
		phases = [][]domain.Segment{pending[:k], pending[k:]}
	}
	for i, segs := range phases {
		if err := c.dispatch(ctx, segs); err != nil {
			return w.state(), err
		}
		if readyAt > 0 && i == 0 {
			if err := sched.Wait(ctx); err != nil {
				return w.state(), d.waitErr(err)
			}
			st := w.markReady(storeCtx)
			log.Info("File %s partially ready at %d%%", run.FileID, st.Percent)
			if run.OnReady != nil {
				run.OnReady()
			}
		}
	}

	if err := sched.Wait(ctx); err != nil {
		return w.state(), d.waitErr(err)
	}
	st := w.state()
	if st.Status != domain.JobCompleted {
		return st, fmt.Errorf("%w: run ended with %d of %d segments resolved", ErrStore, st.Completed, st.Total)
	}
	return st, nil
}

func (d *Dispatcher) waitErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStore, err)
}

func (d *Dispatcher) languagePair(ctx context.Context, run Run) (domain.LanguagePair, error) {
	pair, err := d.store.LanguagePair(ctx, run.FileID)
	if err != nil {
		return pair, fmt.Errorf("%w: %v", ErrLanguageConfig, err)
	}
	if strings.TrimSpace(pair.Target) == "" {
		return pair, fmt.Errorf("%w: file %s has no target language", ErrLanguageConfig, run.FileID)
	}
	if pair.Target, err = langdetect.Normalize(pair.Target); err != nil {
		return pair, fmt.Errorf("%w: invalid target language: %v", ErrLanguageConfig, err)
	}
	if pair.AutoSource() {
		sources := make([]string, len(run.Segments))
		for i, seg := range run.Segments {
			sources[i] = seg.Source
		}
		code, ok := langdetect.Detect(sources)
		if !ok {
			return pair, fmt.Errorf("%w: cannot detect source language of file %s", ErrLanguageConfig, run.FileID)
		}
		log.Info("Detected source language %s for file %s", code, run.FileID)
		pair.Source = code
		return pair, nil
	}
	if pair.Source, err = langdetect.Normalize(pair.Source); err != nil {
		return pair, fmt.Errorf("%w: invalid source language: %v", ErrLanguageConfig, err)
	}
	return pair, nil
}

func splitPending(segs []domain.Segment) ([]domain.Segment, int) {
	pending := make([]domain.Segment, 0, len(segs))
	for _, seg := range segs {
		if seg.Status.Pending() {
			pending = append(pending, seg)
		}
	}
	return pending, len(segs) - len(pending)
}

func positions(segs []domain.Segment) map[int64]int {
	ret := make(map[int64]int, len(segs))
	for i, seg := range segs {
		ret[seg.ID] = i
	}
	return ret
}

// progressWriter serializes tracker updates with their persistence so the
// stored record only ever sees states in order.
type progressWriter struct {
	mu         sync.Mutex
	store      Store
	tracker    *progress.Tracker
	rec        domain.JobRecord
	onProgress func(progress.State)
	now        func() time.Time
}

func (w *progressWriter) advance(ctx context.Context, n int) progress.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.tracker.Advance(n)
	w.persistLocked(ctx, st)
	return st
}

func (w *progressWriter) markReady(ctx context.Context) progress.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.tracker.MarkReady()
	w.persistLocked(ctx, st)
	return st
}

func (w *progressWriter) state() progress.State {
	return w.tracker.State()
}

func (w *progressWriter) persistLocked(ctx context.Context, st progress.State) {
	now := w.now().UTC()
	rec := w.rec
	rec.CompletedSegments = st.Completed
	rec.Status = st.Status
	rec.UpdatedAt = now
	if st.Status == domain.JobCompleted {
		rec.CompletedAt = &now
	}
	if err := w.store.UpsertJobRecord(ctx, rec); err != nil {
		log.Error("Failed to persist job record of file %s: %v", rec.FileID, err)
	}
	if err := w.store.UpdateFileSummary(ctx, rec.FileID, st.FileStatus(), st.Percent); err != nil {
		log.Error("Failed to update file summary of %s: %v", rec.FileID, err)
	}
	if w.onProgress != nil {
		w.onProgress(st)
	}
}
