package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/persistence"
	"github.com/MimeLyc/lexitra/internal/progress"
	"github.com/MimeLyc/lexitra/internal/provider"
	"github.com/MimeLyc/lexitra/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.Config{Delays: []time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 8 * time.Millisecond}}

func seedFile(t *testing.T, store *persistence.MemoryStore, pair domain.LanguagePair, sources ...string) []domain.Segment {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertFile(ctx, domain.FileSummary{ID: "f1", Name: "doc.pdf", Languages: pair}))
	_, err := store.InsertSegments(ctx, "f1", sources)
	require.NoError(t, err)
	segs, err := store.LoadSegments(ctx, "f1")
	require.NoError(t, err)
	return segs
}

func sentences(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Sentence number %d of the report.", i+1)
	}
	return out
}

type recorder struct {
	mu     sync.Mutex
	states []progress.State
}

func (r *recorder) add(st progress.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *recorder) all() []progress.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.State(nil), r.states...)
}

type fakeProvider struct {
	mu      sync.Mutex
	batches [][]string
	opts    []provider.Options
	langs   [][2]string
	fn      func(call int, sources []string) ([]string, error)
}

func (f *fakeProvider) BatchTranslate(ctx context.Context, sources []string, src, tgt string, opts provider.Options) ([]string, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), sources...))
	f.opts = append(f.opts, opts)
	f.langs = append(f.langs, [2]string{src, tgt})
	call := len(f.batches)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(call, sources)
	}
	return translateAll(sources), nil
}

func (f *fakeProvider) Translate(ctx context.Context, source, src, tgt string, opts provider.Options) (string, error) {
	out, err := f.BatchTranslate(ctx, []string{source}, src, tgt, opts)
	if err != nil {
		return "", err
	}
	if len(out) == 0 || out[0] == "" {
		return "", provider.ErrEmptyTranslation
	}
	return out[0], nil
}

func (f *fakeProvider) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.batches...)
}

func translateAll(sources []string) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = "KO:" + s
	}
	return out
}

func newDispatcher(t *testing.T, store *persistence.MemoryStore, p provider.Provider, cfg Config) *Dispatcher {
	t.Helper()
	d, err := New(store, p, retry.NewController(store, p, fastRetry), cfg)
	require.NoError(t, err)
	return d
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChunkDelay = 0
	return cfg
}

func testRun(segs []domain.Segment, rec *recorder) Run {
	return Run{
		FileID:     "f1",
		RunID:      "run-1",
		StartedAt:  time.Now().UTC(),
		Segments:   segs,
		OnProgress: rec.add,
	}
}

var enKo = domain.LanguagePair{Source: "en", Target: "ko"}

func TestDispatcher_ChunksAdvanceProgress(t *testing.T) {
	store := persistence.NewMemoryStore()
	segs := seedFile(t, store, enKo, sentences(25)...)
	p := &fakeProvider{}
	var rec recorder

	st, err := newDispatcher(t, store, p, testConfig()).Run(context.Background(), testRun(segs, &rec))
	require.NoError(t, err)
	assert.Equal(t, progress.State{Total: 25, Completed: 25, Percent: 100, Status: domain.JobCompleted}, st)

	calls := p.calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[0], 15)
	assert.Len(t, calls[1], 10)

	states := rec.all()
	require.Len(t, states, 3)
	assert.Equal(t, 0, states[0].Completed)
	assert.Equal(t, progress.State{Total: 25, Completed: 15, Percent: 60, Status: domain.JobProcessing}, states[1])
	assert.Equal(t, domain.JobCompleted, states[2].Status)

	record, ok, err := store.ReadJobRecord(context.Background(), "f1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 25, record.CompletedSegments)
	assert.Equal(t, domain.JobCompleted, record.Status)
	assert.NotNil(t, record.CompletedAt)

	file, _, err := store.FileSummary(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, domain.FileReady, file.ProcessingStatus)
	assert.Equal(t, 100, file.ProcessingProgress)

	stored, err := store.LoadSegments(context.Background(), "f1")
	require.NoError(t, err)
	for _, seg := range stored {
		assert.Equal(t, domain.SegmentMT, seg.Status)
		assert.Equal(t, domain.OriginMT, seg.Origin)
		assert.Equal(t, "KO:"+seg.Source, seg.Target)
	}
}

func TestDispatcher_ProviderAlwaysFailingEscalates(t *testing.T) {
	store := persistence.NewMemoryStore()
	segs := seedFile(t, store, enKo, "The only sentence.")
	p := &fakeProvider{fn: func(int, []string) ([]string, error) {
		return nil, errors.New("network unreachable")
	}}
	var rec recorder

	st, err := newDispatcher(t, store, p, testConfig()).Run(context.Background(), testRun(segs, &rec))
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, st.Status)
	assert.Equal(t, 1, st.Completed)

	// one batch call then three single retries
	assert.Len(t, p.calls(), 4)

	seg, err := store.Segment(context.Background(), segs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SegmentManual, seg.Status)
	assert.Equal(t, retry.MaxRetryCount, seg.RetryCount)
	assert.Equal(t, retry.EscalationMessage, seg.ErrorMessage)
	assert.Empty(t, seg.Target)
}

func TestDispatcher_TwoPhaseReportsPartialReadiness(t *testing.T) {
	store := persistence.NewMemoryStore()
	segs := seedFile(t, store, enKo, sentences(30)...)
	p := &fakeProvider{}
	var rec recorder

	cfg := testConfig()
	cfg.TwoPhase = TwoPhase{Enabled: true, InitialBatch: 10, ReadyPercent: 70}

	var readySummary domain.FileSummary
	var readyRecord domain.JobRecord
	run := testRun(segs, &rec)
	run.OnReady = func() {
		readySummary, _, _ = store.FileSummary(context.Background(), "f1")
		readyRecord, _, _ = store.ReadJobRecord(context.Background(), "f1")
	}

	st, err := newDispatcher(t, store, p, cfg).Run(context.Background(), run)
	require.NoError(t, err)

	assert.Equal(t, domain.FilePartiallyReady, readySummary.ProcessingStatus)
	assert.Equal(t, 70, readySummary.ProcessingProgress)
	assert.Equal(t, domain.JobPartiallyReady, readyRecord.Status)
	assert.Equal(t, 10, readyRecord.CompletedSegments)

	calls := p.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []int{10, 15, 5}, []int{len(calls[0]), len(calls[1]), len(calls[2])})

	assert.Equal(t, progress.State{Total: 30, Completed: 30, Percent: 100, Status: domain.JobCompleted}, st)
	file, _, err := store.FileSummary(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, domain.FileReady, file.ProcessingStatus)
	assert.Equal(t, 100, file.ProcessingProgress)

	prev := -1
	for _, s := range rec.all() {
		assert.GreaterOrEqual(t, s.Percent, prev)
		prev = s.Percent
	}
}

func TestDispatcher_ShortBatchResultGoesToRetry(t *testing.T) {
	store := persistence.NewMemoryStore()
	segs := seedFile(t, store, enKo, sentences(5)...)
	p := &fakeProvider{fn: func(call int, sources []string) ([]string, error) {
		if call == 1 {
			return translateAll(sources)[:3], nil
		}
		return translateAll(sources), nil
	}}
	var rec recorder

	st, err := newDispatcher(t, store, p, testConfig()).Run(context.Background(), testRun(segs, &rec))
	require.NoError(t, err)
	assert.Equal(t, 5, st.Completed)
	assert.Equal(t, domain.JobCompleted, st.Status)

	calls := p.calls()
	require.Len(t, calls, 3)
	assert.ElementsMatch(t, []string{segs[3].Source, segs[4].Source}, []string{calls[1][0], calls[2][0]})

	// the chunk and each retried segment are counted exactly once
	states := rec.all()
	require.Len(t, states, 4)
	for i := 1; i < len(states); i++ {
		assert.Greater(t, states[i].Completed, states[i-1].Completed)
	}
	assert.Equal(t, 5, states[3].Completed)

	stored, err := store.LoadSegments(context.Background(), "f1")
	require.NoError(t, err)
	for _, seg := range stored {
		assert.Equal(t, domain.SegmentMT, seg.Status)
		assert.Zero(t, seg.RetryCount)
	}
}

func TestDispatcher_BlankSourceIsResolvedAsDraft(t *testing.T) {
	store := persistence.NewMemoryStore()
	segs := seedFile(t, store, enKo, "Real text here.", "   ")
	p := &fakeProvider{fn: func(_ int, sources []string) ([]string, error) {
		return []string{"KO:" + sources[0], ""}, nil
	}}
	var rec recorder

	st, err := newDispatcher(t, store, p, testConfig()).Run(context.Background(), testRun(segs, &rec))
	require.NoError(t, err)
	assert.Equal(t, 2, st.Completed)
	assert.Len(t, p.calls(), 1)

	seg, err := store.Segment(context.Background(), segs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SegmentDraft, seg.Status)
}

func TestDispatcher_RestartSkipsResolvedSegments(t *testing.T) {
	store := persistence.NewMemoryStore()
	segs := seedFile(t, store, enKo, sentences(6)...)
	ctx := context.Background()
	for _, seg := range segs[:2] {
		require.NoError(t, store.UpdateSegment(ctx, seg.ID, retry.TranslatedUpdate("done")))
	}
	manual := domain.SegmentManual
	require.NoError(t, store.UpdateSegment(ctx, segs[2].ID, domain.SegmentUpdate{Status: &manual}))
	draft := domain.SegmentDraft
	require.NoError(t, store.UpdateSegment(ctx, segs[3].ID, domain.SegmentUpdate{Status: &draft}))
	segs, err := store.LoadSegments(ctx, "f1")
	require.NoError(t, err)

	p := &fakeProvider{}
	var rec recorder
	st, err := newDispatcher(t, store, p, testConfig()).Run(ctx, testRun(segs, &rec))
	require.NoError(t, err)
	assert.Equal(t, 6, st.Completed)

	calls := p.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{segs[3].Source, segs[4].Source, segs[5].Source}, calls[0])
	assert.Equal(t, 3, rec.all()[0].Completed)

	first, err := store.Segment(ctx, segs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "done", first.Target)
}

func TestDispatcher_AllResolvedCompletesWithoutCalls(t *testing.T) {
	store := persistence.NewMemoryStore()
	segs := seedFile(t, store, enKo, "One sentence.")
	require.NoError(t, store.UpdateSegment(context.Background(), segs[0].ID, retry.TranslatedUpdate("하나")))
	segs[0].Status = domain.SegmentMT

	p := &fakeProvider{}
	var rec recorder
	st, err := newDispatcher(t, store, p, testConfig()).Run(context.Background(), testRun(segs, &rec))
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, st.Status)
	assert.Empty(t, p.calls())
}

func TestDispatcher_LanguagePairErrorsAreFatal(t *testing.T) {
	tests := []struct {
		name string
		pair *domain.LanguagePair
	}{
		{name: "missing file"},
		{name: "no target", pair: &domain.LanguagePair{Source: "en"}},
		{name: "bad target", pair: &domain.LanguagePair{Source: "en", Target: "??"}},
		{name: "undetectable source", pair: &domain.LanguagePair{Source: "auto", Target: "ko"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := persistence.NewMemoryStore()
			ctx := context.Background()
			if tt.pair != nil {
				require.NoError(t, store.UpsertFile(ctx, domain.FileSummary{ID: "f1", Languages: *tt.pair}))
			}
			_, err := store.InsertSegments(ctx, "f1", []string{"12", "ok"})
			require.NoError(t, err)
			segs, err := store.LoadSegments(ctx, "f1")
			require.NoError(t, err)

			p := &fakeProvider{}
			var rec recorder
			_, err = newDispatcher(t, store, p, testConfig()).Run(ctx, testRun(segs, &rec))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrLanguageConfig)
			assert.Empty(t, p.calls())
			assert.Empty(t, rec.all())
		})
	}
}

func TestDispatcher_DetectsAutoSource(t *testing.T) {
	store := persistence.NewMemoryStore()
	segs := seedFile(t, store, domain.LanguagePair{Source: "auto", Target: "ko"},
		"The quarterly report is attached to this message for your review.",
		"Please confirm the delivery schedule before the end of the week.")
	p := &fakeProvider{}
	var rec recorder

	_, err := newDispatcher(t, store, p, testConfig()).Run(context.Background(), testRun(segs, &rec))
	require.NoError(t, err)
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, [2]string{"en", "ko"}, p.langs[0])
}

func TestDispatcher_ConcurrentModeBoundsInFlightCalls(t *testing.T) {
	store := persistence.NewMemoryStore()
	segs := seedFile(t, store, enKo, sentences(12)...)

	var inFlight, peak atomic.Int32
	p := &fakeProvider{fn: func(_ int, sources []string) ([]string, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return translateAll(sources), nil
	}}
	cfg := testConfig()
	cfg.Mode = Concurrent
	cfg.Concurrency = 3
	cfg.ChunkSize = 6
	var rec recorder

	st, err := newDispatcher(t, store, p, cfg).Run(context.Background(), testRun(segs, &rec))
	require.NoError(t, err)
	assert.Equal(t, 12, st.Completed)
	assert.Len(t, p.calls(), 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))

	states := rec.all()
	require.Len(t, states, 3)
	assert.Equal(t, 6, states[1].Completed)
}

func TestDispatcher_ConcurrentModeRoutesFailuresToRetry(t *testing.T) {
	store := persistence.NewMemoryStore()
	segs := seedFile(t, store, enKo, sentences(4)...)
	var failed atomic.Bool
	p := &fakeProvider{fn: func(_ int, sources []string) ([]string, error) {
		if sources[0] == segs[2].Source && failed.CompareAndSwap(false, true) {
			return nil, errors.New("timeout")
		}
		return translateAll(sources), nil
	}}
	cfg := testConfig()
	cfg.Mode = Concurrent
	var rec recorder

	st, err := newDispatcher(t, store, p, cfg).Run(context.Background(), testRun(segs, &rec))
	require.NoError(t, err)
	assert.Equal(t, 4, st.Completed)
	assert.Len(t, p.calls(), 5)
}

func TestDispatcher_CancelStopsBetweenChunks(t *testing.T) {
	store := persistence.NewMemoryStore()
	segs := seedFile(t, store, enKo, sentences(4)...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakeProvider{fn: func(call int, sources []string) ([]string, error) {
		cancel()
		return translateAll(sources), nil
	}}
	cfg := testConfig()
	cfg.ChunkSize = 2
	var rec recorder

	st, err := newDispatcher(t, store, p, cfg).Run(ctx, testRun(segs, &rec))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, st.Completed)
	assert.Len(t, p.calls(), 1)

	record, _, err := store.ReadJobRecord(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, 2, record.CompletedSegments)
	assert.Equal(t, domain.JobProcessing, record.Status)
}

func TestDispatcher_PassesContextAndGlossary(t *testing.T) {
	store := persistence.NewMemoryStore()
	segs := seedFile(t, store, enKo,
		"Welcome to the portal.",
		"Your account is ready.",
		"Attach the invoice.",
		"Thank you.")
	require.NoError(t, store.PutGlossaryEntry(context.Background(), enKo, domain.GlossaryEntry{Source: "invoice", Target: "송장"}))
	require.NoError(t, store.PutGlossaryEntry(context.Background(), enKo, domain.GlossaryEntry{Source: "account", Target: "계정"}))

	p := &fakeProvider{}
	cfg := testConfig()
	cfg.ChunkSize = 2
	cfg.ContextLines = 1
	var rec recorder

	_, err := newDispatcher(t, store, p, cfg).Run(context.Background(), testRun(segs, &rec))
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.opts, 2)
	assert.Empty(t, p.opts[0].Context)
	assert.Equal(t, []domain.GlossaryEntry{{Source: "account", Target: "계정"}}, p.opts[0].Glossary)
	assert.Equal(t, []string{"Your account is ready."}, p.opts[1].Context)
	assert.Equal(t, []domain.GlossaryEntry{{Source: "invoice", Target: "송장"}}, p.opts[1].Glossary)
}

func TestDispatcher_ThrottlesBetweenChunks(t *testing.T) {
	store := persistence.NewMemoryStore()
	segs := seedFile(t, store, enKo, sentences(3)...)
	p := &fakeProvider{}
	cfg := testConfig()
	cfg.ChunkSize = 1
	cfg.ChunkDelay = 20 * time.Millisecond
	var rec recorder

	start := time.Now()
	_, err := newDispatcher(t, store, p, cfg).Run(context.Background(), testRun(segs, &rec))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestDispatcher_StoreFailureFailsRun(t *testing.T) {
	store := persistence.NewMemoryStore()
	segs := seedFile(t, store, enKo, sentences(2)...)
	store.FailUpdates = errors.New("database is locked")
	var rec recorder

	_, err := newDispatcher(t, store, &fakeProvider{}, testConfig()).Run(context.Background(), testRun(segs, &rec))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := []func(*Config){
		func(c *Config) { c.ChunkSize = 0 },
		func(c *Config) { c.Mode = "parallel" },
		func(c *Config) { c.Mode = Concurrent; c.Concurrency = 0 },
		func(c *Config) { c.ChunkDelay = -time.Second },
		func(c *Config) { c.ContextLines = -1 },
		func(c *Config) { c.TwoPhase = TwoPhase{Enabled: true, InitialBatch: 0, ReadyPercent: 70} },
		func(c *Config) { c.TwoPhase = TwoPhase{Enabled: true, InitialBatch: 10, ReadyPercent: 100} },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), "case %d", i)
	}
}
