package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/ingest"
	"github.com/MimeLyc/lexitra/internal/jobs"
	"github.com/MimeLyc/lexitra/internal/persistence"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	mu      sync.Mutex
	active  map[string]bool
	started []string
	result  jobs.StartStatus
	block   chan struct{}
	calls   atomic.Int32
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{active: map[string]bool{}, result: jobs.StatusStarted}
}

func (f *fakeJobs) Start(_ context.Context, fileID string) jobs.StartResult {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, fileID)
	return jobs.StartResult{Status: f.result}
}

func (f *fakeJobs) Active(fileID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[fileID]
}

func (f *fakeJobs) startedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func putRecord(t *testing.T, store *persistence.MemoryStore, fileID string, status domain.JobStatus) {
	t.Helper()
	require.NoError(t, store.UpsertJobRecord(context.Background(), domain.JobRecord{
		FileID:            fileID,
		RunID:             "run-" + fileID,
		TotalSegments:     10,
		CompletedSegments: 4,
		Status:            status,
		StartedAt:         time.Now().UTC(),
	}))
}

func TestResume_RestartsUnfinishedInactiveJobs(t *testing.T) {
	store := persistence.NewMemoryStore()
	putRecord(t, store, "processing", domain.JobProcessing)
	putRecord(t, store, "partial", domain.JobPartiallyReady)
	putRecord(t, store, "running-here", domain.JobProcessing)
	putRecord(t, store, "done", domain.JobCompleted)
	putRecord(t, store, "failed", domain.JobError)

	fj := newFakeJobs()
	fj.active["running-here"] = true
	svc := New(store, fj, cron.New(), InboxConfig{})

	n, err := svc.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"processing", "partial"}, fj.startedIDs())
}

func TestResume_CountsOnlyStartedJobs(t *testing.T) {
	store := persistence.NewMemoryStore()
	putRecord(t, store, "a", domain.JobProcessing)
	fj := newFakeJobs()
	fj.result = jobs.StatusNoSegments
	svc := New(store, fj, cron.New(), InboxConfig{})

	n, err := svc.Resume(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"a"}, fj.startedIDs())
}

func TestScanInbox_IngestsNewDocumentsOnce(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	first := write("first.txt", "The first document has one paragraph of text.")
	write("ignored.pdf", "binary")

	store := persistence.NewMemoryStore()
	fj := newFakeJobs()
	svc := New(store, fj, cron.New(), InboxConfig{Dir: dir, Target: "ko"})

	n, err := svc.ScanInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{ingest.FileID(first)}, fj.startedIDs())

	// a file touched again is found but not ingested twice
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(first, later, later))
	second := write("second.srt", "1\n00:00:01,000 --> 00:00:02,000\nHello there.\n")
	require.NoError(t, os.Chtimes(second, later, later))

	n, err = svc.ScanInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{ingest.FileID(first), ingest.FileID(second)}, fj.startedIDs())

	file, ok, err := store.FileSummary(context.Background(), ingest.FileID(second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ko", file.Languages.Target)
}

func TestScanInbox_Disabled(t *testing.T) {
	svc := New(persistence.NewMemoryStore(), newFakeJobs(), cron.New(), InboxConfig{})
	n, err := svc.ScanInbox(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTick_SharesOverlappingRuns(t *testing.T) {
	store := persistence.NewMemoryStore()
	putRecord(t, store, "a", domain.JobProcessing)
	fj := newFakeJobs()
	fj.block = make(chan struct{})
	svc := New(store, fj, cron.New(), InboxConfig{})

	var wg sync.WaitGroup
	reports := make([]Report, 3)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep, err := svc.Tick(context.Background())
			assert.NoError(t, err)
			reports[i] = rep
		}()
	}
	require.Eventually(t, func() bool { return fj.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fj.block)
	wg.Wait()

	assert.Equal(t, int32(1), fj.calls.Load())
	for _, rep := range reports {
		assert.Equal(t, Report{Resumed: 1}, rep)
	}
}

func TestSchedule_ReplacesEntry(t *testing.T) {
	c := cron.New()
	svc := New(persistence.NewMemoryStore(), newFakeJobs(), c, InboxConfig{})

	require.NoError(t, svc.Schedule(context.Background(), "*/5 * * * *"))
	require.NoError(t, svc.Schedule(context.Background(), "@hourly"))
	assert.Len(t, c.Entries(), 1)
	assert.Equal(t, "@hourly", svc.Expression())

	err := svc.Schedule(context.Background(), "every now and then")
	require.Error(t, err)
	assert.Len(t, c.Entries(), 1)
	assert.Equal(t, "@hourly", svc.Expression())
}

func TestSetInboxTarget_AppliesToNextScan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("A document that arrives after the settings change."), 0o644))

	store := persistence.NewMemoryStore()
	svc := New(store, newFakeJobs(), cron.New(), InboxConfig{Dir: dir, Target: "ko"})
	svc.SetInboxTarget("ja")

	n, err := svc.ScanInbox(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	file, ok, err := store.FileSummary(context.Background(), ingest.FileID(path))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ja", file.Languages.Target)
}
