package persistence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/lexitra/internal/domain"
)

// MemoryStore is an in-process store with the same semantics as SQLiteStore.
// Used by tests and by the CLI when no data directory is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	files    map[string]domain.FileSummary
	segments map[int64]domain.Segment
	order    map[string][]int64
	jobs     map[string]domain.JobRecord
	glossary map[string][]domain.GlossaryEntry

	// FailUpdates makes UpdateSegment fail, for error-path tests.
	FailUpdates error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:    make(map[string]domain.FileSummary),
		segments: make(map[int64]domain.Segment),
		order:    make(map[string][]int64),
		jobs:     make(map[string]domain.JobRecord),
		glossary: make(map[string][]domain.GlossaryEntry),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) UpsertFile(_ context.Context, file domain.FileSummary) error {
	if file.ID == "" {
		return fmt.Errorf("file id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.files[file.ID]
	if ok {
		file.ProcessingStatus = existing.ProcessingStatus
		file.ProcessingProgress = existing.ProcessingProgress
	}
	file.Languages = domain.LanguagePair{
		Source: normalizeLang(file.Languages.Source),
		Target: normalizeLang(file.Languages.Target),
	}
	file.UpdatedAt = time.Now().UTC()
	m.files[file.ID] = file
	return nil
}

func (m *MemoryStore) FileSummary(_ context.Context, fileID string) (domain.FileSummary, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	file, ok := m.files[fileID]
	return file, ok, nil
}

func (m *MemoryStore) LanguagePair(_ context.Context, fileID string) (domain.LanguagePair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	file, ok := m.files[fileID]
	if !ok {
		return domain.LanguagePair{}, fmt.Errorf("file %s: %w", fileID, domain.ErrNotFound)
	}
	return file.Languages, nil
}

func (m *MemoryStore) UpdateFileSummary(_ context.Context, fileID string, status domain.FileStatus, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[fileID]
	if !ok {
		return fmt.Errorf("file %s: %w", fileID, domain.ErrNotFound)
	}
	file.ProcessingStatus = status
	file.ProcessingProgress = progress
	file.UpdatedAt = time.Now().UTC()
	m.files[fileID] = file
	return nil
}

func (m *MemoryStore) InsertSegments(_ context.Context, fileID string, sources []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	next := len(m.order[fileID])
	for i, src := range sources {
		m.nextID++
		m.segments[m.nextID] = domain.Segment{
			ID:        m.nextID,
			FileID:    fileID,
			Position:  next + i,
			Source:    src,
			Status:    domain.SegmentNew,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.order[fileID] = append(m.order[fileID], m.nextID)
	}
	return len(sources), nil
}

func (m *MemoryStore) LoadSegments(_ context.Context, fileID string) ([]domain.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.order[fileID]
	ret := make([]domain.Segment, 0, len(ids))
	for _, id := range ids {
		ret = append(ret, m.segments[id])
	}
	return ret, nil
}

func (m *MemoryStore) Segment(_ context.Context, id int64) (domain.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seg, ok := m.segments[id]
	if !ok {
		return domain.Segment{}, fmt.Errorf("segment %d: %w", id, domain.ErrNotFound)
	}
	return seg, nil
}

func (m *MemoryStore) UpdateSegment(_ context.Context, id int64, upd domain.SegmentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpdates != nil {
		return m.FailUpdates
	}
	seg, ok := m.segments[id]
	if !ok {
		return fmt.Errorf("segment %d: %w", id, domain.ErrNotFound)
	}
	seg = upd.Apply(seg)
	seg.UpdatedAt = time.Now().UTC()
	m.segments[id] = seg
	return nil
}

func (m *MemoryStore) UpsertJobRecord(_ context.Context, rec domain.JobRecord) error {
	if rec.FileID == "" {
		return fmt.Errorf("file id is required")
	}
	if rec.CompletedSegments < 0 || rec.CompletedSegments > rec.TotalSegments {
		return fmt.Errorf("completed %d out of range 0..%d", rec.CompletedSegments, rec.TotalSegments)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.jobs[rec.FileID]; ok && !acceptJobWrite(existing, rec) {
		return nil
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	m.jobs[rec.FileID] = rec
	return nil
}

func (m *MemoryStore) ReadJobRecord(_ context.Context, fileID string) (domain.JobRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[fileID]
	return rec, ok, nil
}

func (m *MemoryStore) ListJobRecords(_ context.Context, statuses ...domain.JobStatus) ([]domain.JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make([]domain.JobRecord, 0, len(m.jobs))
	for _, rec := range m.jobs {
		if len(statuses) > 0 && !containsStatus(statuses, rec.Status) {
			continue
		}
		ret = append(ret, rec)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].StartedAt.Before(ret[j].StartedAt)
	})
	return ret, nil
}

func (m *MemoryStore) PutGlossaryEntry(_ context.Context, pair domain.LanguagePair, entry domain.GlossaryEntry) error {
	entry.Source = strings.TrimSpace(entry.Source)
	entry.Target = strings.TrimSpace(entry.Target)
	if entry.Source == "" || entry.Target == "" {
		return fmt.Errorf("glossary terms are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := glossaryKey(pair)
	for i, e := range m.glossary[key] {
		if e.Source == entry.Source {
			m.glossary[key][i] = entry
			return nil
		}
	}
	m.glossary[key] = append(m.glossary[key], entry)
	sort.Slice(m.glossary[key], func(i, j int) bool {
		return m.glossary[key][i].Source < m.glossary[key][j].Source
	})
	return nil
}

func (m *MemoryStore) Glossary(_ context.Context, pair domain.LanguagePair) ([]domain.GlossaryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.GlossaryEntry(nil), m.glossary[glossaryKey(pair)]...), nil
}

func glossaryKey(pair domain.LanguagePair) string {
	return normalizeLang(pair.Source) + "|" + normalizeLang(pair.Target)
}

// acceptJobWrite mirrors the WHERE clause of SQLiteStore.UpsertJobRecord.
func acceptJobWrite(existing, next domain.JobRecord) bool {
	if existing.RunID != next.RunID {
		return true
	}
	if existing.Status.IsTerminal() {
		return false
	}
	if next.CompletedSegments < existing.CompletedSegments {
		return false
	}
	return next.Status.Rank() >= existing.Status.Rank()
}

func containsStatus(list []domain.JobStatus, s domain.JobStatus) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
