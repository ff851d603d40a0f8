package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SegmentStatus is the workflow state of a single segment.
type SegmentStatus string

const (
	SegmentNew      SegmentStatus = "New"
	SegmentDraft    SegmentStatus = "Draft"
	SegmentMT       SegmentStatus = "MT"
	SegmentManual   SegmentStatus = "Manual"
	SegmentReviewed SegmentStatus = "Reviewed"
	SegmentRejected SegmentStatus = "Rejected"
)

// Pending reports whether the pipeline still has to translate a segment in this status.
func (s SegmentStatus) Pending() bool {
	return s == SegmentNew || s == SegmentDraft || s == ""
}

// Origin records where a segment's target text came from.
type Origin string

const (
	OriginMT    Origin = "MT"
	OriginHT    Origin = "HT"
	OriginFuzzy Origin = "Fuzzy"
	OriginExact Origin = "100%"
)

// Segment is one unit of translatable text owned by a file.
type Segment struct {
	ID           int64         `json:"id"`
	FileID       string        `json:"file_id"`
	Position     int           `json:"position"`
	Source       string        `json:"source"`
	Target       string        `json:"target"`
	Status       SegmentStatus `json:"status"`
	Origin       Origin        `json:"origin,omitempty"`
	RetryCount   int           `json:"retry_count"`
	LastErrorAt  *time.Time    `json:"last_error_at,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SegmentUpdate is a partial update. Nil fields are left untouched.
// An empty ErrorMessage clears the stored message.
type SegmentUpdate struct {
	Target       *string
	Status       *SegmentStatus
	Origin       *Origin
	RetryCount   *int
	LastErrorAt  *time.Time
	ErrorMessage *string
}

// Apply returns seg with the update applied.
func (u SegmentUpdate) Apply(seg Segment) Segment {
	if u.Target != nil {
		seg.Target = *u.Target
	}
	if u.Status != nil {
		seg.Status = *u.Status
	}
	if u.Origin != nil {
		seg.Origin = *u.Origin
	}
	if u.RetryCount != nil {
		seg.RetryCount = *u.RetryCount
	}
	if u.LastErrorAt != nil {
		t := *u.LastErrorAt
		seg.LastErrorAt = &t
	}
	if u.ErrorMessage != nil {
		seg.ErrorMessage = *u.ErrorMessage
	}
	return seg
}

// JobStatus is the lifecycle state of a per-file translation job.
type JobStatus string

const (
	JobPending        JobStatus = "pending"
	JobProcessing     JobStatus = "processing"
	JobPartiallyReady JobStatus = "partially_ready"
	JobCompleted      JobStatus = "completed"
	JobError          JobStatus = "error"
)

// IsTerminal returns true for statuses that end a job run.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobError
}

// IsActive returns true while a run owns the record.
func (s JobStatus) IsActive() bool {
	return s == JobProcessing || s == JobPartiallyReady
}

// Rank orders statuses along the state machine so writers never move backwards.
func (s JobStatus) Rank() int {
	switch s {
	case JobPending:
		return 0
	case JobProcessing:
		return 1
	case JobPartiallyReady:
		return 2
	case JobCompleted, JobError:
		return 3
	default:
		return -1
	}
}

// JobRecord is the persisted job/progress row, one per file.
type JobRecord struct {
	FileID            string     `json:"file_id"`
	RunID             string     `json:"run_id"`
	TotalSegments     int        `json:"total_segments"`
	CompletedSegments int        `json:"completed_segments"`
	Status            JobStatus  `json:"status"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// FileStatus is the denormalized processing status mirrored onto the file row.
type FileStatus string

const (
	FileTranslating    FileStatus = "translating"
	FilePartiallyReady FileStatus = "partially_ready"
	FileReady          FileStatus = "ready"
	FileError          FileStatus = "error"
)

// FileSummary is the file row as far as the pipeline is concerned.
type FileSummary struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Languages          LanguagePair `json:"languages"`
	ProcessingStatus   FileStatus   `json:"processing_status,omitempty"`
	ProcessingProgress int          `json:"processing_progress"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// AutoLanguage asks the pipeline to detect the source language from the segments.
const AutoLanguage = "auto"

// LanguagePair is the source and target language of a file.
type LanguagePair struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// AutoSource reports whether the source language still has to be detected.
func (p LanguagePair) AutoSource() bool {
	src := strings.TrimSpace(strings.ToLower(p.Source))
	return src == "" || src == AutoLanguage
}

// GlossaryEntry is a fixed term translation for a language pair.
type GlossaryEntry struct {
	Source string `json:"source"`
	Target string `json:"target"`
}
