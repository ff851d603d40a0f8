package jobs

import (
	"time"

	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/progress"
)

// StartStatus is the outcome of a start request.
type StartStatus string

const (
	StatusStarted           StartStatus = "started"
	StatusAlreadyProcessing StartStatus = "already_processing"
	StatusNoSegments        StartStatus = "no_segments"
	StatusError             StartStatus = "error"
)

type StartResult struct {
	Status  StartStatus `json:"status"`
	Message string      `json:"message,omitempty"`
	RunID   string      `json:"run_id,omitempty"`
}

// Job is the in-memory view of a file's latest run. It is only written from
// the run's own progress events.
type Job struct {
	FileID      string           `json:"file_id"`
	RunID       string           `json:"run_id"`
	Status      domain.JobStatus `json:"status"`
	Total       int              `json:"total"`
	Completed   int              `json:"completed"`
	Percent     int              `json:"percent"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func (j *Job) apply(st progress.State, now time.Time) {
	j.Total = st.Total
	j.Completed = st.Completed
	j.Percent = st.Percent
	j.Status = st.Status
	j.UpdatedAt = now
	if st.Status == domain.JobCompleted && j.CompletedAt == nil {
		t := now
		j.CompletedAt = &t
	}
}

// PersistedJob is the stored record with its plain completion percentage.
type PersistedJob struct {
	domain.JobRecord
	Percentage int `json:"percentage"`
}
