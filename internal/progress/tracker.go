// Package progress turns segment counts into a job percentage and status.
package progress

import (
	"math"
	"sync"

	"github.com/MimeLyc/lexitra/internal/domain"
)

const DefaultReadyPercent = 70

// Percentage is round(completed/total*100), 0 when total is 0, within 0..100.
func Percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(completed) / float64(total) * 100))
	return max(0, min(p, 100))
}

// State is one observation of a run's progress.
type State struct {
	Total     int              `json:"total"`
	Completed int              `json:"completed"`
	Percent   int              `json:"percent"`
	Status    domain.JobStatus `json:"status"`
}

// FileStatus maps the job status onto the file summary view.
func (s State) FileStatus() domain.FileStatus {
	switch s.Status {
	case domain.JobPartiallyReady:
		return domain.FilePartiallyReady
	case domain.JobCompleted:
		return domain.FileReady
	case domain.JobError:
		return domain.FileError
	default:
		return domain.FileTranslating
	}
}

type Options struct {
	// ReadyAt is the completed count that ends phase 1. Zero disables the
	// two-phase mapping.
	ReadyAt      int
	ReadyPercent int
}

// Tracker is safe for concurrent use. Completed is clamped to total and
// neither the percentage nor the status ever moves backwards.
type Tracker struct {
	mu sync.Mutex

	total        int
	completed    int
	readyAt      int
	readyPercent int
	ready        bool

	percent int
	status  domain.JobStatus
}

func New(total int, opts Options) *Tracker {
	t := &Tracker{
		total:        max(total, 0),
		readyAt:      opts.ReadyAt,
		readyPercent: opts.ReadyPercent,
		status:       domain.JobProcessing,
	}
	if t.readyPercent <= 0 || t.readyPercent >= 100 {
		t.readyPercent = DefaultReadyPercent
	}
	if t.readyAt <= 0 || t.readyAt >= t.total {
		t.readyAt = 0
	}
	return t
}

func (t *Tracker) TwoPhase() bool {
	return t.readyAt > 0
}

// Advance counts n more resolved segments.
func (t *Tracker) Advance(n int) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > 0 {
		t.completed = min(t.completed+n, t.total)
	}
	return t.recomputeLocked()
}

// MarkReady ends phase 1. It is a no-op for single-phase runs.
func (t *Tracker) MarkReady() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readyAt > 0 {
		t.ready = true
	}
	return t.recomputeLocked()
}

// Fail moves the run to error, keeping the last percentage.
func (t *Tracker) Fail() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = domain.JobError
	return t.stateLocked()
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

func (t *Tracker) recomputeLocked() State {
	if t.status.IsTerminal() {
		return t.stateLocked()
	}

	var percent int
	status := domain.JobProcessing
	switch {
	case t.completed >= t.total:
		percent, status = 100, domain.JobCompleted
	case t.readyAt == 0:
		percent = Percentage(t.completed, t.total)
	case !t.ready:
		// phase 1 fills 0..readyPercent and stops short of it
		percent = min(scale(t.completed, t.readyAt, t.readyPercent), t.readyPercent-1)
	default:
		status = domain.JobPartiallyReady
		done := max(0, t.completed-t.readyAt)
		percent = t.readyPercent + scale(done, t.total-t.readyAt, 100-t.readyPercent)
		percent = min(percent, 99)
	}

	if status.Rank() > t.status.Rank() {
		t.status = status
	}
	t.percent = max(t.percent, percent)
	return t.stateLocked()
}

func (t *Tracker) stateLocked() State {
	return State{
		Total:     t.total,
		Completed: t.completed,
		Percent:   t.percent,
		Status:    t.status,
	}
}

func scale(done, of, band int) int {
	if of <= 0 {
		return 0
	}
	return int(math.Round(float64(min(done, of)) / float64(of) * float64(band)))
}
