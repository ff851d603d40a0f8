package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/lexitra/internal/dispatch"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrNoActiveJob = errors.New("no active job for file")
	// ErrShutdown is the cancel cause used by Stop. Runs interrupted by it
	// keep their record in processing.
	ErrShutdown = errors.New("supervisor shutting down")

	errCancelRequested = errors.New("cancel requested")
)

// CancelledMessage is persisted as the error message of a cancelled run.
const CancelledMessage = "cancelled"

type Kind int

const (
	ErrAdmission Kind = iota
	ErrConfig
	ErrProvider
	ErrStore
	ErrCancelled
	ErrUnknown
)

func (k Kind) String() string {
	switch k {
	case ErrAdmission:
		return "Admission"
	case ErrConfig:
		return "Config"
	case ErrProvider:
		return "Provider"
	case ErrStore:
		return "Store"
	case ErrCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// JobError is a job-level failure.
type JobError struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func NewError(kind Kind, message string) *JobError {
	return &JobError{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(kind Kind, message string, cause error) *JobError {
	e := NewError(kind, message)
	e.Cause = cause
	return e
}

func (e *JobError) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Kind, e.Message)}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, len(keys))
		for i, k := range keys {
			ctxParts[i] = fmt.Sprintf("%s=%v", k, e.Context[k])
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	return strings.Join(parts, " | ")
}

func (e *JobError) Unwrap() error {
	return e.Cause
}

func (e *JobError) WithContext(key string, value any) *JobError {
	e.Context[key] = value
	return e
}

// IsKind reports whether err carries a *JobError of the given kind.
func IsKind(err error, kind Kind) bool {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Kind == kind
	}
	return false
}

// classify turns what a run returned into the job error that gets persisted.
// cause is the run context's cancel cause, if any.
func classify(err, cause error) *JobError {
	var jobErr *JobError
	switch {
	case errors.As(err, &jobErr):
		return jobErr
	case errors.Is(cause, errCancelRequested) && isContextErr(err):
		return NewErrorWithCause(ErrCancelled, CancelledMessage, err)
	case errors.Is(err, dispatch.ErrLanguageConfig):
		return NewErrorWithCause(ErrConfig, err.Error(), err)
	case errors.Is(err, dispatch.ErrStore):
		return NewErrorWithCause(ErrStore, err.Error(), err)
	default:
		return NewErrorWithCause(ErrUnknown, err.Error(), err)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// safeExecute runs fn, turning a panic into an ErrUnknown job error.
func safeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()
	return fn()
}
