package jobs

import (
	"context"

	"github.com/MimeLyc/lexitra/internal/dispatch"
	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/progress"
)

// Store is the persistence the supervisor needs on top of what a run writes.
type Store interface {
	dispatch.Store
	LoadSegments(ctx context.Context, fileID string) ([]domain.Segment, error)
	ReadJobRecord(ctx context.Context, fileID string) (domain.JobRecord, bool, error)
}

// Runner executes one run. *dispatch.Dispatcher is the production runner.
type Runner interface {
	Run(ctx context.Context, run dispatch.Run) (progress.State, error)
}
