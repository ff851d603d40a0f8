// Package retry resolves segments that failed translation: it retries them
// with growing delays and escalates them to Manual once its retries run out.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/provider"
)

const (
	MaxRetryCount     = 3
	EscalationMessage = "max retry exceeded"
)

// DefaultDelays is indexed by the segment's current retry count.
var DefaultDelays = []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second}

// Store is the segment write the controller needs.
type Store interface {
	UpdateSegment(ctx context.Context, id int64, upd domain.SegmentUpdate) error
}

type Config struct {
	MaxRetries int
	Delays     []time.Duration
	// Concurrency bounds in-flight attempts per scheduler.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = MaxRetryCount
	}
	if len(c.Delays) == 0 {
		c.Delays = DefaultDelays
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Request is the per-run part of a provider call.
type Request struct {
	SourceLang string
	TargetLang string
}

type Controller struct {
	store    Store
	provider provider.Provider
	cfg      Config
	now      func() time.Time
}

func NewController(store Store, p provider.Provider, cfg Config) *Controller {
	return &Controller{
		store:    store,
		provider: p,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

func (c *Controller) MaxRetries() int {
	return c.cfg.MaxRetries
}

// Delay returns the wait before the attempt following retryCount failures.
// The index is clamped to the configured delays.
func (c *Controller) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(c.cfg.Delays) {
		retryCount = len(c.cfg.Delays) - 1
	}
	return c.cfg.Delays[retryCount]
}

func (c *Controller) Exhausted(seg domain.Segment) bool {
	return seg.RetryCount >= c.cfg.MaxRetries
}

// Escalate hands the segment to a human. Target is left as is.
func (c *Controller) Escalate(ctx context.Context, seg domain.Segment) (domain.Segment, error) {
	if seg.Status == domain.SegmentManual {
		return seg, nil
	}
	status := domain.SegmentManual
	msg := EscalationMessage
	upd := domain.SegmentUpdate{Status: &status, ErrorMessage: &msg}
	if err := c.store.UpdateSegment(ctx, seg.ID, upd); err != nil {
		return seg, fmt.Errorf("escalate segment %d: %w", seg.ID, err)
	}
	return upd.Apply(seg), nil
}

// Attempt makes one single-item provider call. It reports whether the
// segment got a translation. A provider failure is recorded on the segment
// and is not an error; errors are store failures or cancellation of ctx.
func (c *Controller) Attempt(ctx context.Context, seg domain.Segment, req Request, opts provider.Options) (domain.Segment, bool, error) {
	out, callErr := c.provider.Translate(ctx, seg.Source, req.SourceLang, req.TargetLang, opts)
	if callErr == nil && strings.TrimSpace(out) == "" {
		callErr = provider.ErrEmptyTranslation
	}

	if callErr != nil {
		if err := ctx.Err(); err != nil {
			return seg, false, err
		}
		retries := min(seg.RetryCount+1, c.cfg.MaxRetries)
		now := c.now().UTC()
		msg := callErr.Error()
		upd := domain.SegmentUpdate{RetryCount: &retries, LastErrorAt: &now, ErrorMessage: &msg}
		if err := c.store.UpdateSegment(ctx, seg.ID, upd); err != nil {
			return seg, false, fmt.Errorf("record failure of segment %d: %w", seg.ID, err)
		}
		return upd.Apply(seg), false, nil
	}

	upd := TranslatedUpdate(out)
	if err := c.store.UpdateSegment(ctx, seg.ID, upd); err != nil {
		return seg, false, fmt.Errorf("store translation of segment %d: %w", seg.ID, err)
	}
	return upd.Apply(seg), true, nil
}

// Handle resolves one failed segment inline: it escalates an exhausted
// segment, otherwise waits the backoff delay and attempts once.
func (c *Controller) Handle(ctx context.Context, seg domain.Segment, req Request, opts provider.Options) (domain.Segment, error) {
	if c.Exhausted(seg) {
		return c.Escalate(ctx, seg)
	}
	timer := time.NewTimer(c.Delay(seg.RetryCount))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return seg, ctx.Err()
	case <-timer.C:
	}
	seg, _, err := c.Attempt(ctx, seg, req, opts)
	return seg, err
}

// TranslatedUpdate is the write for a segment that received target text.
func TranslatedUpdate(target string) domain.SegmentUpdate {
	status := domain.SegmentMT
	origin := domain.OriginMT
	zero := 0
	empty := ""
	return domain.SegmentUpdate{
		Target:       &target,
		Status:       &status,
		Origin:       &origin,
		RetryCount:   &zero,
		ErrorMessage: &empty,
	}
}
