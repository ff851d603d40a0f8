package retry

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/provider"
	"github.com/MimeLyc/lexitra/pkg/log"
	"golang.org/x/sync/semaphore"
)

// Outcome is reported once per scheduled segment when it leaves the queue
// translated or escalated.
type Outcome struct {
	Segment   domain.Segment
	Escalated bool
}

type item struct {
	seg   domain.Segment
	opts  provider.Options
	due   time.Time
	index int
}

// retryHeap orders items by due time.
type retryHeap []*item

func (h retryHeap) Len() int { return len(h) }

func (h retryHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }

func (h retryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *retryHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Scheduler runs the retries of one job run off a delay-ordered queue so a
// waiting segment never blocks the dispatch loop or other segments.
type Scheduler struct {
	ctrl       *Controller
	req        Request
	onResolved func(Outcome)
	sem        *semaphore.Weighted

	mu      sync.Mutex
	queue   retryHeap
	stopped bool
	err     error

	wake     chan struct{}
	pending  sync.WaitGroup
	inflight sync.WaitGroup
}

// NewScheduler builds a scheduler for one run. onResolved may be called
// from several goroutines.
func (c *Controller) NewScheduler(req Request, onResolved func(Outcome)) *Scheduler {
	if onResolved == nil {
		onResolved = func(Outcome) {}
	}
	return &Scheduler{
		ctrl:       c,
		req:        req,
		onResolved: onResolved,
		sem:        semaphore.NewWeighted(int64(c.cfg.Concurrency)),
		wake:       make(chan struct{}, 1),
	}
}

// Schedule takes ownership of a failed segment. Exhausted segments are
// escalated before returning.
func (s *Scheduler) Schedule(ctx context.Context, seg domain.Segment, opts provider.Options) {
	s.pending.Add(1)
	s.enqueue(ctx, &item{seg: seg, opts: opts})
}

func (s *Scheduler) enqueue(ctx context.Context, it *item) {
	if s.ctrl.Exhausted(it.seg) {
		s.escalate(ctx, it)
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.pending.Done()
		return
	}
	it.due = s.ctrl.now().Add(s.ctrl.Delay(it.seg.RetryCount))
	heap.Push(&s.queue, it)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) escalate(ctx context.Context, it *item) {
	defer s.pending.Done()
	seg, err := s.ctrl.Escalate(ctx, it.seg)
	if err != nil {
		s.fail(err)
		return
	}
	log.Warn("Segment %d escalated to manual after %d attempts", seg.ID, seg.RetryCount)
	s.onResolved(Outcome{Segment: seg, Escalated: true})
}

// Run dispatches due retries until ctx is done. Queued segments still
// waiting at that point are abandoned unchanged. Run returns only after
// every attempt it started has finished.
func (s *Scheduler) Run(ctx context.Context) {
	defer s.inflight.Wait()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		ready, next := s.takeDue()
		for i, it := range ready {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				for range ready[i:] {
					s.pending.Done()
				}
				s.stop()
				return
			}
			s.inflight.Add(1)
			go func(it *item) {
				defer s.inflight.Done()
				s.attempt(ctx, it)
			}(it)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if next > 0 {
			timer.Reset(next)
		}

		select {
		case <-ctx.Done():
			s.stop()
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// takeDue pops every item whose time has come and returns the wait until
// the next one, or 0 when the queue is empty.
func (s *Scheduler) takeDue() ([]*item, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.ctrl.now()
	var ready []*item
	for s.queue.Len() > 0 && !s.queue[0].due.After(now) {
		ready = append(ready, heap.Pop(&s.queue).(*item))
	}
	if s.queue.Len() == 0 {
		return ready, 0
	}
	return ready, s.queue[0].due.Sub(now)
}

func (s *Scheduler) attempt(ctx context.Context, it *item) {
	seg, ok, err := s.ctrl.Attempt(ctx, it.seg, s.req, it.opts)
	s.sem.Release(1)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.fail(err)
		}
		s.pending.Done()
		return
	}
	if ok {
		s.onResolved(Outcome{Segment: seg})
		s.pending.Done()
		return
	}
	log.Debug("Retry %d/%d of segment %d failed: %s", seg.RetryCount, s.ctrl.cfg.MaxRetries, seg.ID, seg.ErrorMessage)
	it.seg = seg
	s.enqueue(ctx, it)
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for s.queue.Len() > 0 {
		heap.Pop(&s.queue)
		s.pending.Done()
	}
}

func (s *Scheduler) fail(err error) {
	log.Error("Retry scheduler: %v", err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Len is the number of segments waiting for their next attempt.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Wait blocks until every scheduled segment is resolved or abandoned, or
// ctx is done. It returns the first store failure seen.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
