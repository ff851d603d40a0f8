package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/glossary"
	"github.com/MimeLyc/lexitra/internal/provider"
	"github.com/MimeLyc/lexitra/internal/retry"
	"github.com/MimeLyc/lexitra/pkg/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type chunkRunner struct {
	d        *Dispatcher
	run      Run
	pair     domain.LanguagePair
	glossary []domain.GlossaryEntry
	sched    *retry.Scheduler
	w        *progressWriter
	storeCtx context.Context
	limiter  *rate.Limiter
	position map[int64]int
}

// dispatch sends segs in chunks. Cancellation is checked between chunks.
func (c *chunkRunner) dispatch(ctx context.Context, segs []domain.Segment) error {
	size := c.d.cfg.ChunkSize
	for start := 0; start < len(segs); start += size {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk := segs[start:min(start+size, len(segs))]
		var err error
		if c.d.cfg.Mode == Concurrent {
			err = c.concurrent(ctx, chunk)
		} else {
			err = c.sequential(ctx, chunk)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *chunkRunner) sequential(ctx context.Context, chunk []domain.Segment) error {
	opts := c.options(chunk)
	sources := make([]string, len(chunk))
	for i, seg := range chunk {
		sources[i] = seg.Source
	}

	out, err := c.d.provider.BatchTranslate(ctx, sources, c.pair.Source, c.pair.Target, opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Warn("Chunk at position %d of file %s failed, retrying %d segments individually: %v",
			chunk[0].Position, c.run.FileID, len(chunk), err)
		for _, seg := range chunk {
			c.sched.Schedule(c.storeCtx, seg, opts)
		}
		return nil
	}
	if len(out) < len(chunk) {
		log.Warn("Provider returned %d of %d translations for file %s", len(out), len(chunk), c.run.FileID)
	}

	resolved := 0
	for i, seg := range chunk {
		text := ""
		if i < len(out) {
			text = out[i]
		}
		ok, err := c.apply(seg, text, opts)
		if err != nil {
			return err
		}
		if ok {
			resolved++
		}
	}
	c.w.advance(c.storeCtx, resolved)
	return nil
}

func (c *chunkRunner) concurrent(ctx context.Context, chunk []domain.Segment) error {
	opts := c.options(chunk)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.d.cfg.Concurrency)

	var resolved atomic.Int32
	for _, seg := range chunk {
		g.Go(func() error {
			text := ""
			if strings.TrimSpace(seg.Source) != "" {
				out, err := c.d.provider.Translate(gctx, seg.Source, c.pair.Source, c.pair.Target, opts)
				switch {
				case err == nil:
					text = out
				case errors.Is(err, provider.ErrEmptyTranslation):
				default:
					if ctxErr := gctx.Err(); ctxErr != nil {
						return ctxErr
					}
					log.Debug("Segment %d of file %s failed: %v", seg.ID, c.run.FileID, err)
					c.sched.Schedule(c.storeCtx, seg, opts)
					return nil
				}
			}
			ok, err := c.apply(seg, text, opts)
			if ok {
				resolved.Add(1)
			}
			return err
		})
	}
	err := g.Wait()
	// segments stored before a failure still count
	c.w.advance(c.storeCtx, int(resolved.Load()))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// apply stores one provider result. It reports whether the segment is
// resolved; an untranslated segment with real text goes to retry instead.
func (c *chunkRunner) apply(seg domain.Segment, text string, opts provider.Options) (bool, error) {
	if strings.TrimSpace(text) != "" {
		if err := c.d.store.UpdateSegment(c.storeCtx, seg.ID, retry.TranslatedUpdate(text)); err != nil {
			return false, fmt.Errorf("%w: segment %d: %v", ErrStore, seg.ID, err)
		}
		return true, nil
	}

	status := domain.SegmentDraft
	zero := 0
	empty := ""
	upd := domain.SegmentUpdate{Status: &status, RetryCount: &zero, ErrorMessage: &empty}
	if err := c.d.store.UpdateSegment(c.storeCtx, seg.ID, upd); err != nil {
		return false, fmt.Errorf("%w: segment %d: %v", ErrStore, seg.ID, err)
	}
	if strings.TrimSpace(seg.Source) == "" {
		return true, nil
	}
	c.sched.Schedule(c.storeCtx, upd.Apply(seg), opts)
	return false, nil
}

// options builds the provider hints for a chunk: the sources just before it
// in the document and the glossary entries it mentions.
func (c *chunkRunner) options(chunk []domain.Segment) provider.Options {
	var opts provider.Options
	if n := c.d.cfg.ContextLines; n > 0 && len(chunk) > 0 {
		first := c.position[chunk[0].ID]
		for i := max(0, first-n); i < first; i++ {
			if src := strings.TrimSpace(c.run.Segments[i].Source); src != "" {
				opts.Context = append(opts.Context, src)
			}
		}
	}
	if len(c.glossary) > 0 {
		texts := make([]string, len(chunk))
		for i, seg := range chunk {
			texts[i] = seg.Source
		}
		opts.Glossary = glossary.Longest(glossary.Match(c.glossary, texts))
	}
	return opts
}
