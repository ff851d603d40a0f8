// Package provider wraps remote translation services behind the batch and
// single-item contract the pipeline consumes.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MimeLyc/lexitra/internal/domain"
)

// ErrEmptyTranslation is returned by Translate when the service produced nothing.
var ErrEmptyTranslation = errors.New("empty translation")

// Options carries optional hints for a call.
type Options struct {
	// Context holds source sentences preceding the batch, oldest first.
	Context  []string
	Glossary []domain.GlossaryEntry
}

// Provider translates text. BatchTranslate returns one string per source in
// order; an empty string marks an item the service did not translate. An
// error means the whole call failed.
type Provider interface {
	BatchTranslate(ctx context.Context, sources []string, sourceLang, targetLang string, opts Options) ([]string, error)
	Translate(ctx context.Context, source, sourceLang, targetLang string, opts Options) (string, error)
}

type timeoutProvider struct {
	next    Provider
	timeout time.Duration
}

// WithTimeout bounds every call to p. A non-positive timeout returns p unchanged.
func WithTimeout(p Provider, timeout time.Duration) Provider {
	if timeout <= 0 {
		return p
	}
	return &timeoutProvider{next: p, timeout: timeout}
}

func (t *timeoutProvider) BatchTranslate(ctx context.Context, sources []string, sourceLang, targetLang string, opts Options) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	out, err := t.next.BatchTranslate(ctx, sources, sourceLang, targetLang, opts)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("provider timed out after %s: %w", t.timeout, err)
	}
	return out, err
}

func (t *timeoutProvider) Translate(ctx context.Context, source, sourceLang, targetLang string, opts Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	out, err := t.next.Translate(ctx, source, sourceLang, targetLang, opts)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("provider timed out after %s: %w", t.timeout, err)
	}
	return out, err
}

// Func adapts a plain function to Provider. Translate calls fn with one source.
type Func func(ctx context.Context, sources []string, sourceLang, targetLang string, opts Options) ([]string, error)

func (f Func) BatchTranslate(ctx context.Context, sources []string, sourceLang, targetLang string, opts Options) ([]string, error) {
	return f(ctx, sources, sourceLang, targetLang, opts)
}

func (f Func) Translate(ctx context.Context, source, sourceLang, targetLang string, opts Options) (string, error) {
	return single(ctx, f, source, sourceLang, targetLang, opts)
}

func single(ctx context.Context, p Provider, source, sourceLang, targetLang string, opts Options) (string, error) {
	out, err := p.BatchTranslate(ctx, []string{source}, sourceLang, targetLang, opts)
	if err != nil {
		return "", err
	}
	if len(out) == 0 || out[0] == "" {
		return "", ErrEmptyTranslation
	}
	return out[0], nil
}
