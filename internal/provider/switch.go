package provider

import (
	"context"
	"sync/atomic"
)

// Switch forwards calls to a provider that can be replaced while jobs run.
// Calls already in flight finish on the provider they started with.
type Switch struct {
	current atomic.Pointer[Provider]
}

func NewSwitch(p Provider) *Switch {
	s := &Switch{}
	s.Set(p)
	return s
}

func (s *Switch) Set(p Provider) {
	s.current.Store(&p)
}

func (s *Switch) get() Provider {
	return *s.current.Load()
}

func (s *Switch) BatchTranslate(ctx context.Context, sources []string, sourceLang, targetLang string, opts Options) ([]string, error) {
	return s.get().BatchTranslate(ctx, sources, sourceLang, targetLang, opts)
}

func (s *Switch) Translate(ctx context.Context, source, sourceLang, targetLang string, opts Options) (string, error) {
	return s.get().Translate(ctx, source, sourceLang, targetLang, opts)
}
