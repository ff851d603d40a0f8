package main

import (
	"context"
	"fmt"
	"os"

	"github.com/MimeLyc/lexitra/internal/config"
	"github.com/MimeLyc/lexitra/internal/dispatch"
	"github.com/MimeLyc/lexitra/internal/jobs"
	"github.com/MimeLyc/lexitra/internal/llm"
	"github.com/MimeLyc/lexitra/internal/persistence"
	"github.com/MimeLyc/lexitra/internal/provider"
	"github.com/MimeLyc/lexitra/internal/retry"
	"github.com/MimeLyc/lexitra/pkg/log"
)

// app is the wired pipeline shared by the commands that translate.
type app struct {
	cfg        *config.Config
	store      *persistence.SQLiteStore
	provider   *provider.Switch
	supervisor *jobs.Supervisor

	closers []func() error
}

func openStore(cfg *config.Config) (*persistence.SQLiteStore, error) {
	if err := os.MkdirAll(cfg.System.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return persistence.NewSQLiteStore(cfg.DBPath())
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store}
	a.closers = append(a.closers, store.Close)

	p, closer, err := buildProvider(ctx, cfg)
	if err != nil {
		_ = a.close()
		return nil, err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	a.provider = provider.NewSwitch(p)

	ctrl := retry.NewController(store, a.provider, retry.Config{
		MaxRetries:  cfg.Retry.MaxRetries,
		Delays:      cfg.Retry.Delays,
		Concurrency: cfg.Retry.Concurrency,
	})
	d, err := dispatch.New(store, a.provider, ctrl, dispatchConfig(cfg))
	if err != nil {
		_ = a.close()
		return nil, jobs.NewErrorWithCause(jobs.ErrConfig, "invalid translation settings", err)
	}
	a.supervisor = jobs.NewSupervisor(store, d, jobs.Config{MaxActiveJobs: cfg.Jobs.MaxActiveJobs})
	return a, nil
}

// close stops running jobs, leaving them resumable, then releases resources.
func (a *app) close() error {
	if a.supervisor != nil {
		a.supervisor.Stop()
	}
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// applySettings rebuilds the provider after the runtime settings changed.
// Chunks already sent finish on the previous provider.
func (a *app) applySettings(ctx context.Context, settings config.RuntimeSettings) error {
	if a.cfg.Provider.Name != config.ProviderLLM {
		return nil
	}
	next := *a.cfg
	config.WithRuntimeSettings(settings)(&next)
	p, _, err := buildProvider(ctx, &next)
	if err != nil {
		return err
	}
	a.provider.Set(p)
	a.cfg = &next
	log.Info("Provider switched to model %s at %s", next.LLM.Model, next.LLM.APIURL)
	return nil
}

func dispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		ChunkSize:    cfg.Translate.ChunkSize,
		Mode:         dispatch.Mode(cfg.Translate.ChunkMode),
		Concurrency:  cfg.Translate.ChunkConcurrency,
		ChunkDelay:   cfg.Translate.ChunkDelay,
		ContextLines: cfg.Translate.ContextLines,
		TwoPhase: dispatch.TwoPhase{
			Enabled:      cfg.Translate.TwoPhaseEnabled,
			InitialBatch: cfg.Translate.TwoPhaseInitial,
			ReadyPercent: cfg.Translate.TwoPhaseReadyPercent,
		},
	}
}

// buildProvider returns the configured provider with the per-call timeout
// applied, and a closer when the provider holds a connection.
func buildProvider(ctx context.Context, cfg *config.Config) (provider.Provider, func() error, error) {
	switch cfg.Provider.Name {
	case config.ProviderGoogle:
		g, err := provider.NewGoogleProvider(ctx, cfg.Provider.GoogleCredentials, cfg.Provider.GoogleProjectID)
		if err != nil {
			return nil, nil, jobs.NewErrorWithCause(jobs.ErrProvider, "failed to create google provider", err)
		}
		return provider.WithTimeout(g, cfg.Provider.Timeout), g.Close, nil
	case config.ProviderLLM:
		client, err := llm.NewClient(&llm.Config{
			APIKey:      cfg.LLM.APIKey,
			APIURL:      cfg.LLM.APIURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
			SiteURL:     cfg.LLM.SiteURL,
			AppName:     cfg.LLM.AppName,
		})
		if err != nil {
			return nil, nil, jobs.NewErrorWithCause(jobs.ErrProvider, "failed to create llm client", err)
		}
		return provider.WithTimeout(provider.NewLLMProvider(client), cfg.Provider.Timeout), nil, nil
	default:
		return nil, nil, jobs.NewError(jobs.ErrProvider, fmt.Sprintf("unknown provider %q", cfg.Provider.Name)).
			WithContext("provider", cfg.Provider.Name)
	}
}
