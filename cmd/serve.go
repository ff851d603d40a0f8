package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MimeLyc/lexitra/internal/config"
	"github.com/MimeLyc/lexitra/internal/httpapi"
	"github.com/MimeLyc/lexitra/internal/service"
	"github.com/MimeLyc/lexitra/pkg/log"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the resume sweep and the inbox watcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides HTTP_ADDR")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			log.Error("Failed to close: %v", err)
		}
	}()

	settings, err := config.NewRuntimeSettingsStore(cfg.System.SettingsFile, cfg.RuntimeSettings())
	if err != nil {
		return err
	}

	c := cron.New()
	svc := service.New(a.store, a.supervisor, c, service.InboxConfig{
		Dir:       cfg.Ingest.InboxDir,
		Target:    cfg.Translate.TargetLanguage.String(),
		Sentences: cfg.Ingest.Sentences,
	})

	apply := func(next config.RuntimeSettings) error {
		if err := a.applySettings(ctx, next); err != nil {
			return err
		}
		if next.ResumeCron != svc.Expression() {
			if err := svc.Schedule(ctx, next.ResumeCron); err != nil {
				return err
			}
		}
		svc.SetInboxTarget(next.TargetLanguage)
		return nil
	}

	srv := httpapi.NewServer(a.supervisor,
		httpapi.WithIngestStore(a.store),
		httpapi.WithRuntimeSettingsStore(settings),
		httpapi.WithRuntimeSettingsApplier(apply),
	)
	return runWithComponents(ctx, cfg, svc, c, srv)
}

type scheduler interface {
	Schedule(ctx context.Context, cronExpr string) error
	Tick(ctx context.Context) (service.Report, error)
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

// cronStopTimeout bounds how long shutdown waits for a running sweep.
var cronStopTimeout = 10 * time.Second

func waitCronStop(c cronEngine) {
	select {
	case <-c.Stop().Done():
	case <-time.After(cronStopTimeout):
		log.Warn("Sweep still running after %s, not waiting for it", cronStopTimeout)
	}
}

// runWithComponents runs one sweep, starts the schedule and serves HTTP until
// ctx ends or the server fails.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, c cronEngine, srv httpServer) error {
	if err := sched.Schedule(ctx, cfg.Jobs.ResumeCron); err != nil {
		return err
	}
	if rep, err := sched.Tick(ctx); err != nil {
		log.Error("Startup sweep failed: %v", err)
	} else if rep.Resumed > 0 || rep.Ingested > 0 {
		log.Info("Startup sweep resumed %d jobs and ingested %d documents", rep.Resumed, rep.Ingested)
	}

	c.Start()
	defer waitCronStop(c)

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
