package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/MimeLyc/lexitra/internal/jobs"
	"github.com/spf13/cobra"
)

func newTranslateCmd() *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "translate <file-id>",
		Short: "Translate an ingested document",
		Long: `Run a translation job for an ingested document in this process.

With --wait (the default) the command returns when the job ends. With
--wait=false it returns once the first phase of a two-phase job is ready.
A job left unfinished, by that or by an interrupt, stays in processing and
a running server picks the rest up on its next sweep.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			return runTranslate(ctx, a.supervisor, args[0], wait, interval, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "wait until the job ends")
	cmd.Flags().DurationVar(&interval, "progress-interval", 2*time.Second, "how often progress is printed, 0 to disable")
	return cmd
}

type jobRunner interface {
	Start(ctx context.Context, fileID string) jobs.StartResult
	Snapshot(fileID string) (jobs.Job, bool)
	Wait(ctx context.Context, fileID string) error
	WaitReady(ctx context.Context, fileID string) error
}

func runTranslate(ctx context.Context, sup jobRunner, fileID string, wait bool, interval time.Duration, out io.Writer) error {
	res := sup.Start(ctx, fileID)
	switch res.Status {
	case jobs.StatusStarted:
		fmt.Fprintf(out, "started run %s for %s\n", res.RunID, fileID)
	case jobs.StatusNoSegments:
		return fmt.Errorf("%s has no segments, ingest it first", fileID)
	default:
		return fmt.Errorf("job not started: %s %s", res.Status, res.Message)
	}

	stopProgress := func() {}
	if interval > 0 {
		stopProgress = printProgress(ctx, sup, fileID, interval, out)
	}

	waitFn := sup.Wait
	if !wait {
		waitFn = sup.WaitReady
	}
	err := waitFn(ctx, fileID)
	stopProgress()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return fmt.Errorf("interrupted, %s stays resumable: %w", fileID, err)
	}
	if err != nil {
		return err
	}

	if job, ok := sup.Snapshot(fileID); ok {
		fmt.Fprintf(out, "%s: %s %d%% (%d/%d)\n", fileID, job.Status, job.Percent, job.Completed, job.Total)
	}
	return nil
}

func printProgress(ctx context.Context, sup jobRunner, fileID string, interval time.Duration, out io.Writer) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last := -1
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				job, ok := sup.Snapshot(fileID)
				if !ok || job.Percent == last {
					continue
				}
				last = job.Percent
				fmt.Fprintf(out, "%s: %s %d%%\n", fileID, job.Status, job.Percent)
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
