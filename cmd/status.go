package main

import (
	"encoding/json"
	"fmt"

	"github.com/MimeLyc/lexitra/internal/config"
	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/progress"
	"github.com/spf13/cobra"
)

type statusReport struct {
	File       domain.FileSummary `json:"file"`
	Job        *domain.JobRecord  `json:"job,omitempty"`
	Percentage int                `json:"percentage"`
	Segments   map[string]int     `json:"segments"`
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <file-id>",
		Short: "Show the stored job and segment counts of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(config.WithoutProvider())
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			fileID := args[0]
			file, ok, err := store.FileSummary(ctx, fileID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: %w", fileID, domain.ErrNotFound)
			}
			segs, err := store.LoadSegments(ctx, fileID)
			if err != nil {
				return err
			}

			rep := statusReport{File: file, Segments: map[string]int{}}
			for _, seg := range segs {
				rep.Segments[string(seg.Status)]++
			}
			rec, ok, err := store.ReadJobRecord(ctx, fileID)
			if err != nil {
				return err
			}
			if ok {
				rep.Job = &rec
				rep.Percentage = progress.Percentage(rec.CompletedSegments, rec.TotalSegments)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			fmt.Fprintf(out, "%s (%s) %s -> %s\n", file.Name, file.ID, file.Languages.Source, file.Languages.Target)
			fmt.Fprintf(out, "segments: %d %v\n", len(segs), rep.Segments)
			if rep.Job == nil {
				fmt.Fprintln(out, "job: none")
				return nil
			}
			fmt.Fprintf(out, "job: %s %s %d%% (%d/%d)\n", rec.RunID, rec.Status, rep.Percentage, rec.CompletedSegments, rec.TotalSegments)
			if rec.ErrorMessage != "" {
				fmt.Fprintf(out, "error: %s\n", rec.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
