package main

import (
	"fmt"
	"path/filepath"

	"github.com/MimeLyc/lexitra/internal/config"
	"github.com/MimeLyc/lexitra/internal/ingest"
	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	var (
		source    string
		target    string
		sentences bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Segment documents and store them for translation",
		Long: `Segment .txt, .md or .srt documents and store their segments.
The printed file id is what translate, status and export take.
The source language is detected from the text unless --source is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(config.WithoutProvider())
			if err != nil {
				return err
			}
			if target == "" {
				target = cfg.Translate.TargetLanguage.String()
			}
			if !cmd.Flags().Changed("sentences") {
				sentences = cfg.Ingest.Sentences
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, path := range args {
				res, err := ingest.File(cmd.Context(), store, path, ingest.Request{
					Name:      filepath.Base(path),
					Source:    source,
					Target:    target,
					Sentences: sentences,
				})
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d segments\t%s -> %s\n",
					res.FileID, res.Name, res.Segments, res.Languages.Source, res.Languages.Target)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "auto", "source language, auto to detect")
	cmd.Flags().StringVarP(&target, "target", "t", "", "target language (default TARGET_LANGUAGE)")
	cmd.Flags().BoolVar(&sentences, "sentences", true, "split paragraphs into sentences")
	return cmd
}
