package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MimeLyc/lexitra/internal/config"
	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/pkg/file"
	"github.com/spf13/cobra"
)

var errNothingTranslated = errors.New("nothing translated yet")

func newExportCmd() *cobra.Command {
	var (
		output     string
		fillSource bool
	)
	cmd := &cobra.Command{
		Use:   "export <file-id>",
		Short: "Write the translated segments of a document as text",
		Long: `Write the translated segments in document order, one paragraph per
segment. The default output is the document name with the target language
as extension, for example report.ko.txt.`,
		Args: cobra.ExactArgs(1),
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
			summary, ok, err := store.FileSummary(ctx, fileID)
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

			lines, translated := exportLines(segs, fillSource)
			if translated == 0 {
				return fmt.Errorf("%s: %w", fileID, errNothingTranslated)
			}
			if output == "" {
				output = file.ReplaceExt(summary.Name, "."+summary.Languages.Target+".txt")
			}
			if err := writeLines(output, lines); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d of %d segments to %s\n", translated, len(segs), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	cmd.Flags().BoolVar(&fillSource, "fill-source", true, "write the source text where no translation exists")
	return cmd
}

// exportLines returns the text to write for segs and how many of them had a
// translation.
func exportLines(segs []domain.Segment, fillSource bool) ([]string, int) {
	lines := make([]string, 0, len(segs))
	translated := 0
	for _, seg := range segs {
		text := strings.TrimSpace(seg.Target)
		if text != "" {
			translated++
		} else if fillSource {
			text = seg.Source
		} else {
			continue
		}
		lines = append(lines, text)
	}
	return lines, translated
}

func writeLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for i, line := range lines {
		if i > 0 {
			if _, err := w.WriteString("\n\n"); err != nil {
				_ = f.Close()
				return err
			}
		}
		if _, err := w.WriteString(line); err != nil {
			_ = f.Close()
			return err
		}
	}
	if _, err := w.WriteString("\n"); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
