package main

import (
	"fmt"

	"github.com/MimeLyc/lexitra/internal/config"
	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/glossary"
	"github.com/MimeLyc/lexitra/internal/langdetect"
	"github.com/spf13/cobra"
)

func newGlossaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "glossary",
		Short: "Manage the term glossaries sent with every chunk",
	}
	cmd.AddCommand(newGlossaryImportCmd(), newGlossaryExportCmd())
	return cmd
}

func glossaryPair(source, target, path string) (domain.LanguagePair, error) {
	pair, ok := glossary.PairFromFilename(path)
	if source != "" {
		pair.Source = source
	}
	if target != "" {
		pair.Target = target
	}
	if !ok && (source == "" || target == "") {
		return pair, fmt.Errorf("cannot tell the language pair of %s, pass --source and --target", path)
	}
	var err error
	if pair.Source, err = langdetect.Normalize(pair.Source); err != nil {
		return pair, err
	}
	if pair.Target, err = langdetect.Normalize(pair.Target); err != nil {
		return pair, err
	}
	return pair, nil
}

func newGlossaryImportCmd() *cobra.Command {
	var source, target string
	cmd := &cobra.Command{
		Use:   "import <glossary.json>",
		Short: "Store the terms of a glossary file",
		Long: `Store the terms of a JSON object mapping source terms to translations.
The language pair is read from names like glossary.en-ko.json unless
--source and --target are given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pair, err := glossaryPair(source, target, args[0])
			if err != nil {
				return err
			}
			terms, err := glossary.Load(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig(config.WithoutProvider())
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := glossary.Import(cmd.Context(), store, pair, terms.Entries())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d terms for %s -> %s\n", n, pair.Source, pair.Target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "source language")
	cmd.Flags().StringVarP(&target, "target", "t", "", "target language")
	return cmd
}

func newGlossaryExportCmd() *cobra.Command {
	var source, target, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored terms of a language pair to a glossary file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				output = glossary.Filename(source, target)
			}
			pair, err := glossaryPair(source, target, output)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(config.WithoutProvider())
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Glossary(cmd.Context(), pair)
			if err != nil {
				return err
			}
			terms := make(glossary.Terms, len(entries))
			for _, e := range entries {
				terms[e.Source] = e.Target
			}
			if err := glossary.Save(output, terms); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d terms to %s\n", len(terms), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "source language")
	cmd.Flags().StringVarP(&target, "target", "t", "", "target language")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default glossary.<source>-<target>.json)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
