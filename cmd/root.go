package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/MimeLyc/lexitra/internal/config"
	"github.com/MimeLyc/lexitra/pkg/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

type rootOptions struct {
	envFile string
	logFile string

	logCloser func() error
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "lexitra",
		Short: "Batch document translation with resumable jobs",
		Long: `lexitra splits documents into segments and translates them in chunks
through an LLM or Google Translate, retrying failed segments in the
background and keeping progress in a SQLite database so interrupted jobs
resume where they stopped.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.logCloser != nil {
				return opts.logCloser()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stdout")

	root.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newTranslateCmd(),
		newStatusCmd(),
		newExportCmd(),
		newGlossaryCmd(),
	)
	return root
}

func (o *rootOptions) setup() error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	level := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if o.logFile == "" {
		log.InitLogger(level)
		return nil
	}
	fl, err := log.NewFileLogger(o.logFile, level)
	if err != nil {
		return err
	}
	log.SetLogger(fl.Logger)
	o.logCloser = fl.Close
	return nil
}

// loadConfig reads the environment and overlays the runtime settings file
// when one exists.
func loadConfig(opts ...config.Option) (*config.Config, error) {
	path := config.RuntimeSettingsFilePath()
	if _, err := os.Stat(path); err == nil {
		settings, err := config.LoadRuntimeSettingsFile(path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, config.WithRuntimeSettings(settings))
	}
	return config.NewFromEnv(opts...)
}
