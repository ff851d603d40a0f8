package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/lexitra/pkg/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"
)

// Config holds all application configuration, read from environment
// variables with defaults.
//
// Environment Variables:
// Provider:
// - PROVIDER: llm or google (default: llm)
// - PROVIDER_TIMEOUT: timeout of one provider call (default: 60s)
// - LLM_API_KEY: API key, required for the llm provider
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: model name (default: openai/gpt-4o-mini)
// - LLM_MAX_TOKENS, LLM_TEMPERATURE, LLM_TIMEOUT, LLM_SITE_URL, LLM_APP_NAME
// - GOOGLE_CREDENTIALS: service account file for the google provider
// - GOOGLE_PROJECT_ID: project of the credentials (optional)
//
// Translation:
// - CHUNK_SIZE (15), CHUNK_MODE (sequential|concurrent), CHUNK_CONCURRENCY (4)
// - CHUNK_DELAY_MS (500), CONTEXT_LINES (3)
// - TWO_PHASE_ENABLED (false), TWO_PHASE_INITIAL (10), TWO_PHASE_READY_PERCENT (70)
// - RETRY_MAX (3), RETRY_DELAYS (1s,5s,15s), RETRY_CONCURRENCY (4)
// - TARGET_LANGUAGE: default target of ingested files (default: ko)
//
// Ingestion:
// - INBOX_DIR: directory swept for new documents, empty to disable (default: "")
// - SEGMENT_SENTENCES: split paragraphs into sentences (default: true)
//
// Jobs:
// - MAX_ACTIVE_JOBS: global cap on running jobs, 0 for none (default: 0)
// - RESUME_CRON: schedule of the stale-job sweep (default: */5 * * * *)
//
// System:
// - DATA_DIR (/app/data), HTTP_ADDR (:8080), LOG_LEVEL (INFO), SETTINGS_FILE
type Config struct {
	Provider  ProviderConfig  `json:"provider"`
	LLM       LLMConfig       `json:"llm"`
	Translate TranslateConfig `json:"translate"`
	Retry     RetryConfig     `json:"retry"`
	Ingest    IngestConfig    `json:"ingest"`
	Jobs      JobsConfig      `json:"jobs"`
	HTTP      HTTPConfig      `json:"http"`
	System    SystemConfig    `json:"system"`

	skipProvider bool
}

const (
	ProviderLLM    = "llm"
	ProviderGoogle = "google"
)

type ProviderConfig struct {
	Name              string        `json:"name"`
	Timeout           time.Duration `json:"timeout"`
	GoogleCredentials string        `json:"google_credentials"`
	GoogleProjectID   string        `json:"google_project_id"`
}

// LLMConfig holds the configuration of an OpenAI compatible endpoint.
type LLMConfig struct {
	APIKey      string  `json:"-"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

type TranslateConfig struct {
	TargetLanguage       language.Tag  `json:"target_language"`
	ChunkSize            int           `json:"chunk_size"`
	ChunkMode            string        `json:"chunk_mode"`
	ChunkConcurrency     int           `json:"chunk_concurrency"`
	ChunkDelay           time.Duration `json:"chunk_delay"`
	ContextLines         int           `json:"context_lines"`
	TwoPhaseEnabled      bool          `json:"two_phase_enabled"`
	TwoPhaseInitial      int           `json:"two_phase_initial"`
	TwoPhaseReadyPercent int           `json:"two_phase_ready_percent"`
}

type RetryConfig struct {
	MaxRetries  int             `json:"max_retries"`
	Delays      []time.Duration `json:"delays"`
	Concurrency int             `json:"concurrency"`
}

type IngestConfig struct {
	InboxDir  string `json:"inbox_dir"`
	Sentences bool   `json:"sentences"`
}

type JobsConfig struct {
	MaxActiveJobs int    `json:"max_active_jobs"`
	ResumeCron    string `json:"resume_cron"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type SystemConfig struct {
	DataDir      string `json:"data_dir"`
	LogLevel     string `json:"log_level"`
	SettingsFile string `json:"settings_file"`
}

// DBPath is the SQLite database inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "lexitra.db")
}

// Option is a function type for configuring Config
type Option func(*Config)

// WithoutProvider skips the provider checks, for commands that never translate.
func WithoutProvider() Option {
	return func(c *Config) {
		c.skipProvider = true
	}
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Provider: ProviderConfig{
			Name:              strings.ToLower(getEnvString("PROVIDER", ProviderLLM)),
			Timeout:           getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
			GoogleCredentials: getEnvString("GOOGLE_CREDENTIALS", ""),
			GoogleProjectID:   getEnvString("GOOGLE_PROJECT_ID", ""),
		},
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:     getEnvInt("LLM_TIMEOUT", 60),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", ""),
		},
		Translate: TranslateConfig{
			TargetLanguage:       getEnvLanguage("TARGET_LANGUAGE", language.Korean),
			ChunkSize:            getEnvInt("CHUNK_SIZE", 15),
			ChunkMode:            strings.ToLower(getEnvString("CHUNK_MODE", "sequential")),
			ChunkConcurrency:     getEnvInt("CHUNK_CONCURRENCY", 4),
			ChunkDelay:           time.Duration(getEnvInt("CHUNK_DELAY_MS", 500)) * time.Millisecond,
			ContextLines:         getEnvInt("CONTEXT_LINES", 3),
			TwoPhaseEnabled:      getEnvBool("TWO_PHASE_ENABLED", false),
			TwoPhaseInitial:      getEnvInt("TWO_PHASE_INITIAL", 10),
			TwoPhaseReadyPercent: getEnvInt("TWO_PHASE_READY_PERCENT", 70),
		},
		Retry: RetryConfig{
			MaxRetries:  getEnvInt("RETRY_MAX", 3),
			Delays:      getEnvDurations("RETRY_DELAYS", []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}),
			Concurrency: getEnvInt("RETRY_CONCURRENCY", 4),
		},
		Ingest: IngestConfig{
			InboxDir:  getEnvString("INBOX_DIR", ""),
			Sentences: getEnvBool("SEGMENT_SENTENCES", true),
		},
		Jobs: JobsConfig{
			MaxActiveJobs: getEnvInt("MAX_ACTIVE_JOBS", 0),
			ResumeCron:    getEnvString("RESUME_CRON", "*/5 * * * *"),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
		System: SystemConfig{
			DataDir:      getEnvString("DATA_DIR", "/app/data"),
			LogLevel:     getEnvString("LOG_LEVEL", "INFO"),
			SettingsFile: RuntimeSettingsFilePath(),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info("Config: provider=%s model=%s chunk=%d/%s data=%s", config.Provider.Name, config.LLM.Model,
		config.Translate.ChunkSize, config.Translate.ChunkMode, config.System.DataDir)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	switch c.Provider.Name {
	case ProviderLLM:
		if c.LLM.APIKey == "" && !c.skipProvider {
			return fmt.Errorf("LLM_API_KEY is required")
		}
	case ProviderGoogle:
	default:
		return fmt.Errorf("unknown PROVIDER %q", c.Provider.Name)
	}
	if _, err := cron.ParseStandard(c.Jobs.ResumeCron); err != nil {
		return fmt.Errorf("invalid RESUME_CRON: %w", err)
	}
	if c.Jobs.MaxActiveJobs < 0 {
		return fmt.Errorf("MAX_ACTIVE_JOBS must not be negative")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvDurations reads a comma separated list such as "1s,5s,15s". Any
// malformed entry falls back to the default list.
func getEnvDurations(key string, defaultValue []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var ret []time.Duration
	for _, part := range strings.Split(value, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d < 0 {
			log.Warn("Ignoring %s=%q: %v", key, value, err)
			return defaultValue
		}
		ret = append(ret, d)
	}
	return ret
}

func getEnvLanguage(key string, defaultValue language.Tag) language.Tag {
	if value := os.Getenv(key); value != "" {
		if tag, err := language.Parse(value); err == nil {
			return tag
		}
	}
	return defaultValue
}
