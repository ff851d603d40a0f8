package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/lexitra/internal/config"
	"github.com/MimeLyc/lexitra/internal/ingest"
	"github.com/MimeLyc/lexitra/internal/jobs"
)

// Supervisor is the part of the job supervisor exposed over HTTP.
type Supervisor interface {
	Start(ctx context.Context, fileID string) jobs.StartResult
	Snapshot(fileID string) (jobs.Job, bool)
	List() []jobs.Job
	Persisted(ctx context.Context, fileID string) (*jobs.PersistedJob, error)
	Cancel(fileID string) error
}

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type Server struct {
	jobs     Supervisor
	ingest   ingest.Store
	settings runtimeSettingsStore
	apply    runtimeSettingsApplier

	streamInterval time.Duration

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithIngestStore enables document uploads on POST /api/files.
func WithIngestStore(store ingest.Store) Option {
	return func(s *Server) {
		s.ingest = store
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

// WithStreamInterval sets how often the job stream pushes the job list.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(supervisor Supervisor, opts ...Option) *Server {
	s := &Server{
		jobs:           supervisor,
		streamInterval: time.Second,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/files", s.handleIngest)
	s.mux.HandleFunc("POST /api/files/{id}/translate", s.handleStartJob)
	s.mux.HandleFunc("GET /api/files/{id}/job", s.handleGetJob)
	s.mux.HandleFunc("DELETE /api/files/{id}/job", s.handleCancelJob)
	s.mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /api/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
}
