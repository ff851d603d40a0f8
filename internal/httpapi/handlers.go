package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MimeLyc/lexitra/internal/config"
	"github.com/MimeLyc/lexitra/internal/ingest"
	"github.com/MimeLyc/lexitra/internal/jobs"
	"github.com/MimeLyc/lexitra/pkg/log"
	"github.com/google/uuid"
)

type ingestRequest struct {
	FileID    string `json:"file_id"`
	Name      string `json:"name"`
	Text      string `json:"text"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Sentences *bool  `json:"sentences"`
	// Translate starts a job right after the segments are stored.
	Translate bool `json:"translate"`
}

type ingestResponse struct {
	ingest.Result
	Job *jobs.StartResult `json:"job,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		writeError(w, http.StatusNotImplemented, "ingestion is not configured")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.FileID == "" {
		req.FileID = uuid.NewString()
	}
	if req.Target == "" && s.settings != nil {
		if settings, err := s.settings.GetRuntimeSettings(); err == nil {
			req.Target = settings.TargetLanguage
		}
	}
	sentences := true
	if req.Sentences != nil {
		sentences = *req.Sentences
	}

	res, err := ingest.Reader(r.Context(), s.ingest, strings.NewReader(req.Text), ingest.Request{
		FileID:    req.FileID,
		Name:      req.Name,
		Source:    req.Source,
		Target:    req.Target,
		Sentences: sentences,
	})
	switch {
	case errors.Is(err, ingest.ErrAlreadyIngested):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, ingest.ErrNoText):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, ingest.ErrInvalidLanguage):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ingestResponse{Result: res}
	if req.Translate {
		start := s.jobs.Start(r.Context(), res.FileID)
		resp.Job = &start
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("id")
	res := s.jobs.Start(r.Context(), fileID)
	writeJSON(w, startStatusCode(res.Status), res)
}

func startStatusCode(status jobs.StartStatus) int {
	switch status {
	case jobs.StatusStarted:
		return http.StatusAccepted
	case jobs.StatusAlreadyProcessing:
		return http.StatusConflict
	case jobs.StatusNoSegments:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type jobResponse struct {
	Record *jobs.PersistedJob `json:"record"`
	// Live is the in-memory view, present while this process knows the run.
	Live *jobs.Job `json:"live,omitempty"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("id")
	rec, err := s.jobs.Persisted(r.Context(), fileID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := jobResponse{Record: rec}
	if job, ok := s.jobs.Snapshot(fileID); ok {
		resp.Live = &job
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("id")
	if err := s.jobs.Cancel(fileID); err != nil {
		if errors.Is(err, jobs.ErrNoActiveJob) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok": true,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.List())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings.Redacted())
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		// a redacted key sent back unchanged keeps the stored one
		if req.LLMAPIKey == config.RedactedSecret {
			req.LLMAPIKey = ""
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		log.Info("Runtime settings updated: model=%s cron=%q target=%s", saved.LLMModel, saved.ResumeCron, saved.TargetLanguage)
		writeJSON(w, http.StatusOK, saved.Redacted())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
