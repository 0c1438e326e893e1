package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	tmerrors "github.com/testmaster/testmaster/internal/errors"
	"github.com/testmaster/testmaster/internal/history"
	"github.com/testmaster/testmaster/internal/runner"
	"github.com/testmaster/testmaster/internal/session"
)

const maxUploadBytes = 32 << 20

type HealthResponse struct {
	Status        string `json:"status"`
	ScriptsCount  int    `json:"scripts_count"`
	Running       bool   `json:"running"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	scripts, err := s.scripts.List()
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		ScriptsCount:  len(scripts),
		Running:       s.runner.Running(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleScripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := s.scripts.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if scripts == nil {
		scripts = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scripts": scripts})
}

type scriptRequest struct {
	Script string `json:"script"`
}

func (s *Server) handleScriptTests(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Script == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Script name is required", "tests": map[string]any{}})
		return
	}

	sc, err := s.scripts.Get(req.Script)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Catalog{Tests: sc.Catalog(), MultiUnitSupportedNumber: sc.MultiUnitSupportedNumber})
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: "Invalid JSON"})
		return
	}
	if req.Script == "" {
		writeJSONError(w, http.StatusBadRequest, "Script name is required")
		return
	}

	if err := s.runner.Start(r.Context(), req); err != nil {
		if tmerrors.Is(err, runner.ErrAlreadyRunning) {
			writeJSON(w, http.StatusBadRequest, statusResponse{Status: "error", Message: err.Error()})
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Test started."})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Stop(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Test stopped."})
}

// handleUpload reconstructs a historical record sent as multipart field "file".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	view, err := reconstruct(raw)
	s.metrics.Reconstructed(err == nil)
	if err != nil {
		s.logger.Warn("reconstruction failed", "err", err, "attrs", tmerrors.GetAttributes(err))
		if tmerrors.GetKind(err) == tmerrors.KindValidation {
			writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func reconstruct(raw []byte) (history.View, error) {
	rec, err := history.Decode(raw)
	if err != nil {
		return history.View{}, err
	}
	return history.Reconstruct(rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps the error kind to a status code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(tmerrors.GetKind(err))
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	writeJSONError(w, status, err.Error())
}

func statusFor(kind tmerrors.Kind) int {
	switch kind {
	case tmerrors.KindValidation:
		return http.StatusBadRequest
	case tmerrors.KindNotFound:
		return http.StatusNotFound
	case tmerrors.KindConflict:
		return http.StatusConflict
	case tmerrors.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
