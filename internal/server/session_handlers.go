package server

import (
	"encoding/json"
	"net/http"

	tmerrors "github.com/testmaster/testmaster/internal/errors"
	"github.com/testmaster/testmaster/internal/ledger"
	"github.com/testmaster/testmaster/internal/session"
	"github.com/testmaster/testmaster/internal/stats"
)

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleSessionLoad(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Script == "" {
		writeJSONError(w, http.StatusBadRequest, "Script name is required")
		return
	}
	if err := s.session.LoadScript(r.Context(), req.Script); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.State())
}

type toggleRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleSessionToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	// Stale ids from before a reload are ignored.
	if !s.session.Toggle(req.ID) {
		s.logger.Debug("toggle ignored", "id", req.ID)
	}
	writeJSON(w, http.StatusOK, s.session.State())
}

// UnitsRequest sets the active units. Count, when positive, selects units 1..Count;
// otherwise Units is the explicit list.
type UnitsRequest struct {
	Units []int `json:"units,omitempty"`
	Count int   `json:"count,omitempty"`
}

func (s *Server) handleSessionUnits(w http.ResponseWriter, r *http.Request) {
	var req UnitsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var err error
	if req.Count > 0 {
		err = s.session.SetUnitCount(req.Count)
	} else {
		err = s.session.SetUnits(req.Units)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleSessionDetails(w http.ResponseWriter, r *http.Request) {
	var req session.Details
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.session.SetDetails(req); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.State())
}

type tabRequest struct {
	Unit int `json:"unit"`
}

func (s *Server) handleSessionTab(w http.ResponseWriter, r *http.Request) {
	var req tabRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.session.SetTab(req.Unit); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.State())
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Start(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Test started."})
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Stop(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Test stopped."})
}

// ResultsResponse is the ledger projection served to clients.
type ResultsResponse struct {
	Units          map[int][]ledger.Entry `json:"units"`
	LastActiveUnit int                    `json:"lastActiveUnit"`
	Complete       bool                   `json:"complete"`
}

func (s *Server) handleSessionResults(w http.ResponseWriter, r *http.Request) {
	l := s.session.Ledger()
	writeJSON(w, http.StatusOK, ResultsResponse{
		Units:          l.Snapshot(),
		LastActiveUnit: l.LastActiveUnit(),
		Complete:       s.session.State().Complete,
	})
}

func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	yields := stats.Summarize(s.session.Ledger())
	if yields == nil {
		yields = []stats.Yield{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tests": yields, "confidence": stats.Confidence})
}

func (s *Server) handleSessionFailures(w http.ResponseWriter, r *http.Request) {
	failures := s.session.Failures()
	if failures == nil {
		failures = []session.Failure{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, tmerrors.Wrap(err, tmerrors.KindValidation, "Invalid JSON").Error())
		return false
	}
	return true
}
