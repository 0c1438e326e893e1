package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	tmerrors "github.com/testmaster/testmaster/internal/errors"
	"github.com/testmaster/testmaster/internal/history"
	"github.com/testmaster/testmaster/internal/store"
)

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID           string    `json:"id"`
	ScriptName   string    `json:"scriptName"`
	UnitIndex    int       `json:"unitIndex"`
	Serial       string    `json:"serial"`
	OperatorName string    `json:"operatorName"`
	CreatedAt    time.Time `json:"createdAt"`
	Rows         int       `json:"rows"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRunFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunSummary{
			ID:           run.ID,
			ScriptName:   run.ScriptName,
			UnitIndex:    run.UnitIndex,
			Serial:       run.Serial,
			OperatorName: run.OperatorName,
			CreatedAt:    run.CreatedAt,
			Rows:         run.RowCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func parseRunFilter(r *http.Request) (store.RunFilter, error) {
	q := r.URL.Query()
	filter := store.RunFilter{ScriptName: q.Get("script")}
	if v := q.Get("unit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return filter, tmerrors.Errorf(tmerrors.KindValidation, "invalid unit %q", v)
		}
		filter.UnitIndex = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, tmerrors.Errorf(tmerrors.KindValidation, "invalid limit %q", v)
		}
		filter.Limit = n
	}
	return filter, nil
}

// handleExportRun serves a stored run as a historical record file.
func (s *Server) handleExportRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	rec, err := history.FromRun(run)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ExportFilename(run)))
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRun(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportFilename names a run file script_serial_timestamp_operator_unitN.json.
func ExportFilename(run *store.Run) string {
	name := fmt.Sprintf("%s_%s_%s_%s_unit%d.json",
		run.ScriptName, run.Serial, run.CreatedAt.Format("20060102_150405"), run.OperatorName, run.UnitIndex)
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, name)
}
