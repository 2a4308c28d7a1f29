package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/skiptrace/internal/report"
	"github.com/sells-group/skiptrace/internal/runner"
	"github.com/sells-group/skiptrace/internal/store"
)

const defaultRunLimit = 50

func (s *server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		SourceLabel: q.Get("label"),
		Limit:       defaultRunLimit,
	}

	var err error
	if filter.Unfinished, err = boolParam(r, "unfinished"); err != nil {
		writeErr(w, r, err)
		return
	}
	if filter.Limit, err = intParam(r, "limit", defaultRunLimit); err != nil {
		writeErr(w, r, err)
		return
	}
	if filter.Offset, err = intParam(r, "offset", 0); err != nil {
		writeErr(w, r, err)
		return
	}

	runs, err := s.Manager.ListRuns(r.Context(), filter)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, runs)
}

func (s *server) getRun(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Manager.RunStatus(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, summary)
}

// getReport serves the run report as JSON, or as markdown or xlsx when
// ?format= asks for it.
func (s *server) getReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	rep, err := s.Reports.Get(r.Context(), runID)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeData(w, rep)
	case "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(report.FormatMarkdown(rep)))
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="run-`+runID+`.xlsx"`)
		if err := report.WriteXLSX(w, rep); err != nil {
			writeErr(w, r, err)
		}
	default:
		writeErr(w, r, eris.Wrapf(runner.ErrValidation, "unknown report format %q", format))
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, eris.Wrapf(runner.ErrValidation, "%s must be a non-negative integer", name)
	}
	return v, nil
}
