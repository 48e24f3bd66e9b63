package httpx

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
)

// sessionListQuery parses the filter and paging parameters of the sessions
// listing. Unknown statuses and kinds are rejected rather than ignored.
func sessionListQuery(r *http.Request) (model.SessionListOptions, error) {
	var opts model.SessionListOptions
	q := r.URL.Query()

	if v := q.Get("project"); v != "" {
		opts.Project = &v
	}
	if v := q.Get("kind"); v != "" {
		var k model.Kind
		if err := k.UnmarshalText([]byte(v)); err != nil {
			return opts, apperrors.Validation(err.Error())
		}
		opts.Kind = &k
	}
	if v := q.Get("status"); v != "" {
		st := model.SessionStatus(v)
		if !st.Valid() {
			return opts, apperrors.Validationf("invalid status: %q", v)
		}
		opts.Status = &st
	}
	if v := q.Get("test_type"); v != "" {
		var tt model.TestType
		if err := tt.UnmarshalText([]byte(v)); err != nil {
			return opts, apperrors.Validation(err.Error())
		}
		opts.TestType = &tt
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, apperrors.Validationf("invalid since timestamp: %q", v)
		}
		opts.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, apperrors.Validationf("invalid until timestamp: %q", v)
		}
		opts.Until = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, apperrors.Validationf("invalid limit: %q", v)
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, apperrors.Validationf("invalid offset: %q", v)
		}
		opts.Offset = n
	}
	opts.Normalize()
	return opts, nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		WriteAppError(w, apperrors.Transient("state store unavailable"))
		return
	}
	opts, err := sessionListQuery(r)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	sessions, err := s.sessions.List(r.Context(), opts)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*model.Session{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"limit":    opts.Limit,
		"offset":   opts.Offset,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		WriteAppError(w, apperrors.Transient("state store unavailable"))
		return
	}
	id := r.PathValue("id")
	session, err := s.sessions.GetByID(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	view := map[string]any{"session": session}
	if s.results != nil {
		latest, rerr := s.results.Latest(r.Context(), id)
		if rerr == nil {
			view["latest_result"] = latest
		} else if !apperrors.IsNotFound(rerr) {
			s.logger.ErrorContext(r.Context(), "load latest result", "session_id", id, "error", rerr)
		}
	}
	WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleSessionResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		WriteAppError(w, apperrors.Transient("state store unavailable"))
		return
	}
	id := r.PathValue("id")
	opts := model.ResultListOptions{SessionID: id}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteAppError(w, apperrors.Validationf("invalid limit: %q", v))
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteAppError(w, apperrors.Validationf("invalid offset: %q", v))
			return
		}
		opts.Offset = n
	}
	opts.Normalize()

	results, err := s.results.List(r.Context(), opts)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if results == nil {
		results = []*model.Result{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"results":    results,
		"limit":      opts.Limit,
		"offset":     opts.Offset,
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		WriteAppError(w, apperrors.Transient("state store unavailable"))
		return
	}
	id, err := parseResultID(r)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	result, rerr := s.results.GetByID(r.Context(), id)
	if rerr != nil {
		WriteAppError(w, rerr)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func parseResultID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.Validationf("invalid result id: %q", raw)
	}
	return id, nil
}

// sessionAlerts resolves the security alerts of a session's latest result.
func (s *Server) sessionAlerts(r *http.Request, id string) ([]model.ZAPAlert, error) {
	summary, err := s.loadSummary(r, id)
	if err != nil {
		return nil, err
	}
	if summary.Security == nil {
		return nil, apperrors.NotFoundf("job %s has no security report", id)
	}
	return summary.Security.Alerts, nil
}

// resultAlerts resolves the security alerts of a specific result row.
func (s *Server) resultAlerts(r *http.Request, id int64) ([]model.ZAPAlert, error) {
	if s.results == nil {
		return nil, apperrors.Transient("state store unavailable")
	}
	result, err := s.results.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if result.Summary.Security == nil {
		return nil, apperrors.NotFoundf("result %d has no security report", id)
	}
	return result.Summary.Security.Alerts, nil
}

func (s *Server) handleSessionAlertsJSON(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.sessionAlerts(r, r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	writeAlertsJSON(w, alerts)
}

func (s *Server) handleSessionAlertsCSV(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.sessionAlerts(r, r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	writeAlertsCSV(w, alerts)
}

func (s *Server) handleResultAlertsJSON(w http.ResponseWriter, r *http.Request) {
	id, err := parseResultID(r)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	alerts, aerr := s.resultAlerts(r, id)
	if aerr != nil {
		WriteAppError(w, aerr)
		return
	}
	writeAlertsJSON(w, alerts)
}

func (s *Server) handleResultAlertsCSV(w http.ResponseWriter, r *http.Request) {
	id, err := parseResultID(r)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	alerts, aerr := s.resultAlerts(r, id)
	if aerr != nil {
		WriteAppError(w, aerr)
		return
	}
	writeAlertsCSV(w, alerts)
}

func writeAlertsJSON(w http.ResponseWriter, alerts []model.ZAPAlert) {
	if alerts == nil {
		alerts = []model.ZAPAlert{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// writeAlertsCSV emits RFC 4180 rows with a fixed header. encoding/csv takes
// care of quoting evidence fields that embed commas, quotes or newlines.
func writeAlertsCSV(w http.ResponseWriter, alerts []model.ZAPAlert) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="alerts.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"risk", "alert", "url", "evidence"})
	for _, a := range alerts {
		_ = cw.Write([]string{a.Risk, a.Alert, a.URL, a.Evidence})
	}
	cw.Flush()
}
