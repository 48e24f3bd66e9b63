package httpx

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
	"github.com/ratemate/taas/internal/statusfile"
	"github.com/ratemate/taas/internal/worker"
)

// jobView is the read model served by the jobs endpoint.
type jobView struct {
	JobID     string              `json:"job_id"`
	Kind      model.Kind          `json:"kind"`
	TestType  model.TestType      `json:"test_type"`
	Project   string              `json:"project,omitempty"`
	Status    model.SessionStatus `json:"status"`
	Error     string              `json:"error,omitempty"`
	Artifacts map[string]string   `json:"artifacts,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// handleGetJob prefers the status file mirror and falls back to the state
// store, synthesizing an equivalent view.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	doc, err := s.status.Read(id)
	if err == nil {
		view := jobView{
			JobID:     doc.JobID,
			Kind:      doc.Kind,
			TestType:  doc.TestType,
			Project:   doc.Project,
			Status:    doc.Status,
			Error:     doc.Error,
			Artifacts: s.presignNames(r, id, doc.Artifacts),
			CreatedAt: doc.CreatedAt,
			UpdatedAt: doc.UpdatedAt,
		}
		WriteJSON(w, http.StatusOK, view)
		return
	}
	if !apperrors.IsNotFound(err) {
		WriteAppError(w, err)
		return
	}

	if s.sessions == nil {
		WriteAppError(w, apperrors.NotFoundf("job %s not found", id))
		return
	}
	session, serr := s.sessions.GetByID(r.Context(), id)
	if serr != nil {
		WriteAppError(w, serr)
		return
	}

	view := jobView{
		JobID:     session.ID,
		Kind:      session.Kind,
		TestType:  session.TestType,
		Status:    session.Status,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
	if session.Project != nil {
		view.Project = *session.Project
	}
	WriteJSON(w, http.StatusOK, view)
}

// presignNames converts stored artifact basenames into fresh presigned URLs.
func (s *Server) presignNames(r *http.Request, jobID string, names []string) map[string]string {
	if s.artifacts == nil || len(names) == 0 {
		return nil
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		u, err := s.artifacts.Presign(r.Context(), jobID+"/"+name)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "presign artifact", "job_id", jobID, "name", name, "error", err)
			continue
		}
		out[name] = u
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// handleCancelJob raises the out-of-band cancel flag. The queued item stays
// in place; the worker observes the flag at its next suspension point.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	if err := s.cancels.Request(ctx, id); err != nil {
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeTransient, "set cancel flag"))
		return
	}

	// Mirror the request unless the job already reached a terminal status.
	doc, err := s.status.Read(id)
	if err == nil && !doc.Status.Terminal() {
		if err := s.status.SetStatus(id, model.SessionStatusCancelRequested, ""); err != nil {
			s.logger.ErrorContext(ctx, "mirror cancel request", "job_id", id, "error", err)
		}
		if s.sessions != nil {
			if _, err := s.sessions.UpdateStatus(ctx, id, model.SessionStatusCancelRequested); err != nil {
				s.logger.ErrorContext(ctx, "persist cancel request", "job_id", id, "error", err)
			}
		}
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleRetryJob clones a session's payload into a fresh session id and
// enqueues it. The original row is untouched; the queue never auto-retries.
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	if s.sessions == nil {
		WriteAppError(w, apperrors.Transient("retry requires the state store"))
		return
	}
	src, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	clone := &model.Session{
		ID:       uuid.NewString(),
		Kind:     src.Kind,
		TestType: src.TestType,
		Project:  src.Project,
		Status:   model.SessionStatusQueued,
		Payload:  src.Payload,
	}

	project := ""
	if clone.Project != nil {
		project = *clone.Project
	}
	if err := s.status.Write(statusfile.Doc{
		JobID:    clone.ID,
		Kind:     clone.Kind,
		TestType: clone.TestType,
		Project:  project,
		Status:   model.SessionStatusQueued,
	}); err != nil {
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeInternal, "mirror session"))
		return
	}
	if _, err := s.sessions.Upsert(ctx, clone); err != nil {
		s.logger.ErrorContext(ctx, "persist retry session", "session_id", clone.ID, "error", err)
	}

	if err := s.queue.Push(ctx, model.JobMessage{
		Kind:      clone.Kind,
		SessionID: clone.ID,
		Payload:   clone.Payload,
	}); err != nil {
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeTransient, "enqueue job"))
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"job_id": clone.ID,
		"status": string(model.SessionStatusQueued),
	})
}

// handleJobResult serves the raw result summary, preferring the mirror file.
func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	summary, err := s.status.ReadResult(id)
	if err == nil {
		WriteJSON(w, http.StatusOK, summary)
		return
	}
	if !apperrors.IsNotFound(err) {
		WriteAppError(w, err)
		return
	}

	if s.results == nil {
		WriteAppError(w, apperrors.NotFoundf("no result for job %s", id))
		return
	}
	latest, rerr := s.results.Latest(r.Context(), id)
	if rerr != nil {
		WriteAppError(w, rerr)
		return
	}
	WriteJSON(w, http.StatusOK, latest.Summary)
}

// handleArtifactRedirect re-signs the object on every call and redirects, so
// stale signatures never leak into stored documents.
func (s *Server) handleArtifactRedirect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	name := r.PathValue("name")

	if s.artifacts == nil {
		WriteAppError(w, apperrors.NotFound("no object store configured"))
		return
	}

	key := id + "/" + name
	exists, err := s.artifacts.Exists(r.Context(), key)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if !exists {
		WriteAppError(w, apperrors.NotFoundf("artifact %s not found", key))
		return
	}

	u, err := s.artifacts.Presign(r.Context(), key)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

type visualAcceptRequest struct {
	SessionID string `json:"session_id"`
	Index     int    `json:"index"`
	Project   string `json:"project,omitempty"`
}

// handleVisualAccept promotes a stored case screenshot to the baseline for
// its URL and returns a fresh presigned link to the new baseline.
func (s *Server) handleVisualAccept(w http.ResponseWriter, r *http.Request) {
	if s.visual == nil || s.artifacts == nil {
		WriteAppError(w, apperrors.NotFound("no object store configured"))
		return
	}

	var req visualAcceptRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		WriteAppError(w, apperrors.Validation("session_id is required"))
		return
	}
	if req.Index < 1 {
		WriteAppError(w, apperrors.Validation("index must be >= 1"))
		return
	}

	summary, err := s.loadSummary(r, req.SessionID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if req.Index > len(summary.Cases) {
		WriteAppError(w, apperrors.NotFoundf("job %s has no case %d", req.SessionID, req.Index))
		return
	}
	cs := summary.Cases[req.Index-1]

	srcKey := cs.Screenshot
	if srcKey == "" {
		srcKey = fmt.Sprintf("%s/screenshot_%d.png", req.SessionID, req.Index)
	}

	project := req.Project
	if project == "" {
		if doc, derr := s.status.Read(req.SessionID); derr == nil {
			project = doc.Project
		}
	}

	vp := worker.DefaultViewport
	baselineKey, err := s.visual.Accept(r.Context(), srcKey, project, cs.URL, vp.Width, vp.Height)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	u, err := s.artifacts.Presign(r.Context(), baselineKey)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"baseline_key": baselineKey,
		"url":          u,
	})
}

// loadSummary reads a job's result summary, mirror first then state store.
func (s *Server) loadSummary(r *http.Request, id string) (model.ResultSummary, error) {
	summary, err := s.status.ReadResult(id)
	if err == nil {
		return summary, nil
	}
	if !apperrors.IsNotFound(err) {
		return model.ResultSummary{}, err
	}
	if s.results == nil {
		return model.ResultSummary{}, apperrors.NotFoundf("no result for job %s", id)
	}
	latest, rerr := s.results.Latest(r.Context(), id)
	if rerr != nil {
		return model.ResultSummary{}, rerr
	}
	return latest.Summary, nil
}
