package httpx

import (
	"net/http"

	"github.com/ratemate/taas/internal/domain/model"
)

const serviceVersion = "1.0.0"

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"name":    "taas",
		"version": serviceVersion,
		"endpoints": []string{
			"/healthz",
			"/api/stats",
			"/api/test/web",
			"/api/test/mobile",
			"/api/upload/mobile",
			"/api/jobs/{id}",
			"/api/jobs/{id}/cancel",
			"/api/jobs/{id}/retry",
			"/api/job-results/{id}",
			"/api/artifacts/{id}/{name}",
			"/api/visual/accept",
			"/api/sessions",
			"/api/results/{id}",
			"/api/projects",
		},
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	redisOK := false
	if s.health.Redis != nil {
		if err := s.health.Redis(ctx); err != nil {
			s.logger.ErrorContext(ctx, "redis health probe", "error", err)
		} else {
			redisOK = true
		}
	}

	dbOK := false
	if s.health.DB != nil {
		if err := s.health.DB(ctx); err != nil {
			s.logger.ErrorContext(ctx, "db health probe", "error", err)
		} else {
			dbOK = true
		}
	}

	// Redis is the only hard dependency: the queue cannot function without it.
	status := http.StatusOK
	if !redisOK {
		status = http.StatusInternalServerError
	}

	WriteJSON(w, status, map[string]any{
		"ok":            redisOK,
		"redis":         redisOK,
		"db":            dbOK,
		"s3_configured": s.health.S3Configured,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"queue":    s.queue.Name(),
		"depth":    depth,
		"queued":   stats.Queued,
		"started":  stats.Started,
		"finished": stats.Finished,
		"failed":   stats.Failed,
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		WriteJSON(w, http.StatusOK, map[string]any{"projects": []model.ProjectCount{}})
		return
	}
	projects, err := s.sessions.ListProjects(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if projects == nil {
		projects = []model.ProjectCount{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"projects": projects})
}
