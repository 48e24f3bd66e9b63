// Package httpx implements the admission API: test submission, job reads,
// cancellation, artifact redirection, visual baseline acceptance, and the
// admin key-management surface.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ratemate/taas/config"
	"github.com/ratemate/taas/internal/domain/model"
	"github.com/ratemate/taas/internal/queue"
	"github.com/ratemate/taas/internal/statusfile"
	"github.com/ratemate/taas/internal/visual"
)

// SessionStore is the slice of the state store the API reads and writes.
// A nil store degrades every session endpoint to the status-file mirror.
type SessionStore interface {
	Upsert(ctx context.Context, s *model.Session) (*model.Session, error)
	GetByID(ctx context.Context, id string) (*model.Session, error)
	UpdateStatus(ctx context.Context, id string, next model.SessionStatus) (*model.Session, error)
	List(ctx context.Context, opts model.SessionListOptions) ([]*model.Session, error)
	ListProjects(ctx context.Context) ([]model.ProjectCount, error)
}

// ResultStore reads persisted result rows.
type ResultStore interface {
	GetByID(ctx context.Context, id int64) (*model.Result, error)
	Latest(ctx context.Context, sessionID string) (*model.Result, error)
	List(ctx context.Context, opts model.ResultListOptions) ([]*model.Result, error)
}

// KeyStore manages issued API keys.
type KeyStore interface {
	KeyVerifier
	Create(ctx context.Context, req *model.CreateAPIKeyRequest) (*model.APIKey, string, error)
	List(ctx context.Context) ([]*model.APIKey, error)
	Update(ctx context.Context, id string, req model.UpdateAPIKeyRequest) (*model.APIKey, error)
}

// ArtifactSigner is the slice of the object store the API needs: existence
// checks and per-request presigning so stale signatures never leak.
type ArtifactSigner interface {
	Exists(ctx context.Context, key string) (bool, error)
	Presign(ctx context.Context, key string) (string, error)
}

// Health groups the dependency probes reported by the healthz endpoint.
type Health struct {
	Redis        func(ctx context.Context) error
	DB           func(ctx context.Context) error
	S3Configured bool
}

// ServerOptions configures the admission API server.
type ServerOptions struct {
	HTTP   config.HTTPConfig
	Upload config.UploadConfig

	Queue   *queue.Queue
	Cancels *queue.CancelFlags
	Limiter Limiter
	Status  *statusfile.Store

	// Sessions, Results and Keys may be nil when the database is down or not
	// deployed; endpoints then serve from the status file mirror.
	Sessions SessionStore
	Results  ResultStore
	Keys     KeyStore

	// Artifacts may be nil when no object store is configured.
	Artifacts ArtifactSigner
	Visual    *visual.Engine

	Health Health
	Logger *slog.Logger
}

// Server hosts the admission API handlers.
type Server struct {
	cfg       config.HTTPConfig
	upload    config.UploadConfig
	queue     *queue.Queue
	cancels   *queue.CancelFlags
	limiter   Limiter
	status    *statusfile.Store
	sessions  SessionStore
	results   ResultStore
	keys      KeyStore
	artifacts ArtifactSigner
	visual    *visual.Engine
	health    Health
	logger    *slog.Logger
}

// NewServer builds a Server from its options.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if opts.Cancels == nil {
		return nil, errors.New("cancel flags are required")
	}
	if opts.Status == nil {
		return nil, errors.New("status store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       opts.HTTP,
		upload:    opts.Upload,
		queue:     opts.Queue,
		cancels:   opts.Cancels,
		limiter:   opts.Limiter,
		status:    opts.Status,
		sessions:  opts.Sessions,
		results:   opts.Results,
		keys:      opts.Keys,
		artifacts: opts.Artifacts,
		visual:    opts.Visual,
		health:    opts.Health,
		logger:    logger,
	}, nil
}

// Handler assembles the routed handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	// Authenticated API surface.
	auth := RequireAPIKey(AuthOptions{
		LegacyKey: s.cfg.LegacyAPIKey,
		Keys:      s.keys,
		Limiter:   s.limiter,
		Logger:    s.logger,
	})
	api := func(h http.HandlerFunc) http.Handler { return auth(h) }

	mux.Handle("GET /api/stats", api(s.handleStats))
	mux.Handle("POST /api/test/web", api(s.handleSubmitWeb))
	mux.Handle("POST /api/test/mobile", api(s.handleSubmitMobile))
	mux.Handle("POST /api/upload/mobile", api(s.handleUploadMobile))
	mux.Handle("GET /api/jobs/{id}", api(s.handleGetJob))
	mux.Handle("POST /api/jobs/{id}/cancel", api(s.handleCancelJob))
	mux.Handle("POST /api/jobs/{id}/retry", api(s.handleRetryJob))
	mux.Handle("GET /api/job-results/{id}", api(s.handleJobResult))
	mux.Handle("GET /api/artifacts/{id}/{name}", api(s.handleArtifactRedirect))
	mux.Handle("POST /api/visual/accept", api(s.handleVisualAccept))
	mux.Handle("GET /api/sessions", api(s.handleListSessions))
	mux.Handle("GET /api/sessions/{id}", api(s.handleGetSession))
	mux.Handle("GET /api/sessions/{id}/results", api(s.handleSessionResults))
	mux.Handle("GET /api/sessions/{id}/alerts.json", api(s.handleSessionAlertsJSON))
	mux.Handle("GET /api/sessions/{id}/alerts.csv", api(s.handleSessionAlertsCSV))
	mux.Handle("GET /api/results/{id}", api(s.handleGetResult))
	mux.Handle("GET /api/results/{id}/alerts.json", api(s.handleResultAlertsJSON))
	mux.Handle("GET /api/results/{id}/alerts.csv", api(s.handleResultAlertsCSV))
	mux.Handle("GET /api/projects", api(s.handleListProjects))

	// Admin surface, gated by the independent admin token.
	admin := RequireAdminToken(s.cfg.AdminToken)
	mux.Handle("GET /api/admin/keys", admin(http.HandlerFunc(s.handleListKeys)))
	mux.Handle("POST /api/admin/keys", admin(http.HandlerFunc(s.handleCreateKey)))
	mux.Handle("PATCH /api/admin/keys/{id}", admin(http.HandlerFunc(s.handleUpdateKey)))

	return Chain(mux,
		Recover(s.logger),
		Logging(s.logger),
		CORS(s.cfg.Origins()),
	)
}
