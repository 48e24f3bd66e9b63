package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares outermost-first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			const defaultHTTPStatus = 200
			ww := &respWriter{ResponseWriter: w, status: defaultHTTPStatus}
			next.ServeHTTP(ww, r)
			logger.Info("http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORS returns a middleware that answers preflight requests and stamps the
// allowed origin. Origins is either a literal list or the single element "*".
func CORS(origins []string) Middleware {
	allowAll := len(origins) == 1 && origins[0] == "*"
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case origin == "":
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[strings.TrimRight(origin, "/")]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Admin-Token")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// KeyVerifier verifies a raw API key against the issued-key store.
type KeyVerifier interface {
	VerifyRaw(ctx context.Context, raw string) (*model.APIKey, error)
}

// Limiter counts one request per key against its per-minute budget.
type Limiter interface {
	Allow(ctx context.Context, keyID string, limit int) error
}

// AuthOptions configures the API-key authentication middleware.
type AuthOptions struct {
	// LegacyKey, when non-empty, is accepted verbatim and bypasses the
	// per-key rate limiter.
	LegacyKey string

	// Keys may be nil when the state store is not deployed; only the legacy
	// key then authenticates.
	Keys KeyVerifier

	// Limiter may be nil to disable rate limiting.
	Limiter Limiter

	Logger *slog.Logger
}

type apiKeyContextKey struct{}

// APIKeyFromContext returns the verified key for the request, if any. The
// legacy key yields nil.
func APIKeyFromContext(ctx context.Context) *model.APIKey {
	key, _ := ctx.Value(apiKeyContextKey{}).(*model.APIKey)
	return key
}

// RequireAPIKey authenticates via the X-API-Key header or api_key query
// parameter, then applies the per-key rate limit.
func RequireAPIKey(opts AuthOptions) Middleware {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := rawKeyFromRequest(r)
			if raw == "" {
				WriteAppError(w, apperrors.Unauthorized("api key is required"))
				return
			}

			if opts.LegacyKey != "" && raw == opts.LegacyKey {
				next.ServeHTTP(w, r)
				return
			}

			if opts.Keys == nil {
				WriteAppError(w, apperrors.Unauthorized("invalid api key"))
				return
			}

			key, err := opts.Keys.VerifyRaw(r.Context(), raw)
			if err != nil {
				if !apperrors.IsNotFound(err) {
					logger.ErrorContext(r.Context(), "verify api key", "error", err)
				}
				WriteAppError(w, apperrors.Unauthorized("invalid api key"))
				return
			}

			if opts.Limiter != nil {
				if err := opts.Limiter.Allow(r.Context(), key.ID, key.RateLimitPerMin); err != nil {
					if apperrors.IsRateLimited(err) {
						WriteAppError(w, err)
						return
					}
					// Redis down must not lock out callers.
					logger.ErrorContext(r.Context(), "rate limit check", "error", err)
				}
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey{}, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func rawKeyFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-API-Key")); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("api_key"))
}

// RequireAdminToken gates admin endpoints with the X-Admin-Token header. A
// regular API key never authenticates here.
func RequireAdminToken(token string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				WriteAppError(w, apperrors.Forbidden("admin endpoints are disabled"))
				return
			}
			if r.Header.Get("X-Admin-Token") != token {
				WriteAppError(w, apperrors.Unauthorized("invalid admin token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
