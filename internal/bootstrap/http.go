package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	httpx "github.com/ratemate/taas/internal/http"
)

const (
	httpReadHeaderTimeout = 10 * time.Second
	httpShutdownTimeout   = 15 * time.Second
)

// NewHTTPServer builds the admission API server over the container's adapters.
func (c *Container) NewHTTPServer() (*http.Server, error) {
	opts := httpx.ServerOptions{
		HTTP:    c.Config.HTTP,
		Upload:  c.Config.Upload,
		Queue:   c.Queue,
		Cancels: c.Cancels,
		Limiter: c.Limiter,
		Status:  c.Status,
		Visual:  c.Visual,
		Health: httpx.Health{
			Redis:        func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() },
			S3Configured: c.Store != nil,
		},
		Logger: c.Logger,
	}
	if c.DB != nil {
		opts.Health.DB = func(ctx context.Context) error { return c.DB.PingContext(ctx) }
		opts.Sessions = c.Sessions
		opts.Results = c.Results
		opts.Keys = c.Keys
	}
	if c.Store != nil {
		opts.Artifacts = c.Store
	}

	srv, err := httpx.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("init http server: %w", err)
	}

	return &http.Server{
		Addr:              c.Config.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: httpReadHeaderTimeout,
	}, nil
}

// ServeHTTP runs the server until ctx is canceled, then drains connections.
func ServeHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("http server stopped")
	return <-errCh
}
