package bootstrap

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ratemate/taas/config"
)

// RunServices starts the enabled services and blocks until a shutdown signal
// arrives or one of them fails. Both services share one container so a
// combined process reuses its connections.
func RunServices(c *Container) error {
	if c == nil {
		return errors.New("container is required")
	}

	enabled, err := c.Config.Services.GetEnabledServices()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if enabled[config.ServiceModeHTTP] {
		srv, err := c.NewHTTPServer()
		if err != nil {
			return err
		}
		g.Go(func() error {
			return ServeHTTP(ctx, srv, c.Logger)
		})
	}

	if enabled[config.ServiceModeWorker] {
		runner, err := c.NewRunner()
		if err != nil {
			return err
		}
		g.Go(func() error {
			c.Logger.Info("worker loop starting",
				"queue", c.Queue.Name(),
				"concurrency", c.Config.Services.Worker.Concurrency,
			)
			err := runner.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}
