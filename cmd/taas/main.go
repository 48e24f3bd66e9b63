package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/ratemate/taas/config"
	"github.com/ratemate/taas/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}

	logStartupInfo(ctx, logger, &cfg)

	if err = bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}

	container, err := bootstrap.NewContainer(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	return bootstrap.RunServices(container)
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting taas service",
		"db_host", cfg.Postgres.Host,
		"db_port", cfg.Postgres.Port,
		"db_name", cfg.Postgres.Database,
		"queue", cfg.Queue.Name,
		"enabled_services", bootstrap.EnabledServiceNames(cfg))
}
