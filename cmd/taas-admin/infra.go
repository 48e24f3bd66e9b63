package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/ratemate/taas/internal/adapters/lighthouse"
	"github.com/ratemate/taas/internal/bootstrap"
	"github.com/ratemate/taas/internal/queue"
	"github.com/ratemate/taas/internal/storage"
)

// runCheck pings each backing system and reports per-dependency status.
// A failing dependency does not stop the remaining checks.
func runCheck(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, defaultCommandTimeout)
	defer cancel()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "DEPENDENCY\tSTATUS\tDETAIL"); err != nil {
		return err
	}

	report := func(name string, err error) error {
		if err != nil {
			return writef(tw, "%s\tDOWN\t%v\n", name, err)
		}
		return writef(tw, "%s\tOK\t\n", name)
	}

	redisClient, err := bootstrap.ConnectRedis(cmdCtx.Config.Redis, cmdCtx.Logger)
	if reportErr := report("redis", err); reportErr != nil {
		return reportErr
	}
	if redisClient != nil {
		defer func() {
			if closeErr := redisClient.Close(); closeErr != nil {
				cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
			}
		}()
	}

	db, err := bootstrap.ConnectDB(cmdCtx.Config.Postgres, cmdCtx.Logger)
	if reportErr := report("postgres", err); reportErr != nil {
		return reportErr
	}
	if db != nil {
		defer closeDB(cmdCtx.Logger, db)
	}

	if cmdCtx.Config.Storage.Configured() {
		store, err := storage.New(cmdCtx.Config.Storage)
		if err == nil {
			err = store.Ping(ctx)
		}
		if reportErr := report("object store", err); reportErr != nil {
			return reportErr
		}
	} else if err := writef(tw, "object store\tSKIPPED\tnot configured\n"); err != nil {
		return err
	}

	if perf := lighthouse.NewClient(cmdCtx.Config.Perf, nil); perf != nil {
		var err error
		if !perf.Healthy(ctx) {
			err = errors.New("health probe failed")
		}
		if reportErr := report("perf sidecar", err); reportErr != nil {
			return reportErr
		}
	} else if err := writef(tw, "perf sidecar\tSKIPPED\tnot configured\n"); err != nil {
		return err
	}

	return tw.Flush()
}

func runQueueStats(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("queue-stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, defaultCommandTimeout)
	defer cancel()

	redisClient, err := bootstrap.ConnectRedis(cmdCtx.Config.Redis, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	q := queue.NewQueue(redisClient, cmdCtx.Config.Queue.Name)

	depth, err := q.Depth(ctx)
	if err != nil {
		return err
	}
	stats, err := q.Stats(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(tw, "queue\t%s\n", q.Name()); err != nil {
		return err
	}
	if err := writef(tw, "depth\t%d\n", depth); err != nil {
		return err
	}
	if err := writef(tw, "queued\t%d\n", stats.Queued); err != nil {
		return err
	}
	if err := writef(tw, "started\t%d\n", stats.Started); err != nil {
		return err
	}
	if err := writef(tw, "finished\t%d\n", stats.Finished); err != nil {
		return err
	}
	if err := writef(tw, "failed\t%d\n", stats.Failed); err != nil {
		return err
	}
	return tw.Flush()
}
