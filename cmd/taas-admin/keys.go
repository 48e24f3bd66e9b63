package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ratemate/taas/internal/data"
	"github.com/ratemate/taas/internal/domain/model"
)

type keyCreateOptions struct {
	Name            string
	Project         string
	RateLimitPerMin int
}

type keyUpdateOptions struct {
	ID              string
	Active          *bool
	RateLimitPerMin *int
}

func runKeyCreate(cmdCtx *commandContext, args []string) error {
	opts, err := parseKeyCreateFlags(args)
	if err != nil {
		return err
	}

	return withDB(cmdCtx, func(ctx context.Context, db *sql.DB) error {
		req := &model.CreateAPIKeyRequest{
			Name:            opts.Name,
			RateLimitPerMin: opts.RateLimitPerMin,
		}
		if opts.Project != "" {
			req.Project = &opts.Project
		}

		key, raw, err := data.NewAPIKeyRepo(db).Create(ctx, req)
		if err != nil {
			return fmt.Errorf("create key: %w", err)
		}

		if err := writef(os.Stdout, "id:       %s\n", key.ID); err != nil {
			return err
		}
		if err := writef(os.Stdout, "name:     %s\n", key.Name); err != nil {
			return err
		}
		if key.Project != nil {
			if err := writef(os.Stdout, "project:  %s\n", *key.Project); err != nil {
				return err
			}
		}
		if err := writef(os.Stdout, "limit:    %d req/min\n", key.RateLimitPerMin); err != nil {
			return err
		}
		// The raw key is not stored anywhere; losing this line means
		// issuing a new key.
		return writef(os.Stdout, "api key:  %s\n", raw)
	})
}

func runKeyList(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("key-list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withDB(cmdCtx, func(ctx context.Context, db *sql.DB) error {
		keys, err := data.NewAPIKeyRepo(db).List(ctx)
		if err != nil {
			return fmt.Errorf("list keys: %w", err)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if err := writeln(tw, "ID\tNAME\tPROJECT\tLIMIT/MIN\tACTIVE\tCREATED"); err != nil {
			return err
		}
		for _, k := range keys {
			project := "-"
			if k.Project != nil {
				project = *k.Project
			}
			if err := writef(tw, "%s\t%s\t%s\t%d\t%t\t%s\n",
				k.ID, k.Name, project, k.RateLimitPerMin, k.Active,
				k.CreatedAt.Format(time.RFC3339),
			); err != nil {
				return err
			}
		}
		return tw.Flush()
	})
}

func runKeyUpdate(cmdCtx *commandContext, args []string) error {
	opts, err := parseKeyUpdateFlags(args)
	if err != nil {
		return err
	}

	return withDB(cmdCtx, func(ctx context.Context, db *sql.DB) error {
		key, err := data.NewAPIKeyRepo(db).Update(ctx, opts.ID, model.UpdateAPIKeyRequest{
			Active:          opts.Active,
			RateLimitPerMin: opts.RateLimitPerMin,
		})
		if err != nil {
			return fmt.Errorf("update key: %w", err)
		}

		cmdCtx.Logger.Info("key updated",
			"id", key.ID,
			"name", key.Name,
			"active", key.Active,
			"rate_limit_per_min", key.RateLimitPerMin,
		)
		return nil
	})
}

func parseKeyCreateFlags(args []string) (keyCreateOptions, error) {
	fs := flag.NewFlagSet("key-create", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts keyCreateOptions
	fs.StringVar(&opts.Name, "name", "", "Human-readable key name (required)")
	fs.StringVar(&opts.Project, "project", "", "Restrict the key to one project")
	fs.IntVar(&opts.RateLimitPerMin, "rate-limit", 0, "Requests per minute (0 uses the default)")

	if err := fs.Parse(args); err != nil {
		return keyCreateOptions{}, err
	}

	if strings.TrimSpace(opts.Name) == "" {
		return keyCreateOptions{}, errors.New("--name is required")
	}
	if opts.RateLimitPerMin < 0 {
		return keyCreateOptions{}, errors.New("--rate-limit cannot be negative")
	}

	return opts, nil
}

func parseKeyUpdateFlags(args []string) (keyUpdateOptions, error) {
	fs := flag.NewFlagSet("key-update", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts keyUpdateOptions
	var active string
	var rateLimit int

	fs.StringVar(&opts.ID, "id", "", "Key ID to update (required)")
	fs.StringVar(&active, "active", "", "Set key active state: true or false")
	fs.IntVar(&rateLimit, "rate-limit", 0, "New requests-per-minute limit")

	if err := fs.Parse(args); err != nil {
		return keyUpdateOptions{}, err
	}

	if strings.TrimSpace(opts.ID) == "" {
		return keyUpdateOptions{}, errors.New("--id is required")
	}

	switch active {
	case "":
	case "true":
		v := true
		opts.Active = &v
	case "false":
		v := false
		opts.Active = &v
	default:
		return keyUpdateOptions{}, fmt.Errorf("--active must be true or false, got %q", active)
	}

	seen := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "rate-limit" {
			seen = true
		}
	})
	if seen {
		if rateLimit < 1 {
			return keyUpdateOptions{}, errors.New("--rate-limit must be at least 1")
		}
		opts.RateLimitPerMin = &rateLimit
	}

	if opts.Active == nil && opts.RateLimitPerMin == nil {
		return keyUpdateOptions{}, errors.New("nothing to update: pass --active or --rate-limit")
	}

	return opts, nil
}
