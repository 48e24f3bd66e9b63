package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ratemate/taas/internal/data/database"
	"github.com/ratemate/taas/internal/data/pgxutil"
	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
)

// SessionRepo provides database operations for test sessions.
type SessionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSessionRepo creates a new SessionRepo with the real time provider.
func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewSessionRepoWithTimeProvider creates a new SessionRepo with a custom time provider (useful for tests).
func NewSessionRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *SessionRepo {
	return &SessionRepo{DB: db, timeProvider: tp}
}

const sessionColumnList = `id, kind, test_type, project, status, payload, created_at, updated_at`

// Upsert inserts a session or, when the id already exists, refreshes its
// status, payload and updated_at. The session id is the idempotency key:
// re-submitting the same id never creates a second row.
func (r *SessionRepo) Upsert(ctx context.Context, s *model.Session) (*model.Session, error) {
	if s == nil {
		return nil, apperrors.Validation("session is required")
	}
	if s.ID == "" {
		return nil, apperrors.ValidationField("id", "session id is required")
	}
	if !s.Kind.Valid() {
		return nil, apperrors.ValidationField("kind", "invalid kind")
	}
	if !s.Status.Valid() {
		return nil, apperrors.ValidationField("status", "invalid status")
	}

	now := r.timeProvider.Now().UTC()
	var out model.Session
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO test_sessions (id, kind, test_type, project, status, payload, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				payload = EXCLUDED.payload,
				updated_at = EXCLUDED.updated_at
			RETURNING `+sessionColumnList,
			s.ID, s.Kind, s.TestType, s.Project, s.Status, s.Payload, now,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Session])
		return err
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &out, nil
}

// GetByID retrieves a session by id.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	var out model.Session
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT `+sessionColumnList+` FROM test_sessions WHERE id = $1`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Session])
		return err
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &out, nil
}

// UpdateStatus transitions a session along the state machine. The current row
// is locked, the transition is validated against the partial order, and the
// update is applied in the same transaction so status never regresses even
// under concurrent writers. Transitioning into the current status is a no-op.
func (r *SessionRepo) UpdateStatus(
	ctx context.Context,
	id string,
	next model.SessionStatus,
) (*model.Session, error) {
	if !next.Valid() {
		return nil, apperrors.ValidationField("status", "invalid status")
	}

	var out model.Session
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+sessionColumnList+` FROM test_sessions WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		current, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Session])
		if err != nil {
			return err
		}

		if current.Status == next {
			out = current
			return nil
		}
		if !current.Status.CanTransition(next) {
			return apperrors.Conflictf("cannot transition session from %s to %s", current.Status, next)
		}

		updated, err := tx.Query(ctx, `
			UPDATE test_sessions SET status = $2, updated_at = $3
			WHERE id = $1
			RETURNING `+sessionColumnList,
			id, next, r.timeProvider.Now().UTC(),
		)
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(updated, pgx.RowToStructByName[model.Session])
		return err
	}})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &out, nil
}

// List retrieves sessions matching the given filters, newest first.
func (r *SessionRepo) List(
	ctx context.Context,
	opts model.SessionListOptions,
) ([]*model.Session, error) {
	opts.Normalize()

	queryOpts := []database.ListQueryOption{
		database.WithColumns("id", "kind", "test_type", "project", "status", "payload", "created_at", "updated_at"),
		database.WithOrderBy("created_at", "DESC"),
		database.WithLimit(opts.Limit),
		database.WithOffset(opts.Offset),
	}
	if opts.Project != nil && *opts.Project != "" {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("project", database.Equal, *opts.Project)))
	}
	if opts.Kind != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("kind", database.Equal, string(*opts.Kind))))
	}
	if opts.Status != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("status", database.Equal, string(*opts.Status))))
	}
	if opts.TestType != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("test_type", database.Equal, string(*opts.TestType))))
	}
	if opts.Since != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("created_at", database.GreaterThanOrEqual, *opts.Since)))
	}
	if opts.Until != nil {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("created_at", database.LessThanOrEqual, *opts.Until)))
	}

	query, args := database.BuildListQuery(database.NewListQueryOptions("test_sessions", queryOpts...))

	var rowsOut []model.Session
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Session])
		return err
	}); err != nil {
		return nil, fmt.Errorf("list sessions: %w", apperrors.MapDBError(err))
	}

	res := make([]*model.Session, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// ListProjects aggregates session counts per project.
func (r *SessionRepo) ListProjects(ctx context.Context) ([]model.ProjectCount, error) {
	var out []model.ProjectCount
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT COALESCE(project, '') AS project,
			       COUNT(*)::int AS sessions,
			       COUNT(*) FILTER (WHERE status = 'completed')::int AS passed,
			       COUNT(*) FILTER (WHERE status = 'failed')::int AS failed
			FROM test_sessions
			GROUP BY COALESCE(project, '')
			ORDER BY COALESCE(project, '')`)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.ProjectCount])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", apperrors.MapDBError(err))
	}
	return out, nil
}

// Touch bumps updated_at without changing status; used by long jobs to show liveness.
func (r *SessionRepo) Touch(ctx context.Context, id string) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx,
			`UPDATE test_sessions SET updated_at = $2 WHERE id = $1`,
			id, r.timeProvider.Now().UTC())
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}
