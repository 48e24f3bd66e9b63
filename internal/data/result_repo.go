package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ratemate/taas/internal/data/pgxutil"
	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
)

// ResultRepo provides database operations for test results. Results are
// append-only; rows are never updated or deleted.
type ResultRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewResultRepo creates a new ResultRepo with the real time provider.
func NewResultRepo(db *sql.DB) *ResultRepo {
	return &ResultRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewResultRepoWithTimeProvider creates a new ResultRepo with a custom time provider (useful for tests).
func NewResultRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ResultRepo {
	return &ResultRepo{DB: db, timeProvider: tp}
}

const resultColumnList = `id, session_id, summary, created_at`

// Append inserts a new result row for the session.
func (r *ResultRepo) Append(
	ctx context.Context,
	sessionID string,
	summary model.ResultSummary,
) (*model.Result, error) {
	if sessionID == "" {
		return nil, apperrors.ValidationField("session_id", "session id is required")
	}

	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}

	var out model.Result
	err = pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			INSERT INTO test_results (session_id, summary, created_at)
			VALUES ($1, $2, $3)
			RETURNING `+resultColumnList,
			sessionID, raw, r.timeProvider.Now().UTC(),
		)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Result])
		return qerr
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &out, nil
}

// GetByID retrieves a result by its numeric id.
func (r *ResultRepo) GetByID(ctx context.Context, id int64) (*model.Result, error) {
	return r.getByQuery(ctx,
		`SELECT `+resultColumnList+` FROM test_results WHERE id = $1`, id)
}

// Latest retrieves the most recent result for a session, defined as the row
// with the greatest created_at.
func (r *ResultRepo) Latest(ctx context.Context, sessionID string) (*model.Result, error) {
	return r.getByQuery(ctx, `
		SELECT `+resultColumnList+` FROM test_results
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, sessionID)
}

// List retrieves results for a session in chronological order.
func (r *ResultRepo) List(
	ctx context.Context,
	opts model.ResultListOptions,
) ([]*model.Result, error) {
	if opts.SessionID == "" {
		return nil, apperrors.ValidationField("session_id", "session id is required")
	}
	opts.Normalize()

	var rowsOut []model.Result
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+resultColumnList+` FROM test_results
			WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2 OFFSET $3`,
			opts.SessionID, opts.Limit, opts.Offset,
		)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		rowsOut, qerr = pgx.CollectRows(rows, pgx.RowToStructByName[model.Result])
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("list results: %w", apperrors.MapDBError(err))
	}

	res := make([]*model.Result, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

func (r *ResultRepo) getByQuery(ctx context.Context, q string, args ...any) (*model.Result, error) {
	var out model.Result
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, q, args...)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Result])
		return qerr
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &out, nil
}
