package data

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ratemate/taas/internal/data/pgxutil"
	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
)

// APIKeyRepo provides database operations for issued API keys. Only the
// SHA-256 hash of a key is ever stored.
type APIKeyRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAPIKeyRepo creates a new APIKeyRepo with the real time provider.
func NewAPIKeyRepo(db *sql.DB) *APIKeyRepo {
	return &APIKeyRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewAPIKeyRepoWithTimeProvider creates a new APIKeyRepo with a custom time provider (useful for tests).
func NewAPIKeyRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *APIKeyRepo {
	return &APIKeyRepo{DB: db, timeProvider: tp}
}

const apiKeyColumnList = `id, name, project, key_hash, rate_limit_per_min, active, created_at`

// GenerateRawKey returns a new random key string (64 hex chars).
func GenerateRawKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create issues a new API key. The returned raw key is shown exactly once;
// only its hash is persisted.
func (r *APIKeyRepo) Create(
	ctx context.Context,
	req *model.CreateAPIKeyRequest,
) (*model.APIKey, string, error) {
	if req == nil {
		return nil, "", apperrors.Validation("create key request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, "", apperrors.Validation(err.Error())
	}

	raw, err := GenerateRawKey()
	if err != nil {
		return nil, "", err
	}

	var out model.APIKey
	err = pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			INSERT INTO api_keys (id, name, project, key_hash, rate_limit_per_min, active, created_at)
			VALUES ($1, $2, $3, $4, $5, true, $6)
			RETURNING `+apiKeyColumnList,
			uuid.NewString(), req.Name, req.Project,
			model.HashAPIKey(raw), req.RateLimitPerMin, r.timeProvider.Now().UTC(),
		)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.APIKey])
		return qerr
	})
	if err != nil {
		return nil, "", apperrors.MapDBError(err)
	}
	return &out, raw, nil
}

// VerifyRaw looks up an active key whose hash matches the raw key. A miss
// (unknown hash or inactive key) returns a NotFound error.
func (r *APIKeyRepo) VerifyRaw(ctx context.Context, raw string) (*model.APIKey, error) {
	if raw == "" {
		return nil, apperrors.NotFound("api key not found")
	}

	var out model.APIKey
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+apiKeyColumnList+` FROM api_keys WHERE key_hash = $1 AND active = true`,
			model.HashAPIKey(raw))
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.APIKey])
		return qerr
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &out, nil
}

// GetByID retrieves a key by id.
func (r *APIKeyRepo) GetByID(ctx context.Context, id string) (*model.APIKey, error) {
	var out model.APIKey
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+apiKeyColumnList+` FROM api_keys WHERE id = $1`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.APIKey])
		return qerr
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &out, nil
}

// List retrieves all issued keys, newest first.
func (r *APIKeyRepo) List(ctx context.Context) ([]*model.APIKey, error) {
	var rowsOut []model.APIKey
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+apiKeyColumnList+` FROM api_keys ORDER BY created_at DESC`)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		rowsOut, qerr = pgx.CollectRows(rows, pgx.RowToStructByName[model.APIKey])
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", apperrors.MapDBError(err))
	}

	res := make([]*model.APIKey, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// Update toggles active or adjusts the rate limit of an issued key.
func (r *APIKeyRepo) Update(
	ctx context.Context,
	id string,
	req model.UpdateAPIKeyRequest,
) (*model.APIKey, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	var out model.APIKey
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			UPDATE api_keys SET
				active = COALESCE($2, active),
				rate_limit_per_min = COALESCE($3, rate_limit_per_min)
			WHERE id = $1
			RETURNING `+apiKeyColumnList,
			id, req.Active, req.RateLimitPerMin,
		)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.APIKey])
		return qerr
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &out, nil
}
