package data

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
	"github.com/ratemate/taas/internal/testutil"
)

func TestAPIKeyRepo_CreateAndVerify(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAPIKeyRepo(db)

		key, raw, err := repo.Create(ctx, &model.CreateAPIKeyRequest{Name: "ci-key"})
		require.NoError(t, err)
		require.NotEmpty(t, raw)
		assert.Len(t, raw, 64)
		assert.Equal(t, model.DefaultRateLimitPerMin, key.RateLimitPerMin)
		assert.True(t, key.Active)
		// Only the hash is persisted.
		assert.Equal(t, model.HashAPIKey(raw), key.KeyHash)

		verified, err := repo.VerifyRaw(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, key.ID, verified.ID)

		_, err = repo.VerifyRaw(ctx, "not-a-key")
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestAPIKeyRepo_InactiveKeyDoesNotVerify(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAPIKeyRepo(db)

		key, raw, err := repo.Create(ctx, &model.CreateAPIKeyRequest{Name: "ci-key"})
		require.NoError(t, err)

		updated, err := repo.Update(ctx, key.ID, model.UpdateAPIKeyRequest{
			Active: testutil.BoolPtr(false),
		})
		require.NoError(t, err)
		assert.False(t, updated.Active)

		_, err = repo.VerifyRaw(ctx, raw)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestAPIKeyRepo_UpdateRateLimitAndList(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAPIKeyRepo(db)

		key, _, err := repo.Create(ctx, &model.CreateAPIKeyRequest{
			Name:            "ci-key",
			Project:         testutil.StringPtr("shop"),
			RateLimitPerMin: 10,
		})
		require.NoError(t, err)

		updated, err := repo.Update(ctx, key.ID, model.UpdateAPIKeyRequest{
			RateLimitPerMin: testutil.IntPtr(120),
		})
		require.NoError(t, err)
		assert.Equal(t, 120, updated.RateLimitPerMin)
		assert.True(t, updated.Active)

		list, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.NotNil(t, list[0].Project)
		assert.Equal(t, "shop", *list[0].Project)

		_, err = repo.Update(ctx, "missing", model.UpdateAPIKeyRequest{
			RateLimitPerMin: testutil.IntPtr(5),
		})
		assert.True(t, apperrors.IsNotFound(err))
	})
}
