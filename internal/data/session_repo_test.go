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

func TestSessionRepo_UpsertAndGet(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewSessionRepo(db)

		s := testutil.NewSessionBuilder().WithProject("shop").Build()
		created, err := repo.Upsert(ctx, &s)
		require.NoError(t, err)
		assert.Equal(t, s.ID, created.ID)
		assert.Equal(t, model.SessionStatusQueued, created.Status)
		require.NotNil(t, created.Project)
		assert.Equal(t, "shop", *created.Project)

		got, err := repo.GetByID(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.JSONEq(t, string(s.Payload), string(got.Payload))

		// Re-submitting the same id updates rather than duplicating.
		s.Status = model.SessionStatusRunning
		again, err := repo.Upsert(ctx, &s)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusRunning, again.Status)

		list, err := repo.List(ctx, model.SessionListOptions{})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestSessionRepo_GetByIDNotFound(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSessionRepo(db)
		_, err := repo.GetByID(context.Background(), "missing")
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestSessionRepo_UpdateStatusEnforcesStateMachine(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewSessionRepo(db)

		s := testutil.NewSessionBuilder().Build()
		_, err := repo.Upsert(ctx, &s)
		require.NoError(t, err)

		running, err := repo.UpdateStatus(ctx, s.ID, model.SessionStatusRunning)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusRunning, running.Status)

		done, err := repo.UpdateStatus(ctx, s.ID, model.SessionStatusCompleted)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusCompleted, done.Status)

		// Terminal: no transition leaves completed.
		_, err = repo.UpdateStatus(ctx, s.ID, model.SessionStatusRunning)
		assert.True(t, apperrors.IsConflict(err))

		// Same-status transition is a no-op.
		same, err := repo.UpdateStatus(ctx, s.ID, model.SessionStatusCompleted)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusCompleted, same.Status)
	})
}

func TestSessionRepo_ListFilters(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewSessionRepo(db)

		web := testutil.NewSessionBuilder().WithProject("shop").Build()
		_, err := repo.Upsert(ctx, &web)
		require.NoError(t, err)

		mobile := testutil.NewSessionBuilder().
			WithKind(model.KindMobile).
			WithTestType(model.TestTypeAnalyze).
			WithProject("app").
			WithPayload(`{"file_path":"uploads/taas/a.apk"}`).
			Build()
		_, err = repo.Upsert(ctx, &mobile)
		require.NoError(t, err)

		kind := model.KindMobile
		list, err := repo.List(ctx, model.SessionListOptions{Kind: &kind})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, mobile.ID, list[0].ID)

		project := "shop"
		list, err = repo.List(ctx, model.SessionListOptions{Project: &project})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, web.ID, list[0].ID)

		status := model.SessionStatusQueued
		list, err = repo.List(ctx, model.SessionListOptions{Status: &status})
		require.NoError(t, err)
		assert.Len(t, list, 2)

		projects, err := repo.ListProjects(ctx)
		require.NoError(t, err)
		assert.Len(t, projects, 2)
	})
}
