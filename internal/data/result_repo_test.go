package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
	"github.com/ratemate/taas/internal/testutil"
)

func createTestSession(t *testing.T, db *sql.DB) model.Session {
	t.Helper()
	s := testutil.NewSessionBuilder().Build()
	_, err := NewSessionRepo(db).Upsert(context.Background(), &s)
	require.NoError(t, err)
	return s
}

func TestResultRepo_AppendAndLatest(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		s := createTestSession(t, db)

		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := NewResultRepoWithTimeProvider(db, tp)

		first, err := repo.Append(ctx, s.ID, testutil.FailingSummary(model.TestTypeSmoke, "boom"))
		require.NoError(t, err)
		assert.False(t, first.Summary.Passed)

		tp.AddTime(time.Minute)
		second, err := repo.Append(ctx, s.ID, testutil.PassingSummary(model.TestTypeSmoke))
		require.NoError(t, err)

		latest, err := repo.Latest(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest.ID)
		assert.True(t, latest.Summary.Passed)
		require.Len(t, latest.Summary.Cases, 1)
		assert.Equal(t, 200, latest.Summary.Cases[0].Status)

		list, err := repo.List(ctx, model.ResultListOptions{SessionID: s.ID})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)
	})
}

func TestResultRepo_LatestNotFound(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewResultRepo(db)
		_, err := repo.Latest(context.Background(), "missing")
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestResultRepo_AppendRequiresSession(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewResultRepo(db)
		_, err := repo.Append(context.Background(), "no-such-session",
			testutil.PassingSummary(model.TestTypeSmoke))
		assert.True(t, apperrors.IsForeignKey(err))
	})
}
