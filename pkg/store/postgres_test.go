package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordhq/concord/pkg/contracts"
	"github.com/concordhq/concord/pkg/store"
)

func newProfileStore(t *testing.T) (*store.PostgresProfileStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS learning_profiles").
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := store.NewPostgresProfileStore(db)
	require.NoError(t, err)
	return s, mock
}

func TestPostgresProfileStore_Save(t *testing.T) {
	s, mock := newProfileStore(t)
	ctx := context.Background()

	profile := &contracts.LearningProfile{
		AgentName:             "coach",
		TotalFeedbackReceived: 3,
		CreatedAt:             time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	body, err := json.Marshal(profile)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO learning_profiles").
		WithArgs("coach", body).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Save(ctx, profile))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresProfileStore_Get(t *testing.T) {
	s, mock := newProfileStore(t)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		body, err := json.Marshal(&contracts.LearningProfile{
			AgentName:             "coach",
			OverallAcceptanceRate: 0.75,
		})
		require.NoError(t, err)

		mock.ExpectQuery("SELECT body FROM learning_profiles").
			WithArgs("coach").
			WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(body))

		p, err := s.Get(ctx, "coach")
		require.NoError(t, err)
		assert.Equal(t, "coach", p.AgentName)
		assert.InDelta(t, 0.75, p.OverallAcceptanceRate, 1e-9)
	})

	t.Run("missing", func(t *testing.T) {
		mock.ExpectQuery("SELECT body FROM learning_profiles").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"body"}))

		_, err := s.Get(ctx, "ghost")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresProfileStore_Delete(t *testing.T) {
	s, mock := newProfileStore(t)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM learning_profiles").
		WithArgs("coach").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Delete(ctx, "coach"))

	mock.ExpectExec("DELETE FROM learning_profiles").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.Delete(ctx, "ghost"), store.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
