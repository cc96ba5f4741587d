package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	v1 "github.com/tideline-analytics/tideline/internal/api/v1"
	"github.com/tideline-analytics/tideline/internal/core/storage"
)

func newMockRollupAdapter(t *testing.T) (*RollupAdapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	adapter := NewRollupAdapter(db)
	adapter.nowFn = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}

	return adapter, mock, db
}

func TestRollupAdapter_UpsertTypeCount(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	delta := storage.TypeDelta{AccountID: "acct-1", Day: day, EventType: v1.TypeLogin, Count: 4}

	t.Run("executes atomic increment upsert", func(t *testing.T) {
		adapter, mock, db := newMockRollupAdapter(t)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta(queryUpsertTypeCount)).
			WithArgs("acct-1", day, v1.TypeLogin, int64(4), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, adapter.UpsertTypeCount(context.Background(), delta))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps store error", func(t *testing.T) {
		adapter, mock, db := newMockRollupAdapter(t)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta(queryUpsertTypeCount)).
			WillReturnError(errors.New("timeout"))

		err := adapter.UpsertTypeCount(context.Background(), delta)
		require.Error(t, err)
		require.ErrorContains(t, err, "failed to upsert type rollup")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRollupAdapter_AddTypeCount(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	delta := storage.TypeDelta{AccountID: "acct-1", Day: day, EventType: v1.TypeLogin, Count: 2}

	t.Run("increments existing row", func(t *testing.T) {
		adapter, mock, db := newMockRollupAdapter(t)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta(queryAddTypeCount)).
			WithArgs("acct-1", day, v1.TypeLogin, int64(2), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, adapter.AddTypeCount(context.Background(), delta))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row is an error", func(t *testing.T) {
		adapter, mock, db := newMockRollupAdapter(t)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta(queryAddTypeCount)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := adapter.AddTypeCount(context.Background(), delta)
		require.Error(t, err)
		require.ErrorContains(t, err, "row not found")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRollupAdapter_UpsertUserCount(t *testing.T) {
	adapter, mock, db := newMockRollupAdapter(t)
	defer db.Close()

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(queryUpsertUserCount)).
		WithArgs("acct-1", day, "user-7", int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := adapter.UpsertUserCount(context.Background(), storage.UserDelta{
		AccountID: "acct-1", Day: day, UserID: "user-7", Count: 3,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollupAdapter_TotalsByType(t *testing.T) {
	adapter, mock, db := newMockRollupAdapter(t)
	defer db.Close()

	sinceDay := time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryRollupTotalsByType)).
		WithArgs("acct-1", sinceDay).
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "sum"}).
			AddRow(v1.TypeLogin, int64(120)).
			AddRow(v1.TypeCallMade, int64(7))).
		RowsWillBeClosed()

	totals, err := adapter.TotalsByType(context.Background(), "acct-1", sinceDay)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{
		v1.TypeLogin:    120,
		v1.TypeCallMade: 7,
	}, totals)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollupAdapter_UserCounts(t *testing.T) {
	adapter, mock, db := newMockRollupAdapter(t)
	defer db.Close()

	sinceDay := time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryRollupUserCounts)).
		WithArgs("acct-1", sinceDay).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "sum"}).
			AddRow("u2", int64(9)).
			AddRow("u1", int64(5))).
		RowsWillBeClosed()

	counts, err := adapter.UserCounts(context.Background(), "acct-1", sinceDay)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"u2": 9, "u1": 5}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}
