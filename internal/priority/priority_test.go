package priority_test

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/north-cloud/crawlcoord/internal/priority"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestRecompute_ExecutesSingleAtomicUpdate(t *testing.T) {
	db, mock := newMock(t)
	epoch := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE domains").
		WithArgs(500, epoch).
		WillReturnResult(sqlmock.NewResult(0, 7))

	calc := priority.New(db)
	n, err := calc.Recompute(context.Background(), epoch)
	require.NoError(t, err)
	require.Equal(t, int64(7), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecompute_StoreUnavailable(t *testing.T) {
	db, mock := newMock(t)
	epoch := time.Now()

	mock.ExpectExec("UPDATE domains").
		WithArgs(500, epoch).
		WillReturnError(assertErr{})

	calc := priority.New(db)
	_, err := calc.Recompute(context.Background(), epoch)
	require.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "connection refused" }

func TestSummary_ReadsAggregate(t *testing.T) {
	db, mock := newMock(t)

	rows := sqlmock.NewRows([]string{"count", "avg", "min", "max", "median"}).
		AddRow(int64(3), 42.5, int64(1), int64(100), 40.0)
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	calc := priority.New(db)
	stats, err := calc.Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.Count)
	require.InDelta(t, 42.5, stats.Avg, 0.001)
	require.Equal(t, int64(100), stats.Max)
}
