package repository_test

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/north-cloud/crawlcoord/internal/domain"
	"github.com/north-cloud/crawlcoord/internal/repository"
)

var domainColumns = []string{
	"id", "domain", "status", "version", "claimed_by", "claim_expires_at",
	"pages_discovered", "pages_crawled", "images_found", "images_stored",
	"total_error_count", "consecutive_error_count",
	"image_yield_rate", "avg_images_per_page", "error_rate",
	"priority_score", "priority_computed_at", "seed_rank", "source",
	"frontier_checkpoint_id", "frontier_size",
	"first_seen_at", "last_crawled_at", "next_crawl_after",
	"block_reason", "block_reason_code", "last_crawl_run_id",
}

func domainRow(id, status string, version int64) *sqlmock.Rows {
	return sqlmock.NewRows(domainColumns).AddRow(
		id, "example.com", status, version, nil, nil,
		int64(0), int64(0), int64(0), int64(0),
		int64(0), int64(0),
		nil, nil, nil,
		int64(0), nil, nil, "seed",
		nil, int64(0),
		time.Now(), nil, nil,
		nil, nil, nil,
	)
}

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestClaim_EmptyResult_NotAnError(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	repo := repository.NewDomainRepository(db)
	records, err := repo.Claim(context.Background(), "worker-1", 5, 30*time.Minute)
	require.NoError(t, err)
	require.Empty(t, records)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaim_ReturnsClaimedRows(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d-1"))
	mock.ExpectQuery("UPDATE domains").WillReturnRows(domainRow("d-1", "active", 2))
	mock.ExpectCommit()

	repo := repository.NewDomainRepository(db)
	records, err := repo.Claim(context.Background(), "worker-1", 5, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "d-1", records[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRenew_NoRowsAffected_ReturnsFalse(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec("UPDATE domains").WillReturnResult(sqlmock.NewResult(0, 0))

	repo := repository.NewDomainRepository(db)
	ok, err := repo.Renew(context.Background(), "d-1", "worker-1", 30*time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRenew_Success(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec("UPDATE domains").WillReturnResult(sqlmock.NewResult(0, 1))

	repo := repository.NewDomainRepository(db)
	ok, err := repo.Renew(context.Background(), "d-1", "worker-1", 30*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFlush_LostClaim_ReturnsErrClaimLost(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec("UPDATE domains").WillReturnResult(sqlmock.NewResult(0, 0))

	repo := repository.NewDomainRepository(db)
	err := repo.Flush(context.Background(), "d-1", "worker-1", repository.StatDeltas{PagesCrawled: 1})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrClaimLost)
}

func TestExpireStaleClaims_Idempotent(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec("UPDATE domains").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE domains").WillReturnResult(sqlmock.NewResult(0, 0))

	repo := repository.NewDomainRepository(db)
	n1, err := repo.ExpireStaleClaims(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), n1)

	n2, err := repo.ExpireStaleClaims(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), n2)
}

func TestRelease_IllegalTransition_RefusedBeforeWrite(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery("SELECT status FROM domains").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))

	repo := repository.NewDomainRepository(db)
	err := repo.Release(context.Background(), repository.ReleaseParams{
		ID:              "d-1",
		WorkerID:        "worker-1",
		ExpectedVersion: 1,
		NewStatus:       domain.StatusBlocked,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease_VersionConflict_RetriesThenGivesUp(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery("SELECT status FROM domains").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))

	for i := 0; i < 3; i++ {
		mock.ExpectExec("UPDATE domains").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT version FROM domains").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(5 + i)))
	}

	repo := repository.NewDomainRepository(db)
	err := repo.Release(context.Background(), repository.ReleaseParams{
		ID:              "d-1",
		WorkerID:        "worker-1",
		ExpectedVersion: 1,
		NewStatus:       domain.StatusExhausted,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestRelease_Success(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery("SELECT status FROM domains").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectExec("UPDATE domains").WillReturnResult(sqlmock.NewResult(0, 1))

	repo := repository.NewDomainRepository(db)
	err := repo.Release(context.Background(), repository.ReleaseParams{
		ID:              "d-1",
		WorkerID:        "worker-1",
		ExpectedVersion: 1,
		NewStatus:       domain.StatusExhausted,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReset_NotFound(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec("UPDATE domains").WillReturnResult(sqlmock.NewResult(0, 0))

	repo := repository.NewDomainRepository(db)
	err := repo.Reset(context.Background(), "missing.com")
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
