package api_test

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/north-cloud/crawlcoord/internal/api"
	"github.com/north-cloud/crawlcoord/internal/logger"
	"github.com/north-cloud/crawlcoord/internal/operator"
	"github.com/north-cloud/crawlcoord/internal/priority"
	"github.com/north-cloud/crawlcoord/internal/repository"
)

func newTestServer(t *testing.T) (*httptest.Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	domains := repository.NewDomainRepository(sqlxDB)
	runs := repository.NewRunRepository(sqlxDB)
	op := operator.New(domains, runs, sqlxDB, logger.NewNop())
	prio := priority.New(sqlxDB)

	server := api.NewServer(":0", logger.NewNop(), op, prio)
	return httptest.NewServer(server.Handler), mock
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestDomainStatusSummary(t *testing.T) {
	srv, mock := newTestServer(t)
	defer srv.Close()

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow("active", int64(3)))

	resp, err := http.Get(srv.URL + "/api/v1/domains")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDomainInfo_NotFound(t *testing.T) {
	srv, mock := newTestServer(t)
	defer srv.Close()

	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrNoRows)

	resp, err := http.Get(srv.URL + "/api/v1/domains/missing.com")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDomainInfo_StoreUnavailable(t *testing.T) {
	srv, mock := newTestServer(t)
	defer srv.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errConnRefused{})

	resp, err := http.Get(srv.URL + "/api/v1/domains/example.com")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

type errConnRefused struct{}

func (errConnRefused) Error() string { return "connection refused" }
