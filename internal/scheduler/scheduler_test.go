package scheduler_test

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/north-cloud/crawlcoord/internal/config"
	"github.com/north-cloud/crawlcoord/internal/logger"
	"github.com/north-cloud/crawlcoord/internal/operator"
	"github.com/north-cloud/crawlcoord/internal/priority"
	"github.com/north-cloud/crawlcoord/internal/repository"
	"github.com/north-cloud/crawlcoord/internal/scheduler"
)

func TestNew_RegistersJobsWithoutPanicking(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	domains := repository.NewDomainRepository(sqlxDB)
	runs := repository.NewRunRepository(sqlxDB)
	op := operator.New(domains, runs, sqlxDB, logger.NewNop())
	prio := priority.New(sqlxDB)

	cfg := &config.Config{StaleRunThreshold: 60 * time.Minute}

	require.NotPanics(t, func() {
		m := scheduler.New(cfg, op, prio, logger.NewNop())
		m.Start()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	})
}
