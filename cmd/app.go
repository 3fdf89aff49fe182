package cmd

import (
	"fmt"

	"github.com/north-cloud/crawlcoord/internal/config"
	"github.com/north-cloud/crawlcoord/internal/logger"
	"github.com/north-cloud/crawlcoord/internal/operator"
	"github.com/north-cloud/crawlcoord/internal/priority"
	"github.com/north-cloud/crawlcoord/internal/repository"
	"github.com/north-cloud/crawlcoord/internal/store/postgres"
)

// app bundles the dependencies every operator subcommand needs. It opens its
// own short-lived relational connection; operator actions are infrequent
// enough that a dedicated pool per invocation is simpler than threading a
// long-lived handle through the CLI.
type app struct {
	cfg      *config.Config
	log      logger.Interface
	operator *operator.Operator
	priority *priority.Calculator
	close    func()
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.Must(cfg.Logger)

	db, err := postgres.Connect(cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	domains := repository.NewDomainRepository(db)
	runs := repository.NewRunRepository(db)
	op := operator.New(domains, runs, db, log)
	prio := priority.New(db)

	return &app{
		cfg:      cfg,
		log:      log,
		operator: op,
		priority: prio,
		close:    func() { _ = db.Close() },
	}, nil
}
