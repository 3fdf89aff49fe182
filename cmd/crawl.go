package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/north-cloud/crawlcoord/internal/checkpoint"
	"github.com/north-cloud/crawlcoord/internal/config"
	"github.com/north-cloud/crawlcoord/internal/domain"
	"github.com/north-cloud/crawlcoord/internal/engine"
	"github.com/north-cloud/crawlcoord/internal/logger"
	"github.com/north-cloud/crawlcoord/internal/repository"
	"github.com/north-cloud/crawlcoord/internal/session"
	"github.com/north-cloud/crawlcoord/internal/store/postgres"
	"github.com/north-cloud/crawlcoord/internal/store/redisconn"
)

func newCrawlCommand() *cobra.Command {
	var mode string
	var seedSource string
	var claimLimit int
	var workerID string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one worker session: claim domains, crawl them, release on exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log := logger.Must(cfg.Logger)

			db, err := postgres.Connect(cfg.Postgres)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer func() { _ = db.Close() }()

			redisClient, err := redisconn.Connect(cfg.Redis)
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			defer func() { _ = redisClient.Close() }()

			domains := repository.NewDomainRepository(db)
			runs := repository.NewRunRepository(db)
			checkpoints := checkpoint.New(redisClient)
			eng := engine.NewColly(&cfg.Crawl, log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sess := session.New(cfg, domains, runs, checkpoints, eng, log, workerID)
			return sess.Run(ctx, domain.RunMode(mode), seedSource, claimLimit)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(domain.RunModeDiscovery), "run mode: discovery|refresh")
	cmd.Flags().StringVar(&seedSource, "seed-source", "operator-cli", "label recorded on the crawl_runs row")
	cmd.Flags().IntVar(&claimLimit, "claim-limit", 10, "maximum domains this session claims at once")
	cmd.Flags().StringVar(&workerID, "worker-id", "", "worker identity for claims (default: hostname-pid)")
	return cmd
}
