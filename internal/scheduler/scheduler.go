// Package scheduler runs the coordinator's periodic maintenance jobs —
// expiring stale claims, failing stale runs, and recomputing priority scores
// — on a cron schedule, grounded on the same robfig/cron wiring the crawler
// service uses for its own job scheduler.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/north-cloud/crawlcoord/internal/config"
	"github.com/north-cloud/crawlcoord/internal/logger"
	"github.com/north-cloud/crawlcoord/internal/operator"
	"github.com/north-cloud/crawlcoord/internal/priority"
)

// Maintenance periodically releases stuck claims, marks stale runs failed,
// and recomputes priority scores so the coordinator stays healthy between
// worker sessions without an operator running the CLI by hand.
type Maintenance struct {
	cron *cron.Cron
	log  logger.Interface
}

// New builds the maintenance scheduler. Jobs are registered but not started
// until Start is called.
func New(cfg *config.Config, op *operator.Operator, prio *priority.Calculator, log logger.Interface) *Maintenance {
	log = log.WithComponent("scheduler")
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{log})))

	m := &Maintenance{cron: c, log: log}

	m.mustAddFunc("@every 5m", "expire_stale_claims", func(ctx context.Context) error {
		count, err := op.ReleaseStuckClaims(ctx, operator.ReleaseExpiredOnly, "", false)
		if err != nil {
			return err
		}
		log.Info("expired stale claims", "count", count)
		return nil
	})

	staleThresholdMinutes := int(cfg.StaleRunThreshold.Minutes())
	m.mustAddFunc("@every 10m", "cleanup_stale_runs", func(ctx context.Context) error {
		count, err := op.CleanupStaleRuns(ctx, staleThresholdMinutes, false)
		if err != nil {
			return err
		}
		log.Info("cleaned up stale runs", "count", count)
		return nil
	})

	m.mustAddFunc("@every 15m", "recompute_priorities", func(ctx context.Context) error {
		count, err := prio.Recompute(ctx, cfg.NeverCrawledEpoch)
		if err != nil {
			return err
		}
		log.Info("recomputed priorities", "domains_touched", count)
		return nil
	})

	return m
}

func (m *Maintenance) mustAddFunc(spec, name string, job func(ctx context.Context) error) {
	_, err := m.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := job(ctx); err != nil {
			m.log.WithError(err).Warn("maintenance job failed", "job", name)
		}
	})
	if err != nil {
		panic("scheduler: invalid cron spec for " + name + ": " + err.Error())
	}
}

// Start begins running jobs on their configured schedule.
func (m *Maintenance) Start() {
	m.cron.Start()
}

// Stop waits for in-flight jobs to finish, up to the given context's deadline.
func (m *Maintenance) Stop(ctx context.Context) {
	done := m.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// cronLogger adapts logger.Interface to cron.Logger.
type cronLogger struct {
	log logger.Interface
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Info(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.WithError(err).Warn(msg, keysAndValues...)
}
