package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/north-cloud/crawlcoord/internal/config"
	"github.com/north-cloud/crawlcoord/internal/domain"
)

func TestValidate_ClaimProtocolRequiresSmartScheduling(t *testing.T) {
	cfg := &config.Config{
		Postgres:            config.Postgres{Host: "localhost"},
		Redis:               config.Redis{Address: "localhost:6379"},
		EnableClaimProtocol: true,
	}
	err := cfg.Validate()
	assert.ErrorIs(t, err, domain.ErrFatalConfig)
}

func TestValidate_OK(t *testing.T) {
	cfg := &config.Config{
		Postgres:              config.Postgres{Host: "localhost"},
		Redis:                 config.Redis{Address: "localhost:6379"},
		EnableClaimProtocol:   true,
		EnableSmartScheduling: true,
	}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_MissingPostgresHost(t *testing.T) {
	cfg := &config.Config{Redis: config.Redis{Address: "localhost:6379"}}
	assert.Error(t, cfg.Validate())
}

func TestValidate_MissingRedisAddress(t *testing.T) {
	cfg := &config.Config{Postgres: config.Postgres{Host: "localhost"}}
	assert.Error(t, cfg.Validate())
}

func TestBudgetEnabled(t *testing.T) {
	cfg := &config.Config{EnablePerDomainBudget: true, MaxPagesPerRun: 100}
	assert.True(t, cfg.BudgetEnabled())

	cfg.MaxPagesPerRun = 0
	assert.False(t, cfg.BudgetEnabled(), "B3: zero disables the budget regardless of the feature flag")

	cfg.MaxPagesPerRun = 100
	cfg.EnablePerDomainBudget = false
	assert.False(t, cfg.BudgetEnabled())
}

func TestFlushEnabled(t *testing.T) {
	cfg := &config.Config{StatsFlushInterval: 50}
	assert.True(t, cfg.FlushEnabled())

	cfg.StatsFlushInterval = 0
	assert.False(t, cfg.FlushEnabled())
}
