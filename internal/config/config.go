// Package config loads and validates the coordinator's configuration from
// environment variables, a config file, and command-line flags, using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/north-cloud/crawlcoord/internal/domain"
	"github.com/north-cloud/crawlcoord/internal/logger"
)

// Default values for tunables named in the external interface (spec §6.4).
const (
	DefaultLeaseDuration         = 30 * time.Minute
	DefaultRenewalInterval       = 10 * time.Minute
	DefaultMaxPagesPerRun        = 1000
	DefaultStatsFlushInterval    = 100
	DefaultCheckpointTTL         = 30 * 24 * time.Hour
	DefaultStaleRunThreshold     = 60 * time.Minute
	DefaultVersionConflictRetry  = 3
	DefaultNeverCrawledEpochText = "2000-01-01T00:00:00Z"

	DefaultCrawlMaxDepth       = 3
	DefaultCrawlParallelism    = 2
	DefaultCrawlRequestTimeout = 30 * time.Second
	DefaultCrawlDelay          = 1 * time.Second
	DefaultCrawlRandomDelay    = 500 * time.Millisecond
	DefaultCrawlUserAgent      = "crawlcoord/0.1 (+https://github.com/north-cloud/crawlcoord)"

	DefaultMaxDomainErrors = 3
)

// Crawl holds the colly engine's fetch tunables: depth, pacing, and the
// transport it drives requests through (§6.1's "out of scope except its
// contract" boundary still needs a concrete dial somewhere).
type Crawl struct {
	MaxDepth           int
	Parallelism        int
	RequestTimeout     time.Duration
	Delay              time.Duration
	RandomDelay        time.Duration
	UserAgent          string
	RespectRobotsTxt   bool
	InsecureSkipVerify bool
}

// Postgres holds relational store connection settings.
type Postgres struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Redis holds key/value store connection settings.
type Redis struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Config is the coordinator's single validated configuration record.
type Config struct {
	Postgres Postgres
	Redis    Redis
	Logger   logger.Config
	Crawl    Crawl

	EnableSmartScheduling bool
	EnableClaimProtocol   bool
	EnablePerDomainBudget bool
	MaxPagesPerRun        int
	StatsFlushInterval    int
	StripSubdomains       bool

	// MaxDomainErrors is the number of consecutive 403/429/503 responses a
	// domain tolerates before a session blocks it for the rest of the run.
	MaxDomainErrors int
	// BlockOnLogin blocks a domain as soon as a response looks like a login
	// wall (password field, or "login"/"sign in" in the title).
	BlockOnLogin bool

	LeaseDuration        time.Duration
	RenewalInterval      time.Duration
	CheckpointTTL        time.Duration
	StaleRunThreshold    time.Duration
	VersionConflictRetry int

	// NeverCrawledEpoch is the staleness-bonus baseline used by the priority
	// calculator for domains with a null last_crawled_at (resolved open
	// question: surfaced as config, defaulting to the original's hard-coded value).
	NeverCrawledEpoch time.Time
}

// Load reads configuration from environment variables (optionally seeded by
// a .env file) and command-line overrides are expected to be bound by the
// caller via Viper before Load runs.
func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults()

	epoch, err := time.Parse(time.RFC3339, viper.GetString("domain.never_crawled_epoch"))
	if err != nil {
		epoch, _ = time.Parse(time.RFC3339, DefaultNeverCrawledEpochText)
	}

	cfg := &Config{
		Postgres: Postgres{
			Host:     viper.GetString("postgres.host"),
			Port:     viper.GetString("postgres.port"),
			User:     viper.GetString("postgres.user"),
			Password: viper.GetString("postgres.password"),
			DBName:   viper.GetString("postgres.dbname"),
			SSLMode:  viper.GetString("postgres.sslmode"),
		},
		Redis: Redis{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Logger: logger.Config{
			Level:    logger.Level(viper.GetString("logger.level")),
			Encoding: viper.GetString("logger.encoding"),
		},
		Crawl: Crawl{
			MaxDepth:           viper.GetInt("crawl.max_depth"),
			Parallelism:        viper.GetInt("crawl.parallelism"),
			RequestTimeout:     viper.GetDuration("crawl.request_timeout"),
			Delay:              viper.GetDuration("crawl.delay"),
			RandomDelay:        viper.GetDuration("crawl.random_delay"),
			UserAgent:          viper.GetString("crawl.user_agent"),
			RespectRobotsTxt:   viper.GetBool("crawl.respect_robots_txt"),
			InsecureSkipVerify: viper.GetBool("crawl.insecure_skip_verify"),
		},
		EnableSmartScheduling: viper.GetBool("ENABLE_SMART_SCHEDULING"),
		EnableClaimProtocol:   viper.GetBool("ENABLE_CLAIM_PROTOCOL"),
		EnablePerDomainBudget: viper.GetBool("ENABLE_PER_DOMAIN_BUDGET"),
		MaxPagesPerRun:        viper.GetInt("MAX_PAGES_PER_RUN"),
		StatsFlushInterval:    viper.GetInt("DOMAIN_STATS_FLUSH_INTERVAL"),
		StripSubdomains:       viper.GetBool("DOMAIN_CANONICALIZATION_STRIP_SUBDOMAINS"),
		MaxDomainErrors:       viper.GetInt("MAX_DOMAIN_ERRORS"),
		BlockOnLogin:          viper.GetBool("BLOCK_ON_LOGIN"),
		LeaseDuration:         DefaultLeaseDuration,
		RenewalInterval:       DefaultRenewalInterval,
		CheckpointTTL:         DefaultCheckpointTTL,
		StaleRunThreshold:     DefaultStaleRunThreshold,
		VersionConflictRetry:  DefaultVersionConflictRetry,
		NeverCrawledEpoch:     epoch,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", "5432")
	viper.SetDefault("postgres.user", "crawlcoord")
	viper.SetDefault("postgres.sslmode", "disable")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.encoding", "json")
	viper.SetDefault("MAX_PAGES_PER_RUN", DefaultMaxPagesPerRun)
	viper.SetDefault("DOMAIN_STATS_FLUSH_INTERVAL", DefaultStatsFlushInterval)
	viper.SetDefault("ENABLE_PER_DOMAIN_BUDGET", true)
	viper.SetDefault("MAX_DOMAIN_ERRORS", DefaultMaxDomainErrors)
	viper.SetDefault("BLOCK_ON_LOGIN", true)
	viper.SetDefault("domain.never_crawled_epoch", DefaultNeverCrawledEpochText)
	viper.SetDefault("crawl.max_depth", DefaultCrawlMaxDepth)
	viper.SetDefault("crawl.parallelism", DefaultCrawlParallelism)
	viper.SetDefault("crawl.request_timeout", DefaultCrawlRequestTimeout)
	viper.SetDefault("crawl.delay", DefaultCrawlDelay)
	viper.SetDefault("crawl.random_delay", DefaultCrawlRandomDelay)
	viper.SetDefault("crawl.user_agent", DefaultCrawlUserAgent)
	viper.SetDefault("crawl.respect_robots_txt", true)
	viper.SetDefault("crawl.insecure_skip_verify", false)
}

// Validate enforces the one hard invariant the spec calls out explicitly:
// the claim protocol requires smart scheduling (ErrFatalConfig, §7).
func (c *Config) Validate() error {
	if c.EnableClaimProtocol && !c.EnableSmartScheduling {
		return domain.Wrap(domain.ErrFatalConfig, "claim protocol requires smart scheduling to be enabled")
	}
	if c.Postgres.Host == "" {
		return errors.New("postgres host is required")
	}
	if c.Redis.Address == "" {
		return errors.New("redis address is required")
	}
	return nil
}

// BudgetEnabled reports whether the per-domain page budget applies, honoring
// B3: MAX_PAGES_PER_RUN = 0 disables enforcement entirely regardless of the
// feature flag.
func (c *Config) BudgetEnabled() bool {
	return c.EnablePerDomainBudget && c.MaxPagesPerRun > 0
}

// FlushEnabled reports whether mid-run incremental stats flushing is active.
func (c *Config) FlushEnabled() bool {
	return c.StatsFlushInterval > 0
}
