package scheduler

import (
	"time"

	"github.com/smallbiznis/marketledger/internal/config"
)

const (
	JobMatureEarnings  = "mature_earnings"
	JobReleaseEarnings = "release_earnings"
	JobExpireCredits   = "expire_credits"
	JobPayoutBatch     = "payout_batch"
)

// Config holds the cron expression of every sweep. An empty expression
// disables the job.
type Config struct {
	MaturationSchedule  string
	ReleaseSchedule     string
	ExpirySchedule      string
	PayoutBatchSchedule string
	JobTimeout          time.Duration
	LockTTL             time.Duration
	EnabledJobs         []string
}

func DefaultConfig() Config {
	ledger := config.DefaultLedgerConfig()
	return Config{
		MaturationSchedule:  ledger.MaturationSchedule,
		ReleaseSchedule:     ledger.ReleaseSchedule,
		ExpirySchedule:      ledger.ExpirySchedule,
		PayoutBatchSchedule: ledger.PayoutBatchSchedule,
		JobTimeout:          2 * time.Minute,
		LockTTL:             5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

func (c Config) schedule(job string) string {
	switch job {
	case JobMatureEarnings:
		return c.MaturationSchedule
	case JobReleaseEarnings:
		return c.ReleaseSchedule
	case JobExpireCredits:
		return c.ExpirySchedule
	case JobPayoutBatch:
		return c.PayoutBatchSchedule
	}
	return ""
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		MaturationSchedule:  cfg.Ledger.MaturationSchedule,
		ReleaseSchedule:     cfg.Ledger.ReleaseSchedule,
		ExpirySchedule:      cfg.Ledger.ExpirySchedule,
		PayoutBatchSchedule: cfg.Ledger.PayoutBatchSchedule,
	}.withDefaults()
}
