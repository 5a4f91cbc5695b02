package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CommissionRateTable is the file-managed override layer for commission rates.
type CommissionRateTable struct {
	BaseRates       []BaseRateEntry       `mapstructure:"baseRates"`
	TierAdjustments []TierAdjustmentEntry `mapstructure:"tierAdjustments"`
}

type BaseRateEntry struct {
	Category string `mapstructure:"category"`
	RateBps  int64  `mapstructure:"rateBps"`
}

type TierAdjustmentEntry struct {
	Tier          string `mapstructure:"tier"`
	Category      string `mapstructure:"category"`
	AdjustmentBps int64  `mapstructure:"adjustmentBps"`
}

// BaseRate returns the configured base rate for category.
func (t CommissionRateTable) BaseRate(category string) (int64, bool) {
	for _, r := range t.BaseRates {
		if strings.EqualFold(r.Category, category) {
			return r.RateBps, true
		}
	}
	return 0, false
}

// TierAdjustment returns the adjustment for tier and category. A row without a
// category applies to every category; an exact category row wins.
func (t CommissionRateTable) TierAdjustment(tier, category string) (int64, bool) {
	var (
		fallback int64
		found    bool
	)
	for _, a := range t.TierAdjustments {
		if !strings.EqualFold(a.Tier, tier) {
			continue
		}
		if strings.EqualFold(a.Category, category) {
			return a.AdjustmentBps, true
		}
		if a.Category == "" {
			fallback = a.AdjustmentBps
			found = true
		}
	}
	return fallback, found
}

// CommissionRates holds the current rate table and swaps it on file change.
type CommissionRates struct {
	current atomic.Value // holds CommissionRateTable
}

// NewStaticCommissionRates wraps a fixed table, mostly for tests.
func NewStaticCommissionRates(table CommissionRateTable) *CommissionRates {
	holder := &CommissionRates{}
	holder.current.Store(table)
	return holder
}

// NewCommissionRates loads the rate file named by the ledger config. Without a
// file the holder serves an empty table and the database rows apply alone.
func NewCommissionRates(cfg Config, log *zap.Logger) (*CommissionRates, error) {
	holder := &CommissionRates{}
	holder.current.Store(CommissionRateTable{})

	path := strings.TrimSpace(cfg.Ledger.CommissionRatesFile)
	if path == "" {
		return holder, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MARKETLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read commission rates: %w", err)
	}

	var table CommissionRateTable
	if err := v.UnmarshalKey("commission", &table); err != nil {
		return nil, err
	}
	if err := validateCommissionRates(table); err != nil {
		return nil, err
	}
	holder.current.Store(table)

	log = log.Named("config.commission")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CommissionRateTable
		if err := v.UnmarshalKey("commission", &updated); err != nil {
			log.Warn("commission rates reload failed", zap.Error(err))
			return
		}
		if err := validateCommissionRates(updated); err != nil {
			log.Warn("invalid commission rates ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("commission rates reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// Get returns the active table.
func (h *CommissionRates) Get() CommissionRateTable {
	if h == nil {
		return CommissionRateTable{}
	}
	return h.current.Load().(CommissionRateTable)
}

func validateCommissionRates(table CommissionRateTable) error {
	for _, r := range table.BaseRates {
		if strings.TrimSpace(r.Category) == "" {
			return errors.New("commission.baseRates category cannot be empty")
		}
		if r.RateBps < 0 || r.RateBps > 10000 {
			return fmt.Errorf("commission.baseRates %s out of range", r.Category)
		}
	}
	for _, a := range table.TierAdjustments {
		if strings.TrimSpace(a.Tier) == "" {
			return errors.New("commission.tierAdjustments tier cannot be empty")
		}
	}
	return nil
}
