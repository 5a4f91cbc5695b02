package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/marketledger/internal/catalog/domain"
	commissiondomain "github.com/smallbiznis/marketledger/internal/commission/domain"
	"github.com/smallbiznis/marketledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    commissiondomain.Repository
	Catalog catalogdomain.Repository
	Ledger  config.LedgerConfig
	Rates   *config.CommissionRates `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    commissiondomain.Repository
	catalog catalogdomain.Repository
	ledger  config.LedgerConfig
	rates   *config.CommissionRates
}

func NewService(p Params) commissiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("commission.service"),
		repo:    p.Repo,
		catalog: p.Catalog,
		ledger:  p.Ledger,
		rates:   p.Rates,
	}
}

func (s *Service) EffectiveRate(ctx context.Context, practitionerID snowflake.ID, category string) (commissiondomain.Rate, error) {
	return s.EffectiveRateTx(ctx, s.db, practitionerID, category)
}

// EffectiveRateTx resolves base(category) + adjustment(tier, category),
// clamped to [0, 100%]. The rate file overrides database rows; a missing base
// falls back to the platform default and a missing adjustment counts as zero.
func (s *Service) EffectiveRateTx(ctx context.Context, tx *gorm.DB, practitionerID snowflake.ID, category string) (commissiondomain.Rate, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return commissiondomain.Rate{}, commissiondomain.ErrInvalidCategory
	}

	base, err := s.baseRate(ctx, tx, category)
	if err != nil {
		return commissiondomain.Rate{}, err
	}

	tier := ""
	if practitionerID != 0 {
		practitioner, err := s.catalog.FindPractitioner(ctx, tx, practitionerID)
		if err != nil {
			return commissiondomain.Rate{}, err
		}
		if practitioner != nil {
			tier = strings.ToLower(strings.TrimSpace(practitioner.TierCode))
		}
	}

	var adjustment int64
	if tier != "" {
		adjustment, err = s.tierAdjustment(ctx, tx, tier, category)
		if err != nil {
			return commissiondomain.Rate{}, err
		}
	}

	return commissiondomain.Rate{
		Bps:           commissiondomain.Clamp(base + adjustment),
		BaseBps:       base,
		AdjustmentBps: adjustment,
		TierCode:      tier,
	}, nil
}

func (s *Service) baseRate(ctx context.Context, tx *gorm.DB, category string) (int64, error) {
	if rate, ok := s.rates.Get().BaseRate(category); ok {
		return rate, nil
	}
	row, err := s.repo.FindBaseRate(ctx, tx, category)
	if err != nil {
		return 0, err
	}
	if row != nil {
		return row.RateBps, nil
	}
	return s.ledger.DefaultCommissionBps, nil
}

func (s *Service) tierAdjustment(ctx context.Context, tx *gorm.DB, tier, category string) (int64, error) {
	if adj, ok := s.rates.Get().TierAdjustment(tier, category); ok {
		return adj, nil
	}
	row, err := s.repo.FindTierAdjustment(ctx, tx, tier, category)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, nil
	}
	return row.AdjustmentBps, nil
}
