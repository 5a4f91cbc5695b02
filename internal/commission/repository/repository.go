package repository

import (
	"context"
	"errors"
	"strings"

	commissiondomain "github.com/smallbiznis/marketledger/internal/commission/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() commissiondomain.Repository {
	return &repo{}
}

func (r *repo) FindBaseRate(ctx context.Context, db *gorm.DB, category string) (*commissiondomain.BaseRate, error) {
	var rate commissiondomain.BaseRate
	err := db.WithContext(ctx).
		Where("category = ?", strings.ToLower(category)).
		First(&rate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

// FindTierAdjustment prefers the exact category row over the tier-wide row.
func (r *repo) FindTierAdjustment(ctx context.Context, db *gorm.DB, tierCode, category string) (*commissiondomain.TierAdjustment, error) {
	var rows []commissiondomain.TierAdjustment
	err := db.WithContext(ctx).
		Where("tier_code = ? AND category IN ?", strings.ToLower(tierCode), []string{strings.ToLower(category), ""}).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	var fallback *commissiondomain.TierAdjustment
	for i := range rows {
		if rows[i].Category != "" {
			return &rows[i], nil
		}
		fallback = &rows[i]
	}
	return fallback, nil
}

func (r *repo) UpsertBaseRate(ctx context.Context, db *gorm.DB, rate *commissiondomain.BaseRate) error {
	rate.Category = strings.ToLower(rate.Category)
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "category"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate_bps", "updated_at"}),
	}).Create(rate).Error
}

func (r *repo) UpsertTierAdjustment(ctx context.Context, db *gorm.DB, adj *commissiondomain.TierAdjustment) error {
	adj.TierCode = strings.ToLower(adj.TierCode)
	adj.Category = strings.ToLower(adj.Category)
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tier_code"}, {Name: "category"}},
		DoUpdates: clause.AssignmentColumns([]string{"adjustment_bps", "updated_at"}),
	}).Create(adj).Error
}
