package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	payoutdomain "github.com/smallbiznis/marketledger/internal/payout/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() payoutdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payout *payoutdomain.Payout) error {
	return db.WithContext(ctx).Create(payout).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []payoutdomain.Item) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&items).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*payoutdomain.Payout, error) {
	return findOne(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*payoutdomain.Payout, error) {
	return findOne(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func findOne(query *gorm.DB) (*payoutdomain.Payout, error) {
	var payout payoutdomain.Payout
	err := query.First(&payout).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, payout *payoutdomain.Payout) error {
	return db.WithContext(ctx).Model(&payoutdomain.Payout{}).
		Where("id = ?", payout.ID).
		Updates(map[string]any{
			"status":         payout.Status,
			"transfer_ref":   payout.TransferRef,
			"failure_reason": payout.FailureReason,
			"processing_at":  payout.ProcessingAt,
			"completed_at":   payout.CompletedAt,
			"failed_at":      payout.FailedAt,
			"canceled_at":    payout.CanceledAt,
			"updated_at":     payout.UpdatedAt,
		}).Error
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, payoutID snowflake.ID) ([]payoutdomain.Item, error) {
	var items []payoutdomain.Item
	err := db.WithContext(ctx).
		Where("payout_id = ?", payoutID).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

func (r *repo) ListByPractitioner(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID, limit int) ([]payoutdomain.Payout, error) {
	var payouts []payoutdomain.Payout
	err := db.WithContext(ctx).
		Where("practitioner_id = ?", practitionerID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&payouts).Error
	return payouts, err
}
