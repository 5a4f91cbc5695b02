package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	packagedomain "github.com/smallbiznis/marketledger/internal/packagepayout/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() packagedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *packagedomain.Record) error {
	if err := record.Check(); err != nil {
		return err
	}
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) FindByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*packagedomain.Record, error) {
	return findOne(db.WithContext(ctx).Where("order_id = ?", orderID))
}

func (r *repo) LockByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*packagedomain.Record, error) {
	return findOne(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID))
}

func findOne(query *gorm.DB) (*packagedomain.Record, error) {
	var record packagedomain.Record
	err := query.First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, record *packagedomain.Record) error {
	if err := record.Check(); err != nil {
		return err
	}
	return db.WithContext(ctx).Model(&packagedomain.Record{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"completed_sessions": record.CompletedSessions,
			"completion_bps":     record.CompletionBps,
			"last_payout_bps":    record.LastPayoutBps,
			"total_paid_credits": record.TotalPaidCredits,
			"status":             record.Status,
			"payout_processed":   record.PayoutProcessed,
			"last_payout_at":     record.LastPayoutAt,
			"updated_at":         record.UpdatedAt,
		}).Error
}

// InsertSession reports false when the booking was already counted.
func (r *repo) InsertSession(ctx context.Context, db *gorm.DB, session *packagedomain.SessionCompletion) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(session)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
