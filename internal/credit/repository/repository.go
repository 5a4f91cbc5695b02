package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/smallbiznis/marketledger/internal/credit/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() creditdomain.Repository {
	return &repo{}
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *creditdomain.Entry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, userID snowflake.ID, key string) (*creditdomain.Entry, error) {
	var entry creditdomain.Entry
	err := db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) SumEntries(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&creditdomain.Entry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Scan(&total).Error
	return total, err
}

func (r *repo) GetBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*creditdomain.Balance, error) {
	var balance creditdomain.Balance
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// LockBalance creates the balance row on first use and returns it locked for
// the rest of the transaction.
func (r *repo) LockBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*creditdomain.Balance, error) {
	seed := creditdomain.Balance{UserID: userID, UpdatedAt: time.Now().UTC()}
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil {
		return nil, err
	}

	var balance creditdomain.Balance
	if err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&balance).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repo) SaveBalance(ctx context.Context, db *gorm.DB, balance *creditdomain.Balance) error {
	return db.WithContext(ctx).Model(&creditdomain.Balance{}).
		Where("user_id = ?", balance.UserID).
		Updates(map[string]any{
			"amount":     balance.Amount,
			"version":    balance.Version,
			"updated_at": balance.UpdatedAt,
		}).Error
}

// ListExpiredLots returns lots past their expiry that have no expiration
// marker yet. A zero userID lists every user's lots.
func (r *repo) ListExpiredLots(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time, limit int) ([]*creditdomain.Entry, error) {
	var rows []*creditdomain.Entry
	q := db.WithContext(ctx).
		Where("amount > 0 AND expires_at IS NOT NULL AND expires_at <= ?", now).
		Where("NOT EXISTS (SELECT 1 FROM credit_expirations x WHERE x.lot_entry_id = credit_entries.id)")
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	err := q.Order("expires_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repo) InsertExpiration(ctx context.Context, db *gorm.DB, exp *creditdomain.Expiration) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(exp)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]*creditdomain.Entry, error) {
	var rows []*creditdomain.Entry
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
