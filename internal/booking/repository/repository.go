package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/marketledger/internal/booking/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() bookingdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, booking *bookingdomain.Booking) error {
	return db.WithContext(ctx).Create(booking).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, booking *bookingdomain.Booking) error {
	return db.WithContext(ctx).Model(&bookingdomain.Booking{}).
		Where("id = ?", booking.ID).
		Updates(map[string]any{
			"status":        booking.Status,
			"end_time":      booking.EndTime,
			"confirmed_at":  booking.ConfirmedAt,
			"completed_at":  booking.CompletedAt,
			"canceled_at":   booking.CanceledAt,
			"cancel_reason": booking.CancelReason,
			"updated_at":    booking.UpdatedAt,
		}).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*bookingdomain.Booking, error) {
	return findOne(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*bookingdomain.Booking, error) {
	return findOne(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *repo) ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]bookingdomain.Booking, error) {
	var rows []bookingdomain.Booking
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("start_time ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func findOne(query *gorm.DB) (*bookingdomain.Booking, error) {
	var booking bookingdomain.Booking
	err := query.First(&booking).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}
