package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/marketledger/internal/order/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() orderdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *orderdomain.Order) error {
	if err := order.CheckAmounts(); err != nil {
		return err
	}
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []orderdomain.Item) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&items).Error
}

func (r *repo) InsertDetails(ctx context.Context, db *gorm.DB, details orderdomain.Details) error {
	if details == nil {
		return nil
	}
	return db.WithContext(ctx).Create(details).Error
}

// Update writes the mutable columns. Amount components are frozen at insert,
// only the refunded amount moves afterwards.
func (r *repo) Update(ctx context.Context, db *gorm.DB, order *orderdomain.Order) error {
	if err := order.CheckAmounts(); err != nil {
		return err
	}
	order.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Model(&orderdomain.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"status":          order.Status,
			"charge_ref":      order.ChargeRef,
			"refunded_amount": order.RefundedAmount,
			"failure_reason":  order.FailureReason,
			"completed_at":    order.CompletedAt,
			"updated_at":      order.UpdatedAt,
		}).Error
}

func (r *repo) UpdateItemBooking(ctx context.Context, db *gorm.DB, itemID, bookingID snowflake.ID) error {
	return db.WithContext(ctx).Model(&orderdomain.Item{}).
		Where("id = ?", itemID).
		Update("booking_id", bookingID).Error
}

func (r *repo) UpdatePlanProgress(ctx context.Context, db *gorm.DB, orderType orderdomain.Type, orderID snowflake.ID, booked, completed int) error {
	var model any
	switch orderType {
	case orderdomain.TypePackage:
		model = &orderdomain.PackageDetails{}
	case orderdomain.TypeBundle:
		model = &orderdomain.BundleDetails{}
	default:
		return nil
	}
	return db.WithContext(ctx).Model(model).
		Where("order_id = ?", orderID).
		Updates(map[string]any{"sessions_booked": booked, "sessions_completed": completed}).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	return r.findOne(ctx, db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByChargeRef(ctx context.Context, db *gorm.DB, chargeRef string) (*orderdomain.Order, error) {
	return r.findOne(ctx, db.WithContext(ctx).Where("charge_ref = ?", chargeRef))
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, userID snowflake.ID, key string) (*orderdomain.Order, error) {
	return r.findOne(ctx, db.WithContext(ctx).Where("user_id = ? AND idempotency_key = ?", userID, key))
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	return r.findOne(ctx, db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repo) findOne(ctx context.Context, query *gorm.DB) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := query.First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]orderdomain.Item, error) {
	var items []orderdomain.Item
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// LoadDetails fills order.Items and order.Details from their tables.
func (r *repo) LoadDetails(ctx context.Context, db *gorm.DB, order *orderdomain.Order) error {
	items, err := r.ListItems(ctx, db, order.ID)
	if err != nil {
		return err
	}
	order.Items = items

	var details orderdomain.Details
	switch order.Type {
	case orderdomain.TypePackage:
		details = &orderdomain.PackageDetails{}
	case orderdomain.TypeBundle:
		details = &orderdomain.BundleDetails{}
	case orderdomain.TypeSubscription:
		details = &orderdomain.SubscriptionDetails{}
	case orderdomain.TypeCreditPurchase:
		details = &orderdomain.CreditPurchaseDetails{}
	default:
		order.Details = nil
		return nil
	}
	err = db.WithContext(ctx).Where("order_id = ?", order.ID).First(details).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		order.Details = nil
		return nil
	}
	if err != nil {
		return err
	}
	order.Details = details
	return nil
}
