package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	InsertItems(ctx context.Context, db *gorm.DB, items []Item) error
	InsertDetails(ctx context.Context, db *gorm.DB, details Details) error
	Update(ctx context.Context, db *gorm.DB, order *Order) error
	UpdateItemBooking(ctx context.Context, db *gorm.DB, itemID, bookingID snowflake.ID) error
	UpdatePlanProgress(ctx context.Context, db *gorm.DB, orderType Type, orderID snowflake.ID, booked, completed int) error

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByChargeRef(ctx context.Context, db *gorm.DB, chargeRef string) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, userID snowflake.ID, key string) (*Order, error)
	// LockByID returns the order row locked for the rest of the transaction.
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	ListItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Item, error)
	LoadDetails(ctx context.Context, db *gorm.DB, order *Order) error
}
