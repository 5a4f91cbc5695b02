package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
)

type Type string

const (
	TypeDirectService  Type = "direct_service"
	TypeCreditPurchase Type = "credit_purchase"
	TypePackage        Type = "package"
	TypeBundle         Type = "bundle"
	TypeSubscription   Type = "subscription"
)

func (t Type) Valid() bool {
	switch t {
	case TypeDirectService, TypeCreditPurchase, TypePackage, TypeBundle, TypeSubscription:
		return true
	}
	return false
}

type Status string

const (
	StatusPending           Status = "pending"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusCanceled          Status = "canceled"
)

// Order is one checkout attempt. Subtotal is already net of Discount, so
// Total = Subtotal + Tax - CreditsApplied.
type Order struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	Reference      string       `gorm:"type:text;not null;uniqueIndex" json:"reference"`
	UserID         snowflake.ID `gorm:"not null;index;uniqueIndex:uq_orders_idempotency,priority:1" json:"user_id"`
	Type           Type         `gorm:"type:text;not null" json:"type"`
	Status         Status       `gorm:"type:text;not null;index" json:"status"`
	Currency       string       `gorm:"type:text;not null" json:"currency"`
	Subtotal       int64        `gorm:"not null" json:"subtotal"`
	Discount       int64        `gorm:"not null;default:0" json:"discount"`
	Tax            int64        `gorm:"not null;default:0" json:"tax"`
	CreditsApplied int64        `gorm:"not null;default:0" json:"credits_applied"`
	Total          int64        `gorm:"not null" json:"total"`
	RefundedAmount int64        `gorm:"not null;default:0" json:"refunded_amount"`
	ChargeRef      *string      `gorm:"type:text;uniqueIndex" json:"charge_ref,omitempty"`
	DiscountCode   string       `gorm:"type:text" json:"discount_code,omitempty"`
	IdempotencyKey *string      `gorm:"type:text;uniqueIndex:uq_orders_idempotency,priority:2" json:"-"`
	FailureReason  string       `gorm:"type:text" json:"failure_reason,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`

	Items   []Item  `gorm:"-" json:"items,omitempty"`
	Details Details `gorm:"-" json:"details,omitempty"`
}

func (Order) TableName() string { return "orders" }

// CheckAmounts verifies Total = Subtotal + Tax - CreditsApplied >= 0.
func (o *Order) CheckAmounts() error {
	if o.Subtotal < 0 || o.Tax < 0 || o.CreditsApplied < 0 || o.Discount < 0 {
		return apperror.Wrapf(ErrAmountMismatch, "order.check", "negative component on %s", o.Reference)
	}
	if o.Total != o.Subtotal+o.Tax-o.CreditsApplied || o.Total < 0 {
		return apperror.Wrapf(ErrAmountMismatch, "order.check",
			"total %d != subtotal %d + tax %d - credits %d", o.Total, o.Subtotal, o.Tax, o.CreditsApplied)
	}
	if o.RefundedAmount < 0 || o.RefundedAmount > o.Total {
		return apperror.Wrapf(ErrAmountMismatch, "order.check", "refunded %d outside [0, %d]", o.RefundedAmount, o.Total)
	}
	return nil
}

// Item is one priced line of an order.
type Item struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrderID        snowflake.ID  `gorm:"not null;index" json:"order_id"`
	ServiceID      snowflake.ID  `gorm:"not null" json:"service_id"`
	PractitionerID snowflake.ID  `gorm:"not null" json:"practitioner_id"`
	Category       string        `gorm:"type:text;not null" json:"category"`
	Quantity       int           `gorm:"not null" json:"quantity"`
	UnitPrice      int64         `gorm:"not null" json:"unit_price"`
	Amount         int64         `gorm:"not null" json:"amount"`
	Discount       int64         `gorm:"not null;default:0" json:"discount"`
	BookingID      *snowflake.ID `json:"booking_id,omitempty"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
}

func (Item) TableName() string { return "order_items" }

// Net is the line amount after its share of the discount.
func (i Item) Net() int64 {
	return i.Amount - i.Discount
}

var (
	ErrOrderNotFound  = apperror.New(apperror.NotFound, "order_not_found")
	ErrAmountMismatch = apperror.New(apperror.Invariant, "order_amount_mismatch")
)
