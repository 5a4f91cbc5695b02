package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	catalogdomain "github.com/smallbiznis/marketledger/internal/catalog/domain"
	"gorm.io/gorm"
)

type LineItem struct {
	ServiceID snowflake.ID `json:"service_id" validate:"required"`
	Quantity  int          `json:"quantity" validate:"min=1"`
}

type QuoteInput struct {
	UserID           snowflake.ID
	Items            []LineItem
	UseCredits       bool
	RequestedCredits *int64
	DiscountCode     string
}

// QuotedItem is a priced line. Discount is this line's share of the order
// discount; Amount - Discount is what the line actually sells for.
type QuotedItem struct {
	Service   *catalogdomain.Service `json:"-"`
	ServiceID snowflake.ID           `json:"service_id"`
	Quantity  int                    `json:"quantity"`
	UnitPrice int64                  `json:"unit_price"`
	Amount    int64                  `json:"amount"`
	Discount  int64                  `json:"discount"`
}

// Net is the line amount after its discount share.
func (q QuotedItem) Net() int64 {
	return q.Amount - q.Discount
}

// Quote is a priced checkout. Subtotal is the sum of line amounts before the
// discount; Total = Subtotal - Discount + Tax - CreditsApplied.
type Quote struct {
	Currency         string       `json:"currency"`
	Items            []QuotedItem `json:"items"`
	Subtotal         int64        `json:"subtotal"`
	Discount         int64        `json:"discount"`
	Tax              int64        `json:"tax"`
	CreditsAvailable int64        `json:"credits_available"`
	CreditsApplied   int64        `json:"credits_applied"`
	Total            int64        `json:"total"`
	DiscountCode     string       `json:"discount_code,omitempty"`
}

// Discounted is the subtotal after the discount, before tax and credits.
func (q Quote) Discounted() int64 {
	return q.Subtotal - q.Discount
}

type Service interface {
	Quote(ctx context.Context, in QuoteInput) (*Quote, error)
	QuoteTx(ctx context.Context, tx *gorm.DB, in QuoteInput) (*Quote, error)
}

var (
	ErrNoItems             = apperror.New(apperror.Validation, "no_items")
	ErrInvalidQuantity     = apperror.New(apperror.Validation, "invalid_quantity")
	ErrUnknownService      = apperror.New(apperror.Validation, "unknown_service")
	ErrInvalidDiscountCode = apperror.New(apperror.Validation, "invalid_discount_code")
	ErrInvalidCredits      = apperror.New(apperror.Validation, "invalid_requested_credits")
)
