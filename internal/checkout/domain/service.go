package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	bookingdomain "github.com/smallbiznis/marketledger/internal/booking/domain"
	orderdomain "github.com/smallbiznis/marketledger/internal/order/domain"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/marketledger/internal/pricing/domain"
)

// Item is one requested line. StartTime is required for session services
// and ignored otherwise.
type Item struct {
	ServiceID snowflake.ID `json:"service_id" validate:"required"`
	Quantity  int          `json:"quantity" validate:"required,min=1"`
	StartTime *time.Time   `json:"start_time,omitempty"`
}

type Request struct {
	UserID           snowflake.ID     `json:"-" validate:"required"`
	Type             orderdomain.Type `json:"type" validate:"required,oneof=direct_service credit_purchase package bundle subscription"`
	Items            []Item           `json:"items" validate:"required,min=1,dive"`
	UseCredits       bool             `json:"use_credits"`
	RequestedCredits *int64           `json:"requested_credits,omitempty" validate:"omitempty,min=0"`
	DiscountCode     string           `json:"discount_code,omitempty" validate:"omitempty,max=64"`
	IdempotencyKey   string           `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

// QuoteInput converts the request for the pricing engine.
func (r Request) QuoteInput() pricingdomain.QuoteInput {
	items := make([]pricingdomain.LineItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, pricingdomain.LineItem{ServiceID: item.ServiceID, Quantity: item.Quantity})
	}
	useCredits := r.UseCredits
	if r.Type == orderdomain.TypeCreditPurchase {
		useCredits = false
	}
	in := pricingdomain.QuoteInput{
		UserID:       r.UserID,
		Items:        items,
		UseCredits:   useCredits,
		DiscountCode: r.DiscountCode,
	}
	if useCredits {
		in.RequestedCredits = r.RequestedCredits
	}
	return in
}

// Result is the outcome of a checkout or confirmation. Charge is nil when no
// gateway call was needed.
type Result struct {
	Order          *orderdomain.Order      `json:"order"`
	Bookings       []bookingdomain.Booking `json:"bookings,omitempty"`
	Charge         *paymentdomain.Charge   `json:"charge,omitempty"`
	RequiresAction bool                    `json:"requires_action"`
}

type Service interface {
	Preview(ctx context.Context, req Request) (*pricingdomain.Quote, error)
	Checkout(ctx context.Context, req Request) (*Result, error)
	Confirm(ctx context.Context, userID snowflake.ID, chargeRef string) (*Result, error)
	Complete(ctx context.Context, orderID snowflake.ID) (*orderdomain.Order, error)
	CompleteByChargeRef(ctx context.Context, chargeRef string) (*orderdomain.Order, error)
	Fail(ctx context.Context, chargeRef, reason string) (*orderdomain.Order, error)
	Cancel(ctx context.Context, userID, orderID snowflake.ID) (*orderdomain.Order, error)
	GetOrder(ctx context.Context, userID, orderID snowflake.ID) (*orderdomain.Order, error)
}

var (
	ErrInvalidRequest     = apperror.New(apperror.Validation, "invalid_checkout_request")
	ErrItemTypeMismatch   = apperror.New(apperror.Validation, "item_type_mismatch")
	ErrStartTimeRequired  = apperror.New(apperror.Validation, "start_time_required")
	ErrNotPractitioner    = apperror.New(apperror.Validation, "buyer_not_practitioner")
	ErrDiscountNotAllowed = apperror.New(apperror.Validation, "discount_not_allowed")
	ErrOrderNotOwned      = apperror.New(apperror.Conflict, "order_not_owned")
	ErrOrderNotPending    = apperror.New(apperror.Conflict, "order_not_pending")
	ErrInsufficientCredit = apperror.New(apperror.InsufficientFunds, "insufficient_credits")
)
