package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	orderdomain "github.com/smallbiznis/marketledger/internal/order/domain"
	"gorm.io/gorm"
)

// Service ingests raw webhook deliveries.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

// Reconciler folds parsed gateway events back into orders and earnings.
type Reconciler interface {
	ProcessEvent(ctx context.Context, event *PaymentEvent, payload []byte) error
	// ApplyRefund reconciles a cumulative refunded amount on a charge. A
	// cumulative amount at or below what is already recorded is a no-op.
	ApplyRefund(ctx context.Context, chargeRef string, cumulative int64, reason string) (*orderdomain.Order, error)
	RequestRefund(ctx context.Context, in RefundInput) (*orderdomain.Order, error)
}

// RefundInput asks for Amount on top of what the order already had
// refunded. A repeated IdempotencyKey returns the order without refunding.
type RefundInput struct {
	OrderID        snowflake.ID
	Amount         int64
	Reason         string
	IdempotencyKey string
}

// Settlement is the order side of charge events, implemented by checkout.
type Settlement interface {
	CompleteByChargeRef(ctx context.Context, chargeRef string) (*orderdomain.Order, error)
	Fail(ctx context.Context, chargeRef, reason string) (*orderdomain.Order, error)
}

// Gateway is the external charge processor.
type Gateway interface {
	Provider() string
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	ConfirmCharge(ctx context.Context, chargeRef string) (ChargeStatus, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// AdapterConfig carries the verification secret for one provider.
type AdapterConfig struct {
	Provider string
	Secret   string
}

type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

type Repository interface {
	// InsertEvent reports false when the (provider, provider_event_id) row
	// already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *Event) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*Event, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, message string) error
}

var (
	ErrInvalidProvider       = apperror.New(apperror.Validation, "invalid_provider")
	ErrProviderNotFound      = apperror.New(apperror.NotFound, "payment_provider_not_found")
	ErrInvalidConfig         = apperror.New(apperror.Validation, "invalid_provider_config")
	ErrInvalidSignature      = apperror.New(apperror.Validation, "invalid_signature")
	ErrInvalidPayload        = apperror.New(apperror.Validation, "invalid_payload")
	ErrInvalidEvent          = apperror.New(apperror.Validation, "invalid_event")
	ErrInvalidAmount         = apperror.New(apperror.Validation, "invalid_amount")
	ErrEventIgnored          = apperror.New(apperror.Validation, "event_ignored")
	ErrEventAlreadyProcessed = apperror.New(apperror.Conflict, "event_already_processed")
	ErrOrderNotRefundable    = apperror.New(apperror.Conflict, "order_not_refundable")
	ErrRefundExceedsTotal    = apperror.New(apperror.Validation, "refund_exceeds_total")
	ErrGatewayFailure        = apperror.New(apperror.Gateway, "gateway_failure")
)
