package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Event is one received webhook delivery. (Provider, ProviderEventID) is
// unique so a redelivery finds the first row; ProcessedAt stays nil until the
// event has been fully applied.
type Event struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:uq_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:uq_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	ChargeRef       string         `json:"charge_ref" gorm:"type:text;not null;index"`
	Amount          int64          `json:"amount" gorm:"not null;default:0"`
	AmountRefunded  int64          `json:"amount_refunded" gorm:"not null;default:0"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	LastError       string         `json:"last_error,omitempty" gorm:"type:text"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (Event) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeRefunded         = "refunded"
)

// PaymentEvent is the canonical payment event parsed by adapters. For
// refunds AmountRefunded is the cumulative amount refunded on the charge.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	ChargeRef       string
	Type            string
	Amount          int64
	AmountRefunded  int64
	Currency        string
	Reason          string
	OccurredAt      time.Time
	RawPayload      []byte
}

// ChargeStatus is the gateway's view of a charge.
type ChargeStatus string

const (
	ChargeSucceeded      ChargeStatus = "succeeded"
	ChargePending        ChargeStatus = "pending"
	ChargeRequiresAction ChargeStatus = "requires_action"
	ChargeFailed         ChargeStatus = "failed"
)

type ChargeItem struct {
	ID       string
	Name     string
	Price    int64
	Quantity int
}

// ChargeRequest asks the gateway to collect Amount. Reference is the order
// reference and doubles as the gateway's idempotency key.
type ChargeRequest struct {
	Reference string
	Amount    int64
	Currency  string
	UserID    snowflake.ID
	Items     []ChargeItem
}

// Charge is the gateway's answer to a charge request. RedirectURL and Token
// carry the customer action when Status is requires_action.
type Charge struct {
	Ref         string       `json:"charge_ref"`
	Status      ChargeStatus `json:"status"`
	RedirectURL string       `json:"redirect_url,omitempty"`
	Token       string       `json:"token,omitempty"`
}

type RefundRequest struct {
	ChargeRef string
	Amount    int64
	Reason    string
	Key       string
}

type RefundResult struct {
	ChargeRef string `json:"charge_ref"`
	RefundRef string `json:"refund_ref"`
	Amount    int64  `json:"amount"`
}
