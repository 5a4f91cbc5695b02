package domain

import (
	"context"
	"time"
)

const Exchange = "marketledger.events"

const (
	EventOrderCompleted     = "order.completed"
	EventOrderFailed        = "order.failed"
	EventOrderRefunded      = "order.refunded"
	EventEarningsPending    = "earnings.pending"
	EventEarningsAvailable  = "earnings.available"
	EventPayoutCreated      = "payout.created"
	EventPayoutCompleted    = "payout.completed"
	EventPayoutFailed       = "payout.failed"
	EventPayoutCanceled     = "payout.canceled"
	EventCreditsTransferred = "credits.transferred"
)

type RecipientKind string

const (
	RecipientUser         RecipientKind = "user"
	RecipientPractitioner RecipientKind = "practitioner"
)

type Recipient struct {
	Kind RecipientKind `json:"kind"`
	ID   string        `json:"id"`
}

// Envelope is the message body published for every notification.
type Envelope struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Recipient  Recipient      `json:"recipient"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Notifier is fire-and-forget. Implementations log delivery failures and
// never return them, so a notification can not undo a committed money
// movement.
type Notifier interface {
	Notify(ctx context.Context, recipient Recipient, eventType string, payload map[string]any)
}

// Publisher moves an envelope onto the wire.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, envelope Envelope) error
	Close()
}
