package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Payout is one disbursement to a practitioner. Amount is the net claimed
// from earnings; Gross and Commission are carried for the statement.
type Payout struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	Reference       string       `gorm:"type:text;not null;uniqueIndex" json:"reference"`
	PractitionerID  snowflake.ID `gorm:"not null;index" json:"practitioner_id"`
	Currency        string       `gorm:"type:text;not null" json:"currency"`
	RequestedAmount *int64       `json:"requested_amount,omitempty"`
	Amount          int64        `gorm:"not null" json:"amount"`
	Gross           int64        `gorm:"not null" json:"gross"`
	Commission      int64        `gorm:"not null" json:"commission"`
	Status          Status       `gorm:"type:text;not null;index" json:"status"`
	TransferRef     *string      `gorm:"type:text" json:"transfer_ref,omitempty"`
	FailureReason   string       `gorm:"type:text" json:"failure_reason,omitempty"`
	ProcessingAt    *time.Time   `json:"processing_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	FailedAt        *time.Time   `json:"failed_at,omitempty"`
	CanceledAt      *time.Time   `json:"canceled_at,omitempty"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`

	Items []Item `gorm:"-" json:"items,omitempty"`
}

func (Payout) TableName() string { return "practitioner_payouts" }

// Item links a payout to one earnings transaction at the value claimed.
type Item struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	PayoutID      snowflake.ID `gorm:"not null;uniqueIndex:uq_payout_item,priority:1" json:"payout_id"`
	TransactionID snowflake.ID `gorm:"not null;uniqueIndex:uq_payout_item,priority:2" json:"transaction_id"`
	Gross         int64        `gorm:"not null" json:"gross"`
	Commission    int64        `gorm:"not null" json:"commission"`
	Net           int64        `gorm:"not null" json:"net"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
}

func (Item) TableName() string { return "payout_items" }

const (
	ReasonEligible     = "eligible"
	ReasonBelowMinimum = "below_minimum"
	ReasonNoEarnings   = "no_available_earnings"
)

type Eligibility struct {
	PractitionerID snowflake.ID `json:"practitioner_id"`
	Eligible       bool         `json:"eligible"`
	Reason         string       `json:"reason"`
	Available      int64        `json:"available"`
	MinimumPayout  int64        `json:"minimum_payout"`
}

type BatchResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}
