package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryType classifies a credit movement.
type EntryType string

const (
	EntryTypePurchase   EntryType = "purchase"
	EntryTypeUsage      EntryType = "usage"
	EntryTypeRefund     EntryType = "refund"
	EntryTypeAdjustment EntryType = "adjustment"
	EntryTypeBonus      EntryType = "bonus"
	EntryTypeTransfer   EntryType = "transfer"
	EntryTypeExpiry     EntryType = "expiry"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryTypePurchase, EntryTypeUsage, EntryTypeRefund, EntryTypeAdjustment,
		EntryTypeBonus, EntryTypeTransfer, EntryTypeExpiry:
		return true
	}
	return false
}

// Entry is an immutable signed movement on a user's credit account.
type Entry struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	UserID           snowflake.ID  `gorm:"not null;index;uniqueIndex:uq_credit_entries_idempotency,priority:1" json:"user_id"`
	Amount           int64         `gorm:"not null" json:"amount"`
	Type             EntryType     `gorm:"type:text;not null" json:"type"`
	OrderID          *snowflake.ID `gorm:"index" json:"order_id,omitempty"`
	BookingID        *snowflake.ID `json:"booking_id,omitempty"`
	ServiceID        *snowflake.ID `json:"service_id,omitempty"`
	PractitionerID   *snowflake.ID `json:"practitioner_id,omitempty"`
	CounterpartyID   *snowflake.ID `json:"counterparty_id,omitempty"`
	ReferenceEntryID *snowflake.ID `json:"reference_entry_id,omitempty"`
	IdempotencyKey   *string       `gorm:"type:text;uniqueIndex:uq_credit_entries_idempotency,priority:2" json:"idempotency_key,omitempty"`
	Reason           string        `gorm:"type:text" json:"reason,omitempty"`
	ExpiresAt        *time.Time    `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt        time.Time     `gorm:"not null" json:"created_at"`
}

func (Entry) TableName() string { return "credit_entries" }

// Balance is the cached sum of a user's entries. It is written in the same
// transaction as every append and can be rebuilt with Recompute.
type Balance struct {
	UserID    snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Amount    int64        `gorm:"not null;default:0" json:"amount"`
	Version   int64        `gorm:"not null;default:0" json:"version"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (Balance) TableName() string { return "credit_balances" }

// Expiration marks a lot whose expiry has been processed, with or without an
// expiry entry.
type Expiration struct {
	LotEntryID    snowflake.ID  `gorm:"primaryKey;autoIncrement:false"`
	UserID        snowflake.ID  `gorm:"not null;index"`
	ExpiryEntryID *snowflake.ID ``
	Amount        int64         `gorm:"not null"`
	ProcessedAt   time.Time     `gorm:"not null"`
}

func (Expiration) TableName() string { return "credit_expirations" }
