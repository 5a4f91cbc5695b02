package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
)

type Status string

const (
	StatusPending            Status = "pending"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusCompleted          Status = "completed"
	StatusCanceled           Status = "canceled"
)

// FullBps is 100% completion.
const FullBps int64 = 10000

// Record tracks progressive release of one package or bundle order's value
// to its practitioner.
type Record struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID           snowflake.ID `gorm:"not null;uniqueIndex" json:"order_id"`
	PractitionerID    snowflake.ID `gorm:"not null;index" json:"practitioner_id"`
	Category          string       `gorm:"type:text;not null" json:"category"`
	OrderType         string       `gorm:"type:text;not null" json:"order_type"`
	TotalSessions     int          `gorm:"not null" json:"total_sessions"`
	CompletedSessions int          `gorm:"not null;default:0" json:"completed_sessions"`
	CompletionBps     int64        `gorm:"not null;default:0" json:"completion_bps"`
	LastPayoutBps     int64        `gorm:"not null;default:0" json:"last_payout_bps"`
	PackageValue      int64        `gorm:"not null" json:"package_value"`
	TotalPaidCredits  int64        `gorm:"not null;default:0" json:"total_paid_credits"`
	Status            Status       `gorm:"type:text;not null" json:"status"`
	PayoutProcessed   bool         `gorm:"not null;default:false" json:"payout_processed"`
	LastPayoutAt      *time.Time   `json:"last_payout_at,omitempty"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null" json:"updated_at"`
}

func (Record) TableName() string { return "package_completion_records" }

// Check rejects a record that pays out more than the package is worth.
func (r *Record) Check() error {
	if r.TotalPaidCredits < 0 || r.TotalPaidCredits > r.PackageValue {
		return apperror.Wrapf(ErrOverpaid, "packagepayout.check",
			"paid %d of package value %d", r.TotalPaidCredits, r.PackageValue)
	}
	if r.CompletedSessions > r.TotalSessions {
		return apperror.Wrapf(ErrOverpaid, "packagepayout.check",
			"%d of %d sessions completed", r.CompletedSessions, r.TotalSessions)
	}
	return nil
}

// SessionCompletion marks a booking as counted toward its package.
type SessionCompletion struct {
	BookingID     snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"booking_id"`
	OrderID       snowflake.ID `gorm:"not null;index" json:"order_id"`
	SessionNumber int          `gorm:"not null" json:"session_number"`
	CompletedAt   time.Time    `gorm:"not null" json:"completed_at"`
}

func (SessionCompletion) TableName() string { return "package_session_completions" }
