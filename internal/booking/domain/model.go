package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	"gorm.io/gorm"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// Booking is the ledger's view of a scheduled session. Amount is the gross
// the practitioner earns on, after the line's discount share.
type Booking struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID        snowflake.ID `gorm:"not null;index" json:"order_id"`
	ServiceID      snowflake.ID `gorm:"not null" json:"service_id"`
	PractitionerID snowflake.ID `gorm:"not null;index" json:"practitioner_id"`
	UserID         snowflake.ID `gorm:"not null;index" json:"user_id"`
	Category       string       `gorm:"type:text;not null" json:"category"`
	Status         Status       `gorm:"type:text;not null;index" json:"status"`
	Amount         int64        `gorm:"not null;default:0" json:"amount"`
	StartTime      time.Time    `gorm:"not null" json:"start_time"`
	EndTime        time.Time    `gorm:"not null" json:"end_time"`
	ConfirmedAt    *time.Time   `json:"confirmed_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	CanceledAt     *time.Time   `json:"canceled_at,omitempty"`
	CancelReason   string       `gorm:"type:text" json:"cancel_reason,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (Booking) TableName() string { return "bookings" }

type DraftInput struct {
	OrderID        snowflake.ID
	ServiceID      snowflake.ID
	PractitionerID snowflake.ID
	UserID         snowflake.ID
	Category       string
	Amount         int64
	StartTime      time.Time
	Duration       time.Duration
	// Confirmed creates the booking already confirmed, for sessions drawn
	// from a paid package.
	Confirmed bool
}

type Service interface {
	CreateDraft(ctx context.Context, tx *gorm.DB, in DraftInput) (*Booking, error)
	Confirm(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Booking, error)
	// Cancel reports whether the booking changed state.
	Cancel(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string) (*Booking, bool, error)
	// Complete reports whether the booking changed state; a second call for
	// the same booking is a no-op.
	Complete(ctx context.Context, tx *gorm.DB, id snowflake.ID, endTime time.Time) (*Booking, bool, error)
	Get(ctx context.Context, id snowflake.ID) (*Booking, error)
	ListByOrder(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) ([]Booking, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, booking *Booking) error
	Update(ctx context.Context, db *gorm.DB, booking *Booking) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Booking, error)
}

var (
	ErrBookingNotFound     = apperror.New(apperror.NotFound, "booking_not_found")
	ErrInvalidBooking      = apperror.New(apperror.Validation, "invalid_booking")
	ErrBookingNotConfirmed = apperror.New(apperror.Conflict, "booking_not_confirmed")
	ErrBookingCompleted    = apperror.New(apperror.Conflict, "booking_already_completed")
	ErrBookingCanceled     = apperror.New(apperror.Conflict, "booking_canceled")
)
