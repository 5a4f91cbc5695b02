package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	bookingdomain "github.com/smallbiznis/marketledger/internal/booking/domain"
	packagedomain "github.com/smallbiznis/marketledger/internal/packagepayout/domain"
)

// ScheduleInput books one session drawn from a paid package or bundle.
type ScheduleInput struct {
	UserID    snowflake.ID `json:"-" validate:"required"`
	OrderID   snowflake.ID `json:"-" validate:"required"`
	StartTime time.Time    `json:"start_time" validate:"required"`
}

// Outcome reports what a booking event changed. Changed is false for a
// repeated event.
type Outcome struct {
	Booking      *bookingdomain.Booking       `json:"booking"`
	Changed      bool                         `json:"changed"`
	Transitioned int                          `json:"earnings_transitioned"`
	Release      *packagedomain.SessionResult `json:"-"`
}

// Service turns scheduling events into ledger movements.
type Service interface {
	SchedulePackageSession(ctx context.Context, in ScheduleInput) (*bookingdomain.Booking, error)
	HandleBookingCompleted(ctx context.Context, bookingID snowflake.ID, endTime time.Time) (*Outcome, error)
	HandleBookingCanceled(ctx context.Context, bookingID snowflake.ID, reason string) (*Outcome, error)
}

var (
	ErrNotPlanOrder   = apperror.New(apperror.Validation, "order_has_no_sessions")
	ErrOrderNotActive = apperror.New(apperror.Conflict, "order_not_active")
	ErrPlanExhausted  = apperror.New(apperror.Conflict, "sessions_exhausted")
	ErrPlanExpired    = apperror.New(apperror.Conflict, "sessions_expired")
)
