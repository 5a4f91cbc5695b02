package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	"gorm.io/gorm"
)

type CreateInput struct {
	PractitionerID snowflake.ID
	BookingID      snowflake.ID
	OrderID        snowflake.ID
	Category       string
	Gross          int64
	EndTime        time.Time
}

// PendingInput creates a transaction for work already delivered, used by
// package progressive payouts.
type PendingInput struct {
	PractitionerID snowflake.ID
	BookingID      *snowflake.ID
	OrderID        snowflake.ID
	Category       string
	Gross          int64
	EndTime        time.Time
	Kind           Kind
	DedupeKey      string
}

// ClaimedItem is one transaction claimed by a payout, at its value net of
// partial reversals.
type ClaimedItem struct {
	TransactionID snowflake.ID
	Amounts
}

type PayoutClaim struct {
	Items []ClaimedItem
	Total Amounts
}

type Service interface {
	CreateForBooking(ctx context.Context, tx *gorm.DB, in CreateInput) (*Transaction, error)
	CreatePending(ctx context.Context, tx *gorm.DB, in PendingInput) (*Transaction, error)
	TransitionToPending(ctx context.Context, id snowflake.ID) error
	HandleBookingCompleted(ctx context.Context, tx *gorm.DB, bookingID snowflake.ID, endTime time.Time) (int, error)
	HandleBookingCanceled(ctx context.Context, tx *gorm.DB, bookingID snowflake.ID, reason string) (int, error)
	MatureDelivered(ctx context.Context, now time.Time) (int, error)
	ReleaseAvailable(ctx context.Context, now time.Time) (int, error)
	Reverse(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string) (*Transaction, error)
	ReversePartial(ctx context.Context, tx *gorm.DB, id snowflake.ID, gross int64, dedupeKey, reason string) (*Transaction, error)
	ListByOrder(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) ([]Transaction, error)
	ListByPractitioner(ctx context.Context, practitionerID snowflake.ID, limit int) ([]Transaction, error)
	ClaimForPayout(ctx context.Context, tx *gorm.DB, practitionerID, payoutID snowflake.ID, target *int64) (*PayoutClaim, error)
	ReleaseFromPayout(ctx context.Context, tx *gorm.DB, practitionerID, payoutID snowflake.ID) (int, error)
	LockBalance(ctx context.Context, tx *gorm.DB, practitionerID snowflake.ID) (*Balance, error)
	Recompute(ctx context.Context, tx *gorm.DB, practitionerID snowflake.ID) (*Balance, error)
	GetBalance(ctx context.Context, practitionerID snowflake.ID) (*Balance, error)
	ListPayable(ctx context.Context, minimum int64, limit int) ([]Balance, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindByDedupeKey(ctx context.Context, db *gorm.DB, key string) (*Transaction, error)
	ListOriginalsByBooking(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) ([]Transaction, error)
	ListOriginalsByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Transaction, error)
	ListByPractitioner(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID, limit int) ([]Transaction, error)
	ListProjectedEnded(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Transaction, error)
	ListPendingDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Transaction, error)
	ListAvailable(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) ([]Transaction, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, ids []snowflake.ID, from, to Status, extra map[string]any) (int64, error)
	UpdateSchedule(ctx context.Context, db *gorm.DB, id snowflake.ID, endTime, availableAfter time.Time) error
	ClearPayout(ctx context.Context, db *gorm.DB, payoutID snowflake.ID, now time.Time) (int64, error)
	SumFamily(ctx context.Context, db *gorm.DB, originalID snowflake.ID) (Amounts, error)
	SumAdjustments(ctx context.Context, db *gorm.DB, originalIDs []snowflake.ID) (map[snowflake.ID]Amounts, error)
	SumNetByStatus(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) (map[Status]int64, error)

	GetBalance(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) (*Balance, error)
	LockBalance(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) (*Balance, error)
	SaveBalance(ctx context.Context, db *gorm.DB, balance *Balance) error
	ListPayable(ctx context.Context, db *gorm.DB, minimum int64, limit int) ([]Balance, error)
}

var (
	ErrInvalidInput      = apperror.New(apperror.Validation, "invalid_earnings_input")
	ErrTransactionAbsent = apperror.New(apperror.NotFound, "earnings_transaction_not_found")
	ErrAlreadyPaid       = apperror.New(apperror.Conflict, "earnings_already_paid")
	ErrNotReversible     = apperror.New(apperror.Conflict, "earnings_not_reversible")
	ErrNothingToPay      = apperror.New(apperror.Conflict, "no_available_earnings")
	ErrAmountInvariant   = apperror.New(apperror.Invariant, "earnings_amount_invariant")
	ErrBalanceInvariant  = apperror.New(apperror.Invariant, "earnings_balance_invariant")
)
