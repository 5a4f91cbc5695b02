package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	"gorm.io/gorm"
)

// AppendInput describes one entry. Reference fields are optional.
type AppendInput struct {
	UserID           snowflake.ID
	Amount           int64
	Type             EntryType
	OrderID          *snowflake.ID
	BookingID        *snowflake.ID
	ServiceID        *snowflake.ID
	PractitionerID   *snowflake.ID
	CounterpartyID   *snowflake.ID
	ReferenceEntryID *snowflake.ID
	IdempotencyKey   string
	Reason           string
	ExpiresAt        *time.Time
}

type TransferInput struct {
	FromUserID     snowflake.ID
	ToUserID       snowflake.ID
	Amount         int64
	Reason         string
	IdempotencyKey string
}

type TransferResult struct {
	DebitEntryID  snowflake.ID `json:"debit_entry_id"`
	CreditEntryID snowflake.ID `json:"credit_entry_id"`
}

type Service interface {
	Balance(ctx context.Context, userID snowflake.ID) (int64, error)
	BalanceTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (int64, error)
	Append(ctx context.Context, in AppendInput) (snowflake.ID, error)
	AppendTx(ctx context.Context, tx *gorm.DB, in AppendInput) (snowflake.ID, error)
	Transfer(ctx context.Context, in TransferInput) (TransferResult, error)
	Recompute(ctx context.Context, userID snowflake.ID) (int64, error)
	ExpireCredits(ctx context.Context, now time.Time) (int, error)
	History(ctx context.Context, userID snowflake.ID, limit int) ([]*Entry, error)
}

type Repository interface {
	InsertEntry(ctx context.Context, db *gorm.DB, entry *Entry) error
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, userID snowflake.ID, key string) (*Entry, error)
	SumEntries(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
	GetBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Balance, error)
	LockBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Balance, error)
	SaveBalance(ctx context.Context, db *gorm.DB, balance *Balance) error
	ListExpiredLots(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time, limit int) ([]*Entry, error)
	InsertExpiration(ctx context.Context, db *gorm.DB, exp *Expiration) (bool, error)
	ListEntries(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]*Entry, error)
}

var (
	ErrInvalidUser        = apperror.New(apperror.Validation, "invalid_user")
	ErrInvalidAmount      = apperror.New(apperror.Validation, "invalid_amount")
	ErrInvalidEntryType   = apperror.New(apperror.Validation, "invalid_entry_type")
	ErrSameAccount        = apperror.New(apperror.Validation, "transfer_same_account")
	ErrInsufficientCredit = apperror.New(apperror.InsufficientFunds, "insufficient_credits")
	ErrNegativeBalance    = apperror.New(apperror.Invariant, "credit_balance_negative")
)
