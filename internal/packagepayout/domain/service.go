package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	earningsdomain "github.com/smallbiznis/marketledger/internal/earnings/domain"
	"gorm.io/gorm"
)

type OpenInput struct {
	OrderID        snowflake.ID
	PractitionerID snowflake.ID
	Category       string
	OrderType      string
	TotalSessions  int
	PackageValue   int64
}

type SessionInput struct {
	OrderID   snowflake.ID
	BookingID snowflake.ID
	EndTime   time.Time
}

// SessionResult is what one completed session released. Transaction is nil
// when the completion did not move the payout percentage.
type SessionResult struct {
	Record      *Record
	Transaction *earningsdomain.Transaction
	Counted     bool
}

type Service interface {
	Open(ctx context.Context, tx *gorm.DB, in OpenInput) (*Record, error)
	RecordSessionCompleted(ctx context.Context, tx *gorm.DB, in SessionInput) (*SessionResult, error)
	Cancel(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (*Record, error)
	Get(ctx context.Context, orderID snowflake.ID) (*Record, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
	FindByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Record, error)
	LockByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Record, error)
	Save(ctx context.Context, db *gorm.DB, record *Record) error
	InsertSession(ctx context.Context, db *gorm.DB, session *SessionCompletion) (bool, error)
}

var (
	ErrInvalidInput   = apperror.New(apperror.Validation, "invalid_package_payout_input")
	ErrRecordNotFound = apperror.New(apperror.NotFound, "package_record_not_found")
	ErrRecordCanceled = apperror.New(apperror.Conflict, "package_record_canceled")
	ErrOverpaid       = apperror.New(apperror.Invariant, "package_overpaid")
)
