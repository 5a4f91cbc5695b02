package domain

import (
	"context"
	"io"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	"gorm.io/gorm"
)

type Service interface {
	CheckEligibility(ctx context.Context, practitionerID snowflake.ID) (Eligibility, error)
	CreatePayout(ctx context.Context, practitionerID snowflake.ID, requested *int64) (*Payout, error)
	MarkProcessing(ctx context.Context, id snowflake.ID) (*Payout, error)
	CancelPayout(ctx context.Context, id snowflake.ID, reason string) (*Payout, error)
	CompletePayout(ctx context.Context, id snowflake.ID, transferRef string) (*Payout, error)
	FailPayout(ctx context.Context, id snowflake.ID, reason string) (*Payout, error)
	RunBatch(ctx context.Context) (BatchResult, error)
	Get(ctx context.Context, id snowflake.ID) (*Payout, error)
	ListByPractitioner(ctx context.Context, practitionerID snowflake.ID, limit int) ([]Payout, error)
	Statement(ctx context.Context, id snowflake.ID) (io.Reader, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payout *Payout) error
	InsertItems(ctx context.Context, db *gorm.DB, items []Item) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payout, error)
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payout, error)
	Update(ctx context.Context, db *gorm.DB, payout *Payout) error
	ListItems(ctx context.Context, db *gorm.DB, payoutID snowflake.ID) ([]Item, error)
	ListByPractitioner(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID, limit int) ([]Payout, error)
}

var (
	ErrInvalidRequest       = apperror.New(apperror.Validation, "invalid_payout_request")
	ErrPayoutNotFound       = apperror.New(apperror.NotFound, "payout_not_found")
	ErrBelowMinimum         = apperror.New(apperror.Conflict, "payout_below_minimum")
	ErrInsufficientEarnings = apperror.New(apperror.InsufficientFunds, "insufficient_available_earnings")
	ErrInvalidTransition    = apperror.New(apperror.Conflict, "invalid_payout_transition")
)
