package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	commissiondomain "github.com/smallbiznis/marketledger/internal/commission/domain"
)

type Status string

const (
	StatusProjected Status = "projected"
	StatusPending   Status = "pending"
	StatusAvailable Status = "available"
	StatusPaid      Status = "paid"
	StatusReversed  Status = "reversed"
)

type Kind string

const (
	KindBooking         Kind = "booking"
	KindPackageDelta    Kind = "package_delta"
	KindPackageFinal    Kind = "package_final"
	KindReversal        Kind = "reversal"
	KindPartialReversal Kind = "partial_reversal"
)

// IsReversal reports whether k negates another transaction.
func (k Kind) IsReversal() bool {
	return k == KindReversal || k == KindPartialReversal
}

// Transaction is a practitioner's entitlement from one booking or package
// band. Reversal rows carry negative amounts and point at their original
// through ReversalOfID; originals are never edited past their status.
type Transaction struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	PractitionerID snowflake.ID  `gorm:"not null;index:idx_earnings_practitioner_status,priority:1" json:"practitioner_id"`
	OrderID        snowflake.ID  `gorm:"not null;index" json:"order_id"`
	BookingID      *snowflake.ID `gorm:"index" json:"booking_id,omitempty"`
	Kind           Kind          `gorm:"type:text;not null" json:"kind"`
	Category       string        `gorm:"type:text;not null" json:"category"`
	Gross          int64         `gorm:"not null" json:"gross"`
	RateBps        int64         `gorm:"not null" json:"rate_bps"`
	Commission     int64         `gorm:"not null" json:"commission"`
	Net            int64         `gorm:"not null" json:"net"`
	Status         Status        `gorm:"type:text;not null;index:idx_earnings_practitioner_status,priority:2" json:"status"`
	EndTime        time.Time     `gorm:"not null;index" json:"end_time"`
	AvailableAfter time.Time     `gorm:"not null;index" json:"available_after"`
	PayoutID       *snowflake.ID `gorm:"index" json:"payout_id,omitempty"`
	ReversalOfID   *snowflake.ID `gorm:"index" json:"reversal_of_id,omitempty"`
	DedupeKey      string        `gorm:"type:text;not null;uniqueIndex" json:"-"`
	Reason         string        `gorm:"type:text" json:"reason,omitempty"`
	ReleasedAt     *time.Time    `json:"released_at,omitempty"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
	ReversedAt     *time.Time    `json:"reversed_at,omitempty"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null" json:"updated_at"`
}

func (Transaction) TableName() string { return "earnings_transactions" }

// CheckAmounts enforces net = gross - commission on every row and the floor
// commission rule on originals.
func (t *Transaction) CheckAmounts() error {
	if t.Net != t.Gross-t.Commission {
		return apperror.Wrapf(ErrAmountInvariant, "earnings.check",
			"net %d != gross %d - commission %d", t.Net, t.Gross, t.Commission)
	}
	if t.Kind.IsReversal() {
		if t.Gross > 0 || t.Commission > 0 {
			return apperror.Wrapf(ErrAmountInvariant, "earnings.check", "reversal with positive amounts")
		}
		return nil
	}
	if t.Gross < 0 {
		return apperror.Wrapf(ErrAmountInvariant, "earnings.check", "negative gross %d", t.Gross)
	}
	if want, _ := commissiondomain.Split(t.Gross, t.RateBps); want != t.Commission {
		return apperror.Wrapf(ErrAmountInvariant, "earnings.check",
			"commission %d != floor(%d * %d / 10000)", t.Commission, t.Gross, t.RateBps)
	}
	return nil
}

// Balance is the per-practitioner projection of transaction amounts grouped
// by the status of their original. Only Recompute writes it.
type Balance struct {
	PractitionerID  snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"practitioner_id"`
	Projected       int64        `gorm:"not null;default:0" json:"projected"`
	Pending         int64        `gorm:"not null;default:0" json:"pending"`
	Available       int64        `gorm:"not null;default:0" json:"available"`
	LifetimeEarned  int64        `gorm:"not null;default:0" json:"lifetime_earned"`
	LifetimePayouts int64        `gorm:"not null;default:0" json:"lifetime_payouts"`
	Version         int64        `gorm:"not null;default:0" json:"version"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (Balance) TableName() string { return "practitioner_earnings_balances" }

// Amounts is a gross/commission/net triple.
type Amounts struct {
	Gross      int64
	Commission int64
	Net        int64
}

func (a Amounts) Add(b Amounts) Amounts {
	return Amounts{Gross: a.Gross + b.Gross, Commission: a.Commission + b.Commission, Net: a.Net + b.Net}
}

func (a Amounts) Negate() Amounts {
	return Amounts{Gross: -a.Gross, Commission: -a.Commission, Net: -a.Net}
}
