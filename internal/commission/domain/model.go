package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	"gorm.io/gorm"
)

// MaxRateBps is 100%.
const MaxRateBps int64 = 10000

// BaseRate is the platform commission for a service category.
type BaseRate struct {
	Category  string    `gorm:"primaryKey;type:text" json:"category"`
	RateBps   int64     `gorm:"not null" json:"rate_bps"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BaseRate) TableName() string { return "commission_base_rates" }

// TierAdjustment shifts the base rate for practitioners on a subscription
// tier. An empty category applies to every category.
type TierAdjustment struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	TierCode      string       `gorm:"type:text;not null;uniqueIndex:uq_commission_tier_category,priority:1" json:"tier_code"`
	Category      string       `gorm:"type:text;not null;default:'';uniqueIndex:uq_commission_tier_category,priority:2" json:"category"`
	AdjustmentBps int64        `gorm:"not null" json:"adjustment_bps"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (TierAdjustment) TableName() string { return "commission_tier_adjustments" }

// Rate is an effective commission with the parts it was built from.
type Rate struct {
	Bps           int64  `json:"bps"`
	BaseBps       int64  `json:"base_bps"`
	AdjustmentBps int64  `json:"adjustment_bps"`
	TierCode      string `json:"tier_code,omitempty"`
}

// Split applies rate to gross. Commission is floor(gross * bps / 10000) and
// net takes the rest, so commission + net == gross for every input.
func Split(gross int64, rateBps int64) (commission int64, net int64) {
	if gross <= 0 || rateBps <= 0 {
		return 0, gross
	}
	if rateBps > MaxRateBps {
		rateBps = MaxRateBps
	}
	commission = gross * rateBps / MaxRateBps
	return commission, gross - commission
}

// Clamp bounds bps to [0, MaxRateBps].
func Clamp(bps int64) int64 {
	if bps < 0 {
		return 0
	}
	if bps > MaxRateBps {
		return MaxRateBps
	}
	return bps
}

type Service interface {
	EffectiveRate(ctx context.Context, practitionerID snowflake.ID, category string) (Rate, error)
	EffectiveRateTx(ctx context.Context, tx *gorm.DB, practitionerID snowflake.ID, category string) (Rate, error)
}

type Repository interface {
	FindBaseRate(ctx context.Context, db *gorm.DB, category string) (*BaseRate, error)
	FindTierAdjustment(ctx context.Context, db *gorm.DB, tierCode, category string) (*TierAdjustment, error)
	UpsertBaseRate(ctx context.Context, db *gorm.DB, rate *BaseRate) error
	UpsertTierAdjustment(ctx context.Context, db *gorm.DB, adj *TierAdjustment) error
}

var ErrInvalidCategory = apperror.New(apperror.Validation, "invalid_category")
