package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	"gorm.io/gorm"
)

// ServiceKind says what a catalog item sells.
type ServiceKind string

const (
	KindSession      ServiceKind = "session"
	KindPackage      ServiceKind = "package"
	KindBundle       ServiceKind = "bundle"
	KindCreditPack   ServiceKind = "credit_pack"
	KindSubscription ServiceKind = "subscription"
)

// Service is a sellable catalog item. Prices are minor units.
type Service struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	PractitionerID  snowflake.ID `gorm:"not null;index" json:"practitioner_id"`
	Name            string       `gorm:"type:text;not null" json:"name"`
	Category        string       `gorm:"type:text;not null" json:"category"`
	Kind            ServiceKind  `gorm:"type:text;not null" json:"kind"`
	Price           int64        `gorm:"not null" json:"price"`
	SessionCount    int          `gorm:"not null;default:1" json:"session_count"`
	DurationMinutes int          `gorm:"not null;default:60" json:"duration_minutes"`
	CreditValue     int64        `gorm:"not null;default:0" json:"credit_value"`
	TierCode        string       `gorm:"type:text" json:"tier_code,omitempty"`
	ValidityDays    int          `gorm:"not null;default:0" json:"validity_days"`
	Active          bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (Service) TableName() string { return "catalog_services" }

// Practitioner is the slice of the practitioner profile the ledger reads.
type Practitioner struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID      snowflake.ID `gorm:"not null;uniqueIndex" json:"user_id"`
	DisplayName string       `gorm:"type:text" json:"display_name"`
	TierCode    string       `gorm:"type:text;not null;default:'free'" json:"tier_code"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (Practitioner) TableName() string { return "practitioners" }

// DiscountCode is either a percentage (basis points) or a fixed amount off.
type DiscountCode struct {
	Code          string     `gorm:"primaryKey;type:text" json:"code"`
	PercentOffBps int64      `gorm:"not null;default:0" json:"percent_off_bps"`
	AmountOff     int64      `gorm:"not null;default:0" json:"amount_off"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Active        bool       `gorm:"not null;default:true" json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (DiscountCode) TableName() string { return "discount_codes" }

// Usable reports whether the code can be redeemed at now.
func (d DiscountCode) Usable(now time.Time) bool {
	if !d.Active {
		return false
	}
	return d.ExpiresAt == nil || now.Before(*d.ExpiresAt)
}

// Apply returns the discount for amount, never more than amount.
func (d DiscountCode) Apply(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	discount := d.AmountOff
	if d.PercentOffBps > 0 {
		discount += amount * d.PercentOffBps / 10000
	}
	if discount > amount {
		return amount
	}
	if discount < 0 {
		return 0
	}
	return discount
}

type Repository interface {
	FindService(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Service, error)
	FindServices(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]*Service, error)
	FindPractitioner(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Practitioner, error)
	FindPractitionerByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Practitioner, error)
	UpdatePractitionerTier(ctx context.Context, db *gorm.DB, id snowflake.ID, tier string) error
	FindDiscountCode(ctx context.Context, db *gorm.DB, code string) (*DiscountCode, error)
}

var (
	ErrServiceNotFound      = apperror.New(apperror.NotFound, "service_not_found")
	ErrPractitionerNotFound = apperror.New(apperror.NotFound, "practitioner_not_found")
)
