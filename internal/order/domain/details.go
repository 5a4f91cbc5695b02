package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Details carries the fields specific to one order type. Direct service
// orders have none.
type Details interface {
	OrderType() Type
}

// SessionPlan is shared by package and bundle orders: a prepaid number of
// sessions with one practitioner.
type SessionPlan struct {
	OrderID           snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"-"`
	ServiceID         snowflake.ID `gorm:"not null" json:"service_id"`
	PractitionerID    snowflake.ID `gorm:"not null;index" json:"practitioner_id"`
	Category          string       `gorm:"type:text;not null" json:"category"`
	TotalSessions     int          `gorm:"not null" json:"total_sessions"`
	SessionsCompleted int          `gorm:"not null;default:0" json:"sessions_completed"`
	SessionsBooked    int          `gorm:"not null;default:0" json:"sessions_booked"`
	SessionValue      int64        `gorm:"not null" json:"session_value"`
	PackageValue      int64        `gorm:"not null" json:"package_value"`
	DurationMinutes   int          `gorm:"not null" json:"duration_minutes"`
	ExpiresAt         *time.Time   `json:"expires_at,omitempty"`
}

type PackageDetails struct {
	SessionPlan
}

func (PackageDetails) TableName() string { return "order_package_details" }
func (PackageDetails) OrderType() Type   { return TypePackage }

type BundleDetails struct {
	SessionPlan
}

func (BundleDetails) TableName() string { return "order_bundle_details" }
func (BundleDetails) OrderType() Type   { return TypeBundle }

type SubscriptionDetails struct {
	OrderID        snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"-"`
	PractitionerID snowflake.ID `gorm:"not null" json:"practitioner_id"`
	TierCode       string       `gorm:"type:text;not null" json:"tier_code"`
}

func (SubscriptionDetails) TableName() string { return "order_subscription_details" }
func (SubscriptionDetails) OrderType() Type   { return TypeSubscription }

// CreditPurchaseDetails records the credits granted on completion. Bonus is
// the part above the amount paid.
type CreditPurchaseDetails struct {
	OrderID      snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"-"`
	Credits      int64        `gorm:"not null" json:"credits"`
	BonusCredits int64        `gorm:"not null;default:0" json:"bonus_credits"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
}

func (CreditPurchaseDetails) TableName() string { return "order_credit_purchase_details" }
func (CreditPurchaseDetails) OrderType() Type   { return TypeCreditPurchase }

// Plan returns the session plan of a package or bundle order.
func Plan(d Details) (*SessionPlan, bool) {
	switch v := d.(type) {
	case *PackageDetails:
		return &v.SessionPlan, true
	case *BundleDetails:
		return &v.SessionPlan, true
	}
	return nil, false
}
