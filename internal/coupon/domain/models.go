package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
	StatusExpired  Status = "expired"
)

// ScopeOnboarding applies to the joining fee; every other scope is a package id.
const ScopeOnboarding = "onboarding"

type PurchaseType string

const (
	PurchaseOnboardingFee PurchaseType = "onboarding_fee"
	PurchasePackage       PurchaseType = "package"
)

// Coupon is a global promotional code. CurrentRedemptions is only ever
// advanced by a conditional update so it cannot pass MaxRedemptions.
type Coupon struct {
	ID                 snowflake.ID    `gorm:"primaryKey" json:"id"`
	Code               string          `gorm:"not null;uniqueIndex" json:"code"`
	Scope              string          `gorm:"not null;index" json:"scope"`
	DiscountPct        decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"discount_pct"`
	MaxRedemptions     *int            `json:"max_redemptions"`
	CurrentRedemptions int             `gorm:"not null;default:0" json:"current_redemptions"`
	DurationMonths     int             `gorm:"not null" json:"duration_months"`
	ExpiresAt          *time.Time      `json:"expires_at,omitempty"`
	Status             Status          `gorm:"not null;index" json:"status"`
	Description        *string         `json:"description,omitempty"`
	CreatedBy          string          `gorm:"not null" json:"created_by"`
	CreatedAt          time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"not null" json:"updated_at"`
}

func (Coupon) TableName() string { return "coupons" }

func (c Coupon) ExpiredAt(now time.Time) bool {
	return c.Status == StatusExpired || (c.ExpiresAt != nil && !now.Before(*c.ExpiresAt))
}

func (c Coupon) Exhausted() bool {
	return c.MaxRedemptions != nil && c.CurrentRedemptions >= *c.MaxRedemptions
}

// EffectiveStatus reports expired for active coupons past their expiry even
// before anything has persisted that fact.
func (c Coupon) EffectiveStatus(now time.Time) Status {
	if c.Status == StatusActive && c.ExpiredAt(now) {
		return StatusExpired
	}
	return c.Status
}

// Matches reports whether the coupon scope covers the purchase.
func (c Coupon) Matches(purchaseType PurchaseType, packageID string) bool {
	switch purchaseType {
	case PurchaseOnboardingFee:
		return c.Scope == ScopeOnboarding
	case PurchasePackage:
		return c.Scope != ScopeOnboarding && c.Scope == packageID
	default:
		return false
	}
}

func (c Coupon) ClaimPath() string {
	if c.Scope == ScopeOnboarding {
		return "/payments?coupon=" + c.Code
	}
	return "/packages?coupon=" + c.Code
}

// Redemption records one successful use of a coupon. BenefitEndsAt is the end
// of the DurationMonths window the discount was granted for.
type Redemption struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	CouponID      snowflake.ID    `gorm:"not null;uniqueIndex:ux_coupon_redemption_user" json:"coupon_id"`
	UserID        string          `gorm:"not null;uniqueIndex:ux_coupon_redemption_user;index" json:"user_id"`
	Code          string          `gorm:"not null" json:"code"`
	PurchaseType  PurchaseType    `gorm:"not null" json:"purchase_type"`
	PackageID     *string         `json:"package_id,omitempty"`
	DiscountPct   decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"discount_pct"`
	BenefitEndsAt time.Time       `gorm:"not null" json:"benefit_ends_at"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
}

func (Redemption) TableName() string { return "coupon_redemptions" }
