package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Type string

const (
	TypeOnboardingFee Type = "onboarding_fee"
	TypePackage       Type = "package"
)

// EligiblePurchase is a paid onboarding fee or package that triggers
// commission distribution. ProcessedAt is set exactly once, in the same
// transaction as the earnings it produced.
type EligiblePurchase struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID         string            `gorm:"not null;index" json:"user_id"`
	PurchaseType   Type              `gorm:"not null" json:"purchase_type"`
	PackageID      *string           `json:"package_id,omitempty"`
	BaseAmountUSD  decimal.Decimal   `gorm:"type:decimal(20,2);not null" json:"base_amount_usd"`
	DiscountUSD    decimal.Decimal   `gorm:"type:decimal(20,2);not null;default:0" json:"discount_usd"`
	AmountUSD      decimal.Decimal   `gorm:"type:decimal(20,2);not null" json:"amount_usd"`
	DiscountSource *string           `json:"discount_source,omitempty"`
	DiscountRefID  *string           `json:"discount_ref_id,omitempty"`
	CouponCode     *string           `json:"coupon_code,omitempty"`
	ExternalRef    *string           `gorm:"uniqueIndex" json:"external_ref,omitempty"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
}

func (EligiblePurchase) TableName() string { return "eligible_purchases" }
