package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Package is an immutable catalog row. PerformanceFeePct is the only
// attribute admins may override at runtime.
type Package struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	PriceUSD           decimal.Decimal `json:"price_usd"`
	ProfitAllowanceUSD decimal.Decimal `json:"profit_allowance_usd"`
	PerformanceFeePct  decimal.Decimal `json:"performance_fee_pct"`
	CouponTag          string          `json:"coupon_tag"`
}

// PackageSetting stores the admin override of a package's performance fee.
type PackageSetting struct {
	PackageID         string          `gorm:"primaryKey" json:"package_id"`
	PerformanceFeePct decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"performance_fee_pct"`
	UpdatedBy         string          `gorm:"not null" json:"updated_by"`
	UpdatedAt         time.Time       `gorm:"not null" json:"updated_at"`
}

func (PackageSetting) TableName() string { return "package_settings" }

const OnboardingCouponTag = "OB"
