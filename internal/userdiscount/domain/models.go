package domain

import (
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Scope string

const (
	ScopeOnboarding      Scope = "onboarding"
	ScopeTradingPackages Scope = "trading_packages"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusRevoked Status = "revoked"
)

type Source string

const (
	SourceManual       Source = "manual"
	SourceMasterTrader Source = "master_trader"
)

// UserDiscount is a per-user discount assigned by an admin. TradingUsedCount
// only advances through a conditional update guarded by TradingMaxPackages.
type UserDiscount struct {
	ID                 snowflake.ID                `gorm:"primaryKey" json:"id"`
	UserID             string                      `gorm:"not null;index" json:"user_id"`
	Scope              Scope                       `gorm:"not null" json:"scope"`
	OnboardingPct      decimal.NullDecimal         `gorm:"type:decimal(5,2)" json:"onboarding_pct"`
	OnboardingFixedUSD decimal.NullDecimal         `gorm:"column:onboarding_fixed_usd;type:decimal(20,2)" json:"onboarding_fixed_usd"`
	TradingPct         decimal.NullDecimal         `gorm:"type:decimal(5,2)" json:"trading_pct"`
	TradingPackageIDs  datatypes.JSONSlice[string] `gorm:"column:trading_package_ids" json:"trading_package_ids"`
	TradingMaxPackages *int                        `json:"trading_max_packages"`
	TradingUsedCount   int                         `gorm:"not null;default:0" json:"trading_used_count"`
	ClaimCode          string                      `gorm:"not null;uniqueIndex" json:"claim_code"`
	Status             Status                      `gorm:"not null;index" json:"status"`
	Source             Source                      `gorm:"not null" json:"source"`
	PresetDuration     *string                     `json:"preset_duration,omitempty"`
	Note               *string                     `json:"note,omitempty"`
	CreatedBy          string                      `gorm:"not null" json:"created_by"`
	CreatedAt          time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time                   `gorm:"not null" json:"updated_at"`
}

func (UserDiscount) TableName() string { return "user_discounts" }

// CoversPackage reports whether a trading discount applies to packageID; an
// empty package list covers every package.
func (d UserDiscount) CoversPackage(packageID string) bool {
	if d.Scope != ScopeTradingPackages {
		return false
	}
	return len(d.TradingPackageIDs) == 0 || slices.Contains([]string(d.TradingPackageIDs), packageID)
}

func (d UserDiscount) TradingUsesLeft() bool {
	return d.TradingMaxPackages == nil || d.TradingUsedCount < *d.TradingMaxPackages
}

// ClaimPath is the relative claim link for the discount.
func (d UserDiscount) ClaimPath() string {
	if d.Scope == ScopeOnboarding {
		return "/payments?coupon=" + d.ClaimCode
	}
	return "/packages?coupon=" + d.ClaimCode
}

// Preset durations for the Master Trader bundle.
const (
	Preset6Months  = "6mo"
	Preset1Year    = "1yr"
	PresetLifetime = "lifetime"
)

// PresetMaxPackages maps a preset duration to its trading package cap; nil
// means unlimited.
func PresetMaxPackages(duration string) (*int, bool) {
	switch duration {
	case Preset6Months:
		n := 2
		return &n, true
	case Preset1Year:
		n := 4
		return &n, true
	case PresetLifetime:
		return nil, true
	default:
		return nil, false
	}
}
