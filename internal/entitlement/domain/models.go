package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusInactive  Status = "inactive"
	StatusActive    Status = "active"
	StatusExhausted Status = "exhausted"
)

// Entitlement tracks how much trading profit a user may still realize.
// Version is bumped on every write and guards concurrent profit events.
type Entitlement struct {
	ID                 snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID             string          `gorm:"not null;uniqueIndex" json:"user_id"`
	JoiningFeePaid     bool            `gorm:"not null;default:false" json:"joining_fee_paid"`
	JoiningFeePaidAt   *time.Time      `json:"joining_fee_paid_at,omitempty"`
	ActivePackageID    *string         `json:"active_package_id,omitempty"`
	ProfitAllowanceUSD decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"profit_allowance_usd"`
	ProfitUsedUSD      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"profit_used_usd"`
	Status             Status          `gorm:"not null;index" json:"status"`
	ActivatedAt        *time.Time      `json:"activated_at,omitempty"`
	ExhaustedAt        *time.Time      `json:"exhausted_at,omitempty"`
	Version            int64           `gorm:"not null;default:0" json:"-"`
	CreatedAt          time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"not null" json:"updated_at"`
}

func (Entitlement) TableName() string { return "entitlements" }

// RemainingUSD is derived, never stored, and never negative.
func (e Entitlement) RemainingUSD() decimal.Decimal {
	remaining := e.ProfitAllowanceUSD.Sub(e.ProfitUsedUSD)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

func (e Entitlement) TradingAllowed() bool {
	return e.JoiningFeePaid && e.Status == StatusActive && e.RemainingUSD().IsPositive()
}

// View is the self-service projection of an entitlement.
type View struct {
	UserID             string          `json:"user_id"`
	Status             Status          `json:"status"`
	JoiningFeePaid     bool            `json:"joining_fee_paid"`
	ActivePackageID    *string         `json:"active_package_id"`
	ProfitAllowanceUSD decimal.Decimal `json:"profit_allowance_usd"`
	ProfitUsedUSD      decimal.Decimal `json:"profit_used_usd"`
	RemainingUSD       decimal.Decimal `json:"remaining_usd"`
	TradingAllowed     bool            `json:"trading_allowed"`
	ActivatedAt        *time.Time      `json:"activated_at,omitempty"`
	ExhaustedAt        *time.Time      `json:"exhausted_at,omitempty"`
}

func (e Entitlement) View() View {
	return View{
		UserID:             e.UserID,
		Status:             e.Status,
		JoiningFeePaid:     e.JoiningFeePaid,
		ActivePackageID:    e.ActivePackageID,
		ProfitAllowanceUSD: e.ProfitAllowanceUSD,
		ProfitUsedUSD:      e.ProfitUsedUSD,
		RemainingUSD:       e.RemainingUSD(),
		TradingAllowed:     e.TradingAllowed(),
		ActivatedAt:        e.ActivatedAt,
		ExhaustedAt:        e.ExhaustedAt,
	}
}
