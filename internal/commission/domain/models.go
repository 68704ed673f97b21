package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutPaid    PayoutStatus = "paid"
)

// Earning is one upline level's share of a purchase. (purchase_id, level) is
// unique, so a purchase can never be paid out twice at the same level.
type Earning struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	PurchaseID      snowflake.ID    `gorm:"not null;uniqueIndex:ux_referral_earning_level" json:"purchase_id"`
	Level           int             `gorm:"not null;uniqueIndex:ux_referral_earning_level" json:"level"`
	EarnerUserID    string          `gorm:"not null;index" json:"earner_user_id"`
	BuyerUserID     string          `gorm:"not null" json:"buyer_user_id"`
	AmountUSD       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount_usd"`
	RatePct         decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"rate_pct"`
	PayoutStatus    PayoutStatus    `gorm:"not null;index" json:"payout_status"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	TransactionID   *string         `json:"transaction_id,omitempty"`
	PayoutRequestID *snowflake.ID   `gorm:"index" json:"payout_request_id,omitempty"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
}

func (Earning) TableName() string { return "referral_earnings" }

// Summary totals a set of earnings by payout status.
type Summary struct {
	PendingUSD   decimal.Decimal `json:"pending_usd"`
	PaidUSD      decimal.Decimal `json:"paid_usd"`
	TotalUSD     decimal.Decimal `json:"total_usd"`
	PendingCount int64           `json:"pending_count"`
	PaidCount    int64           `json:"paid_count"`
}
