package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusPaid     Status = "PAID"
	StatusRejected Status = "REJECTED"
)

// transitions lists every legal move; PAID and REJECTED have none.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusPaid},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusPaid, StatusRejected:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) CanMoveTo(next Status) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// PayoutRequest is a user's request to cash out pending referral earnings.
// SettledUSD is what mark-paid actually settled. Earnings are settled whole,
// so it can sit below AmountUSD; the shortfall is carried as unsettled credit
// and settled by the user's next payout, which can then exceed its amount.
type PayoutRequest struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID        string          `gorm:"not null;index" json:"user_id"`
	AmountUSD     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount_usd"`
	SettledUSD    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"settled_usd"`
	Status        Status          `gorm:"not null;index" json:"status"`
	WalletAddress string          `gorm:"not null" json:"payout_wallet_address"`
	PayoutTxID    *string         `json:"payout_tx_id,omitempty"`
	RejectReason  *string         `json:"reject_reason,omitempty"`
	DecidedBy     *string         `json:"decided_by,omitempty"`
	RequestedAt   time.Time       `gorm:"not null" json:"requested_at"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	UpdatedAt     time.Time       `gorm:"not null" json:"updated_at"`
}

func (PayoutRequest) TableName() string { return "payout_requests" }

// Balance is a user's referral money position.
type Balance struct {
	UserID      string          `json:"user_id"`
	PendingUSD  decimal.Decimal `json:"pending_usd"`
	PaidUSD     decimal.Decimal `json:"paid_usd"`
	ReservedUSD decimal.Decimal `json:"reserved_usd"`
	// UnsettledUSD was already sent by PAID requests but not yet matched to
	// earnings. The next payout settles it first.
	UnsettledUSD decimal.Decimal `json:"unsettled_usd"`
	// AvailableUSD is pending minus open requests and unsettled payouts.
	AvailableUSD decimal.Decimal `json:"available_usd"`
}
