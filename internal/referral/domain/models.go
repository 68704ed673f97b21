package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// MaxUplineDepth is the number of ancestor levels that earn commission.
const MaxUplineDepth = 7

// Account links a user to the referrer that invited them. ReferrerUserID is
// set at most once.
type Account struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID         string       `gorm:"not null;uniqueIndex" json:"user_id"`
	ReferralCode   string       `gorm:"not null;uniqueIndex" json:"referral_code"`
	ReferrerUserID *string      `gorm:"index" json:"referrer_user_id,omitempty"`
	ReferredAt     *time.Time   `json:"referred_at,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "referral_accounts" }

type AccountView struct {
	Account
	DirectReferrals int64 `json:"direct_referrals"`
}
