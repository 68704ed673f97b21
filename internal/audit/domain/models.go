package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Entry is one append-only administrative audit record.
type Entry struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	AdminID    string            `gorm:"not null;index" json:"admin_id"`
	ActionType string            `gorm:"not null;index" json:"action_type"`
	EntityType string            `gorm:"not null" json:"entity_type"`
	EntityID   string            `gorm:"not null;index" json:"entity_id"`
	Reason     *string           `json:"reason,omitempty"`
	Details    datatypes.JSONMap `json:"details,omitempty"`
	RequestID  *string           `json:"request_id,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty"`
	UserAgent  *string           `json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

func (Entry) TableName() string { return "audit_logs" }

const (
	ActionCouponCreate        = "coupon.create"
	ActionCouponStatus        = "coupon.set_status"
	ActionUserDiscountAssign  = "user_discount.assign"
	ActionUserDiscountUpdate  = "user_discount.update"
	ActionUserDiscountStatus  = "user_discount.set_status"
	ActionUserDiscountRevoke  = "user_discount.revoke"
	ActionMasterTraderPreset  = "user_discount.master_trader_preset"
	ActionPerformanceFee      = "settings.performance_fee"
	ActionEarningMarkPaid     = "referral_earning.mark_paid"
	ActionPayoutApprove       = "payout_request.approve"
	ActionPayoutReject        = "payout_request.reject"
	ActionPayoutMarkPaid      = "payout_request.mark_paid"
	ActionCommissionRedistrib = "purchase.distribute"
	ActionAuthorizationDenied = "authorization.denied"
)

const (
	EntityCoupon        = "coupon"
	EntityUserDiscount  = "user_discount"
	EntityPackage       = "package"
	EntityEarning       = "referral_earning"
	EntityPayoutRequest = "payout_request"
	EntityPurchase      = "eligible_purchase"
	EntityAuthorization = "authorization"
)
