package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert reports false when the code is already taken.
	Insert(ctx context.Context, db *gorm.DB, coupon *Coupon) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Coupon, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Coupon, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Coupon, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, now time.Time) error
	// ExpireDue flips active coupons whose expiry has passed to expired.
	ExpireDue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
	// IncrementIfAvailable advances the redemption counter only while the
	// coupon is active and below its cap; it reports whether it did.
	IncrementIfAvailable(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	HasRedemption(ctx context.Context, db *gorm.DB, couponID snowflake.ID, userID string) (bool, error)
	InsertRedemption(ctx context.Context, db *gorm.DB, redemption *Redemption) error
}

type ListFilter struct {
	Status   Status
	Scope    string
	BeforeID snowflake.ID
	Limit    int
}

type CreateRequest struct {
	AdminID        string
	Code           string
	DiscountPct    decimal.Decimal
	Scope          string
	MaxRedemptions *int
	DurationMonths int
	ExpiresAt      *time.Time
	Description    string
}

type RedeemRequest struct {
	Code         string
	UserID       string
	PurchaseType PurchaseType
	PackageID    string
}

type SetStatusRequest struct {
	AdminID string
	ID      string
	Status  string
	Reason  string
}

type ListRequest struct {
	pagination.Pagination
	Status string
	Scope  string
}

type ListResponse struct {
	pagination.PageInfo
	Coupons []Coupon `json:"coupons"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Coupon, error)
	Get(ctx context.Context, id string) (Coupon, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	SetStatus(ctx context.Context, req SetStatusRequest) (Coupon, error)
	// Preview returns the coupon a redemption would use without consuming it.
	Preview(ctx context.Context, req RedeemRequest) (Coupon, error)
	Redeem(ctx context.Context, req RedeemRequest) (Redemption, error)
	RedeemTx(ctx context.Context, tx *gorm.DB, req RedeemRequest) (Redemption, error)
}

var (
	ErrInvalidCode           = errors.New("invalid_coupon_code")
	ErrInvalidDiscountPct    = errors.New("invalid_discount_pct")
	ErrInvalidDurationMonths = errors.New("invalid_duration_months")
	ErrInvalidScope          = errors.New("invalid_scope")
	ErrInvalidMaxRedemptions = errors.New("invalid_max_redemptions")
	ErrInvalidExpiry         = errors.New("invalid_expires_at")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrInvalidUserID         = errors.New("invalid_user_id")
	ErrInvalidPurchaseType   = errors.New("invalid_purchase_type")
	ErrInvalidID             = errors.New("invalid_coupon_id")
	ErrInvalidPageToken      = errors.New("invalid_page_token")
	ErrNotFound              = errors.New("coupon_not_found")
	ErrCodeTaken             = errors.New("coupon_code_taken")
	ErrExhausted             = errors.New("coupon_exhausted")
	ErrExpired               = errors.New("coupon_expired")
	ErrScopeMismatch         = errors.New("scope_mismatch")
	ErrInactive              = errors.New("coupon_inactive")
	ErrAlreadyRedeemed       = errors.New("coupon_already_redeemed")
)
