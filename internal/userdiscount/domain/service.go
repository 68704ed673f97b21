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
	Insert(ctx context.Context, db *gorm.DB, d *UserDiscount) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UserDiscount, error)
	FindByClaimCode(ctx context.Context, db *gorm.DB, code string) (*UserDiscount, error)
	FindActiveByUser(ctx context.Context, db *gorm.DB, userID string, scope Scope) ([]*UserDiscount, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*UserDiscount, error)
	Update(ctx context.Context, db *gorm.DB, d *UserDiscount) error
	// IncrementTradingUse advances the usage counter only while the discount
	// is active and below its cap; it reports whether it did.
	IncrementTradingUse(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
}

type ListFilter struct {
	UserID   string
	Status   Status
	Scope    Scope
	BeforeID snowflake.ID
	Limit    int
}

type AssignRequest struct {
	AdminID            string
	UserID             string
	Scope              string
	OnboardingPct      *decimal.Decimal
	OnboardingFixedUSD *decimal.Decimal
	TradingPct         *decimal.Decimal
	TradingPackageIDs  []string
	TradingMaxPackages *int
	Note               string
	Reason             string
}

// UpdateRequest carries a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	AdminID            string
	ID                 string
	OnboardingPct      *decimal.Decimal
	OnboardingFixedUSD *decimal.Decimal
	TradingPct         *decimal.Decimal
	TradingPackageIDs  *[]string
	TradingMaxPackages *int
	Status             *string
	Note               *string
	Reason             string
}

type SetStatusRequest struct {
	AdminID string
	ID      string
	Status  string
	Reason  string
}

type PresetRequest struct {
	AdminID  string
	UserID   string
	Duration string
	Reason   string
}

type ListRequest struct {
	pagination.Pagination
	UserID string
	Status string
	Scope  string
}

type ListResponse struct {
	pagination.PageInfo
	UserDiscounts []UserDiscount `json:"user_discounts"`
}

type Service interface {
	Assign(ctx context.Context, req AssignRequest) (UserDiscount, error)
	Update(ctx context.Context, req UpdateRequest) (UserDiscount, error)
	SetStatus(ctx context.Context, req SetStatusRequest) (UserDiscount, error)
	Revoke(ctx context.Context, adminID, id, reason string) (UserDiscount, error)
	CreateMasterTraderPreset(ctx context.Context, req PresetRequest) ([]UserDiscount, error)
	Get(ctx context.Context, id string) (UserDiscount, error)
	GetByClaimCode(ctx context.Context, code string) (UserDiscount, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)

	// Applicable returns the user's active discounts usable for the purchase.
	Applicable(ctx context.Context, db *gorm.DB, userID string, packageID string) ([]UserDiscount, error)
	// ApplyTradingTx consumes one package use of a trading discount inside tx.
	ApplyTradingTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) error
}

var (
	ErrInvalidUserID       = errors.New("invalid_user_id")
	ErrInvalidScope        = errors.New("invalid_scope")
	ErrInvalidPct          = errors.New("invalid_discount_pct")
	ErrInvalidFixedAmount  = errors.New("invalid_fixed_amount")
	ErrOnboardingValueReq  = errors.New("onboarding_value_required")
	ErrTradingPctRequired  = errors.New("trading_pct_required")
	ErrTradingMaxRequired  = errors.New("trading_max_packages_required")
	ErrInvalidTradingMax   = errors.New("invalid_trading_max_packages")
	ErrUnknownPackage      = errors.New("unknown_package")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidDuration     = errors.New("invalid_preset_duration")
	ErrInvalidID           = errors.New("invalid_user_discount_id")
	ErrInvalidClaimCode    = errors.New("invalid_claim_code")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrNotFound            = errors.New("user_discount_not_found")
	ErrRevoked             = errors.New("user_discount_revoked")
	ErrNotActive           = errors.New("user_discount_inactive")
	ErrTradingUseExhausted = errors.New("user_discount_exhausted")
	ErrNotOwner            = errors.New("user_discount_not_owned")
)
