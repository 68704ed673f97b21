package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/profitledger/internal/discount"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert reports false when ExternalRef was already recorded.
	Insert(ctx context.Context, db *gorm.DB, p *EligiblePurchase) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*EligiblePurchase, error)
	FindByExternalRef(ctx context.Context, db *gorm.DB, ref string) (*EligiblePurchase, error)
	// MarkProcessed claims the purchase for distribution; false means another
	// caller already did.
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*EligiblePurchase, error)
}

type ListFilter struct {
	UserID        string
	PurchaseType  Type
	Processed     *bool
	CreatedBefore *time.Time
	BeforeID      snowflake.ID
	Limit         int
}

// RecordRequest describes a confirmed payment. ExternalRef, when set, makes
// the call idempotent per payment.
type RecordRequest struct {
	UserID       string
	PurchaseType string
	PackageID    string
	CouponCode   string
	ExternalRef  string
	Metadata     map[string]any
}

type QuoteRequest struct {
	UserID       string
	PurchaseType string
	PackageID    string
	CouponCode   string
}

type Quote struct {
	PurchaseType Type    `json:"purchase_type"`
	PackageID    *string `json:"package_id,omitempty"`
	discount.Quote
}

type RecordResult struct {
	Purchase EligiblePurchase `json:"purchase"`
	Quote    discount.Quote   `json:"quote"`
	// Replayed is true when ExternalRef matched an earlier purchase.
	Replayed         bool            `json:"replayed"`
	CommissionUSD    decimal.Decimal `json:"commission_usd"`
	CommissionLevels int             `json:"commission_levels"`
}

type ListRequest struct {
	pagination.Pagination
	UserID       string
	PurchaseType string
	Processed    *bool
}

type ListResponse struct {
	pagination.PageInfo
	Purchases []EligiblePurchase `json:"purchases"`
}

type Service interface {
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
	Record(ctx context.Context, req RecordRequest) (RecordResult, error)
	Get(ctx context.Context, id string) (EligiblePurchase, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidUserID       = errors.New("invalid_user_id")
	ErrInvalidPurchaseType = errors.New("invalid_purchase_type")
	ErrPackageRequired     = errors.New("package_id_required")
	ErrInvalidID           = errors.New("invalid_purchase_id")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrNotFound            = errors.New("purchase_not_found")
	ErrExternalRefConflict = errors.New("external_ref_conflict")
	ErrClaimCodeNotOwned   = errors.New("claim_code_not_owned")
)
