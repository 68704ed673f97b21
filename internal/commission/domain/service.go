package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	purchasedomain "github.com/smallbiznis/profitledger/internal/purchase/domain"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	InsertEarnings(ctx context.Context, db *gorm.DB, earnings []*Earning) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Earning, error)
	ListByPurchase(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID) ([]*Earning, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Earning, error)
	Summarize(ctx context.Context, db *gorm.DB, filter ListFilter) (Summary, error)
	// PendingForEarner returns unpaid earnings oldest first.
	PendingForEarner(ctx context.Context, db *gorm.DB, earnerUserID string) ([]*Earning, error)
	// MarkPaid flips pending earnings to paid; it returns how many changed.
	MarkPaid(ctx context.Context, db *gorm.DB, ids []snowflake.ID, update PaidUpdate) (int64, error)
}

type PaidUpdate struct {
	PaidAt          time.Time
	TransactionID   *string
	PayoutRequestID *snowflake.ID
}

type ListFilter struct {
	EarnerUserID string
	Status       PayoutStatus
	PurchaseID   snowflake.ID
	// PayoutRequestID selects the earnings a payout request settled.
	PayoutRequestID snowflake.ID
	BeforeID        snowflake.ID
	Limit           int
}

type DistributeRequest struct {
	AdminID    string
	PurchaseID string
	Reason     string
}

type DistributionResult struct {
	PurchaseID       snowflake.ID    `json:"purchase_id"`
	AlreadyProcessed bool            `json:"already_processed"`
	PoolUSD          decimal.Decimal `json:"pool_usd"`
	DistributedUSD   decimal.Decimal `json:"distributed_usd"`
	RetainedUSD      decimal.Decimal `json:"retained_usd"`
	Earnings         []Earning       `json:"earnings"`
}

type ListRequest struct {
	pagination.Pagination
	EarnerUserID string
	Status       string
	PurchaseID   string
}

type ListResponse struct {
	pagination.PageInfo
	Earnings []Earning `json:"earnings"`
	Summary  Summary   `json:"summary"`
}

type Service interface {
	// DistributeTx writes the purchase's earnings inside tx, at most once per
	// purchase. A purchase that was already processed yields its existing rows.
	DistributeTx(ctx context.Context, tx *gorm.DB, purchase purchasedomain.EligiblePurchase) (DistributionResult, error)
	// Distribute is the audited admin retry for a single purchase.
	Distribute(ctx context.Context, req DistributeRequest) (DistributionResult, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Summary(ctx context.Context, earnerUserID string) (Summary, error)
	// PublishDistributed announces a committed distribution.
	PublishDistributed(ctx context.Context, purchase purchasedomain.EligiblePurchase, result DistributionResult)
}

var (
	ErrInvalidPurchaseID = errors.New("invalid_purchase_id")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
	ErrPurchaseNotFound  = errors.New("purchase_not_found")
	ErrNotFound          = errors.New("referral_earning_not_found")
)
