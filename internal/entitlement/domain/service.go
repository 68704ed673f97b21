package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/profitledger/internal/catalog/domain"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*Entitlement, error)
	InsertIfAbsent(ctx context.Context, db *gorm.DB, e *Entitlement) error
	// UpdateVersioned writes e only if the stored version still equals
	// expected; it reports whether the row was written.
	UpdateVersioned(ctx context.Context, db *gorm.DB, e *Entitlement, expected int64) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entitlement, error)
}

type ListFilter struct {
	Status   Status
	UserID   string
	BeforeID snowflake.ID
	Limit    int
}

type ListRequest struct {
	pagination.Pagination
	Status string
	UserID string
}

type ListResponse struct {
	pagination.PageInfo
	Entitlements []View `json:"entitlements"`
}

// ProfitResult reports the state after a profit event and whether that event
// exhausted the allowance.
type ProfitResult struct {
	Entitlement Entitlement
	Exhausted   bool
}

type Service interface {
	// The *Tx variants join a caller's unit of work; tx must not be nil.
	ActivatePackageTx(ctx context.Context, tx *gorm.DB, userID string, pkg catalogdomain.Package, amountPaidUSD decimal.Decimal) (Entitlement, error)
	RecordJoiningFeePaymentTx(ctx context.Context, tx *gorm.DB, userID string, amountPaidUSD decimal.Decimal) (Entitlement, error)

	ActivatePackage(ctx context.Context, userID, packageID string, amountPaidUSD decimal.Decimal) (Entitlement, error)
	RecordJoiningFeePayment(ctx context.Context, userID string, amountPaidUSD decimal.Decimal) (Entitlement, error)
	ConsumeProfit(ctx context.Context, userID string, profitDeltaUSD decimal.Decimal) (ProfitResult, error)
	IsTradingAllowed(ctx context.Context, userID string) (bool, error)
	Get(ctx context.Context, userID string) (View, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidUserID      = errors.New("invalid_user_id")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidProfitDelta = errors.New("invalid_profit_delta")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
	ErrNotFound           = errors.New("entitlement_not_found")
	ErrConcurrentUpdate   = errors.New("entitlement_concurrent_update")
	ErrAllowanceExceeded  = errors.New("ALLOWANCE_EXCEEDED")
)
