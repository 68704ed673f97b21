package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	commissiondomain "github.com/smallbiznis/profitledger/internal/commission/domain"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, req *PayoutRequest) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PayoutRequest, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*PayoutRequest, error)
	// Reserved sums the amounts of the user's PENDING and APPROVED requests.
	Reserved(ctx context.Context, db *gorm.DB, userID string) (decimal.Decimal, error)
	// Unsettled is what PAID requests sent beyond the earnings they settled.
	// It is never negative.
	Unsettled(ctx context.Context, db *gorm.DB, userID string) (decimal.Decimal, error)
	// Transition applies update only while the row is still in from.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from Status, update Transition) (bool, error)
}

type Transition struct {
	To           Status
	At           time.Time
	DecidedBy    *string
	RejectReason *string
	PayoutTxID   *string
	SettledUSD   *decimal.Decimal
}

type ListFilter struct {
	UserID   string
	Status   Status
	BeforeID snowflake.ID
	Limit    int
}

type CreateRequest struct {
	UserID        string
	AmountUSD     decimal.Decimal
	WalletAddress string
}

type DecisionRequest struct {
	AdminID string
	ID      string
	Reason  string
}

type MarkPaidRequest struct {
	AdminID    string
	ID         string
	PayoutTxID string
	Reason     string
}

type MarkEarningPaidRequest struct {
	AdminID       string
	EarningID     string
	TransactionID string
	Reason        string
}

type ListRequest struct {
	pagination.Pagination
	UserID string
	Status string
}

type ListResponse struct {
	pagination.PageInfo
	PayoutRequests []PayoutRequest `json:"payout_requests"`
}

// Receipt is a paid request with the earnings it settled.
type Receipt struct {
	Request  PayoutRequest              `json:"payout_request"`
	Earnings []commissiondomain.Earning `json:"earnings"`
}

type Service interface {
	// MarkEarningPaid settles a single earning; repeating it is a no-op.
	MarkEarningPaid(ctx context.Context, req MarkEarningPaidRequest) (commissiondomain.Earning, error)

	Create(ctx context.Context, req CreateRequest) (PayoutRequest, error)
	Approve(ctx context.Context, req DecisionRequest) (PayoutRequest, error)
	Reject(ctx context.Context, req DecisionRequest) (PayoutRequest, error)
	MarkPaid(ctx context.Context, req MarkPaidRequest) (PayoutRequest, error)

	Get(ctx context.Context, id string) (PayoutRequest, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Balance(ctx context.Context, userID string) (Balance, error)
	Receipt(ctx context.Context, id string) (Receipt, error)
}

var (
	ErrInvalidUserID       = errors.New("invalid_user_id")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidWallet       = errors.New("invalid_wallet_address")
	ErrInvalidID           = errors.New("invalid_payout_request_id")
	ErrInvalidEarningID    = errors.New("invalid_referral_earning_id")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrNotFound            = errors.New("payout_request_not_found")
	ErrEarningNotFound     = errors.New("referral_earning_not_found")
	ErrInsufficientBalance = errors.New("insufficient_pending_earnings")
	ErrInvalidTransition   = errors.New("invalid_status_transition")
	ErrNotPaid             = errors.New("payout_request_not_paid")
	ErrSettlementConflict  = errors.New("settlement_conflict")
)
