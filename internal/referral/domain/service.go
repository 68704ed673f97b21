package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*Account, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Account, error)
	// InsertIfAbsent ignores any unique conflict; callers re-read by user id.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, account *Account) error
	// SetReferrer attaches a referrer only if none is set yet.
	SetReferrer(ctx context.Context, db *gorm.DB, userID, referrerUserID string, now time.Time) (bool, error)
	ReferrerOf(ctx context.Context, db *gorm.DB, userID string) (string, error)
	CountDirectReferrals(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	// Touch bumps the account row so concurrent writers for the same user
	// queue behind the row lock; false means the user has no account.
	Touch(ctx context.Context, db *gorm.DB, userID string, now time.Time) (bool, error)
}

type EnrollRequest struct {
	UserID       string
	ReferralCode string
}

type Service interface {
	Enroll(ctx context.Context, req EnrollRequest) (Account, error)
	Get(ctx context.Context, userID string) (AccountView, error)
	// ResolveUpline returns up to MaxUplineDepth ancestors, nearest first.
	// A nil db reads through the service's own handle.
	ResolveUpline(ctx context.Context, db *gorm.DB, userID string) ([]string, error)
}

var (
	ErrInvalidUserID       = errors.New("invalid_user_id")
	ErrInvalidReferralCode = errors.New("invalid_referral_code")
	ErrSelfReferral        = errors.New("self_referral")
	ErrReferralCycle       = errors.New("referral_cycle")
	ErrReferrerAlreadySet  = errors.New("referrer_already_set")
	ErrCodeNotFound        = errors.New("referral_code_not_found")
	ErrNotFound            = errors.New("referral_account_not_found")
)
