package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	ListSettings(ctx context.Context, db *gorm.DB) ([]*PackageSetting, error)
	UpsertSetting(ctx context.Context, db *gorm.DB, setting *PackageSetting) error
}

type UpdateFeesRequest struct {
	AdminID string
	Reason  string
	// Fees maps package id to its new performance-fee percent.
	Fees map[string]decimal.Decimal
}

type Settings struct {
	OnboardingFeeUSD decimal.Decimal `json:"onboarding_fee_usd"`
	Packages         []Package       `json:"packages"`
}

type Service interface {
	Get(ctx context.Context, packageID string) (Package, error)
	List(ctx context.Context) ([]Package, error)
	OnboardingFee() decimal.Decimal
	Settings(ctx context.Context) (Settings, error)
	UpdatePerformanceFees(ctx context.Context, req UpdateFeesRequest) (Settings, error)
}

var (
	ErrPackageNotFound          = errors.New("package_not_found")
	ErrInvalidPerformanceFeePct = errors.New("invalid_performance_fee_pct")
	ErrInvalidFees              = errors.New("invalid_fees")
)
