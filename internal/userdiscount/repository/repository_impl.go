package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/profitledger/internal/userdiscount/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, d *domain.UserDiscount) error {
	return db.WithContext(ctx).Create(d).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.UserDiscount, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByClaimCode(ctx context.Context, db *gorm.DB, code string) (*domain.UserDiscount, error) {
	return r.findOne(ctx, db, "claim_code = ?", code)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.UserDiscount, error) {
	var items []*domain.UserDiscount
	if err := db.WithContext(ctx).Where(query, arg).Limit(1).Find(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func (r *repo) FindActiveByUser(ctx context.Context, db *gorm.DB, userID string, scope domain.Scope) ([]*domain.UserDiscount, error) {
	var items []*domain.UserDiscount
	err := db.WithContext(ctx).
		Where("user_id = ? AND scope = ? AND status = ?", userID, scope, domain.StatusActive).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.UserDiscount, error) {
	var items []*domain.UserDiscount
	stmt := db.WithContext(ctx).Model(&domain.UserDiscount{})
	if filter.UserID != "" {
		stmt = stmt.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Scope != "" {
		stmt = stmt.Where("scope = ?", filter.Scope)
	}
	if filter.BeforeID != 0 {
		stmt = stmt.Where("id < ?", filter.BeforeID)
	}
	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, d *domain.UserDiscount) error {
	return db.WithContext(ctx).Model(&domain.UserDiscount{}).
		Where("id = ?", d.ID).
		Updates(map[string]any{
			"onboarding_pct":       d.OnboardingPct,
			"onboarding_fixed_usd": d.OnboardingFixedUSD,
			"trading_pct":          d.TradingPct,
			"trading_package_ids":  d.TradingPackageIDs,
			"trading_max_packages": d.TradingMaxPackages,
			"status":               d.Status,
			"note":                 d.Note,
			"updated_at":           d.UpdatedAt,
		}).Error
}

func (r *repo) IncrementTradingUse(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE user_discounts
		 SET trading_used_count = trading_used_count + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND scope = ?
		   AND (trading_max_packages IS NULL OR trading_used_count < trading_max_packages)`,
		now, id, domain.StatusActive, domain.ScopeTradingPackages,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
