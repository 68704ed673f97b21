package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/profitledger/internal/entitlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `id, user_id, joining_fee_paid, joining_fee_paid_at, active_package_id,
	profit_allowance_usd, profit_used_usd, status, activated_at, exhausted_at,
	version, created_at, updated_at`

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*domain.Entitlement, error) {
	var e domain.Entitlement
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM entitlements WHERE user_id = ?`,
		userID,
	).Scan(&e).Error
	if err != nil {
		return nil, err
	}
	if e.ID == 0 {
		return nil, nil
	}
	return &e, nil
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, e *domain.Entitlement) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(e).Error
}

func (r *repo) UpdateVersioned(ctx context.Context, db *gorm.DB, e *domain.Entitlement, expected int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE entitlements SET
			joining_fee_paid = ?, joining_fee_paid_at = ?, active_package_id = ?,
			profit_allowance_usd = ?, profit_used_usd = ?, status = ?,
			activated_at = ?, exhausted_at = ?, version = ?, updated_at = ?
		 WHERE user_id = ? AND version = ?`,
		e.JoiningFeePaid,
		e.JoiningFeePaidAt,
		e.ActivePackageID,
		e.ProfitAllowanceUSD,
		e.ProfitUsedUSD,
		e.Status,
		e.ActivatedAt,
		e.ExhaustedAt,
		expected+1,
		e.UpdatedAt,
		e.UserID,
		expected,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Entitlement, error) {
	var items []*domain.Entitlement
	stmt := db.WithContext(ctx).Model(&domain.Entitlement{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if v := strings.TrimSpace(filter.UserID); v != "" {
		stmt = stmt.Where("user_id = ?", v)
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
