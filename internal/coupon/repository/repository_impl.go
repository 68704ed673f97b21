package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/profitledger/internal/coupon/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, coupon *domain.Coupon) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(coupon)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Coupon, error) {
	var coupon domain.Coupon
	err := db.WithContext(ctx).Raw(`SELECT * FROM coupons WHERE id = ?`, id).Scan(&coupon).Error
	if err != nil {
		return nil, err
	}
	if coupon.ID == 0 {
		return nil, nil
	}
	return &coupon, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Coupon, error) {
	var coupon domain.Coupon
	err := db.WithContext(ctx).Raw(`SELECT * FROM coupons WHERE code = ?`, code).Scan(&coupon).Error
	if err != nil {
		return nil, err
	}
	if coupon.ID == 0 {
		return nil, nil
	}
	return &coupon, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Coupon, error) {
	var items []*domain.Coupon
	stmt := db.WithContext(ctx).Model(&domain.Coupon{})
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

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE coupons SET status = ?, updated_at = ? WHERE id = ?`,
		status, now, id,
	).Error
}

func (r *repo) ExpireDue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE coupons SET status = ?, updated_at = ?
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		domain.StatusExpired, now, domain.StatusActive, now,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) IncrementIfAvailable(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE coupons
		 SET current_redemptions = current_redemptions + 1, updated_at = ?
		 WHERE id = ? AND status = ?
		   AND (max_redemptions IS NULL OR current_redemptions < max_redemptions)`,
		now, id, domain.StatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) HasRedemption(ctx context.Context, db *gorm.DB, couponID snowflake.ID, userID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM coupon_redemptions WHERE coupon_id = ? AND user_id = ?`,
		couponID, userID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) InsertRedemption(ctx context.Context, db *gorm.DB, redemption *domain.Redemption) error {
	return db.WithContext(ctx).Create(redemption).Error
}
