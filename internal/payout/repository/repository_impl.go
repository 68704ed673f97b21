package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/profitledger/internal/payout/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, req *domain.PayoutRequest) error {
	return db.WithContext(ctx).Create(req).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PayoutRequest, error) {
	var items []*domain.PayoutRequest
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.PayoutRequest, error) {
	stmt := db.WithContext(ctx).Model(&domain.PayoutRequest{})
	if filter.UserID != "" {
		stmt = stmt.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.BeforeID != 0 {
		stmt = stmt.Where("id < ?", filter.BeforeID)
	}
	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var items []*domain.PayoutRequest
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Reserved(ctx context.Context, db *gorm.DB, userID string) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount_usd), 0) FROM payout_requests WHERE user_id = ? AND status IN (?, ?)`,
		userID, domain.StatusPending, domain.StatusApproved,
	).Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal.Round(2), nil
}

func (r *repo) Unsettled(ctx context.Context, db *gorm.DB, userID string) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount_usd - settled_usd), 0) FROM payout_requests WHERE user_id = ? AND status = ?`,
		userID, domain.StatusPaid,
	).Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid || !total.Decimal.IsPositive() {
		return decimal.Zero, nil
	}
	return total.Decimal.Round(2), nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.Status, update domain.Transition) (bool, error) {
	values := map[string]any{
		"status":     update.To,
		"updated_at": update.At,
	}
	switch update.To {
	case domain.StatusApproved, domain.StatusRejected:
		values["decided_at"] = update.At
		values["decided_by"] = update.DecidedBy
	case domain.StatusPaid:
		values["paid_at"] = update.At
	}
	if update.RejectReason != nil {
		values["reject_reason"] = update.RejectReason
	}
	if update.PayoutTxID != nil {
		values["payout_tx_id"] = update.PayoutTxID
	}
	if update.SettledUSD != nil {
		values["settled_usd"] = *update.SettledUSD
	}

	res := db.WithContext(ctx).Model(&domain.PayoutRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
