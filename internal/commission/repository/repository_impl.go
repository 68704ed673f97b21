package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/profitledger/internal/commission/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEarnings(ctx context.Context, db *gorm.DB, earnings []*domain.Earning) error {
	if len(earnings) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&earnings).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Earning, error) {
	var items []*domain.Earning
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func (r *repo) ListByPurchase(ctx context.Context, db *gorm.DB, purchaseID snowflake.ID) ([]*domain.Earning, error) {
	var items []*domain.Earning
	err := db.WithContext(ctx).
		Where("purchase_id = ?", purchaseID).
		Order("level asc").
		Find(&items).Error
	return items, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Earning, error) {
	var items []*domain.Earning
	stmt := r.filtered(db.WithContext(ctx).Model(&domain.Earning{}), filter)
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

func (r *repo) Summarize(ctx context.Context, db *gorm.DB, filter domain.ListFilter) (domain.Summary, error) {
	var rows []struct {
		PayoutStatus domain.PayoutStatus
		Total        decimal.Decimal
		Count        int64
	}
	stmt := r.filtered(db.WithContext(ctx).Model(&domain.Earning{}), filter)
	err := stmt.
		Select("payout_status, COALESCE(SUM(amount_usd), 0) AS total, COUNT(1) AS count").
		Group("payout_status").
		Scan(&rows).Error
	if err != nil {
		return domain.Summary{}, err
	}

	summary := domain.Summary{PendingUSD: decimal.Zero, PaidUSD: decimal.Zero, TotalUSD: decimal.Zero}
	for _, row := range rows {
		total := row.Total.Round(2)
		switch row.PayoutStatus {
		case domain.PayoutPending:
			summary.PendingUSD = total
			summary.PendingCount = row.Count
		case domain.PayoutPaid:
			summary.PaidUSD = total
			summary.PaidCount = row.Count
		}
	}
	summary.TotalUSD = summary.PendingUSD.Add(summary.PaidUSD)
	return summary, nil
}

func (r *repo) filtered(stmt *gorm.DB, filter domain.ListFilter) *gorm.DB {
	if filter.EarnerUserID != "" {
		stmt = stmt.Where("earner_user_id = ?", filter.EarnerUserID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("payout_status = ?", filter.Status)
	}
	if filter.PurchaseID != 0 {
		stmt = stmt.Where("purchase_id = ?", filter.PurchaseID)
	}
	if filter.PayoutRequestID != 0 {
		stmt = stmt.Where("payout_request_id = ?", filter.PayoutRequestID)
	}
	return stmt
}

func (r *repo) PendingForEarner(ctx context.Context, db *gorm.DB, earnerUserID string) ([]*domain.Earning, error) {
	var items []*domain.Earning
	err := db.WithContext(ctx).
		Where("earner_user_id = ? AND payout_status = ?", earnerUserID, domain.PayoutPending).
		Order("id asc").
		Find(&items).Error
	return items, err
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, ids []snowflake.ID, update domain.PaidUpdate) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Model(&domain.Earning{}).
		Where("id IN ? AND payout_status = ?", ids, domain.PayoutPending).
		Updates(map[string]any{
			"payout_status":     domain.PayoutPaid,
			"paid_at":           update.PaidAt,
			"transaction_id":    update.TransactionID,
			"payout_request_id": update.PayoutRequestID,
		})
	return res.RowsAffected, res.Error
}
