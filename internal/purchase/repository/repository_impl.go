package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/profitledger/internal/purchase/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *domain.EligiblePurchase) (bool, error) {
	stmt := db.WithContext(ctx)
	if p.ExternalRef != nil {
		stmt = stmt.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_ref"}}, DoNothing: true})
	}
	res := stmt.Create(p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.EligiblePurchase, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByExternalRef(ctx context.Context, db *gorm.DB, ref string) (*domain.EligiblePurchase, error) {
	return r.findOne(ctx, db, "external_ref = ?", ref)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.EligiblePurchase, error) {
	var items []*domain.EligiblePurchase
	if err := db.WithContext(ctx).Where(query, arg).Limit(1).Find(&items).Error; err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE eligible_purchases SET processed_at = ? WHERE id = ? AND processed_at IS NULL`,
		now, id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.EligiblePurchase, error) {
	var items []*domain.EligiblePurchase
	stmt := db.WithContext(ctx).Model(&domain.EligiblePurchase{})
	if filter.UserID != "" {
		stmt = stmt.Where("user_id = ?", filter.UserID)
	}
	if filter.PurchaseType != "" {
		stmt = stmt.Where("purchase_type = ?", filter.PurchaseType)
	}
	if filter.Processed != nil {
		if *filter.Processed {
			stmt = stmt.Where("processed_at IS NOT NULL")
		} else {
			stmt = stmt.Where("processed_at IS NULL")
		}
	}
	if filter.CreatedBefore != nil {
		stmt = stmt.Where("created_at < ?", *filter.CreatedBefore)
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
