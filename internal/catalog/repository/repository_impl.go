package repository

import (
	"context"

	"github.com/smallbiznis/profitledger/internal/catalog/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListSettings(ctx context.Context, db *gorm.DB) ([]*domain.PackageSetting, error) {
	var settings []*domain.PackageSetting
	err := db.WithContext(ctx).Raw(
		`SELECT package_id, performance_fee_pct, updated_by, updated_at FROM package_settings`,
	).Scan(&settings).Error
	if err != nil {
		return nil, err
	}
	return settings, nil
}

func (r *repo) UpsertSetting(ctx context.Context, db *gorm.DB, setting *domain.PackageSetting) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "package_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"performance_fee_pct", "updated_by", "updated_at"}),
	}).Create(setting).Error
}
