package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/profitledger/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (
			id, admin_id, action_type, entity_type, entity_id, reason,
			details, request_id, ip_address, user_agent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.AdminID,
		entry.ActionType,
		entry.EntityType,
		entry.EntityID,
		entry.Reason,
		entry.Details,
		entry.RequestID,
		entry.IPAddress,
		entry.UserAgent,
		entry.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	stmt := db.WithContext(ctx).Model(&domain.Entry{})

	if v := strings.TrimSpace(filter.AdminID); v != "" {
		stmt = stmt.Where("admin_id = ?", v)
	}
	if v := strings.TrimSpace(filter.ActionType); v != "" {
		stmt = stmt.Where("action_type = ?", v)
	}
	if v := strings.TrimSpace(filter.EntityType); v != "" {
		stmt = stmt.Where("entity_type = ?", v)
	}
	if v := strings.TrimSpace(filter.EntityID); v != "" {
		stmt = stmt.Where("entity_id = ?", v)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
	}
	if filter.BeforeID != 0 {
		stmt = stmt.Where("id < ?", filter.BeforeID)
	}

	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
