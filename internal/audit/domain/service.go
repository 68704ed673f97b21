package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type RecordRequest struct {
	AdminID    string
	ActionType string
	EntityType string
	EntityID   string
	Reason     string
	Details    map[string]any
}

type ListRequest struct {
	pagination.Pagination
	AdminID    string
	ActionType string
	EntityType string
	EntityID   string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"audit_logs"`
}

type ListFilter struct {
	AdminID    string
	ActionType string
	EntityType string
	EntityID   string
	StartAt    *time.Time
	EndAt      *time.Time
	BeforeID   snowflake.ID
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entry, error)
}

type Service interface {
	// Record appends an entry using tx, so the audited mutation and its record
	// commit or roll back together.
	Record(ctx context.Context, tx *gorm.DB, req RecordRequest) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidAdmin     = errors.New("invalid_admin")
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidEntity    = errors.New("invalid_entity")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
