package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	"github.com/smallbiznis/profitledger/internal/auditcontext"
	"github.com/smallbiznis/profitledger/internal/clock"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, req auditdomain.RecordRequest) error {
	adminID := strings.TrimSpace(req.AdminID)
	if adminID == "" {
		_, adminID = auditcontext.ActorFromContext(ctx)
	}
	if adminID == "" {
		return auditdomain.ErrInvalidAdmin
	}
	action := strings.TrimSpace(req.ActionType)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	entityType := strings.TrimSpace(req.EntityType)
	entityID := strings.TrimSpace(req.EntityID)
	if entityType == "" || entityID == "" {
		return auditdomain.ErrInvalidEntity
	}

	details := datatypes.JSONMap{}
	for key, value := range req.Details {
		if key != "" {
			details[key] = value
		}
	}

	entry := auditdomain.Entry{
		ID:         s.genID.Generate(),
		AdminID:    adminID,
		ActionType: action,
		EntityType: entityType,
		EntityID:   entityID,
		Reason:     optional(req.Reason),
		Details:    details,
		RequestID:  optional(auditcontext.RequestIDFromContext(ctx)),
		IPAddress:  optional(auditcontext.IPAddressFromContext(ctx)),
		UserAgent:  optional(auditcontext.UserAgentFromContext(ctx)),
		CreatedAt:  s.clock.Now(),
	}

	if tx == nil {
		tx = s.db
	}
	if err := s.repo.Insert(ctx, tx, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var before snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil || id == 0 {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		before = id
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		AdminID:    req.AdminID,
		ActionType: req.ActionType,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		BeforeID:   before,
		Limit:      limit,
	})
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	items, pageInfo := pagination.Page(items, limit, func(e *auditdomain.Entry) string { return e.ID.String() })
	entries := make([]auditdomain.Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, *item)
	}
	return auditdomain.ListResponse{PageInfo: pageInfo, Entries: entries}, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
