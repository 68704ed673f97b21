package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/profitledger/internal/catalog/domain"
	"github.com/smallbiznis/profitledger/internal/clock"
	entitlementdomain "github.com/smallbiznis/profitledger/internal/entitlement/domain"
	"github.com/smallbiznis/profitledger/internal/events"
	obsmetrics "github.com/smallbiznis/profitledger/internal/observability/metrics"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxVersionAttempts bounds optimistic retries for a single ledger write.
const maxVersionAttempts = 16

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       entitlementdomain.Repository
	CatalogSvc catalogdomain.Service
	Events     events.Publisher    `optional:"true"`
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       entitlementdomain.Repository
	catalogSvc catalogdomain.Service
	events     events.Publisher
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) entitlementdomain.Service {
	publisher := p.Events
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("entitlement.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		catalogSvc: p.CatalogSvc,
		events:     publisher,
		metrics:    p.Metrics,
	}
}

func (s *Service) ActivatePackage(ctx context.Context, userID, packageID string, amountPaidUSD decimal.Decimal) (entitlementdomain.Entitlement, error) {
	pkg, err := s.catalogSvc.Get(ctx, packageID)
	if err != nil {
		return entitlementdomain.Entitlement{}, err
	}

	var out entitlementdomain.Entitlement
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.ActivatePackageTx(ctx, tx, userID, pkg, amountPaidUSD)
		return err
	})
	return out, err
}

func (s *Service) ActivatePackageTx(ctx context.Context, tx *gorm.DB, userID string, pkg catalogdomain.Package, amountPaidUSD decimal.Decimal) (entitlementdomain.Entitlement, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return entitlementdomain.Entitlement{}, entitlementdomain.ErrInvalidUserID
	}
	if pkg.ID == "" {
		return entitlementdomain.Entitlement{}, catalogdomain.ErrPackageNotFound
	}
	if amountPaidUSD.IsNegative() {
		return entitlementdomain.Entitlement{}, entitlementdomain.ErrInvalidAmount
	}

	out, err := s.mutate(ctx, tx, userID, true, func(e *entitlementdomain.Entitlement) error {
		now := s.clock.Now()
		packageID := pkg.ID
		e.ActivePackageID = &packageID
		e.ProfitAllowanceUSD = pkg.ProfitAllowanceUSD
		e.ProfitUsedUSD = decimal.Zero
		e.Status = entitlementdomain.StatusActive
		e.ActivatedAt = &now
		e.ExhaustedAt = nil
		return nil
	})
	if err != nil {
		return out, err
	}

	s.log.Info("package activated",
		zap.String("user_id", userID),
		zap.String("package_id", pkg.ID),
		zap.String("amount_paid_usd", amountPaidUSD.StringFixed(2)),
		zap.String("allowance_usd", pkg.ProfitAllowanceUSD.StringFixed(2)),
	)
	return out, nil
}

func (s *Service) RecordJoiningFeePayment(ctx context.Context, userID string, amountPaidUSD decimal.Decimal) (entitlementdomain.Entitlement, error) {
	var out entitlementdomain.Entitlement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.RecordJoiningFeePaymentTx(ctx, tx, userID, amountPaidUSD)
		return err
	})
	return out, err
}

func (s *Service) RecordJoiningFeePaymentTx(ctx context.Context, tx *gorm.DB, userID string, amountPaidUSD decimal.Decimal) (entitlementdomain.Entitlement, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return entitlementdomain.Entitlement{}, entitlementdomain.ErrInvalidUserID
	}
	if amountPaidUSD.IsNegative() {
		return entitlementdomain.Entitlement{}, entitlementdomain.ErrInvalidAmount
	}

	out, err := s.mutate(ctx, tx, userID, true, func(e *entitlementdomain.Entitlement) error {
		now := s.clock.Now()
		e.JoiningFeePaid = true
		e.JoiningFeePaidAt = &now
		return nil
	})
	if err != nil {
		return out, err
	}

	s.log.Info("joining fee recorded",
		zap.String("user_id", userID),
		zap.String("amount_paid_usd", amountPaidUSD.StringFixed(2)),
	)
	return out, nil
}

func (s *Service) ConsumeProfit(ctx context.Context, userID string, profitDeltaUSD decimal.Decimal) (entitlementdomain.ProfitResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return entitlementdomain.ProfitResult{}, entitlementdomain.ErrInvalidUserID
	}
	// Losses never replenish the allowance. Amounts are stored in cents.
	if !profitDeltaUSD.IsPositive() || !profitDeltaUSD.Equal(profitDeltaUSD.Round(2)) {
		return entitlementdomain.ProfitResult{}, entitlementdomain.ErrInvalidProfitDelta
	}

	exhausted := false
	out, err := s.mutate(ctx, s.db, userID, false, func(e *entitlementdomain.Entitlement) error {
		exhausted = false
		e.ProfitUsedUSD = e.ProfitUsedUSD.Add(profitDeltaUSD)
		if e.Status == entitlementdomain.StatusActive && e.RemainingUSD().IsZero() {
			now := s.clock.Now()
			e.Status = entitlementdomain.StatusExhausted
			e.ExhaustedAt = &now
			exhausted = true
		}
		return nil
	})
	if err != nil {
		return entitlementdomain.ProfitResult{}, err
	}

	if exhausted {
		s.metrics.RecordEntitlementExhausted()
		s.log.Info("profit allowance exhausted",
			zap.String("user_id", userID),
			zap.String("profit_used_usd", out.ProfitUsedUSD.StringFixed(2)),
			zap.String("allowance_usd", out.ProfitAllowanceUSD.StringFixed(2)),
		)
		occurredAt := s.clock.Now()
		if out.ExhaustedAt != nil {
			occurredAt = *out.ExhaustedAt
		}
		events.Emit(ctx, s.events, s.log, events.Event{
			Type:       events.TypeEntitlementExhausted,
			OccurredAt: occurredAt,
			Payload: map[string]any{
				"user_id":              out.UserID,
				"package_id":           out.ActivePackageID,
				"profit_used_usd":      out.ProfitUsedUSD.StringFixed(2),
				"profit_allowance_usd": out.ProfitAllowanceUSD.StringFixed(2),
			},
		})
	}
	return entitlementdomain.ProfitResult{Entitlement: out, Exhausted: exhausted}, nil
}

func (s *Service) IsTradingAllowed(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, entitlementdomain.ErrInvalidUserID
	}
	e, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}
	return e.TradingAllowed(), nil
}

func (s *Service) Get(ctx context.Context, userID string) (entitlementdomain.View, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return entitlementdomain.View{}, entitlementdomain.ErrInvalidUserID
	}
	e, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return entitlementdomain.View{}, err
	}
	if e == nil {
		return entitlementdomain.Entitlement{
			UserID: userID,
			Status: entitlementdomain.StatusInactive,
		}.View(), nil
	}
	return e.View(), nil
}

func (s *Service) List(ctx context.Context, req entitlementdomain.ListRequest) (entitlementdomain.ListResponse, error) {
	status := entitlementdomain.Status(strings.TrimSpace(req.Status))
	switch status {
	case "", entitlementdomain.StatusInactive, entitlementdomain.StatusActive, entitlementdomain.StatusExhausted:
	default:
		return entitlementdomain.ListResponse{}, entitlementdomain.ErrInvalidStatus
	}

	var before snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return entitlementdomain.ListResponse{}, entitlementdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return entitlementdomain.ListResponse{}, entitlementdomain.ErrInvalidPageToken
		}
		before = id
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, entitlementdomain.ListFilter{
		Status:   status,
		UserID:   req.UserID,
		BeforeID: before,
		Limit:    limit,
	})
	if err != nil {
		return entitlementdomain.ListResponse{}, err
	}

	items, pageInfo := pagination.Page(items, limit, func(e *entitlementdomain.Entitlement) string { return e.ID.String() })
	views := make([]entitlementdomain.View, 0, len(items))
	for _, item := range items {
		views = append(views, item.View())
	}
	return entitlementdomain.ListResponse{PageInfo: pageInfo, Entitlements: views}, nil
}

// mutate applies fn to the latest stored entitlement and writes it back with a
// version check, retrying when a concurrent writer got there first.
func (s *Service) mutate(ctx context.Context, db *gorm.DB, userID string, create bool, fn func(*entitlementdomain.Entitlement) error) (entitlementdomain.Entitlement, error) {
	for attempt := 1; attempt <= maxVersionAttempts; attempt++ {
		current, err := s.load(ctx, db, userID, create)
		if err != nil {
			return entitlementdomain.Entitlement{}, err
		}

		next := *current
		if err := fn(&next); err != nil {
			return entitlementdomain.Entitlement{}, err
		}
		next.UpdatedAt = s.clock.Now()

		written, err := s.repo.UpdateVersioned(ctx, db, &next, current.Version)
		if err != nil {
			return entitlementdomain.Entitlement{}, err
		}
		if written {
			next.Version = current.Version + 1
			return next, nil
		}
		s.log.Debug("entitlement version conflict", zap.String("user_id", userID), zap.Int("attempt", attempt))
	}
	return entitlementdomain.Entitlement{}, entitlementdomain.ErrConcurrentUpdate
}

func (s *Service) load(ctx context.Context, db *gorm.DB, userID string, create bool) (*entitlementdomain.Entitlement, error) {
	e, err := s.repo.FindByUserID(ctx, db, userID)
	if err != nil || e != nil {
		return e, err
	}
	if !create {
		return nil, entitlementdomain.ErrNotFound
	}

	now := s.clock.Now()
	if err := s.repo.InsertIfAbsent(ctx, db, &entitlementdomain.Entitlement{
		ID:                 s.genID.Generate(),
		UserID:             userID,
		ProfitAllowanceUSD: decimal.Zero,
		ProfitUsedUSD:      decimal.Zero,
		Status:             entitlementdomain.StatusInactive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}); err != nil {
		return nil, err
	}

	e, err = s.repo.FindByUserID(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, entitlementdomain.ErrNotFound
	}
	return e, nil
}
