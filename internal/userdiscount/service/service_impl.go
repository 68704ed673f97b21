package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/profitledger/internal/catalog/domain"
	"github.com/smallbiznis/profitledger/internal/clock"
	discountdomain "github.com/smallbiznis/profitledger/internal/userdiscount/domain"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       discountdomain.Repository
	CatalogSvc catalogdomain.Service
	AuditSvc   auditdomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       discountdomain.Repository
	catalogSvc catalogdomain.Service
	auditSvc   auditdomain.Service
}

func NewService(p Params) discountdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("userdiscount.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		catalogSvc: p.CatalogSvc,
		auditSvc:   p.AuditSvc,
	}
}

func (s *Service) Assign(ctx context.Context, req discountdomain.AssignRequest) (discountdomain.UserDiscount, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return discountdomain.UserDiscount{}, discountdomain.ErrInvalidUserID
	}

	now := s.clock.Now()
	d := discountdomain.UserDiscount{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Scope:     discountdomain.Scope(strings.TrimSpace(req.Scope)),
		ClaimCode: newClaimCode(),
		Status:    discountdomain.StatusActive,
		Source:    discountdomain.SourceManual,
		Note:      optional(req.Note),
		CreatedBy: strings.TrimSpace(req.AdminID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch d.Scope {
	case discountdomain.ScopeOnboarding:
		d.OnboardingPct = nullable(req.OnboardingPct)
		d.OnboardingFixedUSD = nullable(req.OnboardingFixedUSD)
	case discountdomain.ScopeTradingPackages:
		d.TradingPct = nullable(req.TradingPct)
		d.TradingPackageIDs = normalizeIDs(req.TradingPackageIDs)
		d.TradingMaxPackages = req.TradingMaxPackages
	default:
		return discountdomain.UserDiscount{}, discountdomain.ErrInvalidScope
	}
	if err := validate(&d); err != nil {
		return discountdomain.UserDiscount{}, err
	}
	if err := s.checkPackages(ctx, d.TradingPackageIDs); err != nil {
		return discountdomain.UserDiscount{}, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &d); err != nil {
			return err
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
			AdminID:    req.AdminID,
			ActionType: auditdomain.ActionUserDiscountAssign,
			EntityType: auditdomain.EntityUserDiscount,
			EntityID:   d.ID.String(),
			Reason:     req.Reason,
			Details:    snapshot(d),
		})
	})
	if err != nil {
		return discountdomain.UserDiscount{}, err
	}

	s.log.Info("user discount assigned",
		zap.String("user_discount_id", d.ID.String()),
		zap.String("user_id", d.UserID),
		zap.String("scope", string(d.Scope)),
	)
	return d, nil
}

func (s *Service) Update(ctx context.Context, req discountdomain.UpdateRequest) (discountdomain.UserDiscount, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return discountdomain.UserDiscount{}, err
	}
	var status discountdomain.Status
	if req.Status != nil {
		status = discountdomain.Status(strings.TrimSpace(*req.Status))
		if !validStatus(status) {
			return discountdomain.UserDiscount{}, discountdomain.ErrInvalidStatus
		}
	}

	if req.TradingPackageIDs != nil {
		if err := s.checkPackages(ctx, normalizeIDs(*req.TradingPackageIDs)); err != nil {
			return discountdomain.UserDiscount{}, err
		}
	}

	var out discountdomain.UserDiscount
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status == discountdomain.StatusRevoked {
			return discountdomain.ErrRevoked
		}

		next := *current
		switch next.Scope {
		case discountdomain.ScopeOnboarding:
			if req.OnboardingPct != nil {
				next.OnboardingPct = nullable(req.OnboardingPct)
			}
			if req.OnboardingFixedUSD != nil {
				next.OnboardingFixedUSD = nullable(req.OnboardingFixedUSD)
			}
		case discountdomain.ScopeTradingPackages:
			if req.TradingPct != nil {
				next.TradingPct = nullable(req.TradingPct)
			}
			if req.TradingPackageIDs != nil {
				next.TradingPackageIDs = normalizeIDs(*req.TradingPackageIDs)
			}
			if req.TradingMaxPackages != nil {
				next.TradingMaxPackages = req.TradingMaxPackages
			}
		}
		if req.Note != nil {
			next.Note = optional(*req.Note)
		}
		if status != "" {
			next.Status = status
		}
		if err := validate(&next); err != nil {
			return err
		}

		next.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, &next); err != nil {
			return err
		}
		details := snapshot(next)
		details["previous_status"] = string(current.Status)
		if err := s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
			AdminID:    req.AdminID,
			ActionType: auditdomain.ActionUserDiscountUpdate,
			EntityType: auditdomain.EntityUserDiscount,
			EntityID:   next.ID.String(),
			Reason:     req.Reason,
			Details:    details,
		}); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return discountdomain.UserDiscount{}, err
	}
	return out, nil
}

func (s *Service) SetStatus(ctx context.Context, req discountdomain.SetStatusRequest) (discountdomain.UserDiscount, error) {
	status := discountdomain.Status(strings.TrimSpace(req.Status))
	if !validStatus(status) {
		return discountdomain.UserDiscount{}, discountdomain.ErrInvalidStatus
	}
	action := auditdomain.ActionUserDiscountStatus
	if status == discountdomain.StatusRevoked {
		action = auditdomain.ActionUserDiscountRevoke
	}
	return s.setStatus(ctx, req.AdminID, req.ID, status, req.Reason, action)
}

func (s *Service) Revoke(ctx context.Context, adminID, id, reason string) (discountdomain.UserDiscount, error) {
	return s.setStatus(ctx, adminID, id, discountdomain.StatusRevoked, reason, auditdomain.ActionUserDiscountRevoke)
}

func (s *Service) setStatus(ctx context.Context, adminID, rawID string, status discountdomain.Status, reason, action string) (discountdomain.UserDiscount, error) {
	id, err := parseID(rawID)
	if err != nil {
		return discountdomain.UserDiscount{}, err
	}

	var out discountdomain.UserDiscount
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		// Revocation is terminal; revoking twice is a no-op.
		if current.Status == discountdomain.StatusRevoked {
			if status == discountdomain.StatusRevoked {
				out = *current
				return nil
			}
			return discountdomain.ErrRevoked
		}

		next := *current
		next.Status = status
		next.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, &next); err != nil {
			return err
		}
		if err := s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
			AdminID:    adminID,
			ActionType: action,
			EntityType: auditdomain.EntityUserDiscount,
			EntityID:   next.ID.String(),
			Reason:     reason,
			Details: map[string]any{
				"user_id":         next.UserID,
				"previous_status": string(current.Status),
				"new_status":      string(status),
			},
		}); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return discountdomain.UserDiscount{}, err
	}

	s.log.Info("user discount status changed",
		zap.String("user_discount_id", out.ID.String()),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

func (s *Service) CreateMasterTraderPreset(ctx context.Context, req discountdomain.PresetRequest) ([]discountdomain.UserDiscount, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, discountdomain.ErrInvalidUserID
	}
	duration := strings.ToLower(strings.TrimSpace(req.Duration))
	maxPackages, ok := discountdomain.PresetMaxPackages(duration)
	if !ok {
		return nil, discountdomain.ErrInvalidDuration
	}

	now := s.clock.Now()
	full := decimal.NullDecimal{Decimal: hundred, Valid: true}
	base := discountdomain.UserDiscount{
		UserID:         userID,
		Status:         discountdomain.StatusActive,
		Source:         discountdomain.SourceMasterTrader,
		PresetDuration: &duration,
		CreatedBy:      strings.TrimSpace(req.AdminID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	onboarding := base
	onboarding.ID = s.genID.Generate()
	onboarding.Scope = discountdomain.ScopeOnboarding
	onboarding.OnboardingPct = full
	onboarding.ClaimCode = newClaimCode()

	trading := base
	trading.ID = s.genID.Generate()
	trading.Scope = discountdomain.ScopeTradingPackages
	trading.TradingPct = full
	trading.TradingPackageIDs = datatypes.JSONSlice[string]{}
	trading.TradingMaxPackages = maxPackages
	trading.ClaimCode = newClaimCode()

	rows := []discountdomain.UserDiscount{onboarding, trading}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			if err := s.repo.Insert(ctx, tx, &rows[i]); err != nil {
				return err
			}
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
			AdminID:    req.AdminID,
			ActionType: auditdomain.ActionMasterTraderPreset,
			EntityType: auditdomain.EntityUserDiscount,
			EntityID:   rows[0].ID.String(),
			Reason:     req.Reason,
			Details: map[string]any{
				"user_id":                     userID,
				"duration":                    duration,
				"onboarding_discount_id":      rows[0].ID.String(),
				"trading_discount_id":         rows[1].ID.String(),
				"trading_max_packages_capped": maxPackages != nil,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("master trader preset created", zap.String("user_id", userID), zap.String("duration", duration))
	return rows, nil
}

func (s *Service) Get(ctx context.Context, id string) (discountdomain.UserDiscount, error) {
	discountID, err := parseID(id)
	if err != nil {
		return discountdomain.UserDiscount{}, err
	}
	d, err := s.load(ctx, s.db, discountID)
	if err != nil {
		return discountdomain.UserDiscount{}, err
	}
	return *d, nil
}

func (s *Service) GetByClaimCode(ctx context.Context, code string) (discountdomain.UserDiscount, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return discountdomain.UserDiscount{}, discountdomain.ErrInvalidClaimCode
	}
	d, err := s.repo.FindByClaimCode(ctx, s.db, code)
	if err != nil {
		return discountdomain.UserDiscount{}, err
	}
	if d == nil {
		return discountdomain.UserDiscount{}, discountdomain.ErrNotFound
	}
	return *d, nil
}

func (s *Service) List(ctx context.Context, req discountdomain.ListRequest) (discountdomain.ListResponse, error) {
	status := discountdomain.Status(strings.TrimSpace(req.Status))
	if status != "" && !validStatus(status) {
		return discountdomain.ListResponse{}, discountdomain.ErrInvalidStatus
	}
	scope := discountdomain.Scope(strings.TrimSpace(req.Scope))
	if scope != "" && scope != discountdomain.ScopeOnboarding && scope != discountdomain.ScopeTradingPackages {
		return discountdomain.ListResponse{}, discountdomain.ErrInvalidScope
	}

	var before snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return discountdomain.ListResponse{}, discountdomain.ErrInvalidPageToken
		}
		if before, err = snowflake.ParseString(cursor.ID); err != nil {
			return discountdomain.ListResponse{}, discountdomain.ErrInvalidPageToken
		}
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, discountdomain.ListFilter{
		UserID:   strings.TrimSpace(req.UserID),
		Status:   status,
		Scope:    scope,
		BeforeID: before,
		Limit:    limit,
	})
	if err != nil {
		return discountdomain.ListResponse{}, err
	}
	items, pageInfo := pagination.Page(items, limit, func(d *discountdomain.UserDiscount) string { return d.ID.String() })

	out := make([]discountdomain.UserDiscount, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return discountdomain.ListResponse{PageInfo: pageInfo, UserDiscounts: out}, nil
}

func (s *Service) Applicable(ctx context.Context, db *gorm.DB, userID string, packageID string) ([]discountdomain.UserDiscount, error) {
	if db == nil {
		db = s.db
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, discountdomain.ErrInvalidUserID
	}

	scope := discountdomain.ScopeOnboarding
	if packageID != "" {
		scope = discountdomain.ScopeTradingPackages
	}
	items, err := s.repo.FindActiveByUser(ctx, db, userID, scope)
	if err != nil {
		return nil, err
	}

	out := make([]discountdomain.UserDiscount, 0, len(items))
	for _, item := range items {
		if scope == discountdomain.ScopeTradingPackages && (!item.CoversPackage(packageID) || !item.TradingUsesLeft()) {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) ApplyTradingTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	ok, err := s.repo.IncrementTradingUse(ctx, tx, id, s.clock.Now())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	current, err := s.load(ctx, tx, id)
	if err != nil {
		return err
	}
	if current.Status != discountdomain.StatusActive {
		return discountdomain.ErrNotActive
	}
	return discountdomain.ErrTradingUseExhausted
}

func (s *Service) load(ctx context.Context, db *gorm.DB, id snowflake.ID) (*discountdomain.UserDiscount, error) {
	d, err := s.repo.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, discountdomain.ErrNotFound
	}
	return d, nil
}

// checkPackages runs before any transaction opens since the catalog reads
// through its own handle.
func (s *Service) checkPackages(ctx context.Context, ids []string) error {
	for _, packageID := range ids {
		if _, err := s.catalogSvc.Get(ctx, packageID); err != nil {
			if errors.Is(err, catalogdomain.ErrPackageNotFound) {
				return discountdomain.ErrUnknownPackage
			}
			return err
		}
	}
	return nil
}

func validate(d *discountdomain.UserDiscount) error {
	switch d.Scope {
	case discountdomain.ScopeOnboarding:
		if !d.OnboardingPct.Valid && !d.OnboardingFixedUSD.Valid {
			return discountdomain.ErrOnboardingValueReq
		}
		if d.OnboardingPct.Valid && !validPct(d.OnboardingPct.Decimal) {
			return discountdomain.ErrInvalidPct
		}
		if d.OnboardingFixedUSD.Valid && d.OnboardingFixedUSD.Decimal.IsNegative() {
			return discountdomain.ErrInvalidFixedAmount
		}
	case discountdomain.ScopeTradingPackages:
		if !d.TradingPct.Valid {
			return discountdomain.ErrTradingPctRequired
		}
		if !validPct(d.TradingPct.Decimal) {
			return discountdomain.ErrInvalidPct
		}
		if d.TradingMaxPackages == nil {
			// only the lifetime Master Trader preset is uncapped
			if d.Source != discountdomain.SourceMasterTrader {
				return discountdomain.ErrTradingMaxRequired
			}
		} else if *d.TradingMaxPackages < 1 {
			return discountdomain.ErrInvalidTradingMax
		}
	default:
		return discountdomain.ErrInvalidScope
	}
	return nil
}

func snapshot(d discountdomain.UserDiscount) map[string]any {
	details := map[string]any{
		"user_id": d.UserID,
		"scope":   string(d.Scope),
		"status":  string(d.Status),
	}
	if d.OnboardingPct.Valid {
		details["onboarding_pct"] = d.OnboardingPct.Decimal.StringFixed(2)
	}
	if d.OnboardingFixedUSD.Valid {
		details["onboarding_fixed_usd"] = d.OnboardingFixedUSD.Decimal.StringFixed(2)
	}
	if d.TradingPct.Valid {
		details["trading_pct"] = d.TradingPct.Decimal.StringFixed(2)
	}
	if d.TradingMaxPackages != nil {
		details["trading_max_packages"] = *d.TradingMaxPackages
	}
	if len(d.TradingPackageIDs) > 0 {
		details["trading_package_ids"] = []string(d.TradingPackageIDs)
	}
	return details
}

func validStatus(status discountdomain.Status) bool {
	switch status {
	case discountdomain.StatusActive, discountdomain.StatusPaused, discountdomain.StatusRevoked:
		return true
	default:
		return false
	}
}

func validPct(v decimal.Decimal) bool {
	return !v.IsNegative() && !v.GreaterThan(hundred)
}

func nullable(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: v.Round(2), Valid: true}
}

func normalizeIDs(ids []string) datatypes.JSONSlice[string] {
	out := datatypes.JSONSlice[string]{}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func newClaimCode() string {
	return ulid.Make().String()
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, discountdomain.ErrInvalidID
	}
	return id, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
