package service

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/profitledger/internal/catalog/domain"
	"github.com/smallbiznis/profitledger/internal/clock"
	coupondomain "github.com/smallbiznis/profitledger/internal/coupon/domain"
	obsmetrics "github.com/smallbiznis/profitledger/internal/observability/metrics"
	"github.com/smallbiznis/profitledger/pkg/db"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	codeAlphabet        = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeSuffixLength    = 8
	maxGenerateAttempts = 5
)

var codePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{2,31}$`)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       coupondomain.Repository
	CatalogSvc catalogdomain.Service
	AuditSvc   auditdomain.Service
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       coupondomain.Repository
	catalogSvc catalogdomain.Service
	auditSvc   auditdomain.Service
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) coupondomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("coupon.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		catalogSvc: p.CatalogSvc,
		auditSvc:   p.AuditSvc,
		metrics:    p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req coupondomain.CreateRequest) (coupondomain.Coupon, error) {
	now := s.clock.Now()

	scope := strings.TrimSpace(req.Scope)
	tag, err := s.scopeTag(ctx, scope)
	if err != nil {
		return coupondomain.Coupon{}, err
	}
	if req.DiscountPct.IsNegative() || req.DiscountPct.GreaterThan(decimal.NewFromInt(100)) {
		return coupondomain.Coupon{}, coupondomain.ErrInvalidDiscountPct
	}
	if req.DurationMonths < 1 || req.DurationMonths > 12 {
		return coupondomain.Coupon{}, coupondomain.ErrInvalidDurationMonths
	}
	if req.MaxRedemptions != nil && *req.MaxRedemptions < 1 {
		return coupondomain.Coupon{}, coupondomain.ErrInvalidMaxRedemptions
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return coupondomain.Coupon{}, coupondomain.ErrInvalidExpiry
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	generated := code == ""
	if !generated && !codePattern.MatchString(code) {
		return coupondomain.Coupon{}, coupondomain.ErrInvalidCode
	}

	coupon := coupondomain.Coupon{
		ID:             s.genID.Generate(),
		Scope:          scope,
		DiscountPct:    req.DiscountPct.Round(2),
		MaxRedemptions: req.MaxRedemptions,
		DurationMonths: req.DurationMonths,
		ExpiresAt:      req.ExpiresAt,
		Status:         coupondomain.StatusActive,
		Description:    optional(req.Description),
		CreatedBy:      strings.TrimSpace(req.AdminID),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted := false
		for attempt := 0; attempt < maxGenerateAttempts && !inserted; attempt++ {
			if generated {
				suffix, err := randomSuffix(codeSuffixLength)
				if err != nil {
					return err
				}
				code = tag + suffix
			}
			coupon.Code = code

			ok, err := s.repo.Insert(ctx, tx, &coupon)
			if err != nil {
				return err
			}
			inserted = ok
			if !ok && !generated {
				return coupondomain.ErrCodeTaken
			}
		}
		if !inserted {
			return coupondomain.ErrCodeTaken
		}

		details := map[string]any{
			"code":            coupon.Code,
			"scope":           coupon.Scope,
			"discount_pct":    coupon.DiscountPct.StringFixed(2),
			"duration_months": coupon.DurationMonths,
		}
		if coupon.MaxRedemptions != nil {
			details["max_redemptions"] = *coupon.MaxRedemptions
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
			AdminID:    req.AdminID,
			ActionType: auditdomain.ActionCouponCreate,
			EntityType: auditdomain.EntityCoupon,
			EntityID:   coupon.ID.String(),
			Details:    details,
		})
	})
	if err != nil {
		return coupondomain.Coupon{}, err
	}

	s.log.Info("coupon created",
		zap.String("coupon_id", coupon.ID.String()),
		zap.String("code", coupon.Code),
		zap.String("scope", coupon.Scope),
	)
	return coupon, nil
}

func (s *Service) Get(ctx context.Context, id string) (coupondomain.Coupon, error) {
	couponID, err := parseID(id)
	if err != nil {
		return coupondomain.Coupon{}, err
	}
	coupon, err := s.repo.FindByID(ctx, s.db, couponID)
	if err != nil {
		return coupondomain.Coupon{}, err
	}
	if coupon == nil {
		return coupondomain.Coupon{}, coupondomain.ErrNotFound
	}
	out := *coupon
	out.Status = out.EffectiveStatus(s.clock.Now())
	return out, nil
}

func (s *Service) List(ctx context.Context, req coupondomain.ListRequest) (coupondomain.ListResponse, error) {
	status := coupondomain.Status(strings.TrimSpace(req.Status))
	switch status {
	case "", coupondomain.StatusActive, coupondomain.StatusDisabled, coupondomain.StatusExpired:
	default:
		return coupondomain.ListResponse{}, coupondomain.ErrInvalidStatus
	}

	var before snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return coupondomain.ListResponse{}, coupondomain.ErrInvalidPageToken
		}
		if before, err = snowflake.ParseString(cursor.ID); err != nil {
			return coupondomain.ListResponse{}, coupondomain.ErrInvalidPageToken
		}
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, coupondomain.ListFilter{
		Status:   status,
		Scope:    strings.TrimSpace(req.Scope),
		BeforeID: before,
		Limit:    limit,
	})
	if err != nil {
		return coupondomain.ListResponse{}, err
	}

	items, pageInfo := pagination.Page(items, limit, func(c *coupondomain.Coupon) string { return c.ID.String() })
	now := s.clock.Now()
	coupons := make([]coupondomain.Coupon, 0, len(items))
	for _, item := range items {
		c := *item
		c.Status = c.EffectiveStatus(now)
		coupons = append(coupons, c)
	}
	return coupondomain.ListResponse{PageInfo: pageInfo, Coupons: coupons}, nil
}

func (s *Service) SetStatus(ctx context.Context, req coupondomain.SetStatusRequest) (coupondomain.Coupon, error) {
	couponID, err := parseID(req.ID)
	if err != nil {
		return coupondomain.Coupon{}, err
	}
	status := coupondomain.Status(strings.TrimSpace(req.Status))
	if status != coupondomain.StatusActive && status != coupondomain.StatusDisabled {
		return coupondomain.Coupon{}, coupondomain.ErrInvalidStatus
	}

	now := s.clock.Now()
	var out coupondomain.Coupon
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		coupon, err := s.repo.FindByID(ctx, tx, couponID)
		if err != nil {
			return err
		}
		if coupon == nil {
			return coupondomain.ErrNotFound
		}
		if status == coupondomain.StatusActive && coupon.ExpiredAt(now) {
			return coupondomain.ErrExpired
		}

		previous := coupon.Status
		if err := s.repo.UpdateStatus(ctx, tx, couponID, status, now); err != nil {
			return err
		}
		if err := s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
			AdminID:    req.AdminID,
			ActionType: auditdomain.ActionCouponStatus,
			EntityType: auditdomain.EntityCoupon,
			EntityID:   coupon.ID.String(),
			Reason:     req.Reason,
			Details: map[string]any{
				"code":            coupon.Code,
				"previous_status": string(previous),
				"new_status":      string(status),
			},
		}); err != nil {
			return err
		}

		out = *coupon
		out.Status = status
		out.UpdatedAt = now
		return nil
	})
	if err != nil {
		return coupondomain.Coupon{}, err
	}

	s.log.Info("coupon status changed", zap.String("coupon_id", out.ID.String()), zap.String("status", string(status)))
	return out, nil
}

func (s *Service) Preview(ctx context.Context, req coupondomain.RedeemRequest) (coupondomain.Coupon, error) {
	coupon, err := s.eligible(ctx, s.db, &req)
	if err != nil {
		return coupondomain.Coupon{}, err
	}
	if coupon.Exhausted() {
		return coupondomain.Coupon{}, coupondomain.ErrExhausted
	}
	return *coupon, nil
}

func (s *Service) Redeem(ctx context.Context, req coupondomain.RedeemRequest) (coupondomain.Redemption, error) {
	var out coupondomain.Redemption
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.RedeemTx(ctx, tx, req)
		return err
	})
	return out, err
}

func (s *Service) RedeemTx(ctx context.Context, tx *gorm.DB, req coupondomain.RedeemRequest) (coupondomain.Redemption, error) {
	redemption, err := s.redeem(ctx, tx, req)
	if err != nil {
		s.metrics.RecordCouponRedemption(outcome(err))
		return coupondomain.Redemption{}, err
	}
	s.metrics.RecordCouponRedemption("redeemed")
	return redemption, nil
}

func (s *Service) redeem(ctx context.Context, tx *gorm.DB, req coupondomain.RedeemRequest) (coupondomain.Redemption, error) {
	coupon, err := s.eligible(ctx, tx, &req)
	if err != nil {
		return coupondomain.Redemption{}, err
	}

	already, err := s.repo.HasRedemption(ctx, tx, coupon.ID, req.UserID)
	if err != nil {
		return coupondomain.Redemption{}, err
	}
	if already {
		return coupondomain.Redemption{}, coupondomain.ErrAlreadyRedeemed
	}

	now := s.clock.Now()
	ok, err := s.repo.IncrementIfAvailable(ctx, tx, coupon.ID, now)
	if err != nil {
		return coupondomain.Redemption{}, err
	}
	if !ok {
		// Lost the compare-and-increment; classify from the current row.
		current, err := s.repo.FindByID(ctx, tx, coupon.ID)
		if err != nil {
			return coupondomain.Redemption{}, err
		}
		if current == nil {
			return coupondomain.Redemption{}, coupondomain.ErrNotFound
		}
		if current.Status != coupondomain.StatusActive {
			return coupondomain.Redemption{}, coupondomain.ErrInactive
		}
		return coupondomain.Redemption{}, coupondomain.ErrExhausted
	}

	redemption := coupondomain.Redemption{
		ID:            s.genID.Generate(),
		CouponID:      coupon.ID,
		UserID:        req.UserID,
		Code:          coupon.Code,
		PurchaseType:  req.PurchaseType,
		PackageID:     optional(req.PackageID),
		DiscountPct:   coupon.DiscountPct,
		BenefitEndsAt: now.AddDate(0, coupon.DurationMonths, 0),
		CreatedAt:     now,
	}
	if err := s.repo.InsertRedemption(ctx, tx, &redemption); err != nil {
		// a concurrent redemption by the same user got there first
		if db.IsDuplicateKeyErr(err) {
			return coupondomain.Redemption{}, coupondomain.ErrAlreadyRedeemed
		}
		return coupondomain.Redemption{}, err
	}

	s.log.Info("coupon redeemed",
		zap.String("coupon_id", coupon.ID.String()),
		zap.String("code", coupon.Code),
		zap.String("user_id", req.UserID),
	)
	return redemption, nil
}

// eligible normalizes req and checks every precondition that does not depend
// on the redemption counter.
func (s *Service) eligible(ctx context.Context, db *gorm.DB, req *coupondomain.RedeemRequest) (*coupondomain.Coupon, error) {
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.UserID = strings.TrimSpace(req.UserID)
	req.PackageID = strings.TrimSpace(req.PackageID)
	if req.Code == "" {
		return nil, coupondomain.ErrInvalidCode
	}
	if req.UserID == "" {
		return nil, coupondomain.ErrInvalidUserID
	}
	switch req.PurchaseType {
	case coupondomain.PurchaseOnboardingFee:
		req.PackageID = ""
	case coupondomain.PurchasePackage:
		if req.PackageID == "" {
			return nil, coupondomain.ErrInvalidPurchaseType
		}
	default:
		return nil, coupondomain.ErrInvalidPurchaseType
	}

	coupon, err := s.repo.FindByCode(ctx, db, req.Code)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, coupondomain.ErrNotFound
	}
	if coupon.ExpiredAt(s.clock.Now()) {
		return nil, coupondomain.ErrExpired
	}
	if coupon.Status != coupondomain.StatusActive {
		return nil, coupondomain.ErrInactive
	}
	if !coupon.Matches(req.PurchaseType, req.PackageID) {
		return nil, coupondomain.ErrScopeMismatch
	}
	return coupon, nil
}

func (s *Service) scopeTag(ctx context.Context, scope string) (string, error) {
	if scope == "" {
		return "", coupondomain.ErrInvalidScope
	}
	if scope == coupondomain.ScopeOnboarding {
		return catalogdomain.OnboardingCouponTag, nil
	}
	pkg, err := s.catalogSvc.Get(ctx, scope)
	if err != nil {
		if errors.Is(err, catalogdomain.ErrPackageNotFound) {
			return "", coupondomain.ErrInvalidScope
		}
		return "", err
	}
	if pkg.CouponTag != "" {
		return pkg.CouponTag, nil
	}
	return strings.ToUpper(strings.TrimPrefix(pkg.ID, "pkg_")), nil
}

func outcome(err error) string {
	for _, known := range []error{
		coupondomain.ErrExhausted,
		coupondomain.ErrExpired,
		coupondomain.ErrScopeMismatch,
		coupondomain.ErrInactive,
		coupondomain.ErrAlreadyRedeemed,
		coupondomain.ErrNotFound,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "error"
}

func randomSuffix(n int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, coupondomain.ErrInvalidID
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

