package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/profitledger/internal/catalog/domain"
	"github.com/smallbiznis/profitledger/internal/clock"
	commissiondomain "github.com/smallbiznis/profitledger/internal/commission/domain"
	coupondomain "github.com/smallbiznis/profitledger/internal/coupon/domain"
	"github.com/smallbiznis/profitledger/internal/discount"
	entitlementdomain "github.com/smallbiznis/profitledger/internal/entitlement/domain"
	"github.com/smallbiznis/profitledger/internal/events"
	obsmetrics "github.com/smallbiznis/profitledger/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/profitledger/internal/purchase/domain"
	userdiscountdomain "github.com/smallbiznis/profitledger/internal/userdiscount/domain"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// errReplayed aborts a transaction that lost an external_ref race.
var errReplayed = errors.New("purchase replayed")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Repo            purchasedomain.Repository
	CatalogSvc      catalogdomain.Service
	CouponSvc       coupondomain.Service
	UserDiscountSvc userdiscountdomain.Service
	EntitlementSvc  entitlementdomain.Service
	CommissionSvc   commissiondomain.Service
	Events          events.Publisher    `optional:"true"`
	Metrics         *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	repo            purchasedomain.Repository
	catalogSvc      catalogdomain.Service
	couponSvc       coupondomain.Service
	userDiscountSvc userdiscountdomain.Service
	entitlementSvc  entitlementdomain.Service
	commissionSvc   commissiondomain.Service
	events          events.Publisher
	metrics         *obsmetrics.Metrics
}

func NewService(p Params) purchasedomain.Service {
	publisher := p.Events
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("purchase.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		catalogSvc:      p.CatalogSvc,
		couponSvc:       p.CouponSvc,
		userDiscountSvc: p.UserDiscountSvc,
		entitlementSvc:  p.EntitlementSvc,
		commissionSvc:   p.CommissionSvc,
		events:          publisher,
		metrics:         p.Metrics,
	}
}

// priced is a quote plus what Record needs to settle it.
type priced struct {
	purchasedomain.Quote
	userID string
	pkg    *catalogdomain.Package
}

func (s *Service) Quote(ctx context.Context, req purchasedomain.QuoteRequest) (purchasedomain.Quote, error) {
	p, err := s.price(ctx, req)
	if err != nil {
		return purchasedomain.Quote{}, err
	}
	return p.Quote, nil
}

func (s *Service) Record(ctx context.Context, req purchasedomain.RecordRequest) (purchasedomain.RecordResult, error) {
	externalRef := strings.TrimSpace(req.ExternalRef)
	if externalRef != "" {
		if replay, ok, err := s.replay(ctx, externalRef, req); err != nil || ok {
			return replay, err
		}
	}

	// Pricing reads happen before the transaction; every counter it relies on
	// is re-checked atomically inside it.
	p, err := s.price(ctx, purchasedomain.QuoteRequest{
		UserID:       req.UserID,
		PurchaseType: req.PurchaseType,
		PackageID:    req.PackageID,
		CouponCode:   req.CouponCode,
	})
	if err != nil {
		return purchasedomain.RecordResult{}, err
	}

	purchase := purchasedomain.EligiblePurchase{
		ID:            s.genID.Generate(),
		UserID:        p.userID,
		PurchaseType:  p.PurchaseType,
		PackageID:     p.PackageID,
		BaseAmountUSD: p.BaseUSD,
		DiscountUSD:   p.DiscountUSD,
		AmountUSD:     p.FinalUSD,
		ExternalRef:   optional(externalRef),
		CreatedAt:     s.clock.Now(),
	}
	if len(req.Metadata) > 0 {
		purchase.Metadata = datatypes.JSONMap(req.Metadata)
	}
	if applied := p.Applied; applied != nil {
		source := string(applied.Source)
		purchase.DiscountSource = &source
		purchase.DiscountRefID = optional(applied.RefID)
		purchase.CouponCode = optional(applied.Code)
	}

	var (
		entitlement  entitlementdomain.Entitlement
		distribution commissiondomain.DistributionResult
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.redeem(ctx, tx, p); err != nil {
			return err
		}

		inserted, err := s.repo.Insert(ctx, tx, &purchase)
		if err != nil {
			return err
		}
		if !inserted {
			return errReplayed
		}

		switch p.PurchaseType {
		case purchasedomain.TypeOnboardingFee:
			entitlement, err = s.entitlementSvc.RecordJoiningFeePaymentTx(ctx, tx, p.userID, p.FinalUSD)
		case purchasedomain.TypePackage:
			entitlement, err = s.entitlementSvc.ActivatePackageTx(ctx, tx, p.userID, *p.pkg, p.FinalUSD)
		}
		if err != nil {
			return err
		}

		distribution, err = s.commissionSvc.DistributeTx(ctx, tx, purchase)
		if err != nil {
			return err
		}
		purchase.ProcessedAt = &purchase.CreatedAt
		return nil
	})
	if errors.Is(err, errReplayed) {
		replay, _, err := s.replay(ctx, externalRef, req)
		return replay, err
	}
	if err != nil {
		return purchasedomain.RecordResult{}, err
	}
	if stored, findErr := s.repo.FindByID(ctx, s.db, purchase.ID); findErr == nil && stored != nil {
		purchase = *stored
	}

	s.afterCommit(ctx, purchase, p, entitlement, distribution)
	return purchasedomain.RecordResult{
		Purchase:         purchase,
		Quote:            p.Quote.Quote,
		CommissionUSD:    distribution.DistributedUSD,
		CommissionLevels: len(distribution.Earnings),
	}, nil
}

func (s *Service) Get(ctx context.Context, id string) (purchasedomain.EligiblePurchase, error) {
	purchaseID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || purchaseID <= 0 {
		return purchasedomain.EligiblePurchase{}, purchasedomain.ErrInvalidID
	}
	p, err := s.repo.FindByID(ctx, s.db, purchaseID)
	if err != nil {
		return purchasedomain.EligiblePurchase{}, err
	}
	if p == nil {
		return purchasedomain.EligiblePurchase{}, purchasedomain.ErrNotFound
	}
	return *p, nil
}

func (s *Service) List(ctx context.Context, req purchasedomain.ListRequest) (purchasedomain.ListResponse, error) {
	filter := purchasedomain.ListFilter{
		UserID:    strings.TrimSpace(req.UserID),
		Processed: req.Processed,
	}
	if raw := strings.TrimSpace(req.PurchaseType); raw != "" {
		t, err := parseType(raw)
		if err != nil {
			return purchasedomain.ListResponse{}, err
		}
		filter.PurchaseType = t
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return purchasedomain.ListResponse{}, purchasedomain.ErrInvalidPageToken
		}
		if filter.BeforeID, err = snowflake.ParseString(cursor.ID); err != nil {
			return purchasedomain.ListResponse{}, purchasedomain.ErrInvalidPageToken
		}
	}
	filter.Limit = req.Limit()

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return purchasedomain.ListResponse{}, err
	}
	items, pageInfo := pagination.Page(items, filter.Limit, func(p *purchasedomain.EligiblePurchase) string { return p.ID.String() })

	out := make([]purchasedomain.EligiblePurchase, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return purchasedomain.ListResponse{PageInfo: pageInfo, Purchases: out}, nil
}

func (s *Service) price(ctx context.Context, req purchasedomain.QuoteRequest) (priced, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return priced{}, purchasedomain.ErrInvalidUserID
	}
	purchaseType, err := parseType(req.PurchaseType)
	if err != nil {
		return priced{}, err
	}

	out := priced{userID: userID}
	out.PurchaseType = purchaseType

	var base decimal.Decimal
	packageID := ""
	switch purchaseType {
	case purchasedomain.TypeOnboardingFee:
		base = s.catalogSvc.OnboardingFee()
	case purchasedomain.TypePackage:
		packageID = strings.TrimSpace(req.PackageID)
		if packageID == "" {
			return priced{}, purchasedomain.ErrPackageRequired
		}
		pkg, err := s.catalogSvc.Get(ctx, packageID)
		if err != nil {
			return priced{}, err
		}
		out.pkg = &pkg
		out.PackageID = &pkg.ID
		base = pkg.PriceUSD
	}

	personal, err := s.userDiscountSvc.Applicable(ctx, nil, userID, packageID)
	if err != nil {
		return priced{}, err
	}
	candidates := make([]discount.Candidate, 0, len(personal)+1)
	for _, d := range personal {
		candidates = append(candidates, personalCandidate(d))
	}

	if code := strings.TrimSpace(req.CouponCode); code != "" {
		candidate, err := s.codeCandidate(ctx, userID, purchaseType, packageID, code, personal)
		if err != nil {
			return priced{}, err
		}
		if candidate != nil {
			candidates = append(candidates, *candidate)
		}
	}

	out.Quote.Quote = discount.Calculate(base, candidates)
	return out, nil
}

// codeCandidate resolves a code typed or linked by the user. Global coupons
// become a candidate; a personal claim code only confirms a discount that is
// already applicable.
func (s *Service) codeCandidate(ctx context.Context, userID string, purchaseType purchasedomain.Type, packageID, code string, personal []userdiscountdomain.UserDiscount) (*discount.Candidate, error) {
	coupon, err := s.couponSvc.Preview(ctx, coupondomain.RedeemRequest{
		Code:         code,
		UserID:       userID,
		PurchaseType: coupondomain.PurchaseType(purchaseType),
		PackageID:    packageID,
	})
	if err == nil {
		return &discount.Candidate{
			Source:   discount.SourceCoupon,
			RefID:    coupon.ID.String(),
			Code:     coupon.Code,
			Pct:      coupon.DiscountPct,
			FixedUSD: decimal.Zero,
		}, nil
	}
	if !errors.Is(err, coupondomain.ErrNotFound) {
		return nil, err
	}

	claimed, claimErr := s.userDiscountSvc.GetByClaimCode(ctx, code)
	if claimErr != nil {
		if errors.Is(claimErr, userdiscountdomain.ErrNotFound) {
			return nil, coupondomain.ErrNotFound
		}
		return nil, claimErr
	}
	if claimed.UserID != userID {
		return nil, purchasedomain.ErrClaimCodeNotOwned
	}
	for _, d := range personal {
		if d.ID == claimed.ID {
			return nil, nil
		}
	}
	if claimed.Status != userdiscountdomain.StatusActive {
		return nil, userdiscountdomain.ErrNotActive
	}
	if claimed.Scope == userdiscountdomain.ScopeTradingPackages && claimed.CoversPackage(packageID) {
		return nil, userdiscountdomain.ErrTradingUseExhausted
	}
	return nil, coupondomain.ErrScopeMismatch
}

// redeem consumes whatever the winning candidate draws on.
func (s *Service) redeem(ctx context.Context, tx *gorm.DB, p priced) error {
	applied := p.Applied
	if applied == nil {
		return nil
	}
	switch applied.Source {
	case discount.SourceCoupon:
		packageID := ""
		if p.PackageID != nil {
			packageID = *p.PackageID
		}
		_, err := s.couponSvc.RedeemTx(ctx, tx, coupondomain.RedeemRequest{
			Code:         applied.Code,
			UserID:       p.userID,
			PurchaseType: coupondomain.PurchaseType(p.PurchaseType),
			PackageID:    packageID,
		})
		return err
	case discount.SourceUserDiscount:
		if p.PurchaseType != purchasedomain.TypePackage {
			return nil
		}
		id, err := snowflake.ParseString(applied.RefID)
		if err != nil {
			return err
		}
		return s.userDiscountSvc.ApplyTradingTx(ctx, tx, id)
	}
	return nil
}

func (s *Service) replay(ctx context.Context, externalRef string, req purchasedomain.RecordRequest) (purchasedomain.RecordResult, bool, error) {
	existing, err := s.repo.FindByExternalRef(ctx, s.db, externalRef)
	if err != nil || existing == nil {
		return purchasedomain.RecordResult{}, false, err
	}
	if existing.UserID != strings.TrimSpace(req.UserID) || string(existing.PurchaseType) != strings.TrimSpace(req.PurchaseType) {
		return purchasedomain.RecordResult{}, false, purchasedomain.ErrExternalRefConflict
	}
	result := purchasedomain.RecordResult{
		Purchase: *existing,
		Replayed: true,
		Quote: discount.Quote{
			BaseUSD:     existing.BaseAmountUSD,
			DiscountUSD: existing.DiscountUSD,
			FinalUSD:    existing.AmountUSD,
			Considered:  []discount.Candidate{},
		},
	}
	if summary, err := s.commissionSvc.List(ctx, commissiondomain.ListRequest{PurchaseID: existing.ID.String()}); err == nil {
		result.CommissionUSD = summary.Summary.TotalUSD
		result.CommissionLevels = len(summary.Earnings)
	}
	s.log.Info("purchase replayed", zap.String("purchase_id", existing.ID.String()), zap.String("external_ref", externalRef))
	return result, true, nil
}

func (s *Service) afterCommit(ctx context.Context, purchase purchasedomain.EligiblePurchase, p priced, entitlement entitlementdomain.Entitlement, distribution commissiondomain.DistributionResult) {
	s.metrics.RecordPurchase(string(purchase.PurchaseType))
	if p.Applied != nil {
		s.metrics.RecordDiscountApplied(string(p.Applied.Source))
	}

	payload := map[string]any{
		"purchase_id":     purchase.ID.String(),
		"user_id":         purchase.UserID,
		"purchase_type":   string(purchase.PurchaseType),
		"base_amount_usd": purchase.BaseAmountUSD.StringFixed(2),
		"discount_usd":    purchase.DiscountUSD.StringFixed(2),
		"amount_usd":      purchase.AmountUSD.StringFixed(2),
	}
	if purchase.PackageID != nil {
		payload["package_id"] = *purchase.PackageID
	}
	events.Emit(ctx, s.events, s.log, events.Event{
		Type:       events.TypePurchaseRecorded,
		OccurredAt: purchase.CreatedAt,
		Payload:    payload,
	})

	entitlementType := events.TypeJoiningFeePaymentSaved
	if purchase.PurchaseType == purchasedomain.TypePackage {
		entitlementType = events.TypeEntitlementActivated
	}
	events.Emit(ctx, s.events, s.log, events.Event{
		Type:       entitlementType,
		OccurredAt: purchase.CreatedAt,
		Payload: map[string]any{
			"user_id":              entitlement.UserID,
			"status":               string(entitlement.Status),
			"profit_allowance_usd": entitlement.ProfitAllowanceUSD.StringFixed(2),
			"joining_fee_paid":     entitlement.JoiningFeePaid,
		},
	})

	s.commissionSvc.PublishDistributed(ctx, purchase, distribution)

	s.log.Info("purchase recorded",
		zap.String("purchase_id", purchase.ID.String()),
		zap.String("user_id", purchase.UserID),
		zap.String("purchase_type", string(purchase.PurchaseType)),
		zap.String("amount_usd", purchase.AmountUSD.StringFixed(2)),
	)
}

func personalCandidate(d userdiscountdomain.UserDiscount) discount.Candidate {
	c := discount.Candidate{
		Source:   discount.SourceUserDiscount,
		RefID:    d.ID.String(),
		Pct:      decimal.Zero,
		FixedUSD: decimal.Zero,
	}
	switch d.Scope {
	case userdiscountdomain.ScopeOnboarding:
		if d.OnboardingPct.Valid {
			c.Pct = d.OnboardingPct.Decimal
		}
		if d.OnboardingFixedUSD.Valid {
			c.FixedUSD = d.OnboardingFixedUSD.Decimal
		}
	case userdiscountdomain.ScopeTradingPackages:
		if d.TradingPct.Valid {
			c.Pct = d.TradingPct.Decimal
		}
	}
	return c
}

func parseType(raw string) (purchasedomain.Type, error) {
	switch t := purchasedomain.Type(strings.TrimSpace(raw)); t {
	case purchasedomain.TypeOnboardingFee, purchasedomain.TypePackage:
		return t, nil
	default:
		return "", purchasedomain.ErrInvalidPurchaseType
	}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
