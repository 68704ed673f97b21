package service

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/profitledger/internal/catalog/domain"
	"github.com/smallbiznis/profitledger/internal/clock"
	"github.com/smallbiznis/profitledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Cfg      config.Config
	Catalog  *config.CatalogConfigHolder
	Repo     catalogdomain.Repository
	AuditSvc auditdomain.Service
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	catalog       *config.CatalogConfigHolder
	repo          catalogdomain.Repository
	auditSvc      auditdomain.Service
	onboardingFee decimal.Decimal
}

func NewService(p Params) catalogdomain.Service {
	fee, err := decimal.NewFromString(strings.TrimSpace(p.Cfg.OnboardingFeeUSD))
	if err != nil || !fee.IsPositive() {
		p.Log.Warn("invalid onboarding fee, using 100", zap.String("value", p.Cfg.OnboardingFeeUSD))
		fee = decimal.NewFromInt(100)
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("catalog.service"),
		clock:         p.Clock,
		catalog:       p.Catalog,
		repo:          p.Repo,
		auditSvc:      p.AuditSvc,
		onboardingFee: fee.Round(2),
	}
}

func (s *Service) OnboardingFee() decimal.Decimal {
	return s.onboardingFee
}

func (s *Service) Get(ctx context.Context, packageID string) (catalogdomain.Package, error) {
	packages, err := s.List(ctx)
	if err != nil {
		return catalogdomain.Package{}, err
	}
	packageID = strings.TrimSpace(packageID)
	for _, p := range packages {
		if p.ID == packageID {
			return p, nil
		}
	}
	return catalogdomain.Package{}, catalogdomain.ErrPackageNotFound
}

func (s *Service) List(ctx context.Context) ([]catalogdomain.Package, error) {
	settings, err := s.repo.ListSettings(ctx, s.db)
	if err != nil {
		return nil, err
	}
	overrides := make(map[string]decimal.Decimal, len(settings))
	for _, setting := range settings {
		overrides[setting.PackageID] = setting.PerformanceFeePct
	}

	cfg := s.catalog.Get()
	packages := make([]catalogdomain.Package, 0, len(cfg.Packages))
	for _, pc := range cfg.Packages {
		pkg := fromConfig(pc)
		if fee, ok := overrides[pkg.ID]; ok {
			pkg.PerformanceFeePct = fee
		}
		packages = append(packages, pkg)
	}
	sort.Slice(packages, func(i, j int) bool {
		return packages[i].PriceUSD.LessThan(packages[j].PriceUSD)
	})
	return packages, nil
}

func (s *Service) Settings(ctx context.Context) (catalogdomain.Settings, error) {
	packages, err := s.List(ctx)
	if err != nil {
		return catalogdomain.Settings{}, err
	}
	return catalogdomain.Settings{OnboardingFeeUSD: s.onboardingFee, Packages: packages}, nil
}

func (s *Service) UpdatePerformanceFees(ctx context.Context, req catalogdomain.UpdateFeesRequest) (catalogdomain.Settings, error) {
	if len(req.Fees) == 0 {
		return catalogdomain.Settings{}, catalogdomain.ErrInvalidFees
	}

	current, err := s.List(ctx)
	if err != nil {
		return catalogdomain.Settings{}, err
	}
	known := make(map[string]catalogdomain.Package, len(current))
	for _, p := range current {
		known[p.ID] = p
	}

	ids := make([]string, 0, len(req.Fees))
	for id, pct := range req.Fees {
		if _, ok := known[id]; !ok {
			return catalogdomain.Settings{}, catalogdomain.ErrPackageNotFound
		}
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return catalogdomain.Settings{}, catalogdomain.ErrInvalidPerformanceFeePct
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			pct := req.Fees[id].Round(2)
			if err := s.repo.UpsertSetting(ctx, tx, &catalogdomain.PackageSetting{
				PackageID:         id,
				PerformanceFeePct: pct,
				UpdatedBy:         req.AdminID,
				UpdatedAt:         now,
			}); err != nil {
				return err
			}
			if err := s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
				AdminID:    req.AdminID,
				ActionType: auditdomain.ActionPerformanceFee,
				EntityType: auditdomain.EntityPackage,
				EntityID:   id,
				Reason:     req.Reason,
				Details: map[string]any{
					"previous_pct": known[id].PerformanceFeePct.StringFixed(2),
					"new_pct":      pct.StringFixed(2),
				},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return catalogdomain.Settings{}, err
	}

	s.log.Info("performance fees updated", zap.Strings("package_ids", ids), zap.String("admin_id", req.AdminID))
	return s.Settings(ctx)
}

func fromConfig(pc config.PackageConfig) catalogdomain.Package {
	return catalogdomain.Package{
		ID:                 strings.TrimSpace(pc.ID),
		Name:               pc.Name,
		PriceUSD:           parseAmount(pc.PriceUSD),
		ProfitAllowanceUSD: parseAmount(pc.ProfitAllowanceUSD),
		PerformanceFeePct:  parseAmount(pc.PerformanceFeePct),
		CouponTag:          strings.ToUpper(strings.TrimSpace(pc.CouponTag)),
	}
}

func parseAmount(raw string) decimal.Decimal {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return value.Round(2)
}
