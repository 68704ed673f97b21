package service_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	catalogrepo "github.com/smallbiznis/profitledger/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/profitledger/internal/catalog/service"
	"github.com/smallbiznis/profitledger/internal/config"
	"github.com/smallbiznis/profitledger/internal/ledgertest"
	discountdomain "github.com/smallbiznis/profitledger/internal/userdiscount/domain"
	"github.com/smallbiznis/profitledger/internal/userdiscount/repository"
	discountservice "github.com/smallbiznis/profitledger/internal/userdiscount/service"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newDiscounts(t *testing.T) (discountdomain.Service, *ledgertest.Fixture) {
	fx := ledgertest.New(t)
	catalogSvc := catalogservice.NewService(catalogservice.Params{
		DB:       fx.DB,
		Log:      fx.Log,
		Clock:    fx.Clock,
		Cfg:      config.Config{OnboardingFeeUSD: "100"},
		Catalog:  config.NewStaticCatalogHolder(config.DefaultCatalogConfig()),
		Repo:     catalogrepo.Provide(),
		AuditSvc: fx.Audit,
	})
	svc := discountservice.NewService(discountservice.Params{
		DB:         fx.DB,
		Log:        fx.Log,
		GenID:      fx.GenID,
		Clock:      fx.Clock,
		Repo:       repository.Provide(),
		CatalogSvc: catalogSvc,
		AuditSvc:   fx.Audit,
	})
	return svc, fx
}

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func intPtr(v int) *int { return &v }

func TestMasterTraderPresetOneYear(t *testing.T) {
	svc, fx := newDiscounts(t)
	ctx := context.Background()

	rows, err := svc.CreateMasterTraderPreset(ctx, discountdomain.PresetRequest{
		AdminID:  "adm_1",
		UserID:   "u1",
		Duration: "1yr",
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	resp, err := svc.List(ctx, discountdomain.ListRequest{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, resp.UserDiscounts, 2)

	byScope := map[discountdomain.Scope]discountdomain.UserDiscount{}
	for _, d := range resp.UserDiscounts {
		byScope[d.Scope] = d
	}
	onboarding := byScope[discountdomain.ScopeOnboarding]
	require.True(t, onboarding.OnboardingPct.Valid)
	require.True(t, onboarding.OnboardingPct.Decimal.Equal(decimal.NewFromInt(100)))

	trading := byScope[discountdomain.ScopeTradingPackages]
	require.True(t, trading.TradingPct.Decimal.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, trading.TradingMaxPackages)
	require.Equal(t, 4, *trading.TradingMaxPackages)
	require.Equal(t, discountdomain.SourceMasterTrader, trading.Source)
	require.NotEqual(t, onboarding.ClaimCode, trading.ClaimCode)
	require.Equal(t, int64(1), fx.AuditCount(t, auditdomain.ActionMasterTraderPreset))
}

func TestMasterTraderPresetDurations(t *testing.T) {
	svc, _ := newDiscounts(t)
	ctx := context.Background()

	rows, err := svc.CreateMasterTraderPreset(ctx, discountdomain.PresetRequest{AdminID: "adm_1", UserID: "u6", Duration: "6mo"})
	require.NoError(t, err)
	require.Equal(t, 2, *rows[1].TradingMaxPackages)

	rows, err = svc.CreateMasterTraderPreset(ctx, discountdomain.PresetRequest{AdminID: "adm_1", UserID: "ul", Duration: "lifetime"})
	require.NoError(t, err)
	require.Nil(t, rows[1].TradingMaxPackages)

	_, err = svc.CreateMasterTraderPreset(ctx, discountdomain.PresetRequest{AdminID: "adm_1", UserID: "ux", Duration: "2yr"})
	require.ErrorIs(t, err, discountdomain.ErrInvalidDuration)
}

func TestMasterTraderPresetIsAllOrNothing(t *testing.T) {
	svc, fx := newDiscounts(t)

	// No admin identity: the audit write fails and both rows roll back.
	_, err := svc.CreateMasterTraderPreset(context.Background(), discountdomain.PresetRequest{UserID: "u1", Duration: "1yr"})
	require.ErrorIs(t, err, auditdomain.ErrInvalidAdmin)

	var count int64
	require.NoError(t, fx.DB.Model(&discountdomain.UserDiscount{}).Where("user_id = ?", "u1").Count(&count).Error)
	require.Zero(t, count)
}

func TestAssignValidation(t *testing.T) {
	svc, _ := newDiscounts(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  discountdomain.AssignRequest
		err  error
	}{
		{"onboarding without value", discountdomain.AssignRequest{UserID: "u1", Scope: "onboarding"}, discountdomain.ErrOnboardingValueReq},
		{"onboarding pct above 100", discountdomain.AssignRequest{UserID: "u1", Scope: "onboarding", OnboardingPct: dec(150)}, discountdomain.ErrInvalidPct},
		{"negative fixed", discountdomain.AssignRequest{UserID: "u1", Scope: "onboarding", OnboardingFixedUSD: dec(-5)}, discountdomain.ErrInvalidFixedAmount},
		{"trading without pct", discountdomain.AssignRequest{UserID: "u1", Scope: "trading_packages", TradingMaxPackages: intPtr(1)}, discountdomain.ErrTradingPctRequired},
		{"trading without max", discountdomain.AssignRequest{UserID: "u1", Scope: "trading_packages", TradingPct: dec(10)}, discountdomain.ErrTradingMaxRequired},
		{"trading unknown package", discountdomain.AssignRequest{UserID: "u1", Scope: "trading_packages", TradingPct: dec(10), TradingMaxPackages: intPtr(1), TradingPackageIDs: []string{"pkg_9"}}, discountdomain.ErrUnknownPackage},
		{"bad scope", discountdomain.AssignRequest{UserID: "u1", Scope: "everything"}, discountdomain.ErrInvalidScope},
		{"missing user", discountdomain.AssignRequest{Scope: "onboarding", OnboardingPct: dec(10)}, discountdomain.ErrInvalidUserID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.AdminID = "adm_1"
			_, err := svc.Assign(ctx, tc.req)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestTradingApplicationsStopAtMax(t *testing.T) {
	svc, fx := newDiscounts(t)
	ctx := context.Background()

	d, err := svc.Assign(ctx, discountdomain.AssignRequest{
		AdminID:            "adm_1",
		UserID:             "u1",
		Scope:              "trading_packages",
		TradingPct:         dec(40),
		TradingMaxPackages: intPtr(2),
		TradingPackageIDs:  []string{"pkg_100", "pkg_200"},
	})
	require.NoError(t, err)
	require.Len(t, d.ClaimCode, 26)

	applicable, err := svc.Applicable(ctx, nil, "u1", "pkg_500")
	require.NoError(t, err)
	require.Empty(t, applicable)

	for i := 0; i < 2; i++ {
		applicable, err = svc.Applicable(ctx, nil, "u1", "pkg_100")
		require.NoError(t, err)
		require.Len(t, applicable, 1)
		require.NoError(t, fx.DB.Transaction(func(tx *gorm.DB) error {
			return svc.ApplyTradingTx(ctx, tx, d.ID)
		}))
	}

	err = fx.DB.Transaction(func(tx *gorm.DB) error {
		return svc.ApplyTradingTx(ctx, tx, d.ID)
	})
	require.ErrorIs(t, err, discountdomain.ErrTradingUseExhausted)

	applicable, err = svc.Applicable(ctx, nil, "u1", "pkg_100")
	require.NoError(t, err)
	require.Empty(t, applicable)

	got, err := svc.Get(ctx, d.ID.String())
	require.NoError(t, err)
	require.Equal(t, 2, got.TradingUsedCount)
}

func TestPausedDiscountIsNotApplied(t *testing.T) {
	svc, fx := newDiscounts(t)
	ctx := context.Background()

	d, err := svc.Assign(ctx, discountdomain.AssignRequest{
		AdminID:            "adm_1",
		UserID:             "u1",
		Scope:              "trading_packages",
		TradingPct:         dec(10),
		TradingMaxPackages: intPtr(3),
	})
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, discountdomain.SetStatusRequest{AdminID: "adm_1", ID: d.ID.String(), Status: "paused"})
	require.NoError(t, err)

	applicable, err := svc.Applicable(ctx, nil, "u1", "pkg_200")
	require.NoError(t, err)
	require.Empty(t, applicable)

	err = fx.DB.Transaction(func(tx *gorm.DB) error {
		return svc.ApplyTradingTx(ctx, tx, d.ID)
	})
	require.ErrorIs(t, err, discountdomain.ErrNotActive)
}

func TestRevokeIsTerminal(t *testing.T) {
	svc, fx := newDiscounts(t)
	ctx := context.Background()

	d, err := svc.Assign(ctx, discountdomain.AssignRequest{
		AdminID:       "adm_1",
		UserID:        "u1",
		Scope:         "onboarding",
		OnboardingPct: dec(50),
	})
	require.NoError(t, err)

	revoked, err := svc.Revoke(ctx, "adm_1", d.ID.String(), "abuse")
	require.NoError(t, err)
	require.Equal(t, discountdomain.StatusRevoked, revoked.Status)

	_, err = svc.Revoke(ctx, "adm_1", d.ID.String(), "again")
	require.NoError(t, err)
	require.Equal(t, int64(1), fx.AuditCount(t, auditdomain.ActionUserDiscountRevoke))

	_, err = svc.SetStatus(ctx, discountdomain.SetStatusRequest{AdminID: "adm_1", ID: d.ID.String(), Status: "active"})
	require.ErrorIs(t, err, discountdomain.ErrRevoked)

	pct := dec(60)
	_, err = svc.Update(ctx, discountdomain.UpdateRequest{AdminID: "adm_1", ID: d.ID.String(), OnboardingPct: pct})
	require.ErrorIs(t, err, discountdomain.ErrRevoked)
}

func TestUpdateChangesValuesAndAudits(t *testing.T) {
	svc, fx := newDiscounts(t)
	ctx := context.Background()

	d, err := svc.Assign(ctx, discountdomain.AssignRequest{
		AdminID:       "adm_1",
		UserID:        "u1",
		Scope:         "onboarding",
		OnboardingPct: dec(50),
	})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, discountdomain.UpdateRequest{
		AdminID:            "adm_1",
		ID:                 d.ID.String(),
		OnboardingFixedUSD: dec(20),
	})
	require.NoError(t, err)
	require.True(t, updated.OnboardingPct.Decimal.Equal(decimal.NewFromInt(50)))
	require.True(t, updated.OnboardingFixedUSD.Decimal.Equal(decimal.NewFromInt(20)))

	_, err = svc.Update(ctx, discountdomain.UpdateRequest{AdminID: "adm_1", ID: d.ID.String(), OnboardingPct: dec(101)})
	require.ErrorIs(t, err, discountdomain.ErrInvalidPct)
	require.Equal(t, int64(1), fx.AuditCount(t, auditdomain.ActionUserDiscountUpdate))

	byCode, err := svc.GetByClaimCode(ctx, d.ClaimCode)
	require.NoError(t, err)
	require.Equal(t, d.ID, byCode.ID)
	require.Equal(t, "/payments?coupon="+d.ClaimCode, byCode.ClaimPath())
}

func TestUpdateKeepsLifetimePresetUncapped(t *testing.T) {
	svc, fx := newDiscounts(t)
	ctx := context.Background()

	rows, err := svc.CreateMasterTraderPreset(ctx, discountdomain.PresetRequest{AdminID: "adm_1", UserID: "ul", Duration: "lifetime"})
	require.NoError(t, err)
	trading := rows[1]
	require.Equal(t, discountdomain.ScopeTradingPackages, trading.Scope)
	require.Nil(t, trading.TradingMaxPackages)

	paused := string(discountdomain.StatusPaused)
	updated, err := svc.Update(ctx, discountdomain.UpdateRequest{AdminID: "adm_1", ID: trading.ID.String(), Status: &paused})
	require.NoError(t, err)
	require.Equal(t, discountdomain.StatusPaused, updated.Status)
	require.Nil(t, updated.TradingMaxPackages)

	note := "vip"
	updated, err = svc.Update(ctx, discountdomain.UpdateRequest{AdminID: "adm_1", ID: trading.ID.String(), Note: &note})
	require.NoError(t, err)
	require.NotNil(t, updated.Note)
	require.Equal(t, "vip", *updated.Note)
	require.Equal(t, int64(2), fx.AuditCount(t, auditdomain.ActionUserDiscountUpdate))

	// a cap can still be added, but not an invalid one
	_, err = svc.Update(ctx, discountdomain.UpdateRequest{AdminID: "adm_1", ID: trading.ID.String(), TradingMaxPackages: intPtr(0)})
	require.ErrorIs(t, err, discountdomain.ErrInvalidTradingMax)
	capped, err := svc.Update(ctx, discountdomain.UpdateRequest{AdminID: "adm_1", ID: trading.ID.String(), TradingMaxPackages: intPtr(3)})
	require.NoError(t, err)
	require.Equal(t, 3, *capped.TradingMaxPackages)
}
