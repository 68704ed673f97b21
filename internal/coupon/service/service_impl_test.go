package service_test

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	catalogrepo "github.com/smallbiznis/profitledger/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/profitledger/internal/catalog/service"
	"github.com/smallbiznis/profitledger/internal/config"
	coupondomain "github.com/smallbiznis/profitledger/internal/coupon/domain"
	"github.com/smallbiznis/profitledger/internal/coupon/repository"
	couponservice "github.com/smallbiznis/profitledger/internal/coupon/service"
	"github.com/smallbiznis/profitledger/internal/ledgertest"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newCoupons(t *testing.T) (coupondomain.Service, *ledgertest.Fixture) {
	return newCouponsWithRepo(t, repository.Provide())
}

func newCouponsWithRepo(t *testing.T, repo coupondomain.Repository) (coupondomain.Service, *ledgertest.Fixture) {
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
	svc := couponservice.NewService(couponservice.Params{
		DB:         fx.DB,
		Log:        fx.Log,
		GenID:      fx.GenID,
		Clock:      fx.Clock,
		Repo:       repo,
		CatalogSvc: catalogSvc,
		AuditSvc:   fx.Audit,
	})
	return svc, fx
}

func intPtr(v int) *int { return &v }

// staleRedemptionCheck answers the existence check as if the other
// redemption had not committed yet.
type staleRedemptionCheck struct {
	coupondomain.Repository
}

func (staleRedemptionCheck) HasRedemption(context.Context, *gorm.DB, snowflake.ID, string) (bool, error) {
	return false, nil
}

func packageRedeem(code, userID string) coupondomain.RedeemRequest {
	return coupondomain.RedeemRequest{
		Code:         code,
		UserID:       userID,
		PurchaseType: coupondomain.PurchasePackage,
		PackageID:    "pkg_100",
	}
}

func TestCreateGeneratesScopedCode(t *testing.T) {
	svc, fx := newCoupons(t)
	ctx := context.Background()

	onboarding, err := svc.Create(ctx, coupondomain.CreateRequest{
		AdminID:        "adm_1",
		DiscountPct:    decimal.NewFromInt(25),
		Scope:          coupondomain.ScopeOnboarding,
		DurationMonths: 1,
	})
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^OB[A-Z0-9]{8}$`), onboarding.Code)

	pkg, err := svc.Create(ctx, coupondomain.CreateRequest{
		AdminID:        "adm_1",
		DiscountPct:    decimal.NewFromInt(10),
		Scope:          "pkg_500",
		DurationMonths: 3,
	})
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^500[A-Z0-9]{8}$`), pkg.Code)
	require.Equal(t, int64(2), fx.AuditCount(t, auditdomain.ActionCouponCreate))
}

func TestCreateValidation(t *testing.T) {
	svc, fx := newCoupons(t)
	ctx := context.Background()
	past := ledgertest.Epoch.Add(-time.Hour)

	cases := []struct {
		name string
		req  coupondomain.CreateRequest
		err  error
	}{
		{"discount above 100", coupondomain.CreateRequest{DiscountPct: decimal.NewFromInt(101), Scope: "pkg_100", DurationMonths: 1}, coupondomain.ErrInvalidDiscountPct},
		{"negative discount", coupondomain.CreateRequest{DiscountPct: decimal.NewFromInt(-1), Scope: "pkg_100", DurationMonths: 1}, coupondomain.ErrInvalidDiscountPct},
		{"zero months", coupondomain.CreateRequest{DiscountPct: decimal.NewFromInt(5), Scope: "pkg_100", DurationMonths: 0}, coupondomain.ErrInvalidDurationMonths},
		{"thirteen months", coupondomain.CreateRequest{DiscountPct: decimal.NewFromInt(5), Scope: "pkg_100", DurationMonths: 13}, coupondomain.ErrInvalidDurationMonths},
		{"unknown scope", coupondomain.CreateRequest{DiscountPct: decimal.NewFromInt(5), Scope: "pkg_999", DurationMonths: 1}, coupondomain.ErrInvalidScope},
		{"bad code", coupondomain.CreateRequest{Code: "a b", DiscountPct: decimal.NewFromInt(5), Scope: "pkg_100", DurationMonths: 1}, coupondomain.ErrInvalidCode},
		{"zero cap", coupondomain.CreateRequest{DiscountPct: decimal.NewFromInt(5), Scope: "pkg_100", DurationMonths: 1, MaxRedemptions: intPtr(0)}, coupondomain.ErrInvalidMaxRedemptions},
		{"expiry in past", coupondomain.CreateRequest{DiscountPct: decimal.NewFromInt(5), Scope: "pkg_100", DurationMonths: 1, ExpiresAt: &past}, coupondomain.ErrInvalidExpiry},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.AdminID = "adm_1"
			_, err := svc.Create(ctx, tc.req)
			require.ErrorIs(t, err, tc.err)
		})
	}
	require.Zero(t, fx.AuditCount(t, auditdomain.ActionCouponCreate))
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	svc, _ := newCoupons(t)
	ctx := context.Background()
	req := coupondomain.CreateRequest{
		AdminID:        "adm_1",
		Code:           "launch50",
		DiscountPct:    decimal.NewFromInt(50),
		Scope:          "pkg_100",
		DurationMonths: 1,
	}

	c, err := svc.Create(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "LAUNCH50", c.Code)

	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, coupondomain.ErrCodeTaken)
}

func TestLaunch50EleventhRedemptionIsExhausted(t *testing.T) {
	svc, _ := newCoupons(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, coupondomain.CreateRequest{
		AdminID:        "adm_1",
		Code:           "LAUNCH50",
		DiscountPct:    decimal.NewFromInt(50),
		Scope:          "pkg_100",
		MaxRedemptions: intPtr(10),
		DurationMonths: 1,
	})
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		r, err := svc.Redeem(ctx, packageRedeem("LAUNCH50", fmt.Sprintf("u%d", i)))
		require.NoError(t, err)
		require.True(t, r.DiscountPct.Equal(decimal.NewFromInt(50)))
	}

	_, err = svc.Redeem(ctx, packageRedeem("LAUNCH50", "u11"))
	require.ErrorIs(t, err, coupondomain.ErrExhausted)

	got, err := svc.Get(ctx, c.ID.String())
	require.NoError(t, err)
	require.Equal(t, 10, got.CurrentRedemptions)
}

func TestSameUserRedemptionRaceIsAlreadyRedeemed(t *testing.T) {
	svc, _ := newCouponsWithRepo(t, staleRedemptionCheck{repository.Provide()})
	ctx := context.Background()

	c, err := svc.Create(ctx, coupondomain.CreateRequest{
		AdminID:        "adm_1",
		Code:           "TWICE",
		DiscountPct:    decimal.NewFromInt(20),
		Scope:          "pkg_100",
		MaxRedemptions: intPtr(5),
		DurationMonths: 1,
	})
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, packageRedeem("TWICE", "u1"))
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, packageRedeem("TWICE", "u1"))
	require.ErrorIs(t, err, coupondomain.ErrAlreadyRedeemed)

	// the losing attempt's counter increment rolls back with it
	got, err := svc.Get(ctx, c.ID.String())
	require.NoError(t, err)
	require.Equal(t, 1, got.CurrentRedemptions)
}

func TestConcurrentRedemptionsNeverExceedCap(t *testing.T) {
	svc, _ := newCoupons(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, coupondomain.CreateRequest{
		AdminID:        "adm_1",
		Code:           "RUSH",
		DiscountPct:    decimal.NewFromInt(20),
		Scope:          "pkg_100",
		MaxRedemptions: intPtr(10),
		DurationMonths: 1,
	})
	require.NoError(t, err)

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Redeem(ctx, packageRedeem("RUSH", fmt.Sprintf("user-%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case err == coupondomain.ErrExhausted:
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 10, succeeded)
	require.Equal(t, 10, exhausted)

	got, err := svc.Get(ctx, c.ID.String())
	require.NoError(t, err)
	require.Equal(t, 10, got.CurrentRedemptions)
}

func TestRedeemChecksScopeExpiryAndStatus(t *testing.T) {
	svc, fx := newCoupons(t)
	ctx := context.Background()
	expires := ledgertest.Epoch.Add(24 * time.Hour)

	c, err := svc.Create(ctx, coupondomain.CreateRequest{
		AdminID:        "adm_1",
		Code:           "SPRING",
		DiscountPct:    decimal.NewFromInt(15),
		Scope:          "pkg_100",
		DurationMonths: 2,
		ExpiresAt:      &expires,
	})
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, coupondomain.RedeemRequest{Code: "SPRING", UserID: "u1", PurchaseType: coupondomain.PurchaseOnboardingFee})
	require.ErrorIs(t, err, coupondomain.ErrScopeMismatch)

	_, err = svc.Redeem(ctx, coupondomain.RedeemRequest{Code: "SPRING", UserID: "u1", PurchaseType: coupondomain.PurchasePackage, PackageID: "pkg_200"})
	require.ErrorIs(t, err, coupondomain.ErrScopeMismatch)

	r, err := svc.Redeem(ctx, packageRedeem("spring", "u1"))
	require.NoError(t, err)
	require.Equal(t, ledgertest.Epoch.AddDate(0, 2, 0), r.BenefitEndsAt.UTC())

	_, err = svc.Redeem(ctx, packageRedeem("SPRING", "u1"))
	require.ErrorIs(t, err, coupondomain.ErrAlreadyRedeemed)

	_, err = svc.SetStatus(ctx, coupondomain.SetStatusRequest{AdminID: "adm_1", ID: c.ID.String(), Status: "disabled"})
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, packageRedeem("SPRING", "u2"))
	require.ErrorIs(t, err, coupondomain.ErrInactive)
	require.Equal(t, int64(1), fx.AuditCount(t, auditdomain.ActionCouponStatus))

	_, err = svc.SetStatus(ctx, coupondomain.SetStatusRequest{AdminID: "adm_1", ID: c.ID.String(), Status: "active"})
	require.NoError(t, err)

	fx.Clock.Advance(48 * time.Hour)
	_, err = svc.Redeem(ctx, packageRedeem("SPRING", "u2"))
	require.ErrorIs(t, err, coupondomain.ErrExpired)

	got, err := svc.Get(ctx, c.ID.String())
	require.NoError(t, err)
	require.Equal(t, coupondomain.StatusExpired, got.Status)
	// Disabling never rewrites past redemptions.
	require.Equal(t, 1, got.CurrentRedemptions)

	_, err = svc.SetStatus(ctx, coupondomain.SetStatusRequest{AdminID: "adm_1", ID: c.ID.String(), Status: "active"})
	require.ErrorIs(t, err, coupondomain.ErrExpired)
}

func TestRedeemUnknownCode(t *testing.T) {
	svc, _ := newCoupons(t)

	_, err := svc.Redeem(context.Background(), packageRedeem("NOPE", "u1"))
	require.ErrorIs(t, err, coupondomain.ErrNotFound)
}

func TestPreviewDoesNotConsume(t *testing.T) {
	svc, _ := newCoupons(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, coupondomain.CreateRequest{
		AdminID:        "adm_1",
		Code:           "ONE",
		DiscountPct:    decimal.NewFromInt(30),
		Scope:          "pkg_100",
		MaxRedemptions: intPtr(1),
		DurationMonths: 1,
	})
	require.NoError(t, err)

	preview, err := svc.Preview(ctx, packageRedeem("ONE", "u1"))
	require.NoError(t, err)
	require.Equal(t, c.ID, preview.ID)

	_, err = svc.Redeem(ctx, packageRedeem("ONE", "u1"))
	require.NoError(t, err)

	_, err = svc.Preview(ctx, packageRedeem("ONE", "u2"))
	require.ErrorIs(t, err, coupondomain.ErrExhausted)
}

func TestListFiltersByScope(t *testing.T) {
	svc, _ := newCoupons(t)
	ctx := context.Background()

	for _, scope := range []string{"onboarding", "pkg_100", "pkg_100"} {
		_, err := svc.Create(ctx, coupondomain.CreateRequest{
			AdminID:        "adm_1",
			DiscountPct:    decimal.NewFromInt(5),
			Scope:          scope,
			DurationMonths: 1,
		})
		require.NoError(t, err)
	}

	resp, err := svc.List(ctx, coupondomain.ListRequest{Scope: "pkg_100"})
	require.NoError(t, err)
	require.Len(t, resp.Coupons, 2)

	_, err = svc.List(ctx, coupondomain.ListRequest{Status: "weird"})
	require.ErrorIs(t, err, coupondomain.ErrInvalidStatus)
}
