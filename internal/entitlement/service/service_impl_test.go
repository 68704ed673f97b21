package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/profitledger/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/profitledger/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/profitledger/internal/catalog/service"
	"github.com/smallbiznis/profitledger/internal/config"
	entitlementdomain "github.com/smallbiznis/profitledger/internal/entitlement/domain"
	"github.com/smallbiznis/profitledger/internal/entitlement/repository"
	entitlementservice "github.com/smallbiznis/profitledger/internal/entitlement/service"
	"github.com/smallbiznis/profitledger/internal/events"
	"github.com/smallbiznis/profitledger/internal/ledgertest"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func newLedger(t *testing.T) (entitlementdomain.Service, *ledgertest.Fixture) {
	return newLedgerWith(t, nil)
}

func newLedgerWith(t *testing.T, publisher events.Publisher) (entitlementdomain.Service, *ledgertest.Fixture) {
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
	svc := entitlementservice.NewService(entitlementservice.Params{
		DB:         fx.DB,
		Log:        fx.Log,
		GenID:      fx.GenID,
		Clock:      fx.Clock,
		Repo:       repository.Provide(),
		CatalogSvc: catalogSvc,
		Events:     publisher,
	})
	return svc, fx
}

func usd(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestGetUnknownUserIsInactive(t *testing.T) {
	svc, _ := newLedger(t)

	view, err := svc.Get(context.Background(), "u_missing")
	require.NoError(t, err)
	require.Equal(t, entitlementdomain.StatusInactive, view.Status)
	require.False(t, view.TradingAllowed)
	require.True(t, view.RemainingUSD.IsZero())

	allowed, err := svc.IsTradingAllowed(context.Background(), "u_missing")
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestTradingRequiresJoiningFeeAndPackage(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	_, err := svc.ActivatePackage(ctx, "u1", "pkg_100", usd("100"))
	require.NoError(t, err)

	allowed, err := svc.IsTradingAllowed(ctx, "u1")
	require.NoError(t, err)
	require.False(t, allowed)

	_, err = svc.RecordJoiningFeePayment(ctx, "u1", usd("100"))
	require.NoError(t, err)

	allowed, err = svc.IsTradingAllowed(ctx, "u1")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestProfitEventsExhaustAllowance(t *testing.T) {
	published := &recordingPublisher{}
	svc, _ := newLedgerWith(t, published)
	ctx := context.Background()

	_, err := svc.RecordJoiningFeePayment(ctx, "u1", usd("100"))
	require.NoError(t, err)
	e, err := svc.ActivatePackage(ctx, "u1", "pkg_100", usd("100"))
	require.NoError(t, err)
	require.True(t, e.ProfitAllowanceUSD.Equal(usd("500")))

	res, err := svc.ConsumeProfit(ctx, "u1", usd("480"))
	require.NoError(t, err)
	require.False(t, res.Exhausted)
	require.True(t, res.Entitlement.RemainingUSD().Equal(usd("20")))

	res, err = svc.ConsumeProfit(ctx, "u1", usd("30"))
	require.NoError(t, err)
	require.True(t, res.Exhausted)

	view, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, view.ProfitUsedUSD.Equal(usd("510")))
	require.True(t, view.RemainingUSD.IsZero())
	require.Equal(t, entitlementdomain.StatusExhausted, view.Status)
	require.NotNil(t, view.ExhaustedAt)
	require.False(t, view.TradingAllowed)

	// Later profit still accrues but does not re-trigger exhaustion.
	res, err = svc.ConsumeProfit(ctx, "u1", usd("5"))
	require.NoError(t, err)
	require.False(t, res.Exhausted)
	require.True(t, res.Entitlement.ProfitUsedUSD.Equal(usd("515")))

	require.Len(t, published.events, 1)
	require.Equal(t, events.TypeEntitlementExhausted, published.events[0].Type)
	require.Equal(t, "u1", published.events[0].Payload["user_id"])
	require.Equal(t, "510.00", published.events[0].Payload["profit_used_usd"])
}

func TestActivatePackageResetsAllowance(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	_, err := svc.RecordJoiningFeePayment(ctx, "u1", usd("100"))
	require.NoError(t, err)
	_, err = svc.ActivatePackage(ctx, "u1", "pkg_100", usd("100"))
	require.NoError(t, err)
	_, err = svc.ConsumeProfit(ctx, "u1", usd("500"))
	require.NoError(t, err)

	e, err := svc.ActivatePackage(ctx, "u1", "pkg_200", usd("200"))
	require.NoError(t, err)
	require.Equal(t, entitlementdomain.StatusActive, e.Status)
	require.True(t, e.ProfitUsedUSD.IsZero())
	require.True(t, e.ProfitAllowanceUSD.Equal(usd("1000")))
	require.Nil(t, e.ExhaustedAt)
	require.Equal(t, "pkg_200", *e.ActivePackageID)

	allowed, err := svc.IsTradingAllowed(ctx, "u1")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestActivateUnknownPackage(t *testing.T) {
	svc, _ := newLedger(t)

	_, err := svc.ActivatePackage(context.Background(), "u1", "pkg_404", usd("10"))
	require.ErrorIs(t, err, catalogdomain.ErrPackageNotFound)
}

func TestConsumeProfitValidation(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	_, err := svc.ConsumeProfit(ctx, "u1", usd("10"))
	require.ErrorIs(t, err, entitlementdomain.ErrNotFound)

	_, err = svc.ActivatePackage(ctx, "u1", "pkg_100", usd("100"))
	require.NoError(t, err)

	_, err = svc.ConsumeProfit(ctx, "u1", usd("-5"))
	require.ErrorIs(t, err, entitlementdomain.ErrInvalidProfitDelta)
	_, err = svc.ConsumeProfit(ctx, "u1", decimal.Zero)
	require.ErrorIs(t, err, entitlementdomain.ErrInvalidProfitDelta)
	_, err = svc.ConsumeProfit(ctx, "u1", usd("0.001"))
	require.ErrorIs(t, err, entitlementdomain.ErrInvalidProfitDelta)
	_, err = svc.ConsumeProfit(ctx, "u1", usd("10.125"))
	require.ErrorIs(t, err, entitlementdomain.ErrInvalidProfitDelta)

	res, err := svc.ConsumeProfit(ctx, "u1", usd("0.01"))
	require.NoError(t, err)
	require.True(t, res.Entitlement.ProfitUsedUSD.Equal(usd("0.01")), res.Entitlement.ProfitUsedUSD.String())
	_, err = svc.ConsumeProfit(ctx, " ", usd("1"))
	require.ErrorIs(t, err, entitlementdomain.ErrInvalidUserID)
}

func TestConcurrentProfitEventsAreNotLost(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	_, err := svc.RecordJoiningFeePayment(ctx, "u1", usd("100"))
	require.NoError(t, err)
	_, err = svc.ActivatePackage(ctx, "u1", "pkg_500", usd("500"))
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ConsumeProfit(ctx, "u1", usd("12.50"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	view, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, view.ProfitUsedUSD.Equal(usd("125")), view.ProfitUsedUSD.String())
	require.True(t, view.RemainingUSD.Equal(usd("2375")))
}

func TestListFiltersByStatus(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := svc.ActivatePackage(ctx, u, "pkg_100", usd("100"))
		require.NoError(t, err)
	}
	_, err := svc.ConsumeProfit(ctx, "u2", usd("500"))
	require.NoError(t, err)

	resp, err := svc.List(ctx, entitlementdomain.ListRequest{Status: "exhausted"})
	require.NoError(t, err)
	require.Len(t, resp.Entitlements, 1)
	require.Equal(t, "u2", resp.Entitlements[0].UserID)

	req := entitlementdomain.ListRequest{}
	req.PageSize = 2
	resp, err = svc.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, resp.Entitlements, 2)
	require.True(t, resp.HasMore)

	req.PageToken = resp.NextPageToken
	resp, err = svc.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, resp.Entitlements, 1)
	require.False(t, resp.HasMore)

	_, err = svc.List(ctx, entitlementdomain.ListRequest{Status: "bogus"})
	require.ErrorIs(t, err, entitlementdomain.ErrInvalidStatus)
}
