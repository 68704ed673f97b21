package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	commissiondomain "github.com/smallbiznis/profitledger/internal/commission/domain"
	commissionrepo "github.com/smallbiznis/profitledger/internal/commission/repository"
	"github.com/smallbiznis/profitledger/internal/events"
	"github.com/smallbiznis/profitledger/internal/ledgertest"
	payoutdomain "github.com/smallbiznis/profitledger/internal/payout/domain"
	"github.com/smallbiznis/profitledger/internal/payout/repository"
	payoutservice "github.com/smallbiznis/profitledger/internal/payout/service"
	referraldomain "github.com/smallbiznis/profitledger/internal/referral/domain"
	referralrepo "github.com/smallbiznis/profitledger/internal/referral/repository"
	referralservice "github.com/smallbiznis/profitledger/internal/referral/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.Type)
	return nil
}

type harness struct {
	*ledgertest.Fixture
	svc       payoutdomain.Service
	earnings  commissiondomain.Repository
	published *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	fx := ledgertest.New(t)
	referrals := referralservice.NewService(referralservice.Params{
		DB:    fx.DB,
		Log:   fx.Log,
		GenID: fx.GenID,
		Clock: fx.Clock,
		Repo:  referralrepo.Provide(),
	})
	for _, u := range []string{"alice", "bob"} {
		_, err := referrals.Enroll(context.Background(), referraldomain.EnrollRequest{UserID: u})
		require.NoError(t, err)
	}

	earnings := commissionrepo.Provide()
	published := &recordingPublisher{}
	svc := payoutservice.NewService(payoutservice.Params{
		DB:           fx.DB,
		Log:          fx.Log,
		GenID:        fx.GenID,
		Clock:        fx.Clock,
		Repo:         repository.Provide(),
		EarningRepo:  earnings,
		ReferralRepo: referralrepo.Provide(),
		AuditSvc:     fx.Audit,
		Events:       published,
	})
	return &harness{Fixture: fx, svc: svc, earnings: earnings, published: published}
}

// earn inserts pending earnings for userID, oldest first.
func (h *harness) earn(t *testing.T, userID string, amounts ...int64) []commissiondomain.Earning {
	t.Helper()
	rows := make([]*commissiondomain.Earning, 0, len(amounts))
	for _, amount := range amounts {
		rows = append(rows, &commissiondomain.Earning{
			ID:           h.GenID.Generate(),
			PurchaseID:   h.GenID.Generate(),
			Level:        1,
			EarnerUserID: userID,
			BuyerUserID:  "buyer",
			AmountUSD:    decimal.NewFromInt(amount),
			RatePct:      decimal.NewFromInt(30),
			PayoutStatus: commissiondomain.PayoutPending,
			CreatedAt:    h.Clock.Now(),
		})
	}
	require.NoError(t, h.earnings.InsertEarnings(context.Background(), h.DB, rows))

	out := make([]commissiondomain.Earning, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out
}

func usd(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestMarkEarningPaidIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	earning := h.earn(t, "alice", 21)[0]

	req := payoutdomain.MarkEarningPaidRequest{AdminID: "adm_1", EarningID: earning.ID.String(), TransactionID: "0xabc"}
	paid, err := h.svc.MarkEarningPaid(ctx, req)
	require.NoError(t, err)
	require.Equal(t, commissiondomain.PayoutPaid, paid.PayoutStatus)
	require.NotNil(t, paid.PaidAt)
	require.Equal(t, "0xabc", *paid.TransactionID)

	h.Clock.Advance(time.Hour)
	again, err := h.svc.MarkEarningPaid(ctx, payoutdomain.MarkEarningPaidRequest{AdminID: "adm_1", EarningID: earning.ID.String(), TransactionID: "0xdef"})
	require.NoError(t, err)
	require.Equal(t, "0xabc", *again.TransactionID)
	require.True(t, again.PaidAt.Equal(*paid.PaidAt))

	require.Equal(t, int64(1), h.AuditCount(t, auditdomain.ActionEarningMarkPaid))
	require.Equal(t, []string{events.TypeReferralEarningPaid}, h.published.types)

	_, err = h.svc.MarkEarningPaid(ctx, payoutdomain.MarkEarningPaidRequest{AdminID: "adm_1", EarningID: "42"})
	require.ErrorIs(t, err, payoutdomain.ErrEarningNotFound)
	_, err = h.svc.MarkEarningPaid(ctx, payoutdomain.MarkEarningPaidRequest{AdminID: "adm_1", EarningID: "nope"})
	require.ErrorIs(t, err, payoutdomain.ErrInvalidEarningID)
}

func TestCreateIsBoundedByUnreservedPendingEarnings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.earn(t, "alice", 10, 20, 30)

	first, err := h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: "alice", AmountUSD: usd(35), WalletAddress: "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE"})
	require.NoError(t, err)
	require.Equal(t, payoutdomain.StatusPending, first.Status)

	balance, err := h.svc.Balance(ctx, "alice")
	require.NoError(t, err)
	require.True(t, balance.PendingUSD.Equal(usd(60)))
	require.True(t, balance.ReservedUSD.Equal(usd(35)))
	require.True(t, balance.AvailableUSD.Equal(usd(25)))

	_, err = h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: "alice", AmountUSD: usd(30), WalletAddress: "wallet-1"})
	require.ErrorIs(t, err, payoutdomain.ErrInsufficientBalance)

	_, err = h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: "alice", AmountUSD: usd(25), WalletAddress: "wallet-1"})
	require.NoError(t, err)

	// A rejected request releases its reservation.
	_, err = h.svc.Reject(ctx, payoutdomain.DecisionRequest{AdminID: "adm_1", ID: first.ID.String(), Reason: "wallet mismatch"})
	require.NoError(t, err)
	balance, err = h.svc.Balance(ctx, "alice")
	require.NoError(t, err)
	require.True(t, balance.AvailableUSD.Equal(usd(35)))

	// No referral account means nothing could ever have been earned.
	_, err = h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: "zed", AmountUSD: usd(1), WalletAddress: "wallet-1"})
	require.ErrorIs(t, err, payoutdomain.ErrInsufficientBalance)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.earn(t, "alice", 100)

	cases := []struct {
		name string
		req  payoutdomain.CreateRequest
		err  error
	}{
		{"missing user", payoutdomain.CreateRequest{AmountUSD: usd(1), WalletAddress: "w"}, payoutdomain.ErrInvalidUserID},
		{"zero amount", payoutdomain.CreateRequest{UserID: "alice", AmountUSD: decimal.Zero, WalletAddress: "w"}, payoutdomain.ErrInvalidAmount},
		{"negative amount", payoutdomain.CreateRequest{UserID: "alice", AmountUSD: usd(-5), WalletAddress: "w"}, payoutdomain.ErrInvalidAmount},
		{"sub-cent amount", payoutdomain.CreateRequest{UserID: "alice", AmountUSD: decimal.RequireFromString("1.005"), WalletAddress: "w"}, payoutdomain.ErrInvalidAmount},
		{"missing wallet", payoutdomain.CreateRequest{UserID: "alice", AmountUSD: usd(1)}, payoutdomain.ErrInvalidWallet},
		{"wallet with spaces", payoutdomain.CreateRequest{UserID: "alice", AmountUSD: usd(1), WalletAddress: "my wallet"}, payoutdomain.ErrInvalidWallet},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Create(ctx, tc.req)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestPayoutStateMachine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	earned := h.earn(t, "alice", 10, 20, 30)

	req, err := h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: "alice", AmountUSD: usd(35), WalletAddress: "wallet-1"})
	require.NoError(t, err)
	id := req.ID.String()

	_, err = h.svc.MarkPaid(ctx, payoutdomain.MarkPaidRequest{AdminID: "adm_1", ID: id})
	require.ErrorIs(t, err, payoutdomain.ErrInvalidTransition)

	approved, err := h.svc.Approve(ctx, payoutdomain.DecisionRequest{AdminID: "adm_1", ID: id})
	require.NoError(t, err)
	require.Equal(t, payoutdomain.StatusApproved, approved.Status)
	require.NotNil(t, approved.DecidedAt)
	require.Equal(t, "adm_1", *approved.DecidedBy)

	_, err = h.svc.Approve(ctx, payoutdomain.DecisionRequest{AdminID: "adm_1", ID: id})
	require.ErrorIs(t, err, payoutdomain.ErrInvalidTransition)
	_, err = h.svc.Reject(ctx, payoutdomain.DecisionRequest{AdminID: "adm_1", ID: id})
	require.ErrorIs(t, err, payoutdomain.ErrInvalidTransition)

	paid, err := h.svc.MarkPaid(ctx, payoutdomain.MarkPaidRequest{AdminID: "adm_1", ID: id, PayoutTxID: "0xfeed"})
	require.NoError(t, err)
	require.Equal(t, payoutdomain.StatusPaid, paid.Status)
	require.Equal(t, "0xfeed", *paid.PayoutTxID)
	// 10 + 20 fit inside 35; the 30 earning would overshoot and stays pending.
	require.True(t, paid.SettledUSD.Equal(usd(30)), paid.SettledUSD.String())

	for i, want := range []commissiondomain.PayoutStatus{commissiondomain.PayoutPaid, commissiondomain.PayoutPaid, commissiondomain.PayoutPending} {
		row, err := h.earnings.FindByID(ctx, h.DB, earned[i].ID)
		require.NoError(t, err)
		require.Equal(t, want, row.PayoutStatus)
		if want == commissiondomain.PayoutPaid {
			require.Equal(t, paid.ID, *row.PayoutRequestID)
		}
	}

	for _, op := range []func() error{
		func() error { _, err := h.svc.MarkPaid(ctx, payoutdomain.MarkPaidRequest{AdminID: "adm_1", ID: id}); return err },
		func() error { _, err := h.svc.Approve(ctx, payoutdomain.DecisionRequest{AdminID: "adm_1", ID: id}); return err },
		func() error { _, err := h.svc.Reject(ctx, payoutdomain.DecisionRequest{AdminID: "adm_1", ID: id}); return err },
	} {
		require.ErrorIs(t, op(), payoutdomain.ErrInvalidTransition)
	}

	receipt, err := h.svc.Receipt(ctx, id)
	require.NoError(t, err)
	require.Len(t, receipt.Earnings, 2)
	require.Equal(t, earned[0].ID, receipt.Earnings[0].ID)

	balance, err := h.svc.Balance(ctx, "alice")
	require.NoError(t, err)
	require.True(t, balance.PaidUSD.Equal(usd(30)))
	// 35 went out against 30 settled, so 5 of the remaining 30 is spoken for.
	require.True(t, balance.UnsettledUSD.Equal(usd(5)))
	require.True(t, balance.AvailableUSD.Equal(usd(25)))

	require.Equal(t, int64(1), h.AuditCount(t, auditdomain.ActionPayoutApprove))
	require.Equal(t, int64(1), h.AuditCount(t, auditdomain.ActionPayoutMarkPaid))
	require.Equal(t, []string{"payout_request.pending", "payout_request.approved", "payout_request.paid"}, h.published.types)
}

// pay walks a request from creation to PAID.
func (h *harness) pay(t *testing.T, userID string, amount int64) payoutdomain.PayoutRequest {
	t.Helper()
	ctx := context.Background()
	req, err := h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: userID, AmountUSD: usd(amount), WalletAddress: "wallet-1"})
	require.NoError(t, err)
	_, err = h.svc.Approve(ctx, payoutdomain.DecisionRequest{AdminID: "adm_1", ID: req.ID.String()})
	require.NoError(t, err)
	paid, err := h.svc.MarkPaid(ctx, payoutdomain.MarkPaidRequest{AdminID: "adm_1", ID: req.ID.String()})
	require.NoError(t, err)
	return paid
}

func (h *harness) requireBalance(t *testing.T, userID string, pending, unsettled, available int64) {
	t.Helper()
	balance, err := h.svc.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, balance.PendingUSD.Equal(usd(pending)), "pending %s", balance.PendingUSD)
	assert.True(t, balance.UnsettledUSD.Equal(usd(unsettled)), "unsettled %s", balance.UnsettledUSD)
	assert.True(t, balance.AvailableUSD.Equal(usd(available)), "available %s", balance.AvailableUSD)
}

func TestPaidRequestBelowOldestEarningStillCountsAgainstBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	earned := h.earn(t, "alice", 21)

	first := h.pay(t, "alice", 10)
	require.True(t, first.SettledUSD.IsZero())
	h.requireBalance(t, "alice", 21, 10, 11)

	_, err := h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: "alice", AmountUSD: usd(21), WalletAddress: "wallet-1"})
	require.ErrorIs(t, err, payoutdomain.ErrInsufficientBalance)
	_, err = h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: "alice", AmountUSD: usd(12), WalletAddress: "wallet-1"})
	require.ErrorIs(t, err, payoutdomain.ErrInsufficientBalance)

	// The rest of what is owed settles the earning together with the carried 10.
	second := h.pay(t, "alice", 11)
	require.True(t, second.SettledUSD.Equal(usd(21)), second.SettledUSD.String())
	row, err := h.earnings.FindByID(ctx, h.DB, earned[0].ID)
	require.NoError(t, err)
	require.Equal(t, commissiondomain.PayoutPaid, row.PayoutStatus)
	require.Equal(t, second.ID, *row.PayoutRequestID)
	h.requireBalance(t, "alice", 0, 0, 0)

	_, err = h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: "alice", AmountUSD: usd(1), WalletAddress: "wallet-1"})
	require.ErrorIs(t, err, payoutdomain.ErrInsufficientBalance)
}

func TestPaidRequestEndingMidWalkCarriesRemainder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.earn(t, "alice", 10, 21)

	first := h.pay(t, "alice", 15)
	require.True(t, first.SettledUSD.Equal(usd(10)), first.SettledUSD.String())
	h.requireBalance(t, "alice", 21, 5, 16)

	_, err := h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: "alice", AmountUSD: usd(17), WalletAddress: "wallet-1"})
	require.ErrorIs(t, err, payoutdomain.ErrInsufficientBalance)

	second := h.pay(t, "alice", 16)
	require.True(t, second.SettledUSD.Equal(usd(21)), second.SettledUSD.String())
	h.requireBalance(t, "alice", 0, 0, 0)

	// Payouts never exceed what was earned.
	balance, err := h.svc.Balance(ctx, "alice")
	require.NoError(t, err)
	require.True(t, balance.PaidUSD.Equal(usd(31)))
	require.True(t, first.AmountUSD.Add(second.AmountUSD).Equal(balance.PaidUSD))
}

func TestRejectedIsTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.earn(t, "bob", 50)

	req, err := h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: "bob", AmountUSD: usd(50), WalletAddress: "wallet-2"})
	require.NoError(t, err)

	rejected, err := h.svc.Reject(ctx, payoutdomain.DecisionRequest{AdminID: "adm_1", ID: req.ID.String(), Reason: "kyc pending"})
	require.NoError(t, err)
	require.Equal(t, payoutdomain.StatusRejected, rejected.Status)
	require.Equal(t, "kyc pending", *rejected.RejectReason)

	_, err = h.svc.Approve(ctx, payoutdomain.DecisionRequest{AdminID: "adm_1", ID: req.ID.String()})
	require.ErrorIs(t, err, payoutdomain.ErrInvalidTransition)
	_, err = h.svc.Receipt(ctx, req.ID.String())
	require.ErrorIs(t, err, payoutdomain.ErrNotPaid)
}

func TestDecisionRollsBackWithoutAudit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.earn(t, "alice", 40)

	req, err := h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: "alice", AmountUSD: usd(40), WalletAddress: "wallet-1"})
	require.NoError(t, err)

	_, err = h.svc.Approve(ctx, payoutdomain.DecisionRequest{ID: req.ID.String()})
	require.ErrorIs(t, err, auditdomain.ErrInvalidAdmin)

	current, err := h.svc.Get(ctx, req.ID.String())
	require.NoError(t, err)
	require.Equal(t, payoutdomain.StatusPending, current.Status)
	require.Nil(t, current.DecidedAt)
}

func TestConcurrentCreateNeverOverdraws(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.earn(t, "alice", 20, 20, 20)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: "alice", AmountUSD: usd(20), WalletAddress: "wallet-1"})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, payoutdomain.ErrInsufficientBalance)
		}()
	}
	wg.Wait()

	require.Equal(t, 3, succeeded)
	balance, err := h.svc.Balance(ctx, "alice")
	require.NoError(t, err)
	require.True(t, balance.AvailableUSD.IsZero())
}

func TestListPayoutRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.earn(t, "alice", 100)
	h.earn(t, "bob", 100)

	for _, amount := range []int64{10, 20, 30} {
		_, err := h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: "alice", AmountUSD: usd(amount), WalletAddress: "wallet-1"})
		require.NoError(t, err)
	}
	bobs, err := h.svc.Create(ctx, payoutdomain.CreateRequest{UserID: "bob", AmountUSD: usd(5), WalletAddress: "wallet-2"})
	require.NoError(t, err)
	_, err = h.svc.Approve(ctx, payoutdomain.DecisionRequest{AdminID: "adm_1", ID: bobs.ID.String()})
	require.NoError(t, err)

	req := payoutdomain.ListRequest{UserID: "alice"}
	req.PageSize = 2
	page, err := h.svc.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.PayoutRequests, 2)
	require.True(t, page.HasMore)
	require.True(t, page.PayoutRequests[0].AmountUSD.Equal(usd(30)))

	approved, err := h.svc.List(ctx, payoutdomain.ListRequest{Status: "approved"})
	require.NoError(t, err)
	require.Len(t, approved.PayoutRequests, 1)
	require.Equal(t, "bob", approved.PayoutRequests[0].UserID)

	_, err = h.svc.List(ctx, payoutdomain.ListRequest{Status: "sent"})
	require.ErrorIs(t, err, payoutdomain.ErrInvalidStatus)
	_, err = h.svc.Get(ctx, "77")
	require.ErrorIs(t, err, payoutdomain.ErrNotFound)
}
