package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	"github.com/smallbiznis/profitledger/internal/authorization"
	catalogrepo "github.com/smallbiznis/profitledger/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/profitledger/internal/catalog/service"
	commissionrepo "github.com/smallbiznis/profitledger/internal/commission/repository"
	commissionservice "github.com/smallbiznis/profitledger/internal/commission/service"
	"github.com/smallbiznis/profitledger/internal/config"
	couponrepo "github.com/smallbiznis/profitledger/internal/coupon/repository"
	couponservice "github.com/smallbiznis/profitledger/internal/coupon/service"
	entitlementrepo "github.com/smallbiznis/profitledger/internal/entitlement/repository"
	entitlementservice "github.com/smallbiznis/profitledger/internal/entitlement/service"
	"github.com/smallbiznis/profitledger/internal/ledgertest"
	"github.com/smallbiznis/profitledger/internal/observability"
	payoutrepo "github.com/smallbiznis/profitledger/internal/payout/repository"
	payoutservice "github.com/smallbiznis/profitledger/internal/payout/service"
	"github.com/smallbiznis/profitledger/internal/providers/pdf"
	purchaserepo "github.com/smallbiznis/profitledger/internal/purchase/repository"
	purchaseservice "github.com/smallbiznis/profitledger/internal/purchase/service"
	referralrepo "github.com/smallbiznis/profitledger/internal/referral/repository"
	referralservice "github.com/smallbiznis/profitledger/internal/referral/service"
	userdiscountrepo "github.com/smallbiznis/profitledger/internal/userdiscount/repository"
	userdiscountservice "github.com/smallbiznis/profitledger/internal/userdiscount/service"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*ledgertest.Fixture
	engine *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fx := ledgertest.New(t)
	cfg := config.Config{OnboardingFeeUSD: "100", PublicBaseURL: "https://app.example.com"}

	catalogSvc := catalogservice.NewService(catalogservice.Params{
		DB:       fx.DB,
		Log:      fx.Log,
		Clock:    fx.Clock,
		Cfg:      cfg,
		Catalog:  config.NewStaticCatalogHolder(config.DefaultCatalogConfig()),
		Repo:     catalogrepo.Provide(),
		AuditSvc: fx.Audit,
	})
	couponSvc := couponservice.NewService(couponservice.Params{
		DB:         fx.DB,
		Log:        fx.Log,
		GenID:      fx.GenID,
		Clock:      fx.Clock,
		Repo:       couponrepo.Provide(),
		CatalogSvc: catalogSvc,
		AuditSvc:   fx.Audit,
	})
	userDiscountSvc := userdiscountservice.NewService(userdiscountservice.Params{
		DB:         fx.DB,
		Log:        fx.Log,
		GenID:      fx.GenID,
		Clock:      fx.Clock,
		Repo:       userdiscountrepo.Provide(),
		CatalogSvc: catalogSvc,
		AuditSvc:   fx.Audit,
	})
	entitlementSvc := entitlementservice.NewService(entitlementservice.Params{
		DB:         fx.DB,
		Log:        fx.Log,
		GenID:      fx.GenID,
		Clock:      fx.Clock,
		Repo:       entitlementrepo.Provide(),
		CatalogSvc: catalogSvc,
	})
	referralRepo := referralrepo.Provide()
	referralSvc := referralservice.NewService(referralservice.Params{
		DB:    fx.DB,
		Log:   fx.Log,
		GenID: fx.GenID,
		Clock: fx.Clock,
		Repo:  referralRepo,
	})
	purchaseRepo := purchaserepo.Provide()
	earningRepo := commissionrepo.Provide()
	commissionSvc := commissionservice.NewService(commissionservice.Params{
		DB:           fx.DB,
		Log:          fx.Log,
		GenID:        fx.GenID,
		Clock:        fx.Clock,
		Repo:         earningRepo,
		PurchaseRepo: purchaseRepo,
		ReferralSvc:  referralSvc,
		AuditSvc:     fx.Audit,
	})
	purchaseSvc := purchaseservice.NewService(purchaseservice.Params{
		DB:              fx.DB,
		Log:             fx.Log,
		GenID:           fx.GenID,
		Clock:           fx.Clock,
		Repo:            purchaseRepo,
		CatalogSvc:      catalogSvc,
		CouponSvc:       couponSvc,
		UserDiscountSvc: userDiscountSvc,
		EntitlementSvc:  entitlementSvc,
		CommissionSvc:   commissionSvc,
	})
	payoutSvc := payoutservice.NewService(payoutservice.Params{
		DB:           fx.DB,
		Log:          fx.Log,
		GenID:        fx.GenID,
		Clock:        fx.Clock,
		Repo:         payoutrepo.Provide(),
		EarningRepo:  earningRepo,
		ReferralRepo: referralRepo,
		AuditSvc:     fx.Audit,
	})
	enforcer, err := authorization.NewEnforcer(fx.DB)
	require.NoError(t, err)
	authzSvc := authorization.NewService(authorization.Params{
		DB:       fx.DB,
		Log:      fx.Log,
		Enforcer: enforcer,
		AuditSvc: fx.Audit,
	})

	srv := NewServer(ServerParams{
		Gin:             NewEngine(observability.Config{}, nil),
		Cfg:             cfg,
		AuthzSvc:        authzSvc,
		AuditSvc:        fx.Audit,
		CatalogSvc:      catalogSvc,
		EntitlementSvc:  entitlementSvc,
		CouponSvc:       couponSvc,
		UserDiscountSvc: userDiscountSvc,
		ReferralSvc:     referralSvc,
		CommissionSvc:   commissionSvc,
		PurchaseSvc:     purchaseSvc,
		PayoutSvc:       payoutSvc,
		PDF:             pdf.New(),
	})
	return &testServer{Fixture: fx, engine: srv.Engine()}
}

type caller map[string]string

func asUser(id string) caller { return caller{HeaderUserID: id} }

func asAdmin(role string) caller {
	return caller{HeaderAdminID: "adm_1", HeaderAdminRole: role}
}

func (s *testServer) do(t *testing.T, method, path string, body any, who caller) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range who {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func TestIdentityHeadersRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/me/entitlement", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/admin/coupons", nil, caller{HeaderAdminID: "adm_1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/nope", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminPolicyIsEnforcedAndDenialsAudited(t *testing.T) {
	s := newTestServer(t)
	body := gin.H{"code": "SPRING20", "discount_pct": 20, "scope": "pkg_100", "duration_months": 1}

	rec := s.do(t, http.MethodPost, "/api/admin/coupons", body, asAdmin(authorization.RoleSupport))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.EqualValues(t, 1, s.AuditCount(t, auditdomain.ActionAuthorizationDenied))

	rec = s.do(t, http.MethodGet, "/api/admin/coupons", nil, asAdmin(authorization.RoleSupport))
	require.Equal(t, http.StatusOK, rec.Code)

	fees := gin.H{"performance_fee_pct": gin.H{"pkg_100": "25"}, "reason": "quarterly review"}
	rec = s.do(t, http.MethodPut, "/api/admin/settings", fees, asAdmin(authorization.RoleAdmin))
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, http.MethodPut, "/api/admin/settings", fees, asAdmin(authorization.RoleSuperAdmin))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCouponValidationAndArtifacts(t *testing.T) {
	s := newTestServer(t)
	admin := asAdmin(authorization.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/api/admin/coupons",
		gin.H{"code": "BAD", "discount_pct": 150, "scope": "pkg_100", "duration_months": 1}, admin)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Equal(t, "validation_error", payload.Type)
	require.Equal(t, "invalid_discount_pct", payload.Errors[0].Code)
	require.Equal(t, "discount_pct", payload.Errors[0].Field)

	rec = s.do(t, http.MethodPost, "/api/admin/coupons",
		gin.H{"code": "WELCOME10", "discount_pct": 10, "scope": "onboarding", "duration_months": 1}, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeData[struct {
		ID       string `json:"id"`
		ClaimURL string `json:"claim_url"`
	}](t, rec)
	require.Equal(t, "https://app.example.com/payments?coupon=WELCOME10", created.ClaimURL)

	rec = s.do(t, http.MethodGet, "/api/admin/coupons/"+created.ID+"/qr.png", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = s.do(t, http.MethodPatch, "/api/admin/coupons/"+created.ID, gin.H{"status": "disabled", "reason": "campaign over"}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/purchases/quote",
		gin.H{"purchase_type": "onboarding_fee", "coupon_code": "WELCOME10"}, asUser("bob"))
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	require.Equal(t, "coupon_inactive", decodeError(t, rec).Code)
}

func TestTradingGate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/internal/purchases",
		gin.H{"user_id": "bob", "purchase_type": "onboarding_fee", "external_ref": "pay_1"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/internal/purchases",
		gin.H{"user_id": "bob", "purchase_type": "onboarding_fee", "external_ref": "pay_1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeData[struct {
		Replayed bool `json:"replayed"`
	}](t, rec).Replayed)

	rec = s.do(t, http.MethodGet, "/api/internal/entitlements/bob/trading-allowed", nil, nil)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/internal/purchases",
		gin.H{"user_id": "bob", "purchase_type": "package", "package_id": "pkg_100", "external_ref": "pay_2"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/internal/entitlements/bob/trading-allowed", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/me/entitlement", nil, asUser("bob"))
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeData[struct {
		Status          string          `json:"status"`
		RemainingUSD    decimal.Decimal `json:"remaining_usd"`
		ActivePackageID string          `json:"active_package_id"`
	}](t, rec)
	require.Equal(t, "active", view.Status)
	require.Equal(t, "pkg_100", view.ActivePackageID)
	require.True(t, view.RemainingUSD.Equal(decimal.NewFromInt(500)))

	rec = s.do(t, http.MethodPost, "/api/internal/entitlements/bob/profit", gin.H{"profit_delta_usd": "500"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, decodeData[struct {
		Exhausted bool `json:"exhausted"`
	}](t, rec).Exhausted)

	rec = s.do(t, http.MethodGet, "/api/internal/entitlements/bob/trading-allowed", nil, nil)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	require.Equal(t, "ALLOWANCE_EXCEEDED", decodeError(t, rec).Code)
}

func TestReferralPayoutLifecycle(t *testing.T) {
	s := newTestServer(t)
	admin := asAdmin(authorization.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/api/referrals/enroll", nil, asUser("alice"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	code := decodeData[struct {
		ReferralCode string `json:"referral_code"`
	}](t, rec).ReferralCode

	rec = s.do(t, http.MethodPost, "/api/referrals/enroll", gin.H{"referral_code": code}, asUser("alice"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "self_referral", decodeError(t, rec).Errors[0].Code)

	rec = s.do(t, http.MethodPost, "/api/referrals/enroll", gin.H{"referral_code": code}, asUser("bob"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/internal/purchases",
		gin.H{"user_id": "bob", "purchase_type": "onboarding_fee", "external_ref": "pay_1"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/referrals/me", nil, asUser("alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decodeData[struct {
		Balance struct {
			PendingUSD   decimal.Decimal `json:"pending_usd"`
			AvailableUSD decimal.Decimal `json:"available_usd"`
		} `json:"balance"`
	}](t, rec).Balance
	require.True(t, balance.PendingUSD.IsPositive())
	require.True(t, balance.AvailableUSD.Equal(balance.PendingUSD))

	rec = s.do(t, http.MethodPost, "/api/referrals/payout-requests",
		gin.H{"amount_usd": balance.PendingUSD.Add(decimal.NewFromInt(1)).String(), "payout_wallet_address": "TRx9wallet"}, asUser("alice"))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "insufficient_pending_earnings", decodeError(t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/referrals/payout-requests",
		gin.H{"amount_usd": balance.PendingUSD.String(), "payout_wallet_address": "TRx9wallet"}, asUser("alice"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	requestID := decodeData[struct {
		ID string `json:"id"`
	}](t, rec).ID

	rec = s.do(t, http.MethodGet, "/api/referrals/payout-requests", nil, asUser("alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeData[[]any](t, rec), 1)

	base := "/api/referrals/payout-requests/" + requestID
	rec = s.do(t, http.MethodPut, base+"/approve", nil, asAdmin(authorization.RoleSupport))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, base+"/approve", gin.H{"reason": "kyc ok"}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, base+"/receipt.pdf", nil, asUser("alice"))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "payout_request_not_paid", decodeError(t, rec).Code)

	rec = s.do(t, http.MethodPut, base+"/mark-paid", gin.H{"payout_tx_id": "0xabc"}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decodeData[struct {
		Status     string          `json:"status"`
		SettledUSD decimal.Decimal `json:"settled_usd"`
	}](t, rec)
	require.Equal(t, "PAID", paid.Status)
	require.True(t, paid.SettledUSD.Equal(balance.PendingUSD))

	rec = s.do(t, http.MethodPut, base+"/approve", nil, admin)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "invalid_status_transition", decodeError(t, rec).Code)

	rec = s.do(t, http.MethodGet, base+"/receipt.pdf", nil, asUser("bob"))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, base+"/receipt.pdf", nil, asUser("alice"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	rec = s.do(t, http.MethodGet, "/api/admin/referrals?status=paid", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decodeData[[]any](t, rec))

	rec = s.do(t, http.MethodGet, "/api/admin/referrals/export.xlsx", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = s.do(t, http.MethodGet, "/api/admin/audit-logs?action_type=payout_request.approve", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMapErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{ErrInvalidRequest, http.StatusBadRequest, "validation_error"},
		{ErrNotFound, http.StatusNotFound, "not_found"},
		{ErrConflict, http.StatusConflict, "conflict"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{ErrServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{auditdomain.ErrInvalidTimeRange, http.StatusBadRequest, "validation_error"},
		{http.ErrBodyNotAllowed, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
		require.Equal(t, tc.kind, payload.Type, tc.err.Error())
	}
}
