package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	"github.com/smallbiznis/profitledger/internal/authorization"
	catalogdomain "github.com/smallbiznis/profitledger/internal/catalog/domain"
	commissiondomain "github.com/smallbiznis/profitledger/internal/commission/domain"
	"github.com/smallbiznis/profitledger/internal/config"
	coupondomain "github.com/smallbiznis/profitledger/internal/coupon/domain"
	entitlementdomain "github.com/smallbiznis/profitledger/internal/entitlement/domain"
	"github.com/smallbiznis/profitledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/profitledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/profitledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/profitledger/internal/observability/tracing"
	payoutdomain "github.com/smallbiznis/profitledger/internal/payout/domain"
	"github.com/smallbiznis/profitledger/internal/providers/pdf"
	purchasedomain "github.com/smallbiznis/profitledger/internal/purchase/domain"
	"github.com/smallbiznis/profitledger/internal/ratelimit"
	referraldomain "github.com/smallbiznis/profitledger/internal/referral/domain"
	userdiscountdomain "github.com/smallbiznis/profitledger/internal/userdiscount/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(obsmetrics.GinMiddleware(httpMetrics))
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config

	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	catalogSvc      catalogdomain.Service
	entitlementSvc  entitlementdomain.Service
	couponSvc       coupondomain.Service
	userDiscountSvc userdiscountdomain.Service
	referralSvc     referraldomain.Service
	commissionSvc   commissiondomain.Service
	purchaseSvc     purchasedomain.Service
	payoutSvc       payoutdomain.Service
	pdf             pdf.Provider
	limiter         *ratelimit.Limiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	CatalogSvc      catalogdomain.Service
	EntitlementSvc  entitlementdomain.Service
	CouponSvc       coupondomain.Service
	UserDiscountSvc userdiscountdomain.Service
	ReferralSvc     referraldomain.Service
	CommissionSvc   commissiondomain.Service
	PurchaseSvc     purchasedomain.Service
	PayoutSvc       payoutdomain.Service
	PDF             pdf.Provider
	Limiter         *ratelimit.Limiter  `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		catalogSvc:      p.CatalogSvc,
		entitlementSvc:  p.EntitlementSvc,
		couponSvc:       p.CouponSvc,
		userDiscountSvc: p.UserDiscountSvc,
		referralSvc:     p.ReferralSvc,
		commissionSvc:   p.CommissionSvc,
		purchaseSvc:     p.PurchaseSvc,
		payoutSvc:       p.PayoutSvc,
		pdf:             p.PDF,
		limiter:         p.Limiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerUserRoutes()
	svc.registerInternalRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerUserRoutes() {
	api := s.engine.Group("/api")

	api.GET("/me/entitlement", s.UserRequired(), s.GetMyEntitlement)
	api.POST("/purchases/quote", s.UserRequired(), s.CouponRedeemRateLimit(), s.QuotePurchase)

	// -------- Referrals --------
	api.POST("/referrals/enroll", s.UserRequired(), s.EnrollReferral)
	api.GET("/referrals/me", s.UserRequired(), s.GetMyReferral)

	// -------- Payout requests --------
	// Creation and receipts belong to the user; transitions are admin-only.
	api.POST("/referrals/payout-requests", s.UserRequired(), s.PayoutRequestRateLimit(), s.CreatePayoutRequest)
	api.GET("/referrals/payout-requests", s.UserRequired(), s.ListMyPayoutRequests)
	api.GET("/referrals/payout-requests/:id/receipt.pdf", s.UserRequired(), s.GetPayoutReceipt)
	api.PUT("/referrals/payout-requests/:id/approve", s.AdminRequired(), s.authorize(authorization.ObjectPayoutRequest, authorization.ActionPayoutDecide), s.ApprovePayoutRequest)
	api.PUT("/referrals/payout-requests/:id/reject", s.AdminRequired(), s.authorize(authorization.ObjectPayoutRequest, authorization.ActionPayoutDecide), s.RejectPayoutRequest)
	api.PUT("/referrals/payout-requests/:id/mark-paid", s.AdminRequired(), s.authorize(authorization.ObjectPayoutRequest, authorization.ActionPayoutMarkPaid), s.MarkPayoutRequestPaid)
}

// registerInternalRoutes serves the payment and order layers, which reach the
// ledger over the private network only.
func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/api/internal")

	internal.POST("/purchases", s.CouponRedeemRateLimit(), s.RecordPurchase)
	internal.GET("/entitlements/:userId/trading-allowed", s.GetTradingAllowed)
	internal.POST("/entitlements/:userId/profit", s.ConsumeProfit)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin")
	admin.Use(s.AdminRequired())

	// -------- Entitlements & settings --------
	admin.GET("/entitlements", s.authorize(authorization.ObjectEntitlement, authorization.ActionView), s.ListEntitlements)
	admin.GET("/settings", s.authorize(authorization.ObjectSettings, authorization.ActionView), s.GetSettings)
	admin.PUT("/settings", s.authorize(authorization.ObjectSettings, authorization.ActionUpdate), s.UpdateSettings)

	// -------- Coupons --------
	admin.GET("/coupons", s.authorize(authorization.ObjectCoupon, authorization.ActionView), s.ListCoupons)
	admin.POST("/coupons", s.authorize(authorization.ObjectCoupon, authorization.ActionCreate), s.CreateCoupon)
	admin.GET("/coupons/:id", s.authorize(authorization.ObjectCoupon, authorization.ActionView), s.GetCoupon)
	admin.PATCH("/coupons/:id", s.authorize(authorization.ObjectCoupon, authorization.ActionUpdate), s.SetCouponStatus)
	admin.GET("/coupons/:id/qr.png", s.authorize(authorization.ObjectCoupon, authorization.ActionView), s.GetCouponQR)

	// -------- User discounts --------
	admin.GET("/user-discounts", s.authorize(authorization.ObjectUserDiscount, authorization.ActionView), s.ListUserDiscounts)
	admin.POST("/user-discounts", s.authorize(authorization.ObjectUserDiscount, authorization.ActionCreate), s.AssignUserDiscount)
	admin.POST("/user-discounts/presets/master-trader", s.authorize(authorization.ObjectUserDiscount, authorization.ActionCreate), s.CreateMasterTraderPreset)
	admin.GET("/user-discounts/:id", s.authorize(authorization.ObjectUserDiscount, authorization.ActionView), s.GetUserDiscount)
	admin.PATCH("/user-discounts/:id", s.authorize(authorization.ObjectUserDiscount, authorization.ActionUpdate), s.UpdateUserDiscount)
	admin.DELETE("/user-discounts/:id", s.authorize(authorization.ObjectUserDiscount, authorization.ActionRevoke), s.RevokeUserDiscount)
	admin.GET("/user-discounts/:id/qr.png", s.authorize(authorization.ObjectUserDiscount, authorization.ActionView), s.GetUserDiscountQR)

	// -------- Referrals & payouts --------
	admin.GET("/referrals", s.authorize(authorization.ObjectReferral, authorization.ActionView), s.ListReferralEarnings)
	admin.GET("/referrals/export.xlsx", s.authorize(authorization.ObjectReferral, authorization.ActionExport), s.ExportReferralEarnings)
	admin.PATCH("/referrals/:id/mark-paid", s.authorize(authorization.ObjectReferral, authorization.ActionEarningMarkPaid), s.MarkReferralEarningPaid)
	admin.GET("/payout-requests", s.authorize(authorization.ObjectPayoutRequest, authorization.ActionView), s.ListPayoutRequests)
	admin.GET("/payout-requests/:id", s.authorize(authorization.ObjectPayoutRequest, authorization.ActionView), s.GetPayoutRequest)

	// -------- Purchases --------
	admin.GET("/purchases", s.authorize(authorization.ObjectPurchase, authorization.ActionView), s.ListPurchases)
	admin.GET("/purchases/:id", s.authorize(authorization.ObjectPurchase, authorization.ActionView), s.GetPurchase)
	admin.PATCH("/purchases/:id/distribute", s.authorize(authorization.ObjectPurchase, authorization.ActionDistribute), s.DistributePurchase)

	admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
