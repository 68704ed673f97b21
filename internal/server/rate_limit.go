package server

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/profitledger/internal/observability/logger"
	"github.com/smallbiznis/profitledger/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	rateLimitReasonCouponRate   = "coupon-rate"
	rateLimitReasonPayoutRate   = "payout-rate"
	rateLimitReasonPayoutInFlow = "payout-in-flight"
)

type couponRateLimitKey struct {
	UserID     string `json:"user_id"`
	CouponCode string `json:"coupon_code"`
}

// CouponRedeemRateLimit throttles coupon-bearing purchase and quote calls per
// user, so codes cannot be brute-forced. Requests without a code pass.
func (s *Server) CouponRedeemRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		key, err := readCouponRateLimitKey(c)
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		userID := strings.TrimSpace(c.GetString(contextUserIDKey))
		if userID == "" {
			userID = key.UserID
		}
		if key.CouponCode == "" || userID == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		result, err := s.limiter.AllowCouponRedeem(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("coupon rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			s.denyRateLimit(c, rateLimitReasonCouponRate, result)
			return
		}
		c.Next()
	}
}

// PayoutRequestRateLimit throttles payout request creation and keeps one
// request per user in flight.
func (s *Server) PayoutRequestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		userID := userIDFrom(c)
		result, err := s.limiter.AllowPayoutRequest(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("payout rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			s.denyRateLimit(c, rateLimitReasonPayoutRate, result)
			return
		}

		release, ok, err := s.limiter.LockPayoutRequest(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("payout request lock failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !ok {
			s.denyRateLimit(c, rateLimitReasonPayoutInFlow, ratelimit.Result{RetryAfter: time.Second})
			return
		}
		defer release()

		c.Next()
	}
}

func (s *Server) denyRateLimit(c *gin.Context, reason string, result ratelimit.Result) {
	endpoint := normalizeRateLimitEndpoint(c)
	logger.FromContext(c.Request.Context()).Warn("rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRateLimitDenied(endpoint, reason)
	}

	retryAfter := int(result.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func readCouponRateLimitKey(c *gin.Context) (couponRateLimitKey, error) {
	var key couponRateLimitKey
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return key, err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return key, nil
	}

	// Malformed bodies are left for the handler to reject.
	if err := json.Unmarshal(body, &key); err != nil {
		return couponRateLimitKey{}, nil
	}
	key.UserID = strings.TrimSpace(key.UserID)
	key.CouponCode = strings.TrimSpace(key.CouponCode)
	return key, nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
