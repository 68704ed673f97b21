package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	"github.com/smallbiznis/profitledger/internal/authorization"
	catalogdomain "github.com/smallbiznis/profitledger/internal/catalog/domain"
	commissiondomain "github.com/smallbiznis/profitledger/internal/commission/domain"
	coupondomain "github.com/smallbiznis/profitledger/internal/coupon/domain"
	entitlementdomain "github.com/smallbiznis/profitledger/internal/entitlement/domain"
	payoutdomain "github.com/smallbiznis/profitledger/internal/payout/domain"
	purchasedomain "github.com/smallbiznis/profitledger/internal/purchase/domain"
	referraldomain "github.com/smallbiznis/profitledger/internal/referral/domain"
	userdiscountdomain "github.com/smallbiznis/profitledger/internal/userdiscount/domain"
	"github.com/smallbiznis/profitledger/pkg/db"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

var validationErrors = []error{
	ErrInvalidRequest,
	auditdomain.ErrInvalidAdmin,
	auditdomain.ErrInvalidAction,
	auditdomain.ErrInvalidEntity,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	catalogdomain.ErrInvalidPerformanceFeePct,
	catalogdomain.ErrInvalidFees,
	entitlementdomain.ErrInvalidUserID,
	entitlementdomain.ErrInvalidAmount,
	entitlementdomain.ErrInvalidProfitDelta,
	entitlementdomain.ErrInvalidStatus,
	entitlementdomain.ErrInvalidPageToken,
	coupondomain.ErrInvalidCode,
	coupondomain.ErrInvalidDiscountPct,
	coupondomain.ErrInvalidDurationMonths,
	coupondomain.ErrInvalidScope,
	coupondomain.ErrInvalidMaxRedemptions,
	coupondomain.ErrInvalidExpiry,
	coupondomain.ErrInvalidStatus,
	coupondomain.ErrInvalidUserID,
	coupondomain.ErrInvalidPurchaseType,
	coupondomain.ErrInvalidID,
	coupondomain.ErrInvalidPageToken,
	userdiscountdomain.ErrInvalidUserID,
	userdiscountdomain.ErrInvalidScope,
	userdiscountdomain.ErrInvalidPct,
	userdiscountdomain.ErrInvalidFixedAmount,
	userdiscountdomain.ErrOnboardingValueReq,
	userdiscountdomain.ErrTradingPctRequired,
	userdiscountdomain.ErrTradingMaxRequired,
	userdiscountdomain.ErrInvalidTradingMax,
	userdiscountdomain.ErrUnknownPackage,
	userdiscountdomain.ErrInvalidStatus,
	userdiscountdomain.ErrInvalidDuration,
	userdiscountdomain.ErrInvalidID,
	userdiscountdomain.ErrInvalidClaimCode,
	userdiscountdomain.ErrInvalidPageToken,
	referraldomain.ErrInvalidUserID,
	referraldomain.ErrInvalidReferralCode,
	referraldomain.ErrSelfReferral,
	referraldomain.ErrReferralCycle,
	commissiondomain.ErrInvalidPurchaseID,
	commissiondomain.ErrInvalidStatus,
	commissiondomain.ErrInvalidPageToken,
	purchasedomain.ErrInvalidUserID,
	purchasedomain.ErrInvalidPurchaseType,
	purchasedomain.ErrPackageRequired,
	purchasedomain.ErrInvalidID,
	purchasedomain.ErrInvalidPageToken,
	payoutdomain.ErrInvalidUserID,
	payoutdomain.ErrInvalidAmount,
	payoutdomain.ErrInvalidWallet,
	payoutdomain.ErrInvalidID,
	payoutdomain.ErrInvalidEarningID,
	payoutdomain.ErrInvalidStatus,
	payoutdomain.ErrInvalidPageToken,
}

var notFoundErrors = []error{
	ErrNotFound,
	gorm.ErrRecordNotFound,
	catalogdomain.ErrPackageNotFound,
	entitlementdomain.ErrNotFound,
	coupondomain.ErrNotFound,
	userdiscountdomain.ErrNotFound,
	referraldomain.ErrCodeNotFound,
	referraldomain.ErrNotFound,
	commissiondomain.ErrPurchaseNotFound,
	commissiondomain.ErrNotFound,
	purchasedomain.ErrNotFound,
	payoutdomain.ErrNotFound,
	payoutdomain.ErrEarningNotFound,
}

var conflictErrors = []error{
	ErrConflict,
	entitlementdomain.ErrConcurrentUpdate,
	coupondomain.ErrCodeTaken,
	coupondomain.ErrExhausted,
	coupondomain.ErrExpired,
	coupondomain.ErrScopeMismatch,
	coupondomain.ErrInactive,
	coupondomain.ErrAlreadyRedeemed,
	userdiscountdomain.ErrRevoked,
	userdiscountdomain.ErrNotActive,
	userdiscountdomain.ErrTradingUseExhausted,
	userdiscountdomain.ErrNotOwner,
	referraldomain.ErrReferrerAlreadySet,
	purchasedomain.ErrExternalRefConflict,
	purchasedomain.ErrClaimCodeNotOwned,
	payoutdomain.ErrInsufficientBalance,
	payoutdomain.ErrInvalidTransition,
	payoutdomain.ErrNotPaid,
	payoutdomain.ErrSettlementConflict,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case matchesAny(err, validationErrors):
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	case errors.Is(err, entitlementdomain.ErrAllowanceExceeded):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_required",
			Code:    entitlementdomain.ErrAllowanceExceeded.Error(),
			Message: "profit allowance exhausted",
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidRole):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case matchesAny(err, notFoundErrors):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    codeOf(err),
			Message: "not found",
		}
	case matchesAny(err, conflictErrors):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    codeOf(err),
			Message: "conflict",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		db.IsUnavailableErr(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same type/code pair the
// client receives.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// codeOf returns the sentinel's code even when the error was wrapped.
func codeOf(err error) string {
	for _, group := range [][]error{notFoundErrors, conflictErrors} {
		for _, target := range group {
			if errors.Is(err, target) {
				return target.Error()
			}
		}
	}
	return err.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "package_id_required":
		return "package_id"
	case "self_referral", "referral_cycle":
		return "referral_code"
	case "onboarding_value_required":
		return "onboarding_pct"
	case "trading_pct_required":
		return "trading_pct"
	case "trading_max_packages_required":
		return "trading_max_packages"
	case "unknown_package":
		return "trading_package_ids"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "self_referral":
		return "users cannot refer themselves"
	case "referral_cycle":
		return "referrer is already in this user's downline"
	case "package_id_required":
		return "package_id is required for package purchases"
	default:
		return "invalid value"
	}
}
