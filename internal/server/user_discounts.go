package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/profitledger/internal/providers/qrcode"
	userdiscountdomain "github.com/smallbiznis/profitledger/internal/userdiscount/domain"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
)

type listUserDiscountsQuery struct {
	pagination.Pagination
	UserID string `form:"user_id"`
	Status string `form:"status"`
	Scope  string `form:"scope"`
}

type assignUserDiscountRequest struct {
	UserID             string           `json:"user_id"`
	Scope              string           `json:"scope"`
	OnboardingPct      *decimal.Decimal `json:"onboarding_pct"`
	OnboardingFixedUSD *decimal.Decimal `json:"onboarding_fixed_usd"`
	TradingPct         *decimal.Decimal `json:"trading_pct"`
	TradingPackageIDs  []string         `json:"trading_package_ids"`
	TradingMaxPackages *int             `json:"trading_max_packages"`
	Note               string           `json:"note"`
	Reason             string           `json:"reason"`
}

type updateUserDiscountRequest struct {
	OnboardingPct      *decimal.Decimal `json:"onboarding_pct"`
	OnboardingFixedUSD *decimal.Decimal `json:"onboarding_fixed_usd"`
	TradingPct         *decimal.Decimal `json:"trading_pct"`
	TradingPackageIDs  *[]string        `json:"trading_package_ids"`
	TradingMaxPackages *int             `json:"trading_max_packages"`
	Status             *string          `json:"status"`
	Note               *string          `json:"note"`
	Reason             string           `json:"reason"`
}

type masterTraderPresetRequest struct {
	UserID   string `json:"user_id"`
	Duration string `json:"duration"`
	Reason   string `json:"reason"`
}

type revokeUserDiscountRequest struct {
	Reason string `json:"reason"`
}

type userDiscountResponse struct {
	userdiscountdomain.UserDiscount
	ClaimURL string `json:"claim_url"`
}

func (s *Server) ListUserDiscounts(c *gin.Context) {
	var query listUserDiscountsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.userDiscountSvc.List(c.Request.Context(), userdiscountdomain.ListRequest{
		Pagination: query.Pagination,
		UserID:     strings.TrimSpace(query.UserID),
		Status:     strings.TrimSpace(query.Status),
		Scope:      strings.TrimSpace(query.Scope),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.userDiscountResponses(resp.UserDiscounts), "page_info": resp.PageInfo})
}

func (s *Server) AssignUserDiscount(c *gin.Context) {
	var req assignUserDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	discount, err := s.userDiscountSvc.Assign(c.Request.Context(), userdiscountdomain.AssignRequest{
		AdminID:            adminIDFrom(c),
		UserID:             req.UserID,
		Scope:              req.Scope,
		OnboardingPct:      req.OnboardingPct,
		OnboardingFixedUSD: req.OnboardingFixedUSD,
		TradingPct:         req.TradingPct,
		TradingPackageIDs:  req.TradingPackageIDs,
		TradingMaxPackages: req.TradingMaxPackages,
		Note:               req.Note,
		Reason:             req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": s.userDiscountResponse(discount)})
}

// CreateMasterTraderPreset grants the onboarding and trading discounts of the
// Master Trader bundle in one call.
func (s *Server) CreateMasterTraderPreset(c *gin.Context) {
	var req masterTraderPresetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	discounts, err := s.userDiscountSvc.CreateMasterTraderPreset(c.Request.Context(), userdiscountdomain.PresetRequest{
		AdminID:  adminIDFrom(c),
		UserID:   req.UserID,
		Duration: req.Duration,
		Reason:   req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": s.userDiscountResponses(discounts)})
}

func (s *Server) GetUserDiscount(c *gin.Context) {
	discount, err := s.userDiscountSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.userDiscountResponse(discount)})
}

func (s *Server) UpdateUserDiscount(c *gin.Context) {
	var req updateUserDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	discount, err := s.userDiscountSvc.Update(c.Request.Context(), userdiscountdomain.UpdateRequest{
		AdminID:            adminIDFrom(c),
		ID:                 c.Param("id"),
		OnboardingPct:      req.OnboardingPct,
		OnboardingFixedUSD: req.OnboardingFixedUSD,
		TradingPct:         req.TradingPct,
		TradingPackageIDs:  req.TradingPackageIDs,
		TradingMaxPackages: req.TradingMaxPackages,
		Status:             req.Status,
		Note:               req.Note,
		Reason:             req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.userDiscountResponse(discount)})
}

// RevokeUserDiscount soft-deletes: the row stays with status revoked. The
// reason may come in the body or as ?reason=.
func (s *Server) RevokeUserDiscount(c *gin.Context) {
	var req revokeUserDiscountRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = c.Query("reason")
	}

	discount, err := s.userDiscountSvc.Revoke(c.Request.Context(), adminIDFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.userDiscountResponse(discount)})
}

func (s *Server) GetUserDiscountQR(c *gin.Context) {
	size, err := parseQRSize(c.Query("size"))
	if err != nil {
		AbortWithError(c, newValidationError("size", "invalid_size", "invalid size"))
		return
	}

	discount, err := s.userDiscountSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.writeQR(c, qrcode.ClaimLinkURL(s.cfg.PublicBaseURL, discount.ClaimPath()), size)
}

func (s *Server) userDiscountResponse(discount userdiscountdomain.UserDiscount) userDiscountResponse {
	return userDiscountResponse{
		UserDiscount: discount,
		ClaimURL:     qrcode.ClaimLinkURL(s.cfg.PublicBaseURL, discount.ClaimPath()),
	}
}

func (s *Server) userDiscountResponses(discounts []userdiscountdomain.UserDiscount) []userDiscountResponse {
	out := make([]userDiscountResponse, 0, len(discounts))
	for _, discount := range discounts {
		out = append(out, s.userDiscountResponse(discount))
	}
	return out
}
