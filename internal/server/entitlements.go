package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	entitlementdomain "github.com/smallbiznis/profitledger/internal/entitlement/domain"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
)

type listEntitlementsQuery struct {
	pagination.Pagination
	Status string `form:"status"`
	UserID string `form:"user_id"`
}

type consumeProfitRequest struct {
	ProfitDeltaUSD *decimal.Decimal `json:"profit_delta_usd"`
}

func (s *Server) GetMyEntitlement(c *gin.Context) {
	view, err := s.entitlementSvc.Get(c.Request.Context(), userIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) ListEntitlements(c *gin.Context) {
	var query listEntitlementsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.entitlementSvc.List(c.Request.Context(), entitlementdomain.ListRequest{
		Pagination: query.Pagination,
		Status:     strings.TrimSpace(query.Status),
		UserID:     strings.TrimSpace(query.UserID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entitlements, "page_info": resp.PageInfo})
}

// GetTradingAllowed answers the order layer's pre-trade check. A user who may
// not trade gets 402 ALLOWANCE_EXCEEDED so the order is blocked, not warned.
func (s *Server) GetTradingAllowed(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))
	allowed, err := s.entitlementSvc.IsTradingAllowed(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !allowed {
		AbortWithError(c, entitlementdomain.ErrAllowanceExceeded)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"user_id": userID, "trading_allowed": true}})
}

func (s *Server) ConsumeProfit(c *gin.Context) {
	var req consumeProfitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.ProfitDeltaUSD == nil {
		AbortWithError(c, newValidationError("profit_delta_usd", "required", "profit_delta_usd is required"))
		return
	}

	result, err := s.entitlementSvc.ConsumeProfit(c.Request.Context(), c.Param("userId"), *req.ProfitDeltaUSD)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"entitlement": result.Entitlement.View(),
		"exhausted":   result.Exhausted,
	}})
}
