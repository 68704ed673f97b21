package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	commissiondomain "github.com/smallbiznis/profitledger/internal/commission/domain"
	purchasedomain "github.com/smallbiznis/profitledger/internal/purchase/domain"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
)

type quotePurchaseRequest struct {
	PurchaseType string `json:"purchase_type"`
	PackageID    string `json:"package_id"`
	CouponCode   string `json:"coupon_code"`
}

type recordPurchaseRequest struct {
	UserID       string         `json:"user_id"`
	PurchaseType string         `json:"purchase_type"`
	PackageID    string         `json:"package_id"`
	CouponCode   string         `json:"coupon_code"`
	ExternalRef  string         `json:"external_ref"`
	Metadata     map[string]any `json:"metadata"`
}

type listPurchasesQuery struct {
	pagination.Pagination
	UserID       string `form:"user_id"`
	PurchaseType string `form:"purchase_type"`
	Processed    string `form:"processed"`
}

type distributePurchaseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) QuotePurchase(c *gin.Context) {
	var req quotePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	quote, err := s.purchaseSvc.Quote(c.Request.Context(), purchasedomain.QuoteRequest{
		UserID:       userIDFrom(c),
		PurchaseType: req.PurchaseType,
		PackageID:    req.PackageID,
		CouponCode:   req.CouponCode,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}

// RecordPurchase is called by the payment layer once a payment settles.
// Replays of the same external_ref answer 200 with the original purchase.
func (s *Server) RecordPurchase(c *gin.Context) {
	var req recordPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.purchaseSvc.Record(c.Request.Context(), purchasedomain.RecordRequest{
		UserID:       req.UserID,
		PurchaseType: req.PurchaseType,
		PackageID:    req.PackageID,
		CouponCode:   req.CouponCode,
		ExternalRef:  req.ExternalRef,
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) ListPurchases(c *gin.Context) {
	var query listPurchasesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	processed, err := parseOptionalBool(query.Processed)
	if err != nil {
		AbortWithError(c, newValidationError("processed", "invalid_processed", "invalid processed"))
		return
	}

	resp, err := s.purchaseSvc.List(c.Request.Context(), purchasedomain.ListRequest{
		Pagination:   query.Pagination,
		UserID:       strings.TrimSpace(query.UserID),
		PurchaseType: strings.TrimSpace(query.PurchaseType),
		Processed:    processed,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Purchases, "page_info": resp.PageInfo})
}

func (s *Server) GetPurchase(c *gin.Context) {
	purchase, err := s.purchaseSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": purchase})
}

// DistributePurchase retries commission distribution for one purchase. It is
// a no-op returning the existing rows when the purchase was already processed.
func (s *Server) DistributePurchase(c *gin.Context) {
	var req distributePurchaseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	result, err := s.commissionSvc.Distribute(c.Request.Context(), commissiondomain.DistributeRequest{
		AdminID:    adminIDFrom(c),
		PurchaseID: c.Param("id"),
		Reason:     req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
