package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	coupondomain "github.com/smallbiznis/profitledger/internal/coupon/domain"
	"github.com/smallbiznis/profitledger/internal/providers/qrcode"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
)

type listCouponsQuery struct {
	pagination.Pagination
	Status string `form:"status"`
	Scope  string `form:"scope"`
}

type createCouponRequest struct {
	Code           string           `json:"code"`
	DiscountPct    *decimal.Decimal `json:"discount_pct"`
	Scope          string           `json:"scope"`
	MaxRedemptions *int             `json:"max_redemptions"`
	DurationMonths int              `json:"duration_months"`
	ExpiresAt      *time.Time       `json:"expires_at"`
	Description    string           `json:"description"`
}

type setCouponStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type couponResponse struct {
	coupondomain.Coupon
	ClaimURL string `json:"claim_url"`
}

func (s *Server) ListCoupons(c *gin.Context) {
	var query listCouponsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.couponSvc.List(c.Request.Context(), coupondomain.ListRequest{
		Pagination: query.Pagination,
		Status:     strings.TrimSpace(query.Status),
		Scope:      strings.TrimSpace(query.Scope),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data := make([]couponResponse, 0, len(resp.Coupons))
	for _, coupon := range resp.Coupons {
		data = append(data, s.couponResponse(coupon))
	}
	c.JSON(http.StatusOK, gin.H{"data": data, "page_info": resp.PageInfo})
}

func (s *Server) CreateCoupon(c *gin.Context) {
	var req createCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.DiscountPct == nil {
		AbortWithError(c, newValidationError("discount_pct", "required", "discount_pct is required"))
		return
	}

	coupon, err := s.couponSvc.Create(c.Request.Context(), coupondomain.CreateRequest{
		AdminID:        adminIDFrom(c),
		Code:           req.Code,
		DiscountPct:    *req.DiscountPct,
		Scope:          req.Scope,
		MaxRedemptions: req.MaxRedemptions,
		DurationMonths: req.DurationMonths,
		ExpiresAt:      req.ExpiresAt,
		Description:    req.Description,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": s.couponResponse(coupon)})
}

func (s *Server) GetCoupon(c *gin.Context) {
	coupon, err := s.couponSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.couponResponse(coupon)})
}

func (s *Server) SetCouponStatus(c *gin.Context) {
	var req setCouponStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	coupon, err := s.couponSvc.SetStatus(c.Request.Context(), coupondomain.SetStatusRequest{
		AdminID: adminIDFrom(c),
		ID:      c.Param("id"),
		Status:  req.Status,
		Reason:  req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.couponResponse(coupon)})
}

func (s *Server) GetCouponQR(c *gin.Context) {
	size, err := parseQRSize(c.Query("size"))
	if err != nil {
		AbortWithError(c, newValidationError("size", "invalid_size", "invalid size"))
		return
	}

	coupon, err := s.couponSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.writeQR(c, qrcode.ClaimLinkURL(s.cfg.PublicBaseURL, coupon.ClaimPath()), size)
}

func (s *Server) couponResponse(coupon coupondomain.Coupon) couponResponse {
	return couponResponse{
		Coupon:   coupon,
		ClaimURL: qrcode.ClaimLinkURL(s.cfg.PublicBaseURL, coupon.ClaimPath()),
	}
}

func (s *Server) writeQR(c *gin.Context, link string, size int) {
	png, err := qrcode.PNG(link, size)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "image/png", png)
}
