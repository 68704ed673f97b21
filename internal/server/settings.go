package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/profitledger/internal/catalog/domain"
)

type updateSettingsRequest struct {
	// PerformanceFeePct maps package id to its new fee percent.
	PerformanceFeePct map[string]decimal.Decimal `json:"performance_fee_pct"`
	Reason            string                     `json:"reason"`
}

func (s *Server) GetSettings(c *gin.Context) {
	settings, err := s.catalogSvc.Settings(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": settings})
}

func (s *Server) UpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	settings, err := s.catalogSvc.UpdatePerformanceFees(c.Request.Context(), catalogdomain.UpdateFeesRequest{
		AdminID: adminIDFrom(c),
		Reason:  req.Reason,
		Fees:    req.PerformanceFeePct,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": settings})
}
