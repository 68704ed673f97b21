package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	payoutdomain "github.com/smallbiznis/profitledger/internal/payout/domain"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
)

type listPayoutRequestsQuery struct {
	pagination.Pagination
	UserID string `form:"user_id"`
	Status string `form:"status"`
}

type createPayoutRequest struct {
	AmountUSD     *decimal.Decimal `json:"amount_usd"`
	WalletAddress string           `json:"payout_wallet_address"`
}

type payoutDecisionRequest struct {
	Reason string `json:"reason"`
}

type markPayoutPaidRequest struct {
	PayoutTxID string `json:"payout_tx_id"`
	Reason     string `json:"reason"`
}

func (s *Server) CreatePayoutRequest(c *gin.Context) {
	var req createPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.AmountUSD == nil {
		AbortWithError(c, newValidationError("amount_usd", "required", "amount_usd is required"))
		return
	}

	request, err := s.payoutSvc.Create(c.Request.Context(), payoutdomain.CreateRequest{
		UserID:        userIDFrom(c),
		AmountUSD:     *req.AmountUSD,
		WalletAddress: req.WalletAddress,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": request})
}

func (s *Server) ListMyPayoutRequests(c *gin.Context) {
	var query listPayoutRequestsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	query.UserID = userIDFrom(c)
	s.listPayoutRequests(c, query)
}

func (s *Server) ListPayoutRequests(c *gin.Context) {
	var query listPayoutRequestsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	s.listPayoutRequests(c, query)
}

func (s *Server) listPayoutRequests(c *gin.Context, query listPayoutRequestsQuery) {
	resp, err := s.payoutSvc.List(c.Request.Context(), payoutdomain.ListRequest{
		Pagination: query.Pagination,
		UserID:     strings.TrimSpace(query.UserID),
		Status:     strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.PayoutRequests, "page_info": resp.PageInfo})
}

func (s *Server) GetPayoutRequest(c *gin.Context) {
	request, err := s.payoutSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": request})
}

func (s *Server) ApprovePayoutRequest(c *gin.Context) {
	req, ok := bindDecision(c)
	if !ok {
		return
	}

	request, err := s.payoutSvc.Approve(c.Request.Context(), payoutdomain.DecisionRequest{
		AdminID: adminIDFrom(c),
		ID:      c.Param("id"),
		Reason:  req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": request})
}

func (s *Server) RejectPayoutRequest(c *gin.Context) {
	req, ok := bindDecision(c)
	if !ok {
		return
	}

	request, err := s.payoutSvc.Reject(c.Request.Context(), payoutdomain.DecisionRequest{
		AdminID: adminIDFrom(c),
		ID:      c.Param("id"),
		Reason:  req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": request})
}

func (s *Server) MarkPayoutRequestPaid(c *gin.Context) {
	var req markPayoutPaidRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	request, err := s.payoutSvc.MarkPaid(c.Request.Context(), payoutdomain.MarkPaidRequest{
		AdminID:    adminIDFrom(c),
		ID:         c.Param("id"),
		PayoutTxID: req.PayoutTxID,
		Reason:     req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": request})
}

// GetPayoutReceipt renders the PDF receipt of one of the caller's paid
// requests. Other users' requests read as not found.
func (s *Server) GetPayoutReceipt(c *gin.Context) {
	ctx := c.Request.Context()
	receipt, err := s.payoutSvc.Receipt(ctx, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if receipt.Request.UserID != userIDFrom(c) {
		AbortWithError(c, payoutdomain.ErrNotFound)
		return
	}

	file, err := s.pdf.PayoutReceipt(ctx, receipt)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="payout-%s.pdf"`, receipt.Request.ID.String()))
	c.Data(http.StatusOK, "application/pdf", file)
}

func bindDecision(c *gin.Context) (payoutDecisionRequest, bool) {
	var req payoutDecisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return req, false
		}
	}
	return req, true
}
