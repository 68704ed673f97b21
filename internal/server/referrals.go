package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	commissiondomain "github.com/smallbiznis/profitledger/internal/commission/domain"
	payoutdomain "github.com/smallbiznis/profitledger/internal/payout/domain"
	"github.com/smallbiznis/profitledger/internal/providers/export"
	referraldomain "github.com/smallbiznis/profitledger/internal/referral/domain"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
)

// exportPageLimit caps how many pages one export walks.
const exportPageLimit = 200

type listReferralEarningsQuery struct {
	pagination.Pagination
	EarnerUserID string `form:"earner_user_id"`
	Status       string `form:"status"`
	PurchaseID   string `form:"purchase_id"`
}

type markEarningPaidRequest struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

type enrollReferralRequest struct {
	ReferralCode string `json:"referral_code"`
}

func (s *Server) EnrollReferral(c *gin.Context) {
	var req enrollReferralRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	account, err := s.referralSvc.Enroll(c.Request.Context(), referraldomain.EnrollRequest{
		UserID:       userIDFrom(c),
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

// GetMyReferral returns the caller's account with earnings and what is still
// available to request as a payout.
func (s *Server) GetMyReferral(c *gin.Context) {
	ctx := c.Request.Context()
	userID := userIDFrom(c)

	account, err := s.referralSvc.Get(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	balance, err := s.payoutSvc.Balance(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"account": account,
		"balance": balance,
	}})
}

func (s *Server) ListReferralEarnings(c *gin.Context) {
	req, ok := bindReferralEarningsQuery(c)
	if !ok {
		return
	}

	resp, err := s.commissionSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Earnings,
		"summary":   resp.Summary,
		"page_info": resp.PageInfo,
	})
}

// ExportReferralEarnings streams every earning matching the filters as xlsx.
func (s *Server) ExportReferralEarnings(c *gin.Context) {
	req, ok := bindReferralEarningsQuery(c)
	if !ok {
		return
	}
	req.PageSize = 250
	req.PageToken = ""

	var (
		earnings []commissiondomain.Earning
		summary  commissiondomain.Summary
	)
	for page := 0; page < exportPageLimit; page++ {
		resp, err := s.commissionSvc.List(c.Request.Context(), req)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		earnings = append(earnings, resp.Earnings...)
		summary = resp.Summary
		if !resp.HasMore {
			break
		}
		req.PageToken = resp.NextPageToken
	}

	file, err := export.EarningsWorkbook(earnings, summary)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="referral-earnings.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", file)
}

func (s *Server) MarkReferralEarningPaid(c *gin.Context) {
	var req markEarningPaidRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	earning, err := s.payoutSvc.MarkEarningPaid(c.Request.Context(), payoutdomain.MarkEarningPaidRequest{
		AdminID:       adminIDFrom(c),
		EarningID:     c.Param("id"),
		TransactionID: req.TransactionID,
		Reason:        req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": earning})
}

func bindReferralEarningsQuery(c *gin.Context) (commissiondomain.ListRequest, bool) {
	var query listReferralEarningsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return commissiondomain.ListRequest{}, false
	}
	return commissiondomain.ListRequest{
		Pagination:   query.Pagination,
		EarnerUserID: strings.TrimSpace(query.EarnerUserID),
		Status:       strings.TrimSpace(query.Status),
		PurchaseID:   strings.TrimSpace(query.PurchaseID),
	}, true
}
