package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type createPayoutRequest struct {
	Amount *int64 `json:"amount" binding:"omitempty,gt=0"`
}

type completePayoutRequest struct {
	TransferRef string `json:"transfer_ref" binding:"required,max=128"`
}

type payoutReasonRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

func (s *Server) GetEarnings(c *gin.Context) {
	practitionerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var query listQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	ctx := c.Request.Context()
	balance, err := s.earningsSvc.GetBalance(ctx, practitionerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	txns, err := s.earningsSvc.ListByPractitioner(ctx, practitionerID, query.limit())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"balance":      balance,
		"transactions": txns,
	}})
}

func (s *Server) GetPayoutEligibility(c *gin.Context) {
	practitionerID, ok := pathID(c, "id")
	if !ok {
		return
	}

	eligibility, err := s.payoutSvc.CheckEligibility(c.Request.Context(), practitionerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": eligibility})
}

func (s *Server) CreatePayout(c *gin.Context) {
	practitionerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req createPayoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, bindError(err))
			return
		}
	}

	payout, err := s.payoutSvc.CreatePayout(c.Request.Context(), practitionerID, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": payout})
}

func (s *Server) ListPayouts(c *gin.Context) {
	practitionerID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var query listQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	payouts, err := s.payoutSvc.ListByPractitioner(c.Request.Context(), practitionerID, query.limit())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payouts})
}

func (s *Server) GetPayout(c *gin.Context) {
	payoutID, ok := pathID(c, "id")
	if !ok {
		return
	}

	payout, err := s.payoutSvc.Get(c.Request.Context(), payoutID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payout})
}

func (s *Server) MarkPayoutProcessing(c *gin.Context) {
	payoutID, ok := pathID(c, "id")
	if !ok {
		return
	}

	payout, err := s.payoutSvc.MarkProcessing(c.Request.Context(), payoutID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payout})
}

func (s *Server) CompletePayout(c *gin.Context) {
	payoutID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req completePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	payout, err := s.payoutSvc.CompletePayout(c.Request.Context(), payoutID, strings.TrimSpace(req.TransferRef))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payout})
}

func (s *Server) FailPayout(c *gin.Context) {
	s.closePayout(c, true)
}

func (s *Server) CancelPayout(c *gin.Context) {
	s.closePayout(c, false)
}

func (s *Server) closePayout(c *gin.Context, failed bool) {
	payoutID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req payoutReasonRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, bindError(err))
			return
		}
	}

	ctx := c.Request.Context()
	reason := strings.TrimSpace(req.Reason)
	finish := s.payoutSvc.CancelPayout
	if failed {
		finish = s.payoutSvc.FailPayout
	}
	payout, err := finish(ctx, payoutID, reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payout})
}

func (s *Server) GetPayoutStatement(c *gin.Context) {
	payoutID, ok := pathID(c, "id")
	if !ok {
		return
	}

	doc, err := s.payoutSvc.Statement(c.Request.Context(), payoutID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.DataFromReader(http.StatusOK, -1, "application/pdf", doc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`inline; filename="payout-%s.pdf"`, payoutID),
	})
}
