package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/marketledger/internal/credit/domain"
)

const defaultListLimit = 50

type transferCreditsRequest struct {
	ToUserID       string `json:"to_user_id" binding:"required"`
	Amount         int64  `json:"amount" binding:"required,gt=0"`
	Reason         string `json:"reason" binding:"max=255"`
	IdempotencyKey string `json:"idempotency_key" binding:"max=128"`
}

type listQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

func (q listQuery) limit() int {
	if q.Limit <= 0 {
		return defaultListLimit
	}
	return q.Limit
}

func (s *Server) GetCreditBalance(c *gin.Context) {
	userID := currentUserID(c)
	balance, err := s.creditSvc.Balance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"user_id": userID.String(),
		"balance": balance,
	}})
}

func (s *Server) ListCreditHistory(c *gin.Context) {
	var query listQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	entries, err := s.creditSvc.History(c.Request.Context(), currentUserID(c), query.limit())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (s *Server) TransferCredits(c *gin.Context) {
	var req transferCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	toUserID, err := snowflake.ParseString(strings.TrimSpace(req.ToUserID))
	if err != nil || toUserID <= 0 {
		AbortWithError(c, newValidationError("to_user_id", "invalid_to_user_id", "invalid to_user_id"))
		return
	}

	result, err := s.creditSvc.Transfer(c.Request.Context(), creditdomain.TransferInput{
		FromUserID:     currentUserID(c),
		ToUserID:       toUserID,
		Amount:         req.Amount,
		Reason:         strings.TrimSpace(req.Reason),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": result})
}
