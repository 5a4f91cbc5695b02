package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/marketledger/internal/checkout/domain"
	fulfillmentdomain "github.com/smallbiznis/marketledger/internal/fulfillment/domain"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
)

type confirmCheckoutRequest struct {
	ChargeRef string `json:"charge_ref" binding:"required"`
}

type refundOrderRequest struct {
	Amount         int64  `json:"amount" binding:"required,gt=0"`
	Reason         string `json:"reason" binding:"max=255"`
	IdempotencyKey string `json:"idempotency_key" binding:"max=128"`
}

type scheduleSessionRequest struct {
	StartTime time.Time `json:"start_time" binding:"required"`
}

func (s *Server) PreviewCheckout(c *gin.Context) {
	var req checkoutdomain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	req.UserID = currentUserID(c)

	quote, err := s.checkoutSvc.Preview(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": quote})
}

func (s *Server) Checkout(c *gin.Context) {
	var req checkoutdomain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	req.UserID = currentUserID(c)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}

	result, err := s.checkoutSvc.Checkout(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.RequiresAction {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) ConfirmCheckout(c *gin.Context) {
	var req confirmCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	result, err := s.checkoutSvc.Confirm(c.Request.Context(), currentUserID(c), strings.TrimSpace(req.ChargeRef))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) GetOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := s.checkoutSvc.GetOrder(c.Request.Context(), currentUserID(c), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) CancelOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := s.checkoutSvc.Cancel(c.Request.Context(), currentUserID(c), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) RefundOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req refundOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := s.refundSvc.RequestRefund(c.Request.Context(), paymentdomain.RefundInput{
		OrderID:        orderID,
		Amount:         req.Amount,
		Reason:         strings.TrimSpace(req.Reason),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) SchedulePackageSession(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req scheduleSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	booking, err := s.fulfillmentSvc.SchedulePackageSession(c.Request.Context(), fulfillmentdomain.ScheduleInput{
		UserID:    currentUserID(c),
		OrderID:   orderID,
		StartTime: req.StartTime.UTC(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": booking})
}
