package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/marketledger/internal/logger"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// HandlePaymentWebhook hands a gateway delivery to the payment service. A
// redelivery of an event that was already processed is acknowledged with 200.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(payload) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(payload) > maxWebhookBody {
		AbortWithError(c, newValidationError("body", "payload_too_large", "webhook payload too large"))
		return
	}

	ctx := c.Request.Context()
	err = s.paymentSvc.IngestWebhook(ctx, provider, payload, c.Request.Header)
	switch {
	case err == nil:
	case errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
		logger.WithContext(ctx, s.log).Debug("webhook redelivered", zap.String("provider", provider))
	default:
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
