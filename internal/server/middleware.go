package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/marketledger/internal/logger"
	"go.uber.org/zap"
)

const (
	// HeaderUserID carries the buyer identity resolved by the edge gateway.
	HeaderUserID     = "X-User-ID"
	contextUserIDKey = "user_id"
)

// RequestLogger logs each request with its correlation id and the error
// classification of the response.
func RequestLogger(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if userID := c.GetString(contextUserIDKey); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}

		if lastErr := c.Errors.Last(); lastErr != nil {
			errorType, errorCode := classifyErrorForLog(lastErr.Err)
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if status >= http.StatusInternalServerError {
				fields = append(fields, zap.Error(lastErr.Err))
			}
		}

		log := logger.WithContext(c.Request.Context(), base)
		switch {
		case route == "/metrics" || route == "/health":
			log.Debug("http_request", fields...)
		case status >= http.StatusInternalServerError:
			log.Error("http_request", fields...)
		default:
			log.Info("http_request", fields...)
		}
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader("X-Request-Id"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header("X-Request-Id", requestID)
	return requestID
}

// RequireUser rejects requests without a buyer identity.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(HeaderUserID)))
		if err != nil || id <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Set(contextUserIDKey, id.String())
		c.Next()
	}
}

func currentUserID(c *gin.Context) snowflake.ID {
	id, _ := snowflake.ParseString(c.GetString(contextUserIDKey))
	return id
}

// CheckoutRateLimit throttles checkout attempts per buyer. Limiter errors
// fail open.
func (s *Server) CheckoutRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := s.checkoutLimiter.Allow(c.Request.Context(), "checkout:"+c.GetString(contextUserIDKey))
		if err != nil {
			s.log.Warn("checkout limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !decision.Allowed {
			if decision.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds()+0.5)))
			}
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id <= 0 {
		AbortWithError(c, newValidationError(name, "invalid_"+name, "invalid "+name))
		return 0, false
	}
	return id, true
}
