package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type bookingCompletedRequest struct {
	EndTime *time.Time `json:"end_time"`
}

type bookingCanceledRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

// BookingCompleted receives the scheduling system's delivery event.
func (s *Server) BookingCompleted(c *gin.Context) {
	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req bookingCompletedRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, bindError(err))
			return
		}
	}
	var endTime time.Time
	if req.EndTime != nil {
		endTime = req.EndTime.UTC()
	}

	out, err := s.fulfillmentSvc.HandleBookingCompleted(c.Request.Context(), bookingID, endTime)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) BookingCanceled(c *gin.Context) {
	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req bookingCanceledRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, bindError(err))
			return
		}
	}

	out, err := s.fulfillmentSvc.HandleBookingCanceled(c.Request.Context(), bookingID, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}
