package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/schedai/schedai/services/scheduling-service/internal/aiclient"
	"github.com/schedai/schedai/services/scheduling-service/internal/scheduling"
)

type publicBookRequest struct {
	GuestName  string    `json:"guest_name" binding:"required"`
	GuestEmail string    `json:"guest_email" binding:"required,email"`
	Reason     string    `json:"reason"`
	StartTime  time.Time `json:"start_time" binding:"required"`
	EndTime    time.Time `json:"end_time" binding:"required"`
}

type joinWaitlistRequest struct {
	GuestName      string    `json:"guest_name" binding:"required"`
	GuestEmail     string    `json:"guest_email" binding:"required,email"`
	GuestReason    string    `json:"guest_reason"`
	PreferredStart time.Time `json:"preferred_start" binding:"required"`
	PreferredEnd   time.Time `json:"preferred_end" binding:"required"`
}

// GET /api/v1/public/:host/slots?days=7&score=true
func (h *Handler) PublicSlots(c *gin.Context) {
	host := c.Param("host")
	days, ok := queryInt(c, "days", scheduling.DefaultRangeDays)
	if !ok {
		return
	}
	slots, err := h.svc.Facade().GetPublicSlots(c.Request.Context(), host, days)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if c.Query("score") == "true" {
		scored, err := aiclient.ScoreOrFallback(c.Request.Context(), h.ai, slots, map[string]string{
			"host_user_id": host,
			"timezone":     h.svc.Facade().Location().String(),
		})
		if err != nil {
			h.logger.Warn("slot scoring unavailable, serving unscored slots", "err", err, "host_user_id", host)
		}
		slots = scored
	}
	c.JSON(http.StatusOK, gin.H{"host_user_id": host, "slots": slots})
}

// POST /api/v1/public/:host/book
func (h *Handler) PublicBook(c *gin.Context) {
	var req publicBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	b, err := h.svc.PublicBook(c.Request.Context(), scheduling.AppointmentInput{
		HostUserID: c.Param("host"),
		GuestName:  req.GuestName,
		GuestEmail: req.GuestEmail,
		Reason:     req.Reason,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// POST /api/v1/public/:host/waitlist
func (h *Handler) JoinWaitlist(c *gin.Context) {
	var req joinWaitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	entry, err := h.svc.JoinWaitlist(c.Request.Context(), scheduling.WaitlistInput{
		HostUserID:     c.Param("host"),
		GuestName:      req.GuestName,
		GuestEmail:     req.GuestEmail,
		GuestReason:    req.GuestReason,
		PreferredStart: req.PreferredStart,
		PreferredEnd:   req.PreferredEnd,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}
