package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/schedai/schedai/services/scheduling-service/internal/aiclient"
	"github.com/schedai/schedai/services/scheduling-service/internal/scheduling"
)

type transcriptRequest struct {
	Content string `json:"content" binding:"required"`
}

type debriefRequest struct {
	AppointmentID string `json:"appointment_id" binding:"required"`
}

type debriefResponse struct {
	ID                    string   `json:"id"`
	AppointmentID         string   `json:"appointment_id"`
	Summary               string   `json:"summary"`
	ActionItems           []string `json:"action_items"`
	SuggestedFollowupDate *string  `json:"suggested_followup_date"`
}

// POST /api/v1/appointments/:id/transcript
func (h *Handler) SaveTranscript(c *gin.Context) {
	var req transcriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	tr, err := h.svc.SaveTranscript(c.Request.Context(), hostID(c), c.Param("id"), req.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tr)
}

// GET /api/v1/appointments/:id/transcript returns the newest upload.
func (h *Handler) LatestTranscript(c *gin.Context) {
	tr, err := h.svc.LatestTranscript(c.Request.Context(), hostID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": tr.ID, "content": tr.Content, "created_at": tr.CreatedAt})
}

// POST /api/v1/ai/debrief summarizes the appointment's newest transcript.
func (h *Handler) Debrief(c *gin.Context) {
	var req debriefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := h.svc.Debrief(c.Request.Context(), hostID(c), req.AppointmentID, h.ai)
	switch {
	case errors.Is(err, aiclient.ErrDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case errors.Is(err, scheduling.ErrDebriefFailed):
		h.logger.Warn("debrief failed", "err", err, "host_user_id", hostID(c), "appointment_id", req.AppointmentID)
		c.JSON(http.StatusBadGateway, gin.H{"error": "ai service unavailable"})
		return
	case err != nil:
		h.writeError(c, err)
		return
	}

	resp := debriefResponse{
		ID:            d.ID,
		AppointmentID: d.AppointmentID,
		Summary:       d.Summary,
		ActionItems:   d.ActionItems,
	}
	if d.SuggestedFollowupDate != nil {
		date := d.SuggestedFollowupDate.Format("2006-01-02")
		resp.SuggestedFollowupDate = &date
	}
	c.JSON(http.StatusOK, resp)
}
