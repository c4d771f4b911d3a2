package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/schedai/schedai/services/scheduling-service/internal/aiclient"
	"github.com/schedai/schedai/services/scheduling-service/internal/icsexport"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/scheduling"
	"github.com/schedai/schedai/services/scheduling-service/internal/timewindow"
)

const icsContentType = "text/calendar; charset=utf-8"

type appointmentRequest struct {
	GuestName  string                  `json:"guest_name"`
	GuestEmail string                  `json:"guest_email" binding:"omitempty,email"`
	Title      string                  `json:"title"`
	Reason     string                  `json:"reason"`
	StartTime  time.Time               `json:"start_time" binding:"required"`
	EndTime    time.Time               `json:"end_time" binding:"required"`
	Status     model.AppointmentStatus `json:"status"`
}

type validateRequest struct {
	appointmentRequest
	ExcludeID string `json:"exclude_id"`
}

type rescheduleRequest struct {
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
}

func (r appointmentRequest) input(hostID string) scheduling.AppointmentInput {
	return scheduling.AppointmentInput{
		HostUserID: hostID,
		GuestName:  r.GuestName,
		GuestEmail: r.GuestEmail,
		Title:      r.Title,
		Reason:     r.Reason,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		Status:     r.Status,
	}
}

// GET /api/v1/availability
func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.svc.ListRules(c.Request.Context(), hostID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// PUT /api/v1/availability replaces the whole weekly rule set.
func (h *Handler) ReplaceRules(c *gin.Context) {
	var rules []model.AvailabilityRule
	if err := c.ShouldBindJSON(&rules); err != nil {
		badRequest(c, err.Error())
		return
	}
	saved, err := h.svc.ReplaceRules(c.Request.Context(), hostID(c), rules)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// GET /api/v1/availability/ics?weeks=N
func (h *Handler) AvailabilityICS(c *gin.Context) {
	weeks, ok := queryInt(c, "weeks", 0)
	if !ok {
		return
	}
	rules, err := h.svc.ListRules(c.Request.Context(), hostID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	now := h.now()
	body, err := icsexport.Availability(rules, icsexport.FeedOptions{
		HostUserID: hostID(c),
		From:       now,
		Location:   h.svc.Facade().Location(),
		Weeks:      weeks,
	}, now)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="availability.ics"`)
	c.Data(http.StatusOK, icsContentType, []byte(body))
}

// GET /api/v1/appointments?from&to, defaulting to the coming week.
func (h *Handler) ListAppointments(c *gin.Context) {
	loc := h.svc.Facade().Location()
	from, ok, err := queryTime(c, "from", loc)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if !ok {
		from = timewindow.StartOfDay(h.now().In(loc))
	}
	to, ok, err := queryTime(c, "to", loc)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if !ok {
		to = from.AddDate(0, 0, scheduling.DefaultRangeDays)
	}
	appts, err := h.svc.ListAppointments(c.Request.Context(), hostID(c), from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, appts)
}

// POST /api/v1/appointments
func (h *Handler) CreateAppointment(c *gin.Context) {
	var req appointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	b, err := h.svc.CreateAppointment(c.Request.Context(), req.input(hostID(c)))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// POST /api/v1/appointments/validate previews the verdict without booking.
func (h *Handler) ValidateAppointment(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	v, err := h.svc.ValidateCandidate(c.Request.Context(), req.input(hostID(c)), req.ExcludeID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// GET /api/v1/appointments/:id
func (h *Handler) GetAppointment(c *gin.Context) {
	a, err := h.svc.GetAppointment(c.Request.Context(), hostID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// PATCH /api/v1/appointments/:id moves the appointment.
func (h *Handler) RescheduleAppointment(c *gin.Context) {
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	b, err := h.svc.RescheduleAppointment(c.Request.Context(), hostID(c), c.Param("id"), req.StartTime, req.EndTime)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// DELETE /api/v1/appointments/:id cancels; repeating it is harmless.
func (h *Handler) CancelAppointment(c *gin.Context) {
	res, err := h.svc.CancelAppointment(c.Request.Context(), hostID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/v1/appointments/:id/ics
func (h *Handler) AppointmentICS(c *gin.Context) {
	a, err := h.svc.GetAppointment(c.Request.Context(), hostID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="appointment-`+a.ID+`.ics"`)
	c.Data(http.StatusOK, icsContentType, []byte(icsexport.Appointment(a, h.now())))
}

// GET /api/v1/waitlist
func (h *Handler) ListWaitlist(c *gin.Context) {
	entries, err := h.svc.ListWaitlist(c.Request.Context(), hostID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// DELETE /api/v1/waitlist/:id
func (h *Handler) RemoveWaitlistEntry(c *gin.Context) {
	if err := h.svc.RemoveWaitlistEntry(c.Request.Context(), hostID(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/v1/ai/optimize?week=YYYY-MM-DD asks the AI service to rearrange
// the host's confirmed appointments of that week. Nothing is moved.
func (h *Handler) OptimizeWeek(c *gin.Context) {
	loc := h.svc.Facade().Location()
	weekStart, ok, err := queryTime(c, "week", loc)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if !ok {
		today := timewindow.StartOfDay(h.now().In(loc))
		weekStart = today.AddDate(0, 0, -timewindow.DayOfWeek(today))
	}
	weekStart = timewindow.StartOfDay(weekStart.In(loc))

	appts, err := h.svc.ListActiveAppointments(c.Request.Context(), hostID(c), weekStart, weekStart.AddDate(0, 0, 7))
	if err != nil {
		h.writeError(c, err)
		return
	}
	confirmed := appts[:0]
	for _, a := range appts {
		if a.Status == model.StatusConfirmed {
			confirmed = append(confirmed, a)
		}
	}

	res, err := h.ai.OptimizeWeek(c.Request.Context(), confirmed)
	switch {
	case errors.Is(err, aiclient.ErrDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Warn("week optimization failed", "err", err, "host_user_id", hostID(c))
		c.JSON(http.StatusBadGateway, gin.H{"error": "ai service unavailable"})
		return
	}
	c.JSON(http.StatusOK, res)
}
