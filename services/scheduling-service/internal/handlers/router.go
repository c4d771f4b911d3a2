// Package handlers is the gin HTTP API of the scheduling service.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/schedai/schedai/libs/httpx"
	"github.com/schedai/schedai/services/scheduling-service/internal/aiclient"
	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"github.com/schedai/schedai/services/scheduling-service/internal/scheduling"
)

// HeaderUserID carries the authenticated host, set by the gateway.
const HeaderUserID = "X-User-Id"

const hostKey = "host_user_id"

type Handler struct {
	svc    *scheduling.Service
	ai     aiclient.Client
	logger *slog.Logger
	now    func() time.Time
}

func New(svc *scheduling.Service, ai aiclient.Client, logger *slog.Logger) *Handler {
	if ai == nil {
		ai = aiclient.Disabled{}
	}
	return &Handler{svc: svc, ai: ai, logger: logger, now: time.Now}
}

// Router returns the engine serving /api/v1. Logging, request ids and CORS
// are applied around it by the httpx chain.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")

	public := v1.Group("/public/:host")
	public.GET("/slots", h.PublicSlots)
	public.POST("/book", h.PublicBook)
	public.POST("/waitlist", h.JoinWaitlist)

	host := v1.Group("", requireHost)
	host.GET("/availability", h.ListRules)
	host.PUT("/availability", h.ReplaceRules)
	host.GET("/availability/ics", h.AvailabilityICS)

	host.GET("/appointments", h.ListAppointments)
	host.POST("/appointments", h.CreateAppointment)
	host.POST("/appointments/validate", h.ValidateAppointment)
	host.GET("/appointments/:id", h.GetAppointment)
	host.PATCH("/appointments/:id", h.RescheduleAppointment)
	host.DELETE("/appointments/:id", h.CancelAppointment)
	host.GET("/appointments/:id/ics", h.AppointmentICS)
	host.GET("/appointments/:id/transcript", h.LatestTranscript)
	host.POST("/appointments/:id/transcript", h.SaveTranscript)

	host.GET("/waitlist", h.ListWaitlist)
	host.DELETE("/waitlist/:id", h.RemoveWaitlistEntry)

	host.POST("/ai/optimize", h.OptimizeWeek)
	host.POST("/ai/debrief", h.Debrief)
	return r
}

func requireHost(c *gin.Context) {
	id := strings.TrimSpace(c.GetHeader(HeaderUserID))
	if id == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + HeaderUserID + " header"})
		return
	}
	c.Set(hostKey, id)
	c.Next()
}

func hostID(c *gin.Context) string {
	return c.GetString(hostKey)
}

// writeError maps service errors onto status codes. Conflicts carry the
// verdict and any alternative slots.
func (h *Handler) writeError(c *gin.Context, err error) {
	if ce, ok := scheduling.AsConflict(err); ok {
		body := gin.H{"error": ce.Error()}
		if ce.Verdict.Conflict {
			body["conflict"] = ce.Verdict
		}
		if ce.Alternatives != nil {
			body["alternatives"] = ce.Alternatives
		}
		c.JSON(http.StatusConflict, body)
		return
	}
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrInvalidRange), errors.Is(err, model.ErrInvalidRule):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed",
			"err", err,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", httpx.RequestIDFromContext(c.Request.Context()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func queryInt(c *gin.Context, key string, fallback int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		badRequest(c, key+" must be a non-negative integer")
		return 0, false
	}
	return v, true
}

// queryTime parses an RFC 3339 timestamp or a YYYY-MM-DD date in loc.
func queryTime(c *gin.Context, key string, loc *time.Location) (time.Time, bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, false, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return time.Time{}, false, errors.New(key + " must be RFC 3339 or YYYY-MM-DD")
	}
	return t, true, nil
}
