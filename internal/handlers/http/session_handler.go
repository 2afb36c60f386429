package http

import (
	"errors"
	"net/http"

	"mirrorctl/internal/core/domain"
	"mirrorctl/internal/core/ports"
	apperrors "mirrorctl/pkg/errors"

	"github.com/gin-gonic/gin"
)

// StatsProvider exposes the relay's per-device subscriber counts.
type StatsProvider interface {
	GetSubscriberCount(deviceID domain.DeviceID) int
}

type SessionHandler struct {
	service ports.SessionService
	stats   StatsProvider
}

func NewSessionHandler(service ports.SessionService, stats StatsProvider) *SessionHandler {
	return &SessionHandler{
		service: service,
		stats:   stats,
	}
}

func (h *SessionHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/devices/:id/session", h.StartSession)
		api.DELETE("/devices/:id/session", h.StopSession)
		api.GET("/devices/:id/session", h.GetSession)
		api.GET("/devices/:id/stats", h.GetSessionStats)
		api.GET("/sessions", h.ListSessions)
	}
}

func (h *SessionHandler) StartSession(c *gin.Context) {
	deviceID := domain.DeviceID(c.Param("id"))

	var req struct {
		DeviceAddress string                 `json:"device_address" binding:"required"`
		Config        *domain.ConfigOverride `json:"config"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	session, err := h.service.StartSession(c.Request.Context(), deviceID, req.DeviceAddress, req.Config)
	if err != nil {
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "failed to start session", http.StatusServiceUnavailable).
			WithContext("device_id", string(deviceID)))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session": session,
	})
}

func (h *SessionHandler) StopSession(c *gin.Context) {
	deviceID := domain.DeviceID(c.Param("id"))

	if err := h.service.StopSession(c.Request.Context(), deviceID); err != nil {
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to stop session", http.StatusInternalServerError).
			WithContext("device_id", string(deviceID)))
		return
	}

	// Stopping an absent session is a no-op, so this always succeeds.
	c.JSON(http.StatusOK, gin.H{
		"device_id": deviceID,
		"status":    "stopped",
	})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	deviceID := domain.DeviceID(c.Param("id"))

	session, err := h.service.GetSession(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.Error(apperrors.NewNotFoundError("session"))
			return
		}
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to get session", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": session,
	})
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions := h.service.ListSessions(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSessionStats reports the device's session and its relay subscriber
// count.
func (h *SessionHandler) GetSessionStats(c *gin.Context) {
	deviceID := domain.DeviceID(c.Param("id"))

	session, err := h.service.GetSession(c.Request.Context(), deviceID)
	if err != nil {
		c.Error(apperrors.NewNotFoundError("session"))
		return
	}

	subscribers := 0
	if h.stats != nil {
		subscribers = h.stats.GetSubscriberCount(deviceID)
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":  session.ID,
		"device_id":   session.DeviceID,
		"pid":         session.PID,
		"created_at":  session.CreatedAt,
		"last_active": session.LastActiveAt,
		"subscribers": subscribers,
	})
}
