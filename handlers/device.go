package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"carelink/middleware"
	"carelink/services/notification"
	"carelink/utils"

	"github.com/gin-gonic/gin"
)

// DeviceHandler is the push registrar surface: it records and forgets FCM tokens.
type DeviceHandler struct {
	Notifications notification.NotificationService
}

func NewDeviceHandler(ns notification.NotificationService) *DeviceHandler {
	return &DeviceHandler{Notifications: ns}
}

type deviceTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h *DeviceHandler) RegisterDeviceHandler(c *gin.Context) {
	var req deviceTokenRequest
	if !bindJSON(c, &req) {
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		utils.RespondError(c, fmt.Errorf("%w: empty token", utils.ErrBadRequest))
		return
	}
	subjectID := middleware.Identity(c).SubjectID
	if err := h.Notifications.RegisterDevice(c.Request.Context(), subjectID, token); err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Device registered"})
}

func (h *DeviceHandler) UnregisterDeviceHandler(c *gin.Context) {
	var req deviceTokenRequest
	if !bindJSON(c, &req) {
		return
	}
	subjectID := middleware.Identity(c).SubjectID
	if err := h.Notifications.UnregisterDevice(c.Request.Context(), subjectID, strings.TrimSpace(req.Token)); err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Device unregistered"})
}
