package handlers

import (
	"fmt"
	"net/http"

	"carelink/middleware"
	"carelink/models"
	"carelink/services/account"
	"carelink/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler exposes per-role phone login and profile setup.
type AuthHandler struct {
	Accounts *account.Service
}

func NewAuthHandler(accounts *account.Service) *AuthHandler {
	return &AuthHandler{Accounts: accounts}
}

type beginLoginRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
	Role        string `json:"role" binding:"required"`
}

type completeLoginRequest struct {
	ChallengeID string `json:"challengeId" binding:"required"`
	Code        string `json:"code" binding:"required"`
	Role        string `json:"role" binding:"required"`
}

func parseRole(raw string) (models.Role, error) {
	role, err := models.ParseRole(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", utils.ErrBadRequest, err)
	}
	return role, nil
}

// BeginLoginHandler sends a one-time code to the phone after the pre-OTP role check.
func (h *AuthHandler) BeginLoginHandler(c *gin.Context) {
	var req beginLoginRequest
	if !bindJSON(c, &req) {
		return
	}
	role, err := parseRole(req.Role)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	handle, err := h.Accounts.BeginLogin(c.Request.Context(), middleware.DeviceID(c), req.PhoneNumber, role)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"challengeId": handle.ID,
		"phoneNumber": handle.PhoneNumber,
		"expiresAt":   handle.ExpiresAt,
	})
}

// CompleteLoginHandler confirms the code and returns the session for the device.
func (h *AuthHandler) CompleteLoginHandler(c *gin.Context) {
	var req completeLoginRequest
	if !bindJSON(c, &req) {
		return
	}
	role, err := parseRole(req.Role)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	result, err := h.Accounts.CompleteLogin(c.Request.Context(), req.ChallengeID, req.Code, role)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SetupProfileHandler creates the family profile of a first-time login.
func (h *AuthHandler) SetupProfileHandler(c *gin.Context) {
	var req models.ProfileInput
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.Accounts.SetupProfile(c.Request.Context(), middleware.Identity(c), req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *AuthHandler) MeHandler(c *gin.Context) {
	p, err := h.Accounts.Profile(c.Request.Context(), middleware.Identity(c).SubjectID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *AuthHandler) LogoutHandler(c *gin.Context) {
	if err := h.Accounts.Logout(c.Request.Context(), middleware.DeviceID(c)); err != nil {
		getLogger(c).Error("logout failed", zap.Error(err))
		utils.RespondError(c, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Signed out"})
}
