package handlers

import (
	"fmt"
	"net/http"

	"carelink/middleware"
	"carelink/models"
	"carelink/services/registration"
	"carelink/utils"

	"github.com/gin-gonic/gin"
)

// RegistrationHandler drives the "family registers senior" workflow. Every route
// operates on a workflow owned by the calling family member.
type RegistrationHandler struct {
	Coordinator *registration.Coordinator
}

func NewRegistrationHandler(coord *registration.Coordinator) *RegistrationHandler {
	return &RegistrationHandler{Coordinator: coord}
}

type verifySeniorRequest struct {
	Code string `json:"code" binding:"required"`
}

// owned checks that the workflow in the path belongs to the caller.
func (h *RegistrationHandler) owned(c *gin.Context) (string, bool) {
	id := c.Param("id")
	wf, err := h.Coordinator.Get(id)
	if err != nil {
		utils.RespondError(c, err)
		return "", false
	}
	if wf.FamilyID != middleware.Identity(c).SubjectID {
		utils.RespondError(c, fmt.Errorf("%w: workflow %s", utils.ErrNotFound, id))
		return "", false
	}
	return id, true
}

func (h *RegistrationHandler) StartHandler(c *gin.Context) {
	wf, err := h.Coordinator.Start(c.Request.Context(), middleware.Identity(c).SubjectID, middleware.DeviceID(c))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, wf)
}

// SubmitHandler takes the senior's details and sends the senior a code.
func (h *RegistrationHandler) SubmitHandler(c *gin.Context) {
	id, ok := h.owned(c)
	if !ok {
		return
	}
	var req models.SeniorDetails
	if !bindJSON(c, &req) {
		return
	}
	wf, err := h.Coordinator.Submit(c.Request.Context(), id, req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *RegistrationHandler) ResendHandler(c *gin.Context) {
	id, ok := h.owned(c)
	if !ok {
		return
	}
	wf, err := h.Coordinator.Resend(c.Request.Context(), id)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// VerifyHandler submits the senior's code. A successful response may carry a fresh
// family session; when result.reauthRequired is set the client must sign in again.
func (h *RegistrationHandler) VerifyHandler(c *gin.Context) {
	id, ok := h.owned(c)
	if !ok {
		return
	}
	var req verifySeniorRequest
	if !bindJSON(c, &req) {
		return
	}
	wf, err := h.Coordinator.Verify(c.Request.Context(), id, req.Code)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *RegistrationHandler) AbandonHandler(c *gin.Context) {
	id, ok := h.owned(c)
	if !ok {
		return
	}
	wf, err := h.Coordinator.Abandon(id)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (h *RegistrationHandler) GetHandler(c *gin.Context) {
	id, ok := h.owned(c)
	if !ok {
		return
	}
	wf, err := h.Coordinator.Get(id)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}
