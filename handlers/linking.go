package handlers

import (
	"net/http"

	"carelink/middleware"
	"carelink/services/linking"
	"carelink/utils"

	"github.com/gin-gonic/gin"
)

type LinkingHandler struct {
	Registry *linking.Registry
}

func NewLinkingHandler(registry *linking.Registry) *LinkingHandler {
	return &LinkingHandler{Registry: registry}
}

type redeemRequest struct {
	Code string `json:"code" binding:"required"`
}

// GetCodeHandler returns the calling senior's code, issuing one if none exists yet.
func (h *LinkingHandler) GetCodeHandler(c *gin.Context) {
	senior := middleware.Profile(c)
	code := senior.LinkingCode
	if code == "" {
		var err error
		code, err = h.Registry.Assign(c.Request.Context(), senior.ID)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"linkingCode": code})
}

func (h *LinkingHandler) RegenerateCodeHandler(c *gin.Context) {
	code, err := h.Registry.Regenerate(c.Request.Context(), middleware.Profile(c).ID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"linkingCode": code})
}

// RedeemHandler links the calling family member to the senior holding the code.
func (h *LinkingHandler) RedeemHandler(c *gin.Context) {
	var req redeemRequest
	if !bindJSON(c, &req) {
		return
	}
	senior, err := h.Registry.Redeem(c.Request.Context(), req.Code, middleware.Identity(c).SubjectID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"seniorId": senior.ID,
		"name":     senior.Name,
	})
}

func (h *LinkingHandler) UnlinkHandler(c *gin.Context) {
	if err := h.Registry.Unlink(c.Request.Context(), c.Param("seniorId"), middleware.Identity(c).SubjectID); err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Unlinked"})
}
