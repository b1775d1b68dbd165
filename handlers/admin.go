package handlers

import (
	"fmt"
	"net/http"

	"carelink/models"
	"carelink/services/admin"
	"carelink/services/reconcile"
	"carelink/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminHandler encapsulates elevated admin-level operations.
type AdminHandler struct {
	AdminService admin.AdminService
	Janitor      *reconcile.Janitor
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(as admin.AdminService, janitor *reconcile.Janitor) *AdminHandler {
	return &AdminHandler{AdminService: as, Janitor: janitor}
}

type assignRequest struct {
	CareManagerID string `json:"careManagerId" binding:"required"`
	SeniorID      string `json:"seniorId" binding:"required"`
}

func (ah *AdminHandler) CreatePreRecordHandler(c *gin.Context) {
	var req models.PreRecordInput
	if !bindJSON(c, &req) {
		return
	}
	createdBy := c.GetHeader("X-Admin-ID")
	if createdBy == "" {
		createdBy = "admin"
	}
	p, err := ah.AdminService.CreatePreRecord(c.Request.Context(), createdBy, req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (ah *AdminHandler) ListPreRecordsHandler(c *gin.Context) {
	records, err := ah.AdminService.ListPreRecords(c.Request.Context())
	if err != nil {
		zap.L().Error("Failed to fetch pre-records", zap.Error(err))
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (ah *AdminHandler) AssignSeniorHandler(c *gin.Context) {
	var req assignRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := ah.AdminService.AssignSenior(c.Request.Context(), req.CareManagerID, req.SeniorID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (ah *AdminHandler) UnassignSeniorHandler(c *gin.Context) {
	if err := ah.AdminService.UnassignSenior(c.Request.Context(), c.Param("seniorId")); err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Unassigned"})
}

// SweepPreRecordsHandler runs the pre-record janitor on demand.
func (ah *AdminHandler) SweepPreRecordsHandler(c *gin.Context) {
	removed, err := ah.Janitor.Sweep(c.Request.Context())
	if err != nil {
		utils.RespondError(c, fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// LegalHandler serves the legal documents, filtered by the optional role query.
func (ah *AdminHandler) LegalHandler(c *gin.Context) {
	raw := c.Query("role")
	if raw == "" {
		c.JSON(http.StatusOK, ah.AdminService.GetLegalSections())
		return
	}
	role, err := parseRole(raw)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ah.AdminService.GetLegalSectionsFor(role))
}
