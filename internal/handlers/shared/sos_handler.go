package handlers

import (
	"net/http"

	"bloodsos/internal/middleware"
	"bloodsos/internal/models"
	"bloodsos/internal/services"
	"bloodsos/internal/utils"
	"bloodsos/internal/validators"

	"github.com/gin-gonic/gin"
)

type SOSHandler struct {
	sosService services.SOSService
}

func NewSOSHandler(sosService services.SOSService) *SOSHandler {
	return &SOSHandler{
		sosService: sosService,
	}
}

// bind decodes the JSON body and runs both gin's binding tags and the
// validators package rules. It writes the error response itself.
func bind(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return false
	}
	if errs := validators.ValidateStruct(dest); len(errs) > 0 {
		utils.ValidationErrorResponse(c, errs.Details())
		return false
	}
	return true
}

// actingAs writes 403 unless the caller may act for id.
func actingAs(c *gin.Context, id string) bool {
	if middleware.ActsAs(c, id, utils.UserTypeAdmin) {
		return true
	}
	utils.ForbiddenResponse(c)
	return false
}

// CreateAlert broadcasts a new SOS to eligible donors near the hospital
func (h *SOSHandler) CreateAlert(c *gin.Context) {
	var request models.CreateAlertRequest
	if !bind(c, &request) || !actingAs(c, request.HospitalID) {
		return
	}

	result, err := h.sosService.CreateAlert(c.Request.Context(), &request)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, "SOS alert broadcasted", result)
}

func (h *SOSHandler) GetAlert(c *gin.Context) {
	request, err := h.sosService.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "SOS alert retrieved successfully", request)
}

func (h *SOSHandler) ListActiveAlerts(c *gin.Context) {
	requests, err := h.sosService.ListActiveAlerts(c.Request.Context(), c.Param("hospital_id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponseWithMeta(c, "Active SOS alerts retrieved successfully", requests, &utils.Meta{Count: len(requests)})
}

func (h *SOSHandler) CloseAlert(c *gin.Context) {
	request, err := h.sosService.CloseAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "SOS alert closed", request)
}

// Respond records a donor accepting the alert and returns their ETA
func (h *SOSHandler) Respond(c *gin.Context) {
	var request models.RespondRequest
	if !bind(c, &request) || !actingAs(c, request.DonorID) {
		return
	}

	result, err := h.sosService.Respond(c.Request.Context(), c.Param("id"), &request)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Response recorded", result)
}

// UpdateLocation streams a donor's position to the hospital's room
func (h *SOSHandler) UpdateLocation(c *gin.Context) {
	var update models.LocationUpdate
	if !bind(c, &update) || !actingAs(c, update.DonorID) {
		return
	}
	update.RequestID = c.Param("id")

	if err := h.sosService.UpdateLocation(c.Request.Context(), &update); err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Location updated", nil)
}

func (h *SOSHandler) MarkArrived(c *gin.Context) {
	request, err := h.sosService.MarkArrived(c.Request.Context(), c.Param("id"), c.Param("donor_id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Donor arrival recorded", request)
}

func (h *SOSHandler) CancelResponse(c *gin.Context) {
	request, err := h.sosService.CancelResponse(c.Request.Context(), c.Param("id"), c.Param("donor_id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Response cancelled", request)
}

// LegacyListActive renders the bare array older hospital dashboards poll for.
func (h *SOSHandler) LegacyListActive(c *gin.Context) {
	requests, err := h.sosService.ListActiveAlerts(c.Request.Context(), c.Param("hospital_id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, requests)
}

// LegacyRespond renders {status, eta} for older donor apps.
func (h *SOSHandler) LegacyRespond(c *gin.Context) {
	var request models.RespondRequest
	if !bind(c, &request) || !actingAs(c, request.DonorID) {
		return
	}

	result, err := h.sosService.Respond(c.Request.Context(), c.Param("id"), &request)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": result.Status, "eta": result.ETA})
}
