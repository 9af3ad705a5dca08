package handlers

import (
	"bloodsos/internal/models"
	"bloodsos/internal/services"
	"bloodsos/internal/utils"

	"github.com/gin-gonic/gin"
)

type DonorHandler struct {
	sosService services.SOSService
}

func NewDonorHandler(sosService services.SOSService) *DonorHandler {
	return &DonorHandler{
		sosService: sosService,
	}
}

// UpdateAvailability stores where a donor is and whether they can be matched
func (h *DonorHandler) UpdateAvailability(c *gin.Context) {
	var request models.DonorAvailabilityRequest
	if !bind(c, &request) {
		return
	}

	location, err := h.sosService.RegisterDonor(c.Request.Context(), c.Param("donor_id"), &request)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Donor availability updated", location)
}
