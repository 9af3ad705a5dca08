package routes

import (
	handlers "bloodsos/internal/handlers/shared"
	"bloodsos/internal/middleware"
	"bloodsos/internal/utils"

	"github.com/gin-gonic/gin"
)

// SetupSOSRoutes sets up the alert lifecycle and donor availability routes.
// guards run before any role check, authentication first.
func SetupSOSRoutes(r *gin.RouterGroup, sosHandler *handlers.SOSHandler, donorHandler *handlers.DonorHandler, guards ...gin.HandlerFunc) {
	hospitalOnly := middleware.RequireRole(utils.UserTypeHospital, utils.UserTypeAdmin)
	donorOnly := middleware.RequireRole(utils.UserTypeDonor, utils.UserTypeAdmin)
	// Hospital tokens carry the hospital id as their user id.
	ownHospital := middleware.RequireSelfOrRole("hospital_id", utils.UserTypeAdmin)
	ownDonor := middleware.RequireSelfOrRole("donor_id", utils.UserTypeAdmin)

	sos := r.Group("/sos")
	sos.Use(guards...)
	{
		// Hospital side
		sos.POST("/alerts", hospitalOnly, sosHandler.CreateAlert)
		sos.GET("/alerts/:id", sosHandler.GetAlert)
		sos.POST("/alerts/:id/close", hospitalOnly, sosHandler.CloseAlert)
		sos.GET("/hospitals/:hospital_id/alerts", hospitalOnly, ownHospital, sosHandler.ListActiveAlerts)

		// Donor side. Handlers check body donor ids against the caller.
		sos.POST("/alerts/:id/responses", donorOnly, sosHandler.Respond)
		sos.POST("/alerts/:id/location", donorOnly, sosHandler.UpdateLocation)
		sos.POST("/alerts/:id/responses/:donor_id/cancel", donorOnly, ownDonor, sosHandler.CancelResponse)

		// Either the hospital confirming arrival or the donor checking in
		sos.POST("/alerts/:id/responses/:donor_id/arrive", middleware.RequireSelfOrRole("donor_id", utils.UserTypeHospital, utils.UserTypeAdmin), sosHandler.MarkArrived)
	}

	donors := r.Group("/donors")
	donors.Use(guards...)
	{
		donors.PUT("/:donor_id/location", ownDonor, donorHandler.UpdateAvailability)
	}
}

// SetupLegacyRoutes keeps the paths existing hospital dashboards and donor
// apps already call.
func SetupLegacyRoutes(r *gin.RouterGroup, sosHandler *handlers.SOSHandler, guards ...gin.HandlerFunc) {
	hospitalOnly := middleware.RequireRole(utils.UserTypeHospital, utils.UserTypeAdmin)

	legacy := r.Group("/")
	legacy.Use(guards...)
	{
		legacy.POST("/notify-service", hospitalOnly, sosHandler.CreateAlert)
		legacy.GET("/update-status/:hospital_id", hospitalOnly, middleware.RequireSelfOrRole("hospital_id", utils.UserTypeAdmin), sosHandler.LegacyListActive)
		legacy.POST("/respond-to-call/:id", middleware.RequireRole(utils.UserTypeDonor, utils.UserTypeAdmin), sosHandler.LegacyRespond)
	}
}
