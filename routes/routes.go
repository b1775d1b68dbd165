package routes

import (
	"net/http"
	"time"

	"carelink/handlers"
	"carelink/middleware"
	"carelink/models"
	"carelink/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterAuthRoutes registers login, profile setup and logout.
func RegisterAuthRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/auth")
	api.Use(middleware.DeviceDetailsMiddleware())
	{
		api.POST("/login/begin", hb.Auth.BeginLoginHandler)
		api.POST("/login/complete", hb.Auth.CompleteLoginHandler)

		// Protected routes (Require the device's ambient session)
		protected := api.Group("")
		protected.Use(middleware.SessionAuthMiddleware(hb.Sessions))
		protected.POST("/profile", hb.Auth.SetupProfileHandler)
		protected.GET("/me", hb.Auth.MeHandler)
		protected.POST("/logout", hb.Auth.LogoutHandler)
	}
}

// RegisterRegistrationRoutes registers the family-registers-senior workflow.
func RegisterRegistrationRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/registration")
	api.Use(
		middleware.DeviceDetailsMiddleware(),
		middleware.SessionAuthMiddleware(hb.Sessions),
		middleware.RoleMiddleware(hb.UserRepo, models.RoleFamily),
	)
	{
		api.POST("", hb.Registration.StartHandler)
		api.GET("/:id", hb.Registration.GetHandler)
		api.POST("/:id/details", hb.Registration.SubmitHandler)
		api.POST("/:id/resend", hb.Registration.ResendHandler)
		api.POST("/:id/verify", hb.Registration.VerifyHandler)
		api.POST("/:id/abandon", hb.Registration.AbandonHandler)
	}
}

// RegisterLinkingRoutes registers code display for seniors and redemption for families.
func RegisterLinkingRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/linking")
	api.Use(middleware.DeviceDetailsMiddleware(), middleware.SessionAuthMiddleware(hb.Sessions))
	{
		senior := api.Group("")
		senior.Use(middleware.RoleMiddleware(hb.UserRepo, models.RoleSenior))
		senior.GET("/code", hb.Linking.GetCodeHandler)
		senior.POST("/code/regenerate", hb.Linking.RegenerateCodeHandler)

		family := api.Group("")
		family.Use(middleware.RoleMiddleware(hb.UserRepo, models.RoleFamily))
		family.POST("/redeem", hb.Linking.RedeemHandler)
		family.DELETE("/seniors/:seniorId", hb.Linking.UnlinkHandler)
	}
}

// RegisterDeviceRoutes registers push token management.
func RegisterDeviceRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/devices")
	api.Use(middleware.DeviceDetailsMiddleware(), middleware.SessionAuthMiddleware(hb.Sessions))
	{
		api.POST("", hb.Devices.RegisterDeviceHandler)
		api.DELETE("", hb.Devices.UnregisterDeviceHandler)
	}
}

// RegisterAdminRoutes sets up endpoints for admin operations.
func RegisterAdminRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	adminGroup := r.Group("/api/admin")
	{
		adminGroup.Use(middleware.AdminAuthMiddleware(hb.AdminTokenHash))
		adminGroup.POST("/prerecords", hb.Admin.CreatePreRecordHandler)
		adminGroup.GET("/prerecords", hb.Admin.ListPreRecordsHandler)
		adminGroup.POST("/prerecords/sweep", hb.Admin.SweepPreRecordsHandler)
		adminGroup.POST("/assignments", hb.Admin.AssignSeniorHandler)
		adminGroup.DELETE("/assignments/:seniorId", hb.Admin.UnassignSeniorHandler)
	}
	r.GET("/api/legal", hb.Admin.LegalHandler)
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "services": utils.GetHealthStatus()})
	})
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.Use(utils.ErrorHandler())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "X-Device-ID", "X-Device-Name"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.RateLimitMiddleware(hb.MaxRequestsMin))

	RegisterAuthRoutes(r, hb)
	RegisterRegistrationRoutes(r, hb)
	RegisterLinkingRoutes(r, hb)
	RegisterDeviceRoutes(r, hb)
	RegisterAdminRoutes(r, hb)
	RegisterHealthRoute(r)
}
