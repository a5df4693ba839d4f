package routes

import (
	"strings"
	"time"

	"slotkeeper/config"
	"slotkeeper/handlers"
	"slotkeeper/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterAvailabilityRoutes registers slot browsing and management endpoints.
func RegisterAvailabilityRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	auth := middleware.JWTAuthProviderMiddleware(hb.ProviderRepo, hb.AuthCache)

	providers := r.Group("/api/providers/:providerId")
	{
		// Public: guests browse open slots.
		providers.GET("/slots", hb.ListSlotsHandler)

		// Schedule management is limited to the provider itself.
		own := providers.Group("")
		own.Use(auth, middleware.RequireOwnProvider("providerId"))
		own.POST("/slots", hb.CreateSlotHandler)
		own.POST("/slots/bulk", hb.CreateBulkSlotsHandler)
		own.POST("/slots/day", hb.CreateAllDaySlotsHandler)
		own.PUT("/slots/day", hb.AdjustDaySlotsHandler)
		own.GET("/bookings", hb.ListProviderBookingsHandler)
	}

	slots := r.Group("/api/slots")
	{
		slots.GET("/:id", hb.GetSlotHandler)

		protected := slots.Group("")
		protected.Use(auth)
		protected.PATCH("/:id", hb.UpdateSlotHandler)
		protected.DELETE("/:id", hb.DeleteSlotHandler)
		protected.GET("/:id/instances", hb.TemplateInstancesHandler)
	}
}

// RegisterBookingRoutes sets up the endpoints for the booking engine.
func RegisterBookingRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	bookingGroup := r.Group("/api/bookings")
	{
		bookingGroup.POST("", hb.CreateBookingHandler)
		bookingGroup.GET("/:id", hb.GetBookingHandler)
		bookingGroup.GET("/serial/:serialKey", hb.GetBookingBySerialHandler)
		bookingGroup.PATCH("/:id", hb.UpdateBookingHandler)
	}
}

// RegisterAdminRoutes sets up endpoints for maintenance operations.
func RegisterAdminRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	adminGroup := r.Group("/api/admin")
	{
		adminGroup.Use(middleware.AdminTokenMiddleware(config.AppConfig.AdminToken))
		adminGroup.POST("/slots/cleanup", hb.CleanupPastSlotsHandler)
	}
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.GET("/health", hb.HealthHandler)
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	origins := strings.Split(config.AppConfig.CORSAllowedOrigins, ",")
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", handlers.IdempotencyHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !(len(origins) == 1 && origins[0] == "*"),
		MaxAge:           12 * time.Hour,
	}))

	RegisterAvailabilityRoutes(r, hb)
	RegisterBookingRoutes(r, hb)
	RegisterAdminRoutes(r, hb)
	RegisterHealthRoute(r, hb)
}
