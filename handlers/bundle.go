// File: handlers/bundle.go
package handlers

import (
	providerRepoPkg "slotkeeper/database/repository/provider"
	"slotkeeper/utils"

	"github.com/gin-gonic/gin"
)

// HandlerBundle groups all your endpoint handlers into one struct.
type HandlerBundle struct {
	ProviderRepo providerRepoPkg.ProviderRepository
	AuthCache    utils.Cache

	// Availability endpoints
	ListSlotsHandler         gin.HandlerFunc
	GetSlotHandler           gin.HandlerFunc
	CreateSlotHandler        gin.HandlerFunc
	CreateBulkSlotsHandler   gin.HandlerFunc
	CreateAllDaySlotsHandler gin.HandlerFunc
	AdjustDaySlotsHandler    gin.HandlerFunc
	UpdateSlotHandler        gin.HandlerFunc
	DeleteSlotHandler        gin.HandlerFunc
	TemplateInstancesHandler gin.HandlerFunc
	CleanupPastSlotsHandler  gin.HandlerFunc

	// Booking endpoints
	CreateBookingHandler        gin.HandlerFunc
	GetBookingHandler           gin.HandlerFunc
	GetBookingBySerialHandler   gin.HandlerFunc
	UpdateBookingHandler        gin.HandlerFunc
	ListProviderBookingsHandler gin.HandlerFunc

	HealthHandler gin.HandlerFunc
}

// NewHandlerBundle wires the handler methods into a bundle.
func NewHandlerBundle(
	providers providerRepoPkg.ProviderRepository,
	authCache utils.Cache,
	av *AvailabilityHandler,
	bk *BookingHandler,
	health gin.HandlerFunc,
) *HandlerBundle {
	return &HandlerBundle{
		ProviderRepo: providers,
		AuthCache:    authCache,

		ListSlotsHandler:         av.ListSlotsHandler,
		GetSlotHandler:           av.GetSlotHandler,
		CreateSlotHandler:        av.CreateSlotHandler,
		CreateBulkSlotsHandler:   av.CreateBulkSlotsHandler,
		CreateAllDaySlotsHandler: av.CreateAllDaySlotsHandler,
		AdjustDaySlotsHandler:    av.AdjustDaySlotsHandler,
		UpdateSlotHandler:        av.UpdateSlotHandler,
		DeleteSlotHandler:        av.DeleteSlotHandler,
		TemplateInstancesHandler: av.TemplateInstancesHandler,
		CleanupPastSlotsHandler:  av.CleanupPastSlotsHandler,

		CreateBookingHandler:        bk.CreateBookingHandler,
		GetBookingHandler:           bk.GetBookingHandler,
		GetBookingBySerialHandler:   bk.GetBookingBySerialHandler,
		UpdateBookingHandler:        bk.UpdateBookingHandler,
		ListProviderBookingsHandler: bk.ListProviderBookingsHandler,

		HealthHandler: health,
	}
}
