package handlers

import (
	"net/http"

	"slotkeeper/models"
	"slotkeeper/services/booking"
	"slotkeeper/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BookingHandler exposes the booking orchestrator over HTTP.
type BookingHandler struct {
	Service booking.BookingService
}

func NewBookingHandler(svc booking.BookingService) *BookingHandler {
	return &BookingHandler{Service: svc}
}

// CreateBookingHandler books a slot or, with a recurrence, a weekly series.
func (h *BookingHandler) CreateBookingHandler(c *gin.Context) {
	logger := getLogger(c)

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, "Invalid booking request", bindError(err))
		return
	}
	if key := c.GetHeader(IdempotencyHeader); key != "" {
		req.IdempotencyKey = key
	}

	res, err := h.Service.CreateBooking(c.Request.Context(), req)
	if err != nil {
		utils.RespondError(c, "Failed to create booking", err)
		return
	}
	logger.Info("Booking request served",
		zap.String("providerId", req.ProviderID),
		zap.Int("bookings", len(res.Bookings)),
		zap.Bool("series", res.Series))
	c.JSON(http.StatusCreated, res)
}

func (h *BookingHandler) GetBookingHandler(c *gin.Context) {
	b, err := h.Service.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.RespondError(c, "Failed to fetch booking", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

func (h *BookingHandler) GetBookingBySerialHandler(c *gin.Context) {
	b, err := h.Service.FindBookingBySerialKey(c.Request.Context(), c.Param("serialKey"))
	if err != nil {
		utils.RespondError(c, "Failed to fetch booking", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

func (h *BookingHandler) UpdateBookingHandler(c *gin.Context) {
	var req models.UpdateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, "Invalid booking update", bindError(err))
		return
	}

	b, err := h.Service.UpdateBooking(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		utils.RespondError(c, "Failed to update booking", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

// ListProviderBookingsHandler lists the authenticated provider's bookings.
func (h *BookingHandler) ListProviderBookingsHandler(c *gin.Context) {
	from, err := optionalTime(c, "from")
	if err != nil {
		utils.RespondError(c, "Invalid range", err)
		return
	}
	to, err := optionalTime(c, "to")
	if err != nil {
		utils.RespondError(c, "Invalid range", err)
		return
	}

	bookings, err := h.Service.ListProviderBookings(c.Request.Context(), c.Param("providerId"), timeOrZero(from), timeOrZero(to))
	if err != nil {
		utils.RespondError(c, "Failed to list bookings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}
