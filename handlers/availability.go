package handlers

import (
	"net/http"

	"slotkeeper/middleware"
	"slotkeeper/models"
	"slotkeeper/services/availability"
	"slotkeeper/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AvailabilityHandler exposes slot management over HTTP.
type AvailabilityHandler struct {
	Service availability.AvailabilityService
}

func NewAvailabilityHandler(svc availability.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{Service: svc}
}

type bulkSlotsRequest struct {
	Slots   []models.SlotSpec        `json:"slots" binding:"required"`
	Options models.BulkCreateOptions `json:"options"`
}

type daySlotsRequest struct {
	Date    string                       `json:"date" binding:"required"`
	Count   int                          `json:"count"`
	Options availability.GenerateOptions `json:"options"`
}

func (h *AvailabilityHandler) CreateSlotHandler(c *gin.Context) {
	logger := getLogger(c)

	var spec models.SlotSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		utils.RespondError(c, "Invalid slot", bindError(err))
		return
	}
	spec.ProviderID = c.Param("providerId")

	slot, err := h.Service.CreateSlot(c.Request.Context(), spec)
	if err != nil {
		utils.RespondError(c, "Failed to create slot", err)
		return
	}
	logger.Info("Slot created", zap.String("slotId", slot.ID), zap.String("providerId", slot.ProviderID))
	c.JSON(http.StatusCreated, gin.H{"slot": slot})
}

func (h *AvailabilityHandler) CreateBulkSlotsHandler(c *gin.Context) {
	var req bulkSlotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, "Invalid bulk request", bindError(err))
		return
	}
	providerID := c.Param("providerId")
	for i := range req.Slots {
		req.Slots[i].ProviderID = providerID
	}
	if key := c.GetHeader(IdempotencyHeader); key != "" {
		req.Options.IdempotencyKey = key
	}

	res, err := h.Service.CreateBulkSlots(c.Request.Context(), req.Slots, req.Options)
	if err != nil {
		utils.RespondError(c, "Failed to create slots", err)
		return
	}
	status := http.StatusCreated
	if res.DryRun {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *AvailabilityHandler) CreateAllDaySlotsHandler(c *gin.Context) {
	var req daySlotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, "Invalid day request", bindError(err))
		return
	}

	slots, err := h.Service.CreateAllDaySlots(c.Request.Context(), c.Param("providerId"), req.Date, req.Count, req.Options)
	if err != nil {
		utils.RespondError(c, "Failed to create day slots", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"slots": slots})
}

func (h *AvailabilityHandler) AdjustDaySlotsHandler(c *gin.Context) {
	var req daySlotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, "Invalid day request", bindError(err))
		return
	}

	slots, err := h.Service.AdjustDaySlotQuantity(c.Request.Context(), c.Param("providerId"), req.Date, req.Count, req.Options)
	if err != nil {
		utils.RespondError(c, "Failed to adjust day slots", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}

// ListSlotsHandler returns a provider's bookable slots, including template
// occurrences that are not stored yet.
func (h *AvailabilityHandler) ListSlotsHandler(c *gin.Context) {
	start, err := optionalTime(c, "start")
	if err != nil {
		utils.RespondError(c, "Invalid range", err)
		return
	}
	end, err := optionalTime(c, "end")
	if err != nil {
		utils.RespondError(c, "Invalid range", err)
		return
	}

	slots, err := h.Service.FindByProviderAndRange(c.Request.Context(), c.Param("providerId"), start, end)
	if err != nil {
		utils.RespondError(c, "Failed to fetch slots", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}

func (h *AvailabilityHandler) GetSlotHandler(c *gin.Context) {
	slot, err := h.Service.GetSlot(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.RespondError(c, "Failed to fetch slot", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slot": slot})
}

func (h *AvailabilityHandler) TemplateInstancesHandler(c *gin.Context) {
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to dates are required"})
		return
	}
	if !h.ownsSlot(c, c.Param("id")) {
		return
	}

	instances, err := h.Service.GenerateInstances(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		utils.RespondError(c, "Failed to list occurrences", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instances": instances})
}

func (h *AvailabilityHandler) UpdateSlotHandler(c *gin.Context) {
	logger := getLogger(c)
	id := c.Param("id")

	var patch models.SlotPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		utils.RespondError(c, "Invalid slot update", bindError(err))
		return
	}
	if !h.ownsSlot(c, id) {
		return
	}

	slot, err := h.Service.UpdateSlot(c.Request.Context(), id, patch)
	if err != nil {
		utils.RespondError(c, "Failed to update slot", err)
		return
	}
	logger.Info("Slot updated", zap.String("slotId", id))
	c.JSON(http.StatusOK, gin.H{"slot": slot})
}

func (h *AvailabilityHandler) DeleteSlotHandler(c *gin.Context) {
	id := c.Param("id")
	if !h.ownsSlot(c, id) {
		return
	}
	if err := h.Service.DeleteSlot(c.Request.Context(), id); err != nil {
		utils.RespondError(c, "Failed to delete slot", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Slot deleted successfully"})
}

func (h *AvailabilityHandler) CleanupPastSlotsHandler(c *gin.Context) {
	removed, err := h.Service.CleanupPastSlots(c.Request.Context())
	if err != nil {
		utils.RespondError(c, "Failed to clean up past slots", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// ownsSlot aborts unless the slot belongs to the authenticated provider.
func (h *AvailabilityHandler) ownsSlot(c *gin.Context, id string) bool {
	slot, err := h.Service.GetSlot(c.Request.Context(), id)
	if err != nil {
		utils.RespondError(c, "Failed to fetch slot", err)
		return false
	}
	if slot.ProviderID != c.GetString(middleware.ProviderIDKey) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Cannot manage another provider's schedule"})
		return false
	}
	return true
}
