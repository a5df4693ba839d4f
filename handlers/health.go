package handlers

import (
	"net/http"

	"slotkeeper/utils"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports the last dependency check and the transaction mode.
func HealthHandler(c *gin.Context) {
	h := utils.GetHealthStatus()
	status := http.StatusOK
	state := "ok"
	if !h.Healthy() {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	mode := "fallback"
	if h.Transactional {
		mode = "transaction"
	}
	c.JSON(status, gin.H{"status": state, "mode": mode, "checks": h})
}
