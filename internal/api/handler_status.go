package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetStatus handles the GET /api/status request: the read-only projection of
// every device's current room and duration counters, ordered by entry year.
func (h *Handler) GetStatus(c *gin.Context) {
	statuses, err := h.store.ListStatus(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve device status"})
		return
	}
	c.JSON(http.StatusOK, statuses)
}

// GetRooms handles the GET /api/rooms request.
func (h *Handler) GetRooms(c *gin.Context) {
	rooms, err := h.store.ListRooms(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve rooms"})
		return
	}
	c.JSON(http.StatusOK, rooms)
}
