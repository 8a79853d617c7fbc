package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"presence-tracker-backend/internal/engine"
)

type sightingRequest struct {
	MACAddress string `json:"mac_address" binding:"required"`
	RoomID     int64  `json:"room_id" binding:"required"`
}

// PostSighting handles the POST /api/sightings request from scanner nodes.
// An unrecognized MAC address is a normal, reportable outcome, not an error.
func (h *Handler) PostSighting(c *gin.Context) {
	var req sightingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.engine.ProcessSighting(c.Request.Context(), engine.Sighting{
		HWAddr:     req.MACAddress,
		RoomID:     req.RoomID,
		ObservedAt: time.Now().UTC(),
	})
	if errors.Is(err, engine.ErrUnknownRoom) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown room"})
		return
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, retry later"})
		return
	}

	switch outcome.Result {
	case engine.ResultUnknownDevice:
		c.JSON(http.StatusNotFound, gin.H{
			"result":  outcome.Result,
			"message": "MAC address not recognized",
		})
	case engine.ResultEntered:
		c.JSON(http.StatusOK, gin.H{
			"result":  outcome.Result,
			"message": "Entered the room",
		})
	case engine.ResultStaying:
		c.JSON(http.StatusOK, gin.H{
			"result":  outcome.Result,
			"message": "Staying in the room",
		})
	case engine.ResultMoved:
		c.JSON(http.StatusOK, gin.H{
			"result":       outcome.Result,
			"message":      "Exited room and entered room",
			"stay_minutes": outcome.StayMinutes,
		})
	}
}
