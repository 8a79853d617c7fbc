package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"presence-tracker-backend/internal/model"
	"presence-tracker-backend/internal/store"
)

type registerRequest struct {
	MACAddress string `json:"mac_address" binding:"required"`
	OwnerName  string `json:"owner_name" binding:"required"`
	EntryYear  int    `json:"entry_year" binding:"required"`
}

// PostRegister handles the POST /api/register request. The device and its
// fresh occupancy and duration rows are created in one transaction, so a
// partial registration is never visible.
func (h *Handler) PostRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device := model.Device{
		HWAddr:    req.MACAddress,
		OwnerName: req.OwnerName,
		EntryYear: req.EntryYear,
	}
	if err := h.store.RegisterDevice(c.Request.Context(), &device); err != nil {
		if errors.Is(err, store.ErrDeviceExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "device already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.hub.Refresh()
	c.JSON(http.StatusCreated, gin.H{
		"message":     "Device registered successfully",
		"mac_address": device.HWAddr,
	})
}
