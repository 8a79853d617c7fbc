package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"presence-tracker-backend/internal/engine"
	"presence-tracker-backend/internal/hub"
	"presence-tracker-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	engine  *engine.Engine
	hub     *hub.Hub
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, eng *engine.Engine, h *hub.Hub, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:   s,
		engine:  eng,
		hub:     h,
		webpush: webpushOptions,
	}
}
