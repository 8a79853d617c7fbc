package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"presence-tracker-backend/config"
	"presence-tracker-backend/internal/engine"
	"presence-tracker-backend/internal/hub"
	"presence-tracker-backend/internal/mw"
	"presence-tracker-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.ServerConfig, s store.Store, eng *engine.Engine, h *hub.Hub, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, eng, h, webpushOptions)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Short-lived response cache for the read-only projections. Dashboards
	// re-fetch on every broadcast, so the TTL stays small.
	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 10*time.Minute)
	caching := mw.Cache(cacheStore, cacheTTL)

	// API group
	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// Sighting ingress from scanner nodes
		api.POST("/sightings", handler.PostSighting)

		// Device registration
		api.POST("/register", handler.PostRegister)

		// Read-only projections
		api.GET("/status", caching, handler.GetStatus)
		api.GET("/rooms", caching, handler.GetRooms)

		// Push subscription management
		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	// Live change notification channel
	r.GET("/ws", func(c *gin.Context) {
		h.Subscribe(c.Writer, c.Request)
	})

	return r
}
