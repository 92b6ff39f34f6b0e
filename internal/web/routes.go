package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caldsync/caldsync/internal/config"
)

// SetupRoutes configures all application routes.
func SetupRoutes(r *gin.Engine, h *Handlers, cfg *config.Config) {
	// Health endpoints (no rate limit)
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.Liveness)
	r.GET("/ready", h.Readiness)

	// Admin API with rate limiting
	apiRateLimiter := RateLimiter(cfg.RateLimiting.RPS, cfg.RateLimiting.Burst)
	apiGroup := r.Group("/api")
	apiGroup.Use(apiRateLimiter)
	apiGroup.Use(RequireJSONContentType())
	{
		apiGroup.GET("/status", h.APIStatus)
		apiGroup.GET("/activity", h.APIActivity)
		apiGroup.GET("/connections", h.APIListConnections)
		apiGroup.GET("/connections/:id", h.APIGetConnection)
		apiGroup.PUT("/connections/:id", h.APIUpdateConnection)
		apiGroup.DELETE("/connections/:id", h.APIDeleteConnection)
		apiGroup.GET("/connections/:id/logs", h.APIGetConnectionLogs)
		apiGroup.DELETE("/connections/:id/malformed", h.APIClearMalformedObjects)
		apiGroup.GET("/malformed", h.APIGetMalformedObjects)
	}

	// Network-touching operations with stricter rate limiting (endpoint
	// probing, full sync cycles)
	expensiveRateLimiter := RateLimiter(2, 5)
	expensiveAPI := r.Group("/api")
	expensiveAPI.Use(expensiveRateLimiter)
	expensiveAPI.Use(RequireJSONContentType())
	{
		expensiveAPI.POST("/connections", h.APICreateConnection)
		expensiveAPI.POST("/connections/:id/sync", h.APITriggerSync)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}
