package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"

	"payup/internal/handler"
	"payup/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	PayupHandler     *handler.PayupHandler
	AppHandler       *handler.AppHandler
	Authenticator    middleware.Authenticator
	IdempotencyStore middleware.IdempotencyStore
	AdminToken       string
	NewRelicApp      *newrelic.Application
	MetricsHandler   http.Handler // nil disables the metrics route.
	MetricsPath      string
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
		router.Use(middleware.NoticeErrors())
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if deps.MetricsHandler != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(deps.MetricsHandler))
	}

	apiKey := middleware.APIKeyAuth(deps.Authenticator)
	idempotency := middleware.IdempotencyMiddleware(deps.IdempotencyStore)

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// App onboarding (admin).
		v1.POST("/apps", middleware.AdminAuth(deps.AdminToken), idempotency, deps.AppHandler.CreateApp)

		// Authenticated app management.
		me := v1.Group("/apps/me", apiKey, idempotency)
		{
			me.GET("", deps.AppHandler.GetApp)
			me.POST("/api-key", deps.AppHandler.RegenerateAPIKey)
			me.POST("/webhook-secret", deps.AppHandler.RegenerateWebhookSecret)
			me.PUT("/webhook-url", deps.AppHandler.UpdateWebhookURL)
			me.DELETE("", deps.AppHandler.DisableApp)
			me.PUT("/templates/:event_type", deps.AppHandler.UpsertTemplate)
		}

		// Payment sessions.
		payups := v1.Group("/payups", apiKey, idempotency)
		{
			payups.POST("", deps.PayupHandler.CreatePayup)
		}

		// Hosted checkout surface.
		checkout := v1.Group("/checkout")
		{
			checkout.GET("/:id", deps.PayupHandler.GetCheckout)
			checkout.POST("/:id/finalize", deps.PayupHandler.Finalize)
			checkout.POST("/:id/cancel", deps.PayupHandler.Cancel)
		}
	}

	return router
}
