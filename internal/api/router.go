package api

import (
	v1 "github.com/flexprice/billsync/internal/api/v1"
	"github.com/flexprice/billsync/internal/config"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/metrics"
	"github.com/flexprice/billsync/internal/rest/middleware"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health  *v1.HealthHandler
	Webhook *v1.WebhookHandler
	Sync    *v1.SyncHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, logger *logger.Logger, m *metrics.Metrics) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.RequestLogger(logger),
		middleware.SentryMiddleware(cfg),
		middleware.ErrorHandler(),
	)

	router.GET("/health", handlers.Health.Health)
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	// HubSpot signs its deliveries, no other auth on this route
	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/hubspot", handlers.Webhook.HandleHubSpotWebhook)
	}

	v1Group := router.Group("/v1")
	registerV1Routes(v1Group, handlers)

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers) {
	sync := router.Group("/sync")
	{
		sync.POST("/deals/:deal_id", handlers.Sync.SyncDeal)
		sync.POST("/all", handlers.Sync.SyncAll)
	}
}
