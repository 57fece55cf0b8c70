// Package handlers contains the HTTP handlers and routing.
package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig holds the transport settings the router needs.
type RouterConfig struct {
	GinMode       string
	ServiceAPIKey string
}

// SetupRouter configures the Gin router with all routes.
func SetupRouter(handler *PaymentHandler, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	gin.SetMode(cfg.GinMode)

	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.Use(LoggerMiddleware(logger))
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())

	// Health check (public)
	router.GET("/health", handler.Health)

	// API v1 routes (requires Bearer auth)
	v1 := router.Group("/api/v1")
	v1.Use(ServiceAuthMiddleware(cfg.ServiceAPIKey))
	{
		links := v1.Group("/payment-links")
		{
			links.POST("", handler.CreateLink)
			links.GET("/:item_type/:item_id", handler.GetLink)
		}
		v1.GET("/orders/:id", handler.GetOrder)
	}

	// Mercado Pago notifications (public, validates x-signature when a secret is set)
	router.POST("/webhooks/mercadopago", handler.HandleWebhook)
	router.GET("/webhooks/mercadopago", handler.HandleWebhook)

	return router
}
