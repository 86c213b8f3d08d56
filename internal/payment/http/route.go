package http

import (
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(g *gin.RouterGroup, h *Handler, authMiddleware gin.HandlerFunc) {
	group := g.Group("/payments")

	// === Public Routes ===
	// Authenticated by signature, not by token.
	group.POST("/webhook", h.Webhook)

	// === Authenticated Routes ===
	authed := group.Group("")
	authed.Use(authMiddleware)
	{
		authed.POST("/orders", h.CreateOrder)
		authed.GET("/orders/:code", h.GetOrder)
		authed.GET("/orders/:code/verify", h.VerifyOrder)
	}
}
