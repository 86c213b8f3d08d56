package http

import (
	"github.com/gin-gonic/gin"

	"github.com/hien22444/WDP-LM-sub000/internal/auth"
)

func RegisterRoutes(g *gin.RouterGroup, h *Handler, authMiddleware gin.HandlerFunc) {
	group := g.Group("/bookings")

	// === Authenticated Routes ===
	group.Use(authMiddleware)
	{
		group.GET("", h.List)
		group.GET("/:id", h.Get)
		group.POST("", h.Create)
		group.POST("/:id/decision", h.Decide)
		group.POST("/:id/sign", h.Sign)
		group.POST("/:id/cancel", h.Cancel)
		group.POST("/:id/complete", h.Complete)
		group.POST("/:id/dispute", h.Dispute)
		group.POST("/:id/session/join", h.JoinSession)
		group.GET("/:id/escrow", h.Escrow)
	}

	// === Admin Routes ===
	group.POST("/:id/resolve", auth.RequireAdmin(), h.Resolve)
}
