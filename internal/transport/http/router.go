package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"vn.io.arda/livenotify/internal/transport/mw"
)

// NewRouter sets up all Echo routes and middleware.
func NewRouter(h *Handler, verifier mw.Verifier, allowedOrigins []string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowHeaders: []string{"Authorization", "Content-Type"},
		AllowMethods: []string{"GET", "PATCH", "DELETE", "OPTIONS"},
	}))

	// Health (no auth required)
	e.GET("/health", h.Health)

	// Realtime channels carry the token as a query parameter; browsers cannot
	// set headers on WebSocket or EventSource requests.
	e.GET("/ws", h.Socket)
	e.GET("/notifications/stream", h.Stream)

	// API: requires a Bearer token
	api := e.Group("/notifications")
	api.Use(mw.JWTAuth(verifier))

	api.GET("", h.ListNotifications)
	api.GET("/unread-count", h.GetUnreadCount)
	api.PATCH("/read-all", h.MarkAllRead)
	api.PATCH("/:id/read", h.MarkRead)
	api.DELETE("/read/all", h.DeleteAllRead)
	api.DELETE("/:id", h.Delete)

	return e
}
