package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"vn.io.arda/livenotify/internal/application"
	"vn.io.arda/livenotify/internal/domain"
	"vn.io.arda/livenotify/internal/realtime"
	"vn.io.arda/livenotify/internal/transport/mw"
	"vn.io.arda/livenotify/internal/transport/ws"
)

// Handler holds all HTTP handler methods.
type Handler struct {
	svc      *application.Service
	session  *realtime.Session
	registry *realtime.Registry
	upgrader websocket.Upgrader
	wsOpts   ws.Options
}

// NewHandler creates a new Handler. wsOpts also sizes the SSE send buffer.
func NewHandler(svc *application.Service, session *realtime.Session, registry *realtime.Registry, upgrader websocket.Upgrader, wsOpts ws.Options) *Handler {
	return &Handler{svc: svc, session: session, registry: registry, upgrader: upgrader, wsOpts: wsOpts}
}

// --- REST Handlers ---

// ListNotifications GET /notifications
func (h *Handler) ListNotifications(c echo.Context) error {
	userID := mw.UserID(c)
	page, limit := application.NormalizePage(
		parseIntQuery(c, "page", 1),
		parseIntQuery(c, "limit", application.DefaultPageSize),
	)

	notifications, err := h.svc.List(c.Request().Context(), userID, page, limit, c.QueryParam("type"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"data":  notifications,
		"page":  page,
		"limit": limit,
	})
}

// GetUnreadCount GET /notifications/unread-count
func (h *Handler) GetUnreadCount(c echo.Context) error {
	count, err := h.svc.CountUnread(c.Request().Context(), mw.UserID(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"count": count})
}

// MarkRead PATCH /notifications/:id/read
func (h *Handler) MarkRead(c echo.Context) error {
	n, err := h.svc.MarkRead(c.Request().Context(), c.Param("id"), mw.UserID(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, n)
}

// MarkAllRead PATCH /notifications/read-all
func (h *Handler) MarkAllRead(c echo.Context) error {
	count, err := h.svc.MarkAllRead(c.Request().Context(), mw.UserID(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"marked": count})
}

// Delete DELETE /notifications/:id
func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id"), mw.UserID(c)); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DeleteAllRead DELETE /notifications/read/all
func (h *Handler) DeleteAllRead(c echo.Context) error {
	count, err := h.svc.DeleteAllRead(c.Request().Context(), mw.UserID(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": count})
}

// --- Realtime Handlers ---

// Socket GET /ws?token=... upgrades to a WebSocket push channel.
// The token is checked before the upgrade so a rejected client gets a 401.
func (h *Handler) Socket(c echo.Context) error {
	userID, err := h.session.Authenticate(c.QueryParam("token"))
	if err != nil {
		log.Warn().Err(err).Str("remote", c.RealIP()).Msg("websocket connection rejected")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	raw, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		log.Debug().Err(err).Str("user", userID).Msg("websocket upgrade failed")
		return nil
	}

	t := ws.New(raw, h.wsOpts)
	conn := h.session.Open(c.Request().Context(), userID, t)
	defer h.session.Close(conn)

	log.Info().Str("user", userID).Msg("websocket connection opened")
	if err := t.ReadLoop(); err != nil {
		log.Debug().Err(err).Str("user", userID).Msg("websocket read ended")
	}
	log.Info().Str("user", userID).Msg("websocket connection closed")
	return nil
}

// Stream GET /notifications/stream?token=... is the SSE fallback for
// clients that cannot hold a WebSocket.
func (h *Handler) Stream(c echo.Context) error {
	userID, err := h.session.Authenticate(c.QueryParam("token"))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable Nginx/APISIX buffering
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"ok\"}\n\n")
	w.Flush()

	ctx := c.Request().Context()
	t := newSSETransport(w.Writer, h.wsOpts.SendBuffer, h.wsOpts.WriteWait)

	// serve must be running before Open, which waits for the replay write.
	served := make(chan struct{})
	go func() {
		defer close(served)
		t.serve(ctx)
	}()

	conn := h.session.Open(ctx, userID, t)
	log.Info().Str("user", userID).Msg("SSE stream opened")

	<-served
	h.session.Close(conn)
	log.Info().Str("user", userID).Msg("SSE stream closed")
	return nil
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": h.registry.Count(),
	})
}

// --- Helpers ---

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, application.ErrInvalidID), errors.Is(err, domain.ErrUnknownType):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		return echo.ErrInternalServerError
	}
}

func parseIntQuery(c echo.Context, key string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
