package handlers

import (
	"net/http"

	"lexidraft-realtime/internal/websocket"

	"github.com/gin-gonic/gin"
)

type WSHandler struct {
	hub *websocket.Hub
}

func NewWSHandler(hub *websocket.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// HandleWebSocket godoc
// @Summary WebSocket connection
// @Description Upgrade to a websocket. The first frame must be
// @Description {"type":"auth","token":"..."}; see the hub protocol.
// @Tags websocket
// @Success 101 "Switching Protocols"
// @Router /ws [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	// ServeWS writes its own error response on a failed upgrade.
	h.hub.ServeWS(c.Writer, c.Request)
}

// Stats reports registry counts and delivery metrics.
// @Tags websocket
// @Security BearerAuth
// @Router /ws/stats [get]
func (h *WSHandler) Stats(c *gin.Context) {
	stats := h.hub.Stats()
	c.JSON(http.StatusOK, gin.H{
		"connections":        stats.Connections,
		"uniqueUsers":        stats.UniqueUsers,
		"pendingConnections": h.hub.PendingConnections(),
		"delivery":           h.hub.Metrics().Aggregated(),
	})
}

// Health is the unauthenticated status endpoint.
func (h *WSHandler) Health(c *gin.Context) {
	stats := h.hub.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": stats.Connections,
		"uniqueUsers": stats.UniqueUsers,
	})
}
