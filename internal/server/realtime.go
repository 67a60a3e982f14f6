package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/realtime"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultHeartbeatInterval = 25 * time.Second

// handleCommentStream serves one post's room as server-sent events, for clients that
// cannot hold a WebSocket open.
func (h *httpHandler) handleCommentStream(c *gin.Context) {
	postID := strings.TrimSpace(c.Param("postId"))
	conn := h.gateway.Connect()
	defer h.gateway.Disconnect(conn)
	if err := h.gateway.JoinRoom(conn, postID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_post_id"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-conn.Done():
			return false
		case <-conn.Lagging():
			h.logger.Info("closing lagging comment stream",
				zap.String("connection_id", conn.ID()),
				zap.String("post_id", postID))
			return false
		case event := <-conn.Events():
			c.SSEvent(event.Name, string(event.Data))
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtime.EventHeartbeat, tick.UTC().Format(time.RFC3339))
			return true
		}
	})
}
