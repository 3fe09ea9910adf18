package handler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bitfantasy/nimo-mes/internal/mes/notify"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NotificationHandler 站内通知与 SSE 推送
type NotificationHandler struct {
	svc    *service.NotificationService
	hub    *notify.Hub
	logger *zap.Logger
}

// List GET /notifications?unread=true&limit=50
func (h *NotificationHandler) List(c *gin.Context) {
	limit := 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	userID := middleware.CurrentActor(c).UserID
	items, err := h.svc.List(c.Request.Context(), userID, c.Query("unread") == "true", limit)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": items})
}

// ListByWorkOrder GET /work-orders/:id/notifications
func (h *NotificationHandler) ListByWorkOrder(c *gin.Context) {
	items, err := h.svc.ListByWorkOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"items": items})
}

// MarkRead POST /notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.svc.MarkRead(c.Request.Context(), c.Param("id"), middleware.CurrentActor(c).UserID); err != nil {
		Fail(c, err)
		return
	}
	Success(c, nil)
}

// Stream GET /notifications/stream?token=xxx
func (h *NotificationHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		Error(c, 50300, "未启用实时推送")
		return
	}
	userID := middleware.CurrentActor(c).UserID
	clientID := fmt.Sprintf("%s_%d", userID, time.Now().UnixNano())

	client := &notify.Client{
		ID:     clientID,
		UserID: userID,
		Events: make(chan notify.Event, 64),
	}
	h.hub.Register(client)
	defer h.hub.Unregister(clientID)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteString("event: connected\ndata: {\"client_id\":\"" + clientID + "\"}\n\n")
	c.Writer.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			c.Writer.WriteString(fmt.Sprintf("event: %s\ndata: %s\n\n", event.EventType, event.Data))
			c.Writer.Flush()
		case <-heartbeat.C:
			c.Writer.WriteString(": keepalive\n\n")
			c.Writer.Flush()
		}
	}
}
