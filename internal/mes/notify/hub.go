package notify

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Event SSE 事件
type Event struct {
	EventType string `json:"event"`
	Data      string `json:"data"`
}

// Client 一个 SSE 连接
type Client struct {
	ID     string
	UserID string
	Events chan Event
}

// Hub 管理 SSE 连接，按用户推送
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("sse client registered",
		zap.String("client", client.ID), zap.String("user", client.UserID), zap.Int("total", len(h.clients)))
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Debug("sse client unregistered", zap.String("client", clientID), zap.Int("total", len(h.clients)))
	}
}

// SendToUser 推送给该用户的所有连接，缓冲满则丢弃
func (h *Hub) SendToUser(userID string, event Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, client := range h.clients {
		if client.UserID != userID {
			continue
		}
		select {
		case client.Events <- event:
			sent++
		default:
			h.logger.Warn("sse client buffer full, skipping event", zap.String("client", client.ID))
		}
	}
	return sent
}

// Send 实现 Sink：每条通知推送为 notification 事件
func (h *Hub) Send(ctx context.Context, msgs []Message) error {
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		h.SendToUser(m.RecipientID, Event{EventType: "notification", Data: string(data)})
	}
	return nil
}
