package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"knowledge-agent-be/internal/entity"
	"knowledge-agent-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ClusterChannel carries session messages between instances.
const ClusterChannel = "agent_session_events"

const (
	MessageViewportUpdate = "viewport_update"
	MessagePing           = "ping"
	MessagePong           = "pong"
	MessageSubscribed     = "subscribed"
)

// ViewportSink stores viewports reported by clients over the socket.
type ViewportSink interface {
	Save(sessionID string, viewport entity.Viewport)
}

type Hub struct {
	// Subscribed clients per chat session (several tabs may watch one session)
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client
	// done is closed when Run returns so late unregistrations do not block
	done     chan struct{}
	doneOnce sync.Once

	mu sync.RWMutex

	// Redis connection for cross-instance fan-out
	rdb *redis.Client
	// instanceID tags our own Redis publications so they are not delivered twice
	instanceID string

	viewports ViewportSink
	logger    logger.ILogger
}

func NewHub(rdb *redis.Client, viewports ViewportSink, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[string][]*Client),
		rdb:        rdb,
		instanceID: uuid.NewString(),
		viewports:  viewports,
		logger:     log,
	}
}

// Run serves register/unregister requests until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.doneOnce.Do(func() { close(h.done) })
			h.closeAll()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.SessionID] = append(h.clients[client.SessionID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client subscribed", map[string]interface{}{"session_id": client.SessionID, "user_id": client.UserID})

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

// unregisterClient hands client to Run, or removes it directly once Run has returned.
func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	for i, c := range clients {
		if c == client {
			h.clients[client.SessionID] = append(clients[:i], clients[i+1:]...)
			client.closeSend()
			break
		}
	}
	if len(h.clients[client.SessionID]) == 0 {
		delete(h.clients, client.SessionID)
		h.logger.Info("Hub", "Session has no subscribers", map[string]interface{}{"session_id": client.SessionID})
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, clients := range h.clients {
		for _, c := range clients {
			c.closeSend()
		}
		delete(h.clients, id)
	}
}

// Subscribers reports how many local clients watch a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// BroadcastToSession delivers message to local subscribers and publishes it
// for the other instances.
func (h *Hub) BroadcastToSession(ctx context.Context, sessionID string, message map[string]interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal session message: %w", err)
	}

	h.deliverLocal(sessionID, data)

	if h.rdb != nil {
		payload, err := json.Marshal(clusterMessage{
			Origin:    h.instanceID,
			SessionID: sessionID,
			Message:   data,
		})
		if err != nil {
			return fmt.Errorf("marshal cluster message: %w", err)
		}
		if err := h.rdb.Publish(ctx, ClusterChannel, payload).Err(); err != nil {
			return fmt.Errorf("publish session message: %w", err)
		}
	}
	return nil
}

func (h *Hub) deliverLocal(sessionID string, data []byte) {
	h.mu.RLock()
	clients := append([]*Client(nil), h.clients[sessionID]...)
	h.mu.RUnlock()

	for _, client := range clients {
		if client.trySend(data) {
			continue
		}
		if !client.isClosed() {
			h.logger.Warn("Hub", "Client send buffer full, dropping client", map[string]interface{}{"session_id": sessionID})
			h.remove(client)
		}
	}
}

type clusterMessage struct {
	Origin    string          `json:"origin"`
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, ClusterChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload clusterMessage
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				h.logger.Warn("Hub", "Redis message parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			if payload.Origin == h.instanceID {
				continue
			}
			h.deliverLocal(payload.SessionID, payload.Message)
		}
	}
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// HandleInbound processes one client frame. Unknown types are ignored.
func (h *Hub) HandleInbound(client *Client, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.logger.Debug("Hub", "Ignoring malformed client frame", map[string]interface{}{"session_id": client.SessionID})
		return
	}

	switch msg.Type {
	case MessagePing:
		reply, _ := json.Marshal(map[string]interface{}{"type": MessagePong})
		client.trySend(reply)

	case MessageViewportUpdate:
		if h.viewports == nil {
			return
		}
		var vp entity.Viewport
		if err := json.Unmarshal(msg.Data, &vp); err != nil || vp.FileId == "" {
			h.logger.Warn("Hub", "Invalid viewport update", map[string]interface{}{"session_id": client.SessionID})
			return
		}
		h.viewports.Save(client.SessionID, vp)
	}
}
