package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"bioai-workspace-be/internal/pkg/logger"
	"bioai-workspace-be/internal/pkg/metrics"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const (
	hubModule = "STATUS_HUB"
	// clusterChannel carries events between instances.
	clusterChannel = "workspace_status_events"

	EventSaveStatus      = "save_status"
	EventRestoreProgress = "restore_progress"
	EventSyncStatistics  = "sync_statistics"
	EventActivity        = "activity"
)

// Envelope is the frame written to every client.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	At   time.Time   `json:"at"`
}

type clusterMessage struct {
	Origin       string          `json:"origin"`
	TargetUserID string          `json:"target_user_id"`
	Message      json.RawMessage `json:"message"`
}

// Signal is a client side notice read from the socket, such as a tab
// becoming hidden.
type Signal struct {
	UserID  uuid.UUID
	Type    string `json:"type"`
	Online  *bool  `json:"online,omitempty"`
	Visible *bool  `json:"visible,omitempty"`
}

type Hub struct {
	// Registered clients: user id -> every open tab of that user.
	clients map[uuid.UUID][]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	// Redis connection for cross-instance fan-out. Nil runs the hub
	// single-instance.
	rdb *redis.Client
	// origin tags the messages this instance publishes so it can skip them
	// when they come back from Redis.
	origin string

	onSignal func(Signal)
	done     chan struct{}

	metrics *metrics.Metrics
	logger  logger.ILogger
}

func NewHub(rdb *redis.Client, m *metrics.Metrics, log logger.ILogger) *Hub {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[uuid.UUID][]*Client),
		rdb:        rdb,
		origin:     ulid.Make().String(),
		done:       make(chan struct{}),
		metrics:    m,
		logger:     log,
	}
}

// OnSignal sets the callback for client signals. Call before Run.
func (h *Hub) OnSignal(fn func(Signal)) {
	h.onSignal = fn
}

func (h *Hub) Run(ctx context.Context) {
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for uid, clients := range h.clients {
				for _, c := range clients {
					close(c.Send)
				}
				h.metrics.AddWSConnections(-len(clients))
				delete(h.clients, uid)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.UserID] = append(h.clients[client.UserID], client)
			h.mu.Unlock()
			h.metrics.AddWSConnections(1)
			h.logger.Info(hubModule, "Client registered", map[string]interface{}{"user_id": client.UserID})

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// remove drops a client once. Send is closed only by the call that found it.
func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.clients[client.UserID]
	for i, c := range clients {
		if c == client {
			h.clients[client.UserID] = append(clients[:i], clients[i+1:]...)
			close(client.Send)
			h.metrics.AddWSConnections(-1)
			break
		}
	}
	if len(h.clients[client.UserID]) == 0 {
		delete(h.clients, client.UserID)
		h.logger.Info(hubModule, "Client completely unregistered", map[string]interface{}{"user_id": client.UserID})
	}
}

// Connected reports how many sockets the user has open on this instance.
func (h *Hub) Connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func encode(eventType string, data interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: eventType, Data: data, At: time.Now()})
}

// Send delivers an event to every tab of the user on every instance.
func (h *Hub) Send(userID uuid.UUID, eventType string, data interface{}) {
	frame, err := encode(eventType, data)
	if err != nil {
		h.logger.Error(hubModule, "Failed to encode event", map[string]interface{}{
			"type":  eventType,
			"error": err.Error(),
		})
		return
	}

	h.deliver(userID, frame)

	if h.rdb != nil {
		payload, _ := json.Marshal(clusterMessage{
			Origin:       h.origin,
			TargetUserID: userID.String(),
			Message:      frame,
		})
		if err := h.rdb.Publish(context.Background(), clusterChannel, payload).Err(); err != nil {
			h.logger.Warn(hubModule, "Redis publish failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (h *Hub) deliver(userID uuid.UUID, frame []byte) {
	h.mu.RLock()
	clients := append([]*Client(nil), h.clients[userID]...)
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.Send <- frame:
		default:
			h.logger.Warn(hubModule, "Client send buffer full, dropping client", map[string]interface{}{"user_id": userID})
			go h.leave(client)
		}
	}
}

func (h *Hub) signal(s Signal) {
	if h.onSignal != nil {
		h.onSignal(s)
	}
}

// subscribeToRedis relays events published by other instances to the
// local clients of their target user.
func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
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
				h.logger.Warn(hubModule, "Redis message parse error", map[string]interface{}{"error": err.Error()})
				continue
			}
			if payload.Origin == h.origin {
				continue
			}
			uid, err := uuid.Parse(payload.TargetUserID)
			if err != nil {
				continue
			}
			h.deliver(uid, payload.Message)
		}
	}
}
