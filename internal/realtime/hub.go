package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"multiverse-server/internal/interfaces"
	"multiverse-server/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время ожидания pong от клиента.
	pongWait = 60 * time.Second
	// Период пингов, меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Клиенты ничего не присылают, кроме control-фреймов.
	maxMessageSize = 512

	sendBuffer      = 64
	broadcastBuffer = 256
)

// Client одно websocket-соединение участника, подписанное на экземпляр.
type Client struct {
	InstanceID    uuid.UUID
	ParticipantID string
	conn          *websocket.Conn
	send          chan []byte
}

// Hub рассылает события экземпляров подписанным участникам.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[uuid.UUID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan models.InstanceUpdate
	done       chan struct{}
	logger     *zap.Logger
}

var _ interfaces.InstanceEventPublisher = (*Hub)(nil)

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan models.InstanceUpdate, broadcastBuffer),
		done:       make(chan struct{}),
		logger:     logger.Named("RealtimeHub"),
	}
}

// Run основной цикл хаба, завершается по отмене ctx и закрывает все соединения.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Realtime hub started")
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[client.InstanceID]
			if !ok {
				room = make(map[*Client]struct{})
				h.rooms[client.InstanceID] = room
			}
			room[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("Client subscribed",
				zap.Stringer("instanceID", client.InstanceID),
				zap.String("participantID", client.ParticipantID),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case update := <-h.broadcast:
			h.deliver(update)

		case <-ctx.Done():
			h.mu.Lock()
			for _, room := range h.rooms {
				for client := range room {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			h.logger.Info("Realtime hub stopped")
			return
		}
	}
}

// remove вызывается под h.mu.
func (h *Hub) remove(client *Client) {
	room, ok := h.rooms[client.InstanceID]
	if !ok {
		return
	}
	if _, ok := room[client]; !ok {
		return
	}
	delete(room, client)
	close(client.send)
	if len(room) == 0 {
		delete(h.rooms, client.InstanceID)
	}
}

func (h *Hub) deliver(update models.InstanceUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("Failed to marshal instance update", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.rooms[update.InstanceID] {
		select {
		case client.send <- payload:
		default:
			// медленный клиент отключается, догонит через REST
			h.logger.Warn("Client send queue full, dropping connection",
				zap.Stringer("instanceID", client.InstanceID),
				zap.String("participantID", client.ParticipantID),
			)
			h.remove(client)
		}
	}
}

// Broadcast ставит событие в очередь рассылки. При переполнении событие теряется.
func (h *Hub) Broadcast(update models.InstanceUpdate) {
	select {
	case h.broadcast <- update:
	default:
		h.logger.Warn("Broadcast queue full, update dropped",
			zap.String("type", string(update.Type)),
			zap.Stringer("instanceID", update.InstanceID),
		)
	}
}

// PublishInstanceUpdate позволяет использовать хаб напрямую, без брокера.
func (h *Hub) PublishInstanceUpdate(_ context.Context, update models.InstanceUpdate) error {
	h.Broadcast(update)
	return nil
}

// Subscribers число подписчиков экземпляра.
func (h *Hub) Subscribers(instanceID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[instanceID])
}

// Serve регистрирует соединение и запускает его насосы. Не блокирует.
func (h *Hub) Serve(conn *websocket.Conn, instanceID uuid.UUID, participantID string) {
	client := &Client{
		InstanceID:    instanceID,
		ParticipantID: participantID,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	log := h.logger.With(zap.Stringer("instanceID", instanceID), zap.String("participantID", participantID))
	go client.writePump(log)
	go client.readPump(h, log)
}

// readPump читает только control-фреймы и отслеживает разрыв соединения.
func (c *Client) readPump(h *Hub, logger *zap.Logger) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump отправляет события и пинги. Каждое событие отдельным фреймом.
func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("Failed to write message", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}
