package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"distill/api/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Client → server control message.
type controlMessage struct {
	Op         string `json:"op"`
	Collection string `json:"collection"`
}

// Server → client message: an acknowledgement or an event.
type wireMessage struct {
	Type       string       `json:"type"`
	Op         string       `json:"op,omitempty"`
	Collection string       `json:"collection,omitempty"`
	Event      *ChangeEvent `json:"event,omitempty"`
}

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	typeAck       = "ack"
	typeEvent     = "event"
)

// Hub fans change events out to websocket clients by collection. Events
// carrying a UserID only reach that user's connections.
type Hub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*hubClient]bool
}

type hubClient struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan wireMessage

	mu          sync.Mutex
	collections map[string]bool
	closeOnce   sync.Once
}

func NewHub(log *logger.Logger, allowedOrigin string) *Hub {
	return &Hub{
		log: logger.OrNop(log).With("component", "RealtimeHub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "" || allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
		clients: make(map[*hubClient]bool),
	}
}

// Run forwards every event from feed to connected clients until ctx ends.
func (h *Hub) Run(ctx context.Context, feed Feed) error {
	sub, err := feed.Subscribe(ctx, "", h.Broadcast)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Close()
}

// ServeWS upgrades the request and serves the connection for userID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &hubClient{
		hub:         h,
		conn:        conn,
		userID:      userID,
		send:        make(chan wireMessage, sendBuffer),
		collections: make(map[string]bool),
	}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) Broadcast(evt ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(evt) {
			continue
		}
		e := evt
		select {
		case c.send <- wireMessage{Type: typeEvent, Event: &e}:
		default:
			h.log.Warn("dropping event for slow client", "collection", evt.Collection, "id", evt.ID)
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (c *hubClient) wants(evt ChangeEvent) bool {
	if evt.UserID != "" && c.userID != "" && evt.UserID != c.userID {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collections[evt.Collection]
}

func (c *hubClient) close() {
	c.closeOnce.Do(func() {
		c.hub.remove(c)
		close(c.send)
	})
}

func (c *hubClient) readPump() {
	defer func() {
		c.close()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket read failed", "error", err)
			}
			return
		}
		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Collection == "" {
			continue
		}
		c.mu.Lock()
		switch msg.Op {
		case opSubscribe:
			c.collections[msg.Collection] = true
		case opUnsubscribe:
			delete(c.collections, msg.Collection)
		default:
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()
		c.ack(msg)
	}
}

func (c *hubClient) ack(msg controlMessage) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- wireMessage{Type: typeAck, Op: msg.Op, Collection: msg.Collection}:
	default:
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
