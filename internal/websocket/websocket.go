package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"guild-server/internal/callback"
	"guild-server/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var errSendBufferFull = errors.New("client send buffer full")

// Message is the envelope for every frame in both directions.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Refresh tells a client that something it watches changed.
type Refresh struct {
	Kind  string `json:"kind"`
	Topic string `json:"topic"`
}

type errorData struct {
	Message string `json:"message"`
}

// Client is one connected user.
type Client struct {
	conn   *websocket.Conn
	hub    *Hub
	UserID int64
	send   chan []byte

	mu     sync.Mutex
	closed bool
	subs   map[topicKey]*callback.Subscription
}

type topicKey struct {
	kind  callback.Kind
	topic callback.TopicID
}

// Hub tracks connected clients and bridges registry notifications to them.
type Hub struct {
	reg   *callback.Registry
	guard Guard

	clients     map[*Client]bool
	userClients map[int64]*Client
	register    chan *Client
	unregister  chan *Client
	done        chan struct{}
	mu          sync.RWMutex
}

func NewHub(reg *callback.Registry, guard Guard) *Hub {
	return &Hub{
		reg:         reg,
		guard:       guard,
		clients:     make(map[*Client]bool),
		userClients: make(map[int64]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
	}
}

// Run serves register and unregister requests until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if existing, ok := h.userClients[client.UserID]; ok {
				slog.Info("user already connected, closing existing connection", "user_id", client.UserID)
				h.drop(existing)
			}
			h.clients[client] = true
			h.userClients[client.UserID] = client
			n := len(h.clients)
			h.mu.Unlock()
			metrics.SetConnectedClients(n)
			slog.Info("user connected", "user_id", client.UserID)

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				h.drop(client)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.SetConnectedClients(n)
			slog.Info("user disconnected", "user_id", client.UserID)

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			metrics.SetConnectedClients(0)
			return
		}
	}
}

// drop forgets client and releases its subscriptions. h.mu must be held.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	if h.userClients[client.UserID] == client {
		delete(h.userClients, client.UserID)
	}
	client.close()
}

// IsUserConnected reports whether userID has a live connection.
func (h *Hub) IsUserConnected(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.userClients[userID]
	return ok
}

// DisconnectUser closes the connection of userID, if any.
func (h *Hub) DisconnectUser(userID int64) {
	h.mu.Lock()
	client, ok := h.userClients[userID]
	if ok {
		h.drop(client)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		metrics.SetConnectedClients(n)
		slog.Info("user disconnected by server", "user_id", userID)
	}
}

func (h *Hub) ConnectedUsers() []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]int64, 0, len(h.userClients))
	for id := range h.userClients {
		ids = append(ids, id)
	}
	return ids
}

func newClient(h *Hub, conn *websocket.Conn, userID int64) *Client {
	return &Client{
		conn:   conn,
		hub:    h,
		UserID: userID,
		send:   make(chan []byte, sendBuffer),
		subs:   make(map[topicKey]*callback.Subscription),
	}
}

// close unsubscribes everything and closes the send channel once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for key, sub := range c.subs {
		c.hub.reg.Unsubscribe(sub)
		delete(c.subs, key)
	}
	close(c.send)
}

// enqueue queues a frame without blocking.
func (c *Client) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Client) reply(msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("marshal websocket reply", "type", msgType, "error", err)
		return
	}
	frame, _ := json.Marshal(Message{Type: msgType, Data: raw})
	if err := c.enqueue(frame); err != nil {
		slog.Warn("dropping websocket reply", "user_id", c.UserID, "type", msgType, "error", err)
	}
}

func (c *Client) subscribe(ctx context.Context, req SubscribeRequest) {
	kind, topic, err := c.hub.guard.Resolve(ctx, c.UserID, req)
	if err != nil {
		c.reply("error", errorData{Message: err.Error()})
		return
	}
	key := topicKey{kind, topic}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if _, ok := c.subs[key]; !ok {
		refresh, _ := json.Marshal(Refresh{Kind: kind.String(), Topic: topic.String()})
		frame, _ := json.Marshal(Message{Type: "refresh", Data: refresh})
		c.subs[key] = c.hub.reg.Subscribe(kind, topic, func(context.Context) error {
			return c.enqueue(frame)
		})
	}
	c.mu.Unlock()

	c.reply("subscribed", Refresh{Kind: kind.String(), Topic: topic.String()})
}

func (c *Client) unsubscribe(ctx context.Context, req SubscribeRequest) {
	kind, topic, err := c.hub.guard.Resolve(ctx, c.UserID, req)
	if err != nil {
		c.reply("error", errorData{Message: err.Error()})
		return
	}
	key := topicKey{kind, topic}

	c.mu.Lock()
	if sub, ok := c.subs[key]; ok {
		c.hub.reg.Unsubscribe(sub)
		delete(c.subs, key)
	}
	c.mu.Unlock()

	c.reply("unsubscribed", Refresh{Kind: kind.String(), Topic: topic.String()})
}

func (c *Client) handle(ctx context.Context, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.reply("error", errorData{Message: "malformed message"})
		return
	}
	switch msg.Type {
	case "subscribe", "unsubscribe":
		var req SubscribeRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.reply("error", errorData{Message: "malformed subscription"})
			return
		}
		if msg.Type == "subscribe" {
			c.subscribe(ctx, req)
		} else {
			c.unsubscribe(ctx, req)
		}
	case "ping":
		c.reply("pong", struct{}{})
	default:
		c.reply("error", errorData{Message: "unknown message type " + msg.Type})
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "user_id", c.UserID, "error", err)
			}
			return
		}
		if messageType == websocket.TextMessage {
			c.handle(ctx, message)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Warn("websocket write error", "user_id", c.UserID, "error", err)
				return
			}
			atomic.AddInt64(&metrics.WebSocketBytesOut, int64(len(message)))
			atomic.AddInt64(&metrics.WebSocketMessages, 1)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades an authenticated request. userID comes from the auth
// middleware.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	client := newClient(h, conn, userID)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go client.writePump()
	go client.readPump(ctx)
}
