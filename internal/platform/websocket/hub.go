// Package websocket pushes live queue boards to connected screens. Clients
// subscribe to topics such as "queue:ER" and receive a fresh snapshot every
// time the pool changes.
package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// TopicPrefix starts every queue topic.
const TopicPrefix = "queue:"

// Topic returns the topic name for a pool.
func Topic(pool string) string { return TopicPrefix + pool }

// PoolOf returns the pool named by a queue topic.
func PoolOf(topic string) (string, bool) {
	if !strings.HasPrefix(topic, TopicPrefix) || len(topic) == len(TopicPrefix) {
		return "", false
	}
	return strings.TrimPrefix(topic, TopicPrefix), true
}

// Message is what clients receive.
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscribe or unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is a single connected screen.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

func newClient(topics []string) *Client {
	return &Client{ID: uuid.New().String(), Topics: topics, Send: make(chan []byte, 64)}
}

// SubscribeHook runs after a client subscribes to topic, typically to send it
// the current snapshot.
type SubscribeHook func(c *Client, topic string)

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]map[*Client]struct{} // topic -> clients
	all         map[*Client]struct{}
	onSubscribe SubscribeHook
	logger      zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "queue_board").Logger(),
	}
}

// OnSubscribe installs the hook run for every new subscription.
func (h *Hub) OnSubscribe(fn SubscribeHook) {
	h.mu.Lock()
	h.onSubscribe = fn
	h.mu.Unlock()
}

// Register adds a client with its initial topics.
func (h *Hub) Register(client *Client) {
	topics := client.Topics
	client.Topics = nil
	h.mu.Lock()
	h.all[client] = struct{}{}
	h.mu.Unlock()
	h.Subscribe(client, topics)
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.drop(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds queue topics to a registered client. Topics that do not
// name a pool are ignored.
func (h *Hub) Subscribe(client *Client, topics []string) {
	var added []string
	h.mu.Lock()
	for _, topic := range topics {
		if _, ok := PoolOf(topic); !ok {
			continue
		}
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		if _, dup := h.clients[topic][client]; dup {
			continue
		}
		h.clients[topic][client] = struct{}{}
		client.Topics = append(client.Topics, topic)
		added = append(added, topic)
	}
	hook := h.onSubscribe
	h.mu.Unlock()

	if hook != nil {
		for _, topic := range added {
			hook(client, topic)
		}
	}
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	remove := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		remove[t] = struct{}{}
		h.drop(t, client)
	}
	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if _, rm := remove[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) drop(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// ProcessMessage dispatches a client request.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends msg to every subscriber of its topic. Slow clients whose
// buffer is full miss the message; the next snapshot supersedes it.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", msg.Topic).Msg("marshal queue message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[msg.Topic] {
		select {
		case client.Send <- data:
		default:
		}
	}
}

// SendTo delivers msg to one client if it is still connected.
func (h *Hub) SendTo(client *Client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", msg.Topic).Msg("marshal queue message")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

// HasSubscribers reports whether anyone listens on topic.
func (h *Hub) HasSubscribers(topic string) bool {
	return h.TopicCount(topic) > 0
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler upgrades GET /ws/queues to a websocket.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler builds the upgrade handler. An empty or "*" origin list accepts
// any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
	}
}

func (wsh *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/queues", wsh.HandleConnect)
}

// HandleConnect upgrades the connection and subscribes the client to the
// comma separated topics query parameter.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	var topics []string
	if q := c.QueryParam("topics"); q != "" {
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	client := newClient(nil)
	go wsh.writePump(client, ws)
	client.Topics = topics
	wsh.hub.Register(client)
	go wsh.readPump(client, ws)
	return nil
}

func (wsh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		wsh.hub.ProcessMessage(client, msg)
	}
}

func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, nil)
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
