package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kreso975/homebridge-http-sensors-switches/internal/infrastructure/config"
	"github.com/kreso975/homebridge-http-sensors-switches/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
//
// Channels may only name ChannelCharacteristicChanged. Accessories narrows
// the subscription to those accessory IDs; empty means every accessory.
type WSSubscribePayload struct {
	Channels    []string `json:"channels"`
	Accessories []string `json:"accessories,omitempty"`
}

// Hub tracks WebSocket clients and fans characteristic changes out to the
// ones watching the changed accessory.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one connected WebSocket client and what it is watching.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	watching bool
	// accessories is the accessory filter; nil while watching means all.
	accessories map[string]struct{}

	// subject is the token subject when authentication is enabled.
	subject string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

func newWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that removes the client from the map closes its send
// channel, so shutdown and a read error cannot both close it.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// BroadcastChange implements Broadcaster. The event is encoded once and
// queued for every client watching ev.AccessoryID; slow clients drop it.
func (h *Hub) BroadcastChange(ev CharacteristicEvent) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: ChannelCharacteristicChanged,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   ev,
	})
	if err != nil {
		h.logger.Error("failed to encode characteristic event", "accessory_id", ev.AccessoryID, "error", err)
		return
	}

	// Client locks are never taken under the hub lock.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if client.watches(ev.AccessoryID) {
			client.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("characteristic change sent",
			"accessory_id", ev.AccessoryID,
			"characteristic", ev.Characteristic,
			"recipients", sent,
		)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// Authentication, when enabled, has already been checked by authMiddleware.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn)
	if subject, ok := r.Context().Value(ctxKeySubject).(string); ok {
		client.subject = subject
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "subject", c.subject, "error", err)
			}
			return
		}
		// Panels that ignore protocol pings stay alive by talking.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid message: "+err.Error())
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		if bad := unknownChannels(msg.Payload.Channels); len(bad) > 0 {
			c.sendError(msg.ID, "unknown channels: "+strings.Join(bad, ", "))
			return
		}
		c.subscribe(msg.Payload.Accessories)
		c.hub.logger.Info("websocket client subscribed",
			"subject", c.subject,
			"accessories", msg.Payload.Accessories,
		)
		c.sendResponse(msg.ID, WSTypeResponse, c.watchView())
	case WSTypeUnsubscribe:
		if bad := unknownChannels(msg.Payload.Channels); len(bad) > 0 {
			c.sendError(msg.ID, "unknown channels: "+strings.Join(bad, ", "))
			return
		}
		c.unsubscribe(msg.Payload.Accessories)
		c.sendResponse(msg.ID, WSTypeResponse, c.watchView())
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// unknownChannels returns the requested channels this hub does not carry.
// An empty request means ChannelCharacteristicChanged.
func unknownChannels(channels []string) []string {
	var bad []string
	for _, ch := range channels {
		if ch != ChannelCharacteristicChanged {
			bad = append(bad, ch)
		}
	}
	return bad
}

// subscribe starts watching ids, or every accessory when ids is empty.
// Filters from repeated subscribes accumulate.
func (c *WSClient) subscribe(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(ids) == 0 {
		c.watching = true
		c.accessories = nil
		return
	}
	if c.watching && c.accessories == nil {
		return
	}
	if c.accessories == nil {
		c.accessories = make(map[string]struct{}, len(ids))
	}
	for _, id := range ids {
		c.accessories[id] = struct{}{}
	}
	c.watching = true
}

// unsubscribe stops watching ids, or everything when ids is empty. Dropping
// the last filtered accessory ends the subscription. An all-accessory
// subscription is only ever dropped whole.
func (c *WSClient) unsubscribe(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(ids) == 0 || c.accessories == nil {
		c.watching = false
		c.accessories = nil
		return
	}
	for _, id := range ids {
		delete(c.accessories, id)
	}
	if len(c.accessories) == 0 {
		c.watching = false
		c.accessories = nil
	}
}

func (c *WSClient) watches(accessoryID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.watching {
		return false
	}
	if c.accessories == nil {
		return true
	}
	_, ok := c.accessories[accessoryID]
	return ok
}

// watchView is the subscribe/unsubscribe acknowledgement body.
func (c *WSClient) watchView() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	channels := []string{}
	if c.watching {
		channels = append(channels, ChannelCharacteristicChanged)
	}
	view := map[string]any{"channels": channels}
	if c.accessories != nil {
		ids := make([]string, 0, len(c.accessories))
		for id := range c.accessories {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		view["accessories"] = ids
	}
	return view
}

// trySend queues data without blocking. A full buffer drops the message and
// a client closed mid-broadcast is ignored.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
