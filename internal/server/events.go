package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/internal/agentbrowser"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Clients only send control frames.
	maxMessageSize = 512
	sendBufferSize = 256
	publishBuffer  = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The server binds to loopback by default and carries no cookies.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is a middleman between one websocket connection and the hub. It
// only receives events of its browser session.
type client struct {
	id        string
	sessionID string
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
}

// readPump discards client frames and notices when the peer goes away.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("Websocket client read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *client) writePump() {
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
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type envelope struct {
	sessionID string
	payload   []byte
}

// Hub fans loop events out to the websocket clients of each browser session.
// It implements agentbrowser.EventSink.
type Hub struct {
	logger    *zap.Logger
	clients   map[*client]bool
	broadcast chan envelope
	register  chan *client
	leave     chan *client
	done      chan struct{}
	mu        sync.RWMutex
}

// NewHub creates a hub. Nothing is delivered until Run is called.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:    logger.Named("event_hub"),
		clients:   make(map[*client]bool),
		broadcast: make(chan envelope, publishBuffer),
		register:  make(chan *client),
		leave:     make(chan *client),
		done:      make(chan struct{}),
	}
}

// Run delivers events until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Event hub started.")
	defer h.logger.Info("Event hub stopped.")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("Event stream client connected.", zap.String("client_id", c.id), zap.String("session_id", c.sessionID))
		case c := <-h.leave:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Info("Event stream client disconnected.", zap.String("client_id", c.id))
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if c.sessionID != msg.sessionID {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					// Slow consumer.
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues an event for the clients of e.SessionID. It never blocks;
// events are dropped when the hub is backed up or stopped.
func (h *Hub) Publish(e agentbrowser.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}
	select {
	case <-h.done:
	case h.broadcast <- envelope{sessionID: e.SessionID, payload: payload}:
	default:
		h.logger.Warn("Event hub backed up, dropping event.", zap.String("session_id", e.SessionID), zap.String("type", string(e.Type)))
	}
}

// clientCount returns the number of connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) unregister(c *client) {
	select {
	case h.leave <- c:
	case <-h.done:
	}
}

// ServeSession upgrades the request and streams the events of sessionID.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	c := &client{
		id:        uuid.NewString(),
		sessionID: sessionID,
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
