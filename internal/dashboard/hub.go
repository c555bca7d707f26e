package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"livetape/internal/metrics"
	"livetape/internal/models"
	"livetape/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// envelope is the frame pushed to every dashboard socket.
type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts normalized events to connected dashboard sockets. A
// client whose send buffer is full is disconnected.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	log     *logger.Log
}

func NewHub(log *logger.Log) *Hub {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Hub{clients: make(map[*client]struct{}), log: log}
}

func (h *Hub) BroadcastTrade(t models.Trade) { h.broadcast("trade", t) }

func (h *Hub) BroadcastLiquidation(l models.Liquidation) { h.broadcast("liquidation", l) }

func (h *Hub) broadcast(kind string, data interface{}) {
	h.mu.RLock()
	empty := len(h.clients) == 0
	h.mu.RUnlock()
	if empty {
		return
	}

	msg, err := json.Marshal(envelope{Type: kind, Data: data})
	if err != nil {
		h.log.WithComponent("hub").WithError(err).Warn("failed to encode broadcast")
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		metrics.EmitDropMetric(h.log, metrics.DropMetricHubClient, "", kind, "", "hub")
		h.log.WithComponent("hub").WithField("client_id", c.id).Warn("dropping slow dashboard client")
		h.remove(c)
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Clients reports the number of connected sockets.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request and registers the socket.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithComponent("hub").WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	if !h.add(c) {
		_ = conn.Close()
		return
	}
	h.log.WithComponent("hub").WithFields(logger.Fields{"client_id": c.id, "clients": h.Clients()}).Info("dashboard client connected")

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
		c.hub.log.WithComponent("hub").WithField("client_id", c.id).Info("dashboard client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
