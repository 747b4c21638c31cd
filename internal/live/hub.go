// Package live pushes newly saved measurements to websocket subscribers.
package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saveenergy/linkspeed/internal/logging"
	"github.com/saveenergy/linkspeed/internal/origin"
	"github.com/saveenergy/linkspeed/internal/results"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 5 * time.Second
	readLimit           = 4096
)

type Hub struct {
	upgrader       websocket.Upgrader
	clients        map[*websocket.Conn]*clientConn
	allowedOrigins []string
	pingInterval   time.Duration
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
	mu             sync.RWMutex
}

type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type message struct {
	Type   string          `json:"type"`
	Result *results.Result `json:"result,omitempty"`
	Time   int64           `json:"time"`
}

func NewHub(pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	h := &Hub{
		clients:      make(map[*websocket.Conn]*clientConn),
		pingInterval: pingInterval,
		stopCh:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return h.isAllowedOrigin(r.Header.Get("Origin"), r.Host)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	h.wg.Add(1)
	go h.pingLoop()
	return h
}

func (h *Hub) SetAllowedOrigins(origins []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allowedOrigins = origins
}

// HandleFeed upgrades the request and keeps the subscriber registered until
// it disconnects.
func (h *Hub) HandleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("live: websocket upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()

	// Subscribers never send data; reads only detect disconnects.
	conn.SetReadLimit(readLimit)

	client := &clientConn{conn: conn}
	h.mu.Lock()
	h.clients[conn] = client
	h.mu.Unlock()
	defer h.remove(conn)

	if err := client.writeJSON(message{Type: "connected", Time: time.Now().Unix()}); err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish sends r to every subscriber. Subscribers that fail the write are
// dropped.
func (h *Hub) Publish(r results.Result) {
	data, err := json.Marshal(message{Type: "result", Result: &r, Time: time.Now().Unix()})
	if err != nil {
		logging.Warn("live: marshal result failed", logging.Err(err))
		return
	}
	h.broadcast(websocket.TextMessage, data)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
	})
	h.wg.Wait()

	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *Hub) pingLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.broadcast(websocket.PingMessage, nil)
		}
	}
}

func (h *Hub) broadcast(messageType int, data []byte) {
	h.mu.RLock()
	clients := make([]*clientConn, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeMessage(messageType, data); err != nil {
			h.remove(c.conn)
			c.conn.Close()
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

func (h *Hub) isAllowedOrigin(o, host string) bool {
	if o == "" {
		return true
	}

	h.mu.RLock()
	allowed := append([]string(nil), h.allowedOrigins...)
	h.mu.RUnlock()

	if len(allowed) == 0 {
		return origin.SameHost(o, host)
	}
	return origin.Allowed(allowed, o)
}

func (c *clientConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *clientConn) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}
