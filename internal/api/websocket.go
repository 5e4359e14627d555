package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"market-analyst-bot/internal/auth"
	"market-analyst-bot/internal/logging"
	"market-analyst-bot/internal/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSClient represents one websocket connection
type WSClient struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *WSHub
	userID    string
	closeChan chan struct{}
}

// WSHub manages websocket clients and routes job updates to their owners.
// It implements pipeline.Notifier.
type WSHub struct {
	clients     map[*WSClient]bool
	userClients map[string][]*WSClient
	register    chan *WSClient
	unregister  chan *WSClient
	mu          sync.RWMutex
	logger      *logging.Logger
}

// NewWSHub creates a new websocket hub
func NewWSHub(logger *logging.Logger) *WSHub {
	if logger == nil {
		logger = logging.Default()
	}
	return &WSHub{
		clients:     make(map[*WSClient]bool),
		userClients: make(map[string][]*WSClient),
		register:    make(chan *WSClient),
		unregister:  make(chan *WSClient),
		logger:      logger.WithComponent("websocket"),
	}
}

// Run starts the hub loop. Call in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.userClients[client.userID] = append(h.userClients[client.userID], client)
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.removeClientFromUserMap(client)
			}
			h.mu.Unlock()
		}
	}
}

// NotifyJob pushes a job status update to the job owner's connections.
func (h *WSHub) NotifyJob(job pipeline.Job) {
	data, err := json.Marshal(map[string]interface{}{
		"type": "job_update",
		"job":  job,
	})
	if err != nil {
		h.logger.Warn("failed to marshal job update", "error", err)
		return
	}

	h.mu.RLock()
	clients := h.userClients[job.UserID]
	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			// Slow consumer, drop this update rather than block the pipeline.
		}
	}
	h.mu.RUnlock()
}

// ClientCount returns the number of connected clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// removeClientFromUserMap removes a client from the userClients map.
// Caller must hold the write lock.
func (h *WSHub) removeClientFromUserMap(client *WSClient) {
	clients := h.userClients[client.userID]
	for i, c := range clients {
		if c == client {
			h.userClients[client.userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(h.userClients[client.userID]) == 0 {
		delete(h.userClients, client.userID)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// readPump drains the connection so pings get answered, and unregisters on close
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		close(c.closeChan)
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// handleWebSocket upgrades an authenticated request to a websocket connection
func (s *Server) handleWebSocket(c *gin.Context) {
	if s.hub == nil {
		errorResponse(c, http.StatusServiceUnavailable, "unavailable", "websocket disabled")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		conn:      conn,
		send:      make(chan []byte, 64),
		hub:       s.hub,
		userID:    auth.UserID(c),
		closeChan: make(chan struct{}),
	}

	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}
