package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	broadcastInterval = 500 * time.Millisecond
	writeTimeout      = 5 * time.Second
)

// sameOriginOr admits requests without an Origin, same-host origins, and
// whatever allowed accepts.
func sameOriginOr(allowed func(origin string) bool) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host || allowed(origin)
	}
}

// wsClient serializes writes to one connection; gorilla allows a single
// concurrent writer.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WebSocketServer streams the bot status to connected clients whenever it
// changes.
type WebSocketServer struct {
	status   StatusSource
	logger   *slog.Logger
	upgrader websocket.Upgrader

	clients   map[*websocket.Conn]*wsClient
	clientsMu sync.RWMutex

	done     chan struct{}
	stopOnce sync.Once
}

// NewWebSocketServer creates a WebSocket server. allowOrigin decides
// cross-origin upgrades.
func NewWebSocketServer(status StatusSource, logger *slog.Logger, allowOrigin func(origin string) bool) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		status:   status,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: sameOriginOr(allowOrigin)},
		clients:  make(map[*websocket.Conn]*wsClient),
		done:     make(chan struct{}),
	}
}

// Handler returns the WebSocket HTTP handler. A client receives the current
// status right after connecting and every change after that.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Warn("WebSocket upgrade failed",
				slog.String("origin", r.Header.Get("Origin")),
				slog.String("error", err.Error()),
			)
			return
		}

		client := &wsClient{conn: conn}
		ws.clientsMu.Lock()
		ws.clients[conn] = client
		total := len(ws.clients)
		ws.clientsMu.Unlock()

		ws.logger.Debug("WebSocket client connected", slog.Int("total_clients", total))

		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			total := len(ws.clients)
			ws.clientsMu.Unlock()
			conn.Close()

			ws.logger.Debug("WebSocket client disconnected", slog.Int("total_clients", total))
		}()

		if data, ok := ws.snapshot(); ok {
			if err := client.write(data); err != nil {
				return
			}
		}

		// Read until the client goes away; control frames are handled by gorilla.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// Start begins the broadcasting goroutine.
func (ws *WebSocketServer) Start() {
	go ws.broadcastLoop()
}

// Stop stops broadcasting and closes every client connection.
func (ws *WebSocketServer) Stop() {
	ws.stopOnce.Do(func() {
		close(ws.done)

		ws.clientsMu.Lock()
		for conn := range ws.clients {
			conn.Close()
		}
		ws.clients = make(map[*websocket.Conn]*wsClient)
		ws.clientsMu.Unlock()
	})
}

func (ws *WebSocketServer) broadcastLoop() {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	last := ws.status.Version()
	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			v := ws.status.Version()
			if v == last {
				continue
			}
			last = v
			if data, ok := ws.snapshot(); ok {
				ws.broadcast(data)
			}
		}
	}
}

func (ws *WebSocketServer) snapshot() ([]byte, bool) {
	data, err := json.Marshal(ws.status.Status())
	if err != nil {
		ws.logger.Error("Failed to marshal status", slog.String("error", err.Error()))
		return nil, false
	}
	return data, true
}

func (ws *WebSocketServer) broadcast(data []byte) {
	ws.clientsMu.RLock()
	clients := make([]*wsClient, 0, len(ws.clients))
	for _, c := range ws.clients {
		clients = append(clients, c)
	}
	ws.clientsMu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			// The read loop removes the client.
			ws.logger.Debug("Failed to write to WebSocket", slog.String("error", err.Error()))
		}
	}
}

// ClientCount returns the number of connected clients.
func (ws *WebSocketServer) ClientCount() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients)
}
