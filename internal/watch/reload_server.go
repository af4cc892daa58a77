package watch

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message types sent to browsers.
const (
	MessageReload = "reload"
	MessageError  = "error"
)

// ReloadPath is where the reload socket is mounted.
const ReloadPath = "/_composer/reload"

const (
	pongWait   = 60 * time.Second
	writeWait  = 5 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message is pushed to every connected browser.
type Message struct {
	Type      string   `json:"type"`
	Timestamp int64    `json:"timestamp"`
	Files     []string `json:"files,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ReloadServer holds the browser connections of the dev reload client.
type ReloadServer struct {
	mu       sync.Mutex
	conns    map[*websocket.Conn]bool
	upgrader websocket.Upgrader
	logger   *zap.Logger
	closed   bool
}

// NewReloadServer creates a server accepting same-host and localhost origins.
func NewReloadServer(logger *zap.Logger) *ReloadServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReloadServer{
		conns:  make(map[*websocket.Conn]bool),
		logger: logger.Named("reload"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     localOrigin,
		},
	}
}

func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return u.Host == r.Host
}

// ServeHTTP upgrades the connection and keeps it until the browser leaves.
func (rs *ReloadServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := rs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rs.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	rs.mu.Lock()
	if rs.closed {
		rs.mu.Unlock()
		conn.Close()
		return
	}
	rs.conns[conn] = true
	n := len(rs.conns)
	rs.mu.Unlock()
	rs.logger.Debug("client connected", zap.Int("clients", n))

	go rs.read(conn)
}

func (rs *ReloadServer) read(conn *websocket.Conn) {
	defer rs.drop(conn)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				rs.logger.Debug("client error", zap.Error(err))
			}
			return
		}
	}
}

func (rs *ReloadServer) drop(conn *websocket.Conn) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.conns[conn] {
		delete(rs.conns, conn)
		conn.Close()
	}
}

// Broadcast sends msg to every client and drops those that fail.
func (rs *ReloadServer) Broadcast(msg Message) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		rs.logger.Warn("failed to encode message", zap.Error(err))
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for conn := range rs.conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			rs.logger.Debug("send failed", zap.Error(err))
			delete(rs.conns, conn)
			conn.Close()
		}
	}
}

// NotifyReload tells browsers to reload after files changed.
func (rs *ReloadServer) NotifyReload(files []string) {
	rs.Broadcast(Message{Type: MessageReload, Files: files})
}

// NotifyError reports a failed reload to browsers.
func (rs *ReloadServer) NotifyError(err error) {
	rs.Broadcast(Message{Type: MessageError, Error: err.Error()})
}

// ConnectionCount returns the number of connected clients.
func (rs *ReloadServer) ConnectionCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.conns)
}

// Close disconnects every client and rejects new ones.
func (rs *ReloadServer) Close() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.closed = true
	for conn := range rs.conns {
		conn.Close()
	}
	rs.conns = make(map[*websocket.Conn]bool)
}
