// Package telemetry broadcasts one JSON frame per cycle to dashboard
// clients over WebSocket. The hub never blocks the control loop: slow
// clients are dropped, not waited on.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Hub accepts WebSocket clients and fans frames out to them.
type Hub struct {
	addr     string
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// NewHub creates a hub listening on addr (e.g. ":8765").
func NewHub(addr string, log *slog.Logger) *Hub {
	return &Hub{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     log.With("component", "telemetry"),
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// Start begins accepting clients. Returns once the listener is bound so
// the caller knows the port is live.
func (h *Hub) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("telemetry: listen %s: %w", h.addr, err)
	}
	h.listener = ln

	h.server = &http.Server{Handler: mux}
	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.log.Warn("telemetry server stopped", "error", err)
		}
	}()
	h.log.Info("telemetry listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address once Start has returned.
func (h *Hub) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", "error", err)
		return
	}

	send := make(chan []byte, 8)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()
	h.log.Info("client connected", "remote", conn.RemoteAddr().String())

	go h.writeLoop(conn, send)

	// Drain (and discard) client messages to process control frames and
	// notice disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(conn)
}

func (h *Hub) writeLoop(conn *websocket.Conn, send chan []byte) {
	for msg := range send {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.drop(conn)
			return
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	conn.Close()
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if send, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(send)
	}
	h.mu.Unlock()
	conn.Close()
}

// Broadcast sends a frame to every connected client. Clients whose send
// queue is full are dropped so the loop never stalls on a dead socket.
func (h *Hub) Broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Warn("marshal frame", "error", err)
		return
	}

	h.mu.Lock()
	var slow []*websocket.Conn
	for conn, send := range h.clients {
		select {
		case send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range slow {
		h.log.Warn("dropping slow client", "remote", conn.RemoteAddr().String())
		h.drop(conn)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes the server and all client connections.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for conn, send := range h.clients {
		delete(h.clients, conn)
		close(send)
	}
	h.mu.Unlock()

	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}
