package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/synheart/shakewatch/internal/encoding"
	"github.com/synheart/shakewatch/internal/models"
)

// WebSocketPath is where clients connect to receive shake events
const WebSocketPath = "/shake"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local development tool
	},
}

// WebSocketServer broadcasts events to WebSocket clients
type WebSocketServer struct {
	host    string
	port    int
	encoder encoding.Encoder
	log     *slog.Logger
	clients map[*websocket.Conn]*sync.Mutex
	mu      sync.RWMutex
	server  *http.Server
}

// NewWebSocketServer creates a new WebSocket server
func NewWebSocketServer(host string, port int, encoder encoding.Encoder, log *slog.Logger) *WebSocketServer {
	return &WebSocketServer{
		host:    host,
		port:    port,
		encoder: encoder,
		log:     orDiscard(log),
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Handler returns the HTTP routes served by the WebSocket server
func (s *WebSocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, s.handleWebSocket)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start serves until ctx is cancelled
func (s *WebSocketServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("websocket server listening", "address", s.GetAddress())
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("websocket server failed: %w", err)
		}
		return nil
	}
}

func (s *WebSocketServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "shakewatch event stream\n\n")
	fmt.Fprintf(w, "WebSocket endpoint: %s\n", s.GetAddress())
	fmt.Fprintf(w, "Connected clients: %d\n", s.GetClientCount())
}

func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = &sync.Mutex{}
	clientCount := len(s.clients)
	s.mu.Unlock()

	s.log.Info("websocket client connected", "remote", r.RemoteAddr, "clients", clientCount)

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.mu.Unlock()

		conn.Close()
		s.log.Info("websocket client disconnected", "remote", r.RemoteAddr, "clients", clientCount)
	}()

	// clients never send anything meaningful; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends an event to all connected clients
func (s *WebSocketServer) Broadcast(event models.ShakeEvent) error {
	if s.GetClientCount() == 0 {
		return nil
	}

	data, err := s.encoder.Encode(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msgType := websocket.TextMessage
	if s.encoder.ContentType() != "application/json" {
		msgType = websocket.BinaryMessage
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for client, writeMu := range s.clients {
		writeMu.Lock()
		err := client.WriteMessage(msgType, data)
		writeMu.Unlock()
		if err != nil {
			// the read loop removes the client
			s.log.Debug("websocket write failed", "remote", client.RemoteAddr().String(), "error", err)
		}
	}

	return nil
}

// BroadcastFromChannel reads events from a channel and broadcasts them
func (s *WebSocketServer) BroadcastFromChannel(ctx context.Context, events <-chan models.ShakeEvent) error {
	return pump(ctx, events, s, s.log, "websocket")
}

// GetClientCount returns the number of connected clients
func (s *WebSocketServer) GetClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Shutdown closes every client and stops the HTTP server
func (s *WebSocketServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	for client := range s.clients {
		client.Close()
	}
	s.clients = make(map[*websocket.Conn]*sync.Mutex)
	s.mu.Unlock()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetAddress returns the client-facing URL
func (s *WebSocketServer) GetAddress() string {
	return fmt.Sprintf("ws://%s:%d%s", s.host, s.port, WebSocketPath)
}
