package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/synheart/shakewatch/internal/encoding"
	"github.com/synheart/shakewatch/internal/models"
)

// SSEPath is where clients subscribe to the event stream
const SSEPath = "/shake/sse"

// SSEServer broadcasts events via Server-Sent Events
type SSEServer struct {
	host    string
	port    int
	encoder encoding.Encoder
	log     *slog.Logger
	clients map[chan []byte]bool
	mu      sync.RWMutex
	server  *http.Server
}

// NewSSEServer creates a new SSE server. SSE is a text protocol, so the
// encoder should produce JSON.
func NewSSEServer(host string, port int, encoder encoding.Encoder, log *slog.Logger) *SSEServer {
	return &SSEServer{
		host:    host,
		port:    port,
		encoder: encoder,
		log:     orDiscard(log),
		clients: make(map[chan []byte]bool),
	}
}

// Handler returns the HTTP routes served by the SSE server
func (s *SSEServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(SSEPath, s.handleSSE)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start serves until ctx is cancelled
func (s *SSEServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("sse server listening", "address", s.GetAddress())
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
			return fmt.Errorf("SSE server failed: %w", err)
		}
		return nil
	}
}

func (s *SSEServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "shakewatch SSE stream\n\nEndpoint: %s\n", s.GetAddress())
}

func (s *SSEServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientChan := make(chan []byte, 100)
	s.addClient(clientChan)
	defer s.removeClient(clientChan)

	s.log.Info("sse client connected", "remote", r.RemoteAddr, "clients", s.GetClientCount())

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-clientChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: shake\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *SSEServer) addClient(ch chan []byte) {
	s.mu.Lock()
	s.clients[ch] = true
	s.mu.Unlock()
}

func (s *SSEServer) removeClient(ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clients[ch]; exists {
		delete(s.clients, ch)
		close(ch)
		s.log.Info("sse client disconnected", "clients", len(s.clients))
	}
}

// Broadcast sends an event to all connected clients; slow clients miss it
func (s *SSEServer) Broadcast(event models.ShakeEvent) error {
	if s.GetClientCount() == 0 {
		return nil
	}

	data, err := s.encoder.Encode(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.clients {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// BroadcastFromChannel reads events and broadcasts them
func (s *SSEServer) BroadcastFromChannel(ctx context.Context, events <-chan models.ShakeEvent) error {
	return pump(ctx, events, s, s.log, "sse")
}

// GetClientCount returns connected client count
func (s *SSEServer) GetClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Shutdown disconnects every client and stops the server
func (s *SSEServer) Shutdown() error {
	s.mu.Lock()
	for ch := range s.clients {
		close(ch)
	}
	s.clients = make(map[chan []byte]bool)
	s.mu.Unlock()

	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// GetAddress returns the client-facing URL
func (s *SSEServer) GetAddress() string {
	return fmt.Sprintf("http://%s:%d%s", s.host, s.port, SSEPath)
}
