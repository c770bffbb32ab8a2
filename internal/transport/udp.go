package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/synheart/shakewatch/internal/encoding"
	"github.com/synheart/shakewatch/internal/models"
)

// UDPServer sends each event as one datagram to every registered client.
// Clients register by sending "subscribe" (or any other datagram) and leave
// with "unsubscribe".
type UDPServer struct {
	host    string
	port    int
	encoder encoding.Encoder
	log     *slog.Logger
	conn    *net.UDPConn
	clients map[string]*net.UDPAddr
	mu      sync.RWMutex
}

// NewUDPServer creates a new UDP server
func NewUDPServer(host string, port int, encoder encoding.Encoder, log *slog.Logger) *UDPServer {
	return &UDPServer{
		host:    host,
		port:    port,
		encoder: encoder,
		log:     orDiscard(log),
		clients: make(map[string]*net.UDPAddr),
	}
}

// Listen binds the socket. Start calls it when needed; calling it first lets
// port 0 resolve before serving.
func (s *UDPServer) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.host, s.port))
	if err != nil {
		return fmt.Errorf("failed to resolve address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.port = conn.LocalAddr().(*net.UDPAddr).Port
	s.mu.Unlock()
	return nil
}

// Start serves registrations until ctx is cancelled
func (s *UDPServer) Start(ctx context.Context) error {
	if s.conn == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.log.Info("udp server listening", "address", s.GetAddress())

	go s.readLoop(ctx, s.conn)

	<-ctx.Done()
	return s.Shutdown()
}

func (s *UDPServer) readLoop(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, 1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.handleMessage(strings.TrimSpace(string(buf[:n])), addr)
	}
}

func (s *UDPServer) handleMessage(msg string, addr *net.UDPAddr) {
	key := addr.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg {
	case "subscribe":
		s.clients[key] = addr
		s.log.Info("udp client subscribed", "remote", key, "clients", len(s.clients))
	case "unsubscribe":
		delete(s.clients, key)
		s.log.Info("udp client unsubscribed", "remote", key, "clients", len(s.clients))
	default:
		if _, exists := s.clients[key]; !exists {
			s.clients[key] = addr
			s.log.Info("udp client registered", "remote", key, "clients", len(s.clients))
		}
	}
}

// Broadcast sends an event to all registered clients
func (s *UDPServer) Broadcast(event models.ShakeEvent) error {
	if s.GetClientCount() == 0 {
		return nil
	}

	data, err := s.encoder.Encode(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}

	var errs []error
	for key, addr := range s.clients {
		if _, err := s.conn.WriteToUDP(data, addr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// BroadcastFromChannel reads events and broadcasts them
func (s *UDPServer) BroadcastFromChannel(ctx context.Context, events <-chan models.ShakeEvent) error {
	return pump(ctx, events, s, s.log, "udp")
}

// GetClientCount returns registered client count
func (s *UDPServer) GetClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Shutdown closes the UDP connection
func (s *UDPServer) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}

// GetAddress returns the server address
func (s *UDPServer) GetAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("udp://%s:%d", s.host, s.port)
}
