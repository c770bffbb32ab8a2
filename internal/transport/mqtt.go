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

	"github.com/eclipse/paho.golang/paho"
	"github.com/synheart/shakewatch/internal/encoding"
	"github.com/synheart/shakewatch/internal/models"
)

// ErrNotConnected is returned when publishing before Connect or after Close
var ErrNotConnected = errors.New("mqtt publisher not connected")

// MQTTConfig describes the broker connection
type MQTTConfig struct {
	Broker    string // host:port, optionally prefixed with tcp:// or mqtt://
	Topic     string // events go to <Topic>/<source>
	ClientID  string
	QoS       byte
	KeepAlive uint16 // seconds
	Timeout   time.Duration
}

// MQTTPublisher publishes every event to a broker over MQTT v5
type MQTTPublisher struct {
	cfg     MQTTConfig
	encoder encoding.Encoder
	log     *slog.Logger

	mu     sync.Mutex
	client *paho.Client
}

// NewMQTTPublisher creates a publisher; call Connect before broadcasting
func NewMQTTPublisher(cfg MQTTConfig, encoder encoding.Encoder, log *slog.Logger) *MQTTPublisher {
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &MQTTPublisher{cfg: cfg, encoder: encoder, log: orDiscard(log)}
}

// Connect dials the broker and completes the MQTT handshake
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	addr := BrokerAddress(p.cfg.Broker)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial broker %s: %w", addr, err)
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: p.cfg.ClientID,
		Conn:     conn,
		OnClientError: func(err error) {
			p.log.Warn("mqtt client error", "broker", addr, "error", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			p.log.Warn("mqtt broker disconnected", "broker", addr, "reason", d.ReasonCode)
		},
	})

	if _, err := client.Connect(ctx, &paho.Connect{
		ClientID:   p.cfg.ClientID,
		KeepAlive:  p.cfg.KeepAlive,
		CleanStart: true,
	}); err != nil {
		conn.Close()
		return fmt.Errorf("mqtt connect to %s failed: %w", addr, err)
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	p.log.Info("mqtt publisher connected", "broker", addr, "topic", p.cfg.Topic, "qos", p.cfg.QoS)
	return nil
}

// Broadcast publishes one event under the source's topic
func (p *MQTTPublisher) Broadcast(event models.ShakeEvent) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}

	data, err := p.encoder.Encode(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()

	_, err = client.Publish(ctx, &paho.Publish{
		QoS:     p.cfg.QoS,
		Topic:   EventTopic(p.cfg.Topic, event.Source),
		Payload: data,
		Properties: &paho.PublishProperties{
			ContentType: p.encoder.ContentType(),
		},
	})
	if err != nil {
		return fmt.Errorf("mqtt publish failed: %w", err)
	}
	return nil
}

// BroadcastFromChannel publishes events until ctx is cancelled or events closes
func (p *MQTTPublisher) BroadcastFromChannel(ctx context.Context, events <-chan models.ShakeEvent) error {
	return pump(ctx, events, p, p.log, "mqtt")
}

// Close disconnects from the broker. It is safe to call more than once.
func (p *MQTTPublisher) Close() error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}

// GetAddress returns the broker URL and base topic
func (p *MQTTPublisher) GetAddress() string {
	return fmt.Sprintf("mqtt://%s/%s", BrokerAddress(p.cfg.Broker), p.cfg.Topic)
}

// EventTopic builds the per-source topic. Wildcard and separator characters
// in the source are replaced so one source maps to exactly one level.
func EventTopic(base, source string) string {
	if source == "" {
		source = "unknown"
	}
	level := strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(source)
	return strings.TrimSuffix(base, "/") + "/" + level
}

// BrokerAddress strips a tcp:// or mqtt:// scheme, leaving host:port
func BrokerAddress(broker string) string {
	for _, prefix := range []string{"tcp://", "mqtt://"} {
		broker = strings.TrimPrefix(broker, prefix)
	}
	return broker
}
