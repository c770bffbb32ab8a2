// Package config loads the shakewatch YAML configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/synheart/shakewatch/internal/shake"
)

// Config is the full file layout. Every section is optional; missing keys keep
// the values from Default.
type Config struct {
	Detector  shake.Config    `yaml:"detector"`
	Transport TransportConfig `yaml:"transport"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Receiver  ReceiverConfig  `yaml:"receiver"`
	Log       LogConfig       `yaml:"log"`
}

// TransportConfig controls the broadcast servers used by sim start and sim replay
type TransportConfig struct {
	Host          string `yaml:"host"`
	WebSocketPort int    `yaml:"websocket_port"`
	SSEPort       int    `yaml:"sse_port"`
	UDPPort       int    `yaml:"udp_port"`
	Encoding      string `yaml:"encoding"` // json|protobuf, applies to SSE and UDP
}

// MQTTConfig enables publishing shake events to a broker when Broker is set
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // host:port
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// ReceiverConfig controls the HTTP ingest server
type ReceiverConfig struct {
	Host       string  `yaml:"host"`
	Port       int     `yaml:"port"`
	Token      string  `yaml:"token"`
	AcceptGzip bool    `yaml:"gzip"`
	RateLimit  float64 `yaml:"rate_limit"` // batches per second per source, 0 disables
	Burst      int     `yaml:"burst"`
}

// LogConfig selects the log handler
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Detector: shake.DefaultConfig(),
		Transport: TransportConfig{
			Host:          "127.0.0.1",
			WebSocketPort: 8787,
			SSEPort:       8788,
			UDPPort:       8789,
			Encoding:      "json",
		},
		MQTT: MQTTConfig{
			Topic:    "shakewatch/events",
			ClientID: "shakewatch",
			QoS:      1,
		},
		Receiver: ReceiverConfig{
			Host:      "0.0.0.0",
			Port:      8790,
			RateLimit: 20,
			Burst:     40,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path on top of Default. An empty path returns Default unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section
func (c Config) Validate() error {
	if err := c.Detector.Validate(); err != nil {
		return err
	}

	switch strings.ToLower(c.Transport.Encoding) {
	case "json", "protobuf":
	default:
		return fmt.Errorf("transport.encoding must be json or protobuf, got %q", c.Transport.Encoding)
	}

	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return fmt.Errorf("mqtt.topic is required when mqtt.broker is set")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	if c.Receiver.RateLimit < 0 {
		return fmt.Errorf("receiver.rate_limit must not be negative")
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
