package cli

import (
	"fmt"
	"io"
	"net"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/synheart/shakewatch/internal/receiver"
	"github.com/synheart/shakewatch/internal/transport"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check environment and print connection info",
	Long:  `Validates the configuration, checks port availability and broker reachability, and prints connection examples.`,
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg := appConfig

	fmt.Fprintln(out, "Shakewatch environment check")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Go Version:        %s\n", runtime.Version())
	fmt.Fprintf(out, "OS/Arch:           %s/%s\n\n", runtime.GOOS, runtime.GOARCH)

	if globalOpts.ConfigPath != "" {
		fmt.Fprintf(out, "✅ Config loaded: %s\n", globalOpts.ConfigPath)
	} else {
		fmt.Fprintln(out, "✅ Using default config")
	}
	d := cfg.Detector
	fmt.Fprintf(out, "   Detector: min_force=%.1f min_changes=%d max_pause=%dms max_duration=%dms reset_on_overrun=%v\n\n",
		d.MinForce, d.MinDirectionChanges, d.MaxPause, d.MaxDuration, d.ResetOnOverrun)

	registry, err := loadRegistry()
	if err != nil {
		fmt.Fprintf(out, "❌ Scenarios: %v\n\n", err)
	} else {
		if dir := getScenarioDir(); dir != "" {
			fmt.Fprintf(out, "✅ Scenario directory found: %s\n", dir)
		}
		names := registry.List()
		fmt.Fprintf(out, "✅ Found %d scenarios: %v\n\n", len(names), names)
	}

	ports := []struct {
		name string
		port int
	}{
		{"WebSocket", cfg.Transport.WebSocketPort},
		{"SSE", cfg.Transport.SSEPort},
		{"Receiver", cfg.Receiver.Port},
	}
	for _, p := range ports {
		if p.port <= 0 {
			continue
		}
		if isPortAvailable(p.port) {
			fmt.Fprintf(out, "✅ %s port %d is available\n", p.name, p.port)
		} else {
			fmt.Fprintf(out, "⚠️  %s port %d is in use\n", p.name, p.port)
		}
	}
	if port := cfg.Transport.UDPPort; port > 0 {
		if isUDPPortAvailable(port) {
			fmt.Fprintf(out, "✅ UDP port %d is available\n", port)
		} else {
			fmt.Fprintf(out, "⚠️  UDP port %d is in use\n", port)
		}
	}
	fmt.Fprintln(out)

	if broker := cfg.MQTT.Broker; broker != "" {
		if err := checkBroker(broker, 2*time.Second); err != nil {
			fmt.Fprintf(out, "❌ MQTT broker %s unreachable: %v\n\n", broker, err)
		} else {
			fmt.Fprintf(out, "✅ MQTT broker %s is reachable\n\n", broker)
		}
	}

	printConnectionExamples(out, cfg.Transport.WebSocketPort, cfg.Transport.SSEPort, cfg.Transport.UDPPort, cfg.Receiver.Port, cfg.MQTT.Topic)

	fmt.Fprintln(out, "✅ Environment check complete")
	return nil
}

func printConnectionExamples(out io.Writer, wsPort, ssePort, udpPort, receiverPort int, topic string) {
	wsURL := fmt.Sprintf("ws://localhost:%d%s", wsPort, transport.WebSocketPath)

	fmt.Fprintln(out, "Connection examples:")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "JavaScript:")
	fmt.Fprintf(out, "  const ws = new WebSocket('%s');\n", wsURL)
	fmt.Fprintln(out, "  ws.onmessage = (msg) => {")
	fmt.Fprintln(out, "    const shake = JSON.parse(msg.data);")
	fmt.Fprintln(out, "    console.log(shake.source, shake.shake.at_ms);")
	fmt.Fprintln(out, "  };")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Python:")
	fmt.Fprintln(out, "  import websocket, json")
	fmt.Fprintln(out, "  ws = websocket.WebSocket()")
	fmt.Fprintf(out, "  ws.connect('%s')\n", wsURL)
	fmt.Fprintln(out, "  while True:")
	fmt.Fprintln(out, "    print(json.loads(ws.recv()))")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Go:")
	fmt.Fprintf(out, "  conn, _, err := websocket.DefaultDialer.Dial(%q, nil)\n", wsURL)
	fmt.Fprintln(out, "  for {")
	fmt.Fprintln(out, "    _, message, err := conn.ReadMessage()")
	fmt.Fprintln(out, "    var event ShakeEvent")
	fmt.Fprintln(out, "    json.Unmarshal(message, &event)")
	fmt.Fprintln(out, "  }")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "SSE:")
	fmt.Fprintf(out, "  curl -N http://localhost:%d%s\n", ssePort, transport.SSEPath)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "UDP:")
	fmt.Fprintf(out, "  echo subscribe | nc -u localhost %d\n", udpPort)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "MQTT:")
	fmt.Fprintf(out, "  mosquitto_sub -h localhost -t '%s/#'\n", topic)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Receiver:")
	fmt.Fprintf(out, "  curl -X POST http://localhost:%d%s -H 'Authorization: Bearer <token>' \\\n", receiverPort, receiver.SamplesPath)
	fmt.Fprintln(out, "    -H 'Content-Type: application/json' -d @batch.json")
	fmt.Fprintln(out)
}

func isPortAvailable(port int) bool {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

func isUDPPortAvailable(port int) bool {
	conn, err := net.ListenPacket("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// checkBroker only dials; it does not speak MQTT
func checkBroker(broker string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", transport.BrokerAddress(broker), timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}
