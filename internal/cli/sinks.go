package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/synheart/shakewatch/internal/config"
	"github.com/synheart/shakewatch/internal/encoding"
	"github.com/synheart/shakewatch/internal/models"
	"github.com/synheart/shakewatch/internal/transport"
)

// transportFlags override the transport and mqtt sections of the config
type transportFlags struct {
	hostFlag   string // flag name for host, "host" unless the command already has one
	host       string
	wsPort     int
	ssePort    int
	udpPort    int
	encoding   string
	mqttBroker string
	mqttTopic  string
}

func addTransportFlags(cmd *cobra.Command, f *transportFlags) {
	def := config.Default()
	if f.hostFlag == "" {
		f.hostFlag = "host"
	}
	cmd.Flags().StringVar(&f.host, f.hostFlag, def.Transport.Host, "Host to bind the broadcast servers to")
	cmd.Flags().IntVar(&f.wsPort, "ws-port", def.Transport.WebSocketPort, "WebSocket port (0 disables)")
	cmd.Flags().IntVar(&f.ssePort, "sse-port", def.Transport.SSEPort, "SSE port (0 disables)")
	cmd.Flags().IntVar(&f.udpPort, "udp-port", def.Transport.UDPPort, "UDP port (0 disables)")
	cmd.Flags().StringVar(&f.encoding, "encoding", def.Transport.Encoding, "Event encoding for WebSocket, UDP and MQTT: json|protobuf")
	cmd.Flags().StringVar(&f.mqttBroker, "mqtt-broker", "", "Publish events to this MQTT broker (host:port)")
	cmd.Flags().StringVar(&f.mqttTopic, "mqtt-topic", def.MQTT.Topic, "Base MQTT topic; events go to <topic>/<source>")
}

func (f *transportFlags) resolve(cmd *cobra.Command) (config.TransportConfig, config.MQTTConfig) {
	tc, mc := appConfig.Transport, appConfig.MQTT
	flags := cmd.Flags()
	if flags.Changed(f.hostFlag) {
		tc.Host = f.host
	}
	if flags.Changed("ws-port") {
		tc.WebSocketPort = f.wsPort
	}
	if flags.Changed("sse-port") {
		tc.SSEPort = f.ssePort
	}
	if flags.Changed("udp-port") {
		tc.UDPPort = f.udpPort
	}
	if flags.Changed("encoding") {
		tc.Encoding = f.encoding
	}
	if flags.Changed("mqtt-broker") {
		mc.Broker = f.mqttBroker
	}
	if flags.Changed("mqtt-topic") {
		mc.Topic = f.mqttTopic
	}
	return tc, mc
}

// sinkSet is every broadcast sink fed from one event channel
type sinkSet struct {
	dispatcher *transport.Dispatcher
	addresses  []string
	cancel     context.CancelFunc
	broadcasts sync.WaitGroup
	servers    sync.WaitGroup
	closers    []func() error
}

// startSinks starts the enabled servers and wires them to events. Broadcasting
// stops when ctx is cancelled or events closes; servers stop on Close.
func startSinks(ctx context.Context, events <-chan models.ShakeEvent, tc config.TransportConfig, mc config.MQTTConfig) (*sinkSet, error) {
	format, err := encoding.ParseFormat(tc.Encoding)
	if err != nil {
		return nil, err
	}
	enc := encoding.NewEncoder(format)

	ctx, cancel := context.WithCancel(ctx)
	s := &sinkSet{
		dispatcher: transport.NewDispatcher(events, 100, appLog),
		cancel:     cancel,
	}

	type server interface {
		Start(ctx context.Context) error
		BroadcastFromChannel(ctx context.Context, events <-chan models.ShakeEvent) error
		GetAddress() string
	}

	var servers []server
	if tc.WebSocketPort > 0 {
		servers = append(servers, transport.NewWebSocketServer(tc.Host, tc.WebSocketPort, enc, appLog))
	}
	if tc.SSEPort > 0 {
		servers = append(servers, transport.NewSSEServer(tc.Host, tc.SSEPort, encoding.NewJSONEncoder(), appLog))
	}
	if tc.UDPPort > 0 {
		udp := transport.NewUDPServer(tc.Host, tc.UDPPort, enc, appLog)
		if err := udp.Listen(); err != nil {
			cancel()
			return nil, fmt.Errorf("udp: %w", err)
		}
		servers = append(servers, udp)
	}

	for _, srv := range servers {
		s.addresses = append(s.addresses, srv.GetAddress())
		sub := s.dispatcher.Subscribe()
		s.servers.Add(1)
		go func() {
			defer s.servers.Done()
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("server stopped", "address", srv.GetAddress(), "error", err)
			}
		}()
		s.broadcasts.Add(1)
		go func() {
			defer s.broadcasts.Done()
			srv.BroadcastFromChannel(ctx, sub)
		}()
	}

	if mc.Broker != "" {
		pub := transport.NewMQTTPublisher(transport.MQTTConfig{
			Broker:   mc.Broker,
			Topic:    mc.Topic,
			ClientID: mc.ClientID,
			QoS:      mc.QoS,
		}, enc, appLog)

		connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
		err := pub.Connect(connectCtx)
		connectCancel()
		if err != nil {
			s.cancel()
			s.Close()
			return nil, err
		}

		s.addresses = append(s.addresses, pub.GetAddress())
		s.closers = append(s.closers, pub.Close)
		sub := s.dispatcher.Subscribe()
		s.broadcasts.Add(1)
		go func() {
			defer s.broadcasts.Done()
			pub.BroadcastFromChannel(ctx, sub)
		}()
	}

	s.broadcasts.Add(1)
	go func() {
		defer s.broadcasts.Done()
		s.dispatcher.Run(ctx)
	}()

	return s, nil
}

// Close waits for pending events to drain, then stops every server and
// disconnects from the broker. The event channel must be closed (or the
// parent context cancelled) first.
func (s *sinkSet) Close() error {
	s.broadcasts.Wait()
	s.cancel()
	s.servers.Wait()

	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func (s *sinkSet) printAddresses(out io.Writer) {
	if len(s.addresses) == 0 {
		fmt.Fprintln(out, "Sinks:        none")
		return
	}
	for i, addr := range s.addresses {
		label := ""
		if i == 0 {
			label = "Sinks:"
		}
		fmt.Fprintf(out, "%-13s %s\n", label, addr)
	}
}
