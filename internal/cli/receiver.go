package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/synheart/shakewatch/internal/config"
	"github.com/synheart/shakewatch/internal/driver"
	"github.com/synheart/shakewatch/internal/models"
	"github.com/synheart/shakewatch/internal/receiver"
)

var (
	receiverHost      string
	receiverPort      int
	receiverToken     string
	receiverNoAuth    bool
	receiverOut       string
	receiverFormat    string
	receiverGzip      bool
	receiverRateLimit float64
	receiverBurst     int
	receiverBroadcast bool
	receiverDetector  detectorFlags
	receiverTransport transportFlags
)

var receiverCmd = &cobra.Command{
	Use:   "receiver",
	Short: "Start a local HTTP server that detects shakes in uploaded samples",
	Long: `Starts a blocking HTTP server that accepts accelerometer sample batches from
phones on the local network, runs each source through its own shake detector
and outputs the detected shakes to stdout or files.

Batches are deduplicated by batch_id and rate limited per source. With
--broadcast the shakes are also sent to the WebSocket, SSE, UDP and MQTT sinks.

Examples:
  shakewatch receiver
  shakewatch receiver --port 9000 --token mysecrettoken
  shakewatch receiver --out ./shakes --format ndjson
  shakewatch receiver --gzip --broadcast --mqtt-broker localhost:1883
  shakewatch receiver --broadcast --broadcast-host 0.0.0.0 --ws-port 9001`,
	RunE: runReceiver,
}

func init() {
	def := config.Default().Receiver
	receiverCmd.Flags().StringVar(&receiverHost, "host", def.Host, "Host address to bind to")
	receiverCmd.Flags().IntVar(&receiverPort, "port", def.Port, "Port to listen on")
	receiverCmd.Flags().StringVar(&receiverToken, "token", "", "Static bearer token (auto-generated if not provided)")
	receiverCmd.Flags().BoolVar(&receiverNoAuth, "no-auth", false, "Accept batches without a bearer token")
	receiverCmd.Flags().StringVar(&receiverOut, "out", "", "Directory to write detected shakes (stdout if not set)")
	receiverCmd.Flags().StringVar(&receiverFormat, "format", "json", "Output format: json|ndjson")
	receiverCmd.Flags().BoolVar(&receiverGzip, "gzip", def.AcceptGzip, "Accept gzip-compressed payloads")
	receiverCmd.Flags().Float64Var(&receiverRateLimit, "rate-limit", def.RateLimit, "Batches per second per source (0 disables)")
	receiverCmd.Flags().IntVar(&receiverBurst, "burst", def.Burst, "Rate limit burst size")
	receiverCmd.Flags().BoolVar(&receiverBroadcast, "broadcast", false, "Also broadcast shakes to the event sinks")
	addDetectorFlags(receiverCmd, &receiverDetector)
	receiverTransport.hostFlag = "broadcast-host"
	addTransportFlags(receiverCmd, &receiverTransport)
}

// resolveReceiver layers changed flags over the config file
func resolveReceiver(cmd *cobra.Command) (receiver.Config, error) {
	rc := appConfig.Receiver
	flags := cmd.Flags()
	if flags.Changed("host") {
		rc.Host = receiverHost
	}
	if flags.Changed("port") {
		rc.Port = receiverPort
	}
	if flags.Changed("token") {
		rc.Token = receiverToken
	}
	if flags.Changed("gzip") {
		rc.AcceptGzip = receiverGzip
	}
	if flags.Changed("rate-limit") {
		rc.RateLimit = receiverRateLimit
	}
	if flags.Changed("burst") {
		rc.Burst = receiverBurst
	}
	if rc.RateLimit < 0 {
		return receiver.Config{}, fmt.Errorf("--rate-limit must not be negative")
	}

	if receiverNoAuth {
		rc.Token = ""
	} else if rc.Token == "" {
		generated, err := generateToken()
		if err != nil {
			return receiver.Config{}, fmt.Errorf("failed to generate token: %w", err)
		}
		rc.Token = generated
	}

	return receiver.Config{
		Host:       rc.Host,
		Port:       rc.Port,
		Token:      rc.Token,
		AcceptGzip: rc.AcceptGzip,
		RateLimit:  rc.RateLimit,
		Burst:      rc.Burst,
	}, nil
}

func runReceiver(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(strings.TrimSpace(receiverFormat))
	if format != "json" && format != "ndjson" {
		return fmt.Errorf("invalid --format %q (expected: json|ndjson)", receiverFormat)
	}

	cfg, err := resolveReceiver(cmd)
	if err != nil {
		return err
	}

	detCfg, err := receiverDetector.resolve(cmd)
	if err != nil {
		return err
	}
	drv, err := driver.New(detCfg, models.Session{}, appLog)
	if err != nil {
		return err
	}

	var writer receiver.Writer
	if receiverOut != "" {
		fw, err := receiver.NewFileWriter(receiverOut, format)
		if err != nil {
			return fmt.Errorf("failed to create file writer: %w", err)
		}
		writer = fw
	} else {
		writer = receiver.NewStdoutWriter(cmd.OutOrStdout(), format)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	var sinks *sinkSet
	var events chan models.ShakeEvent
	if receiverBroadcast {
		events = make(chan models.ShakeEvent, 100)
		tc, mc := receiverTransport.resolve(cmd)
		sinks, err = startSinks(ctx, events, tc, mc)
		if err != nil {
			writer.Close()
			return err
		}
		writer = receiver.NewMultiWriter(writer, receiver.NewChannelWriter(events))
	}
	defer writer.Close()

	server := receiver.NewServer(cfg, drv, writer, appLog)
	printReceiverBanner(cmd.ErrOrStderr(), server.GetAddress(), cfg, receiverOut, format)
	if sinks != nil {
		sinks.printAddresses(cmd.ErrOrStderr())
		fmt.Fprintln(cmd.ErrOrStderr())
	}

	serveErr := server.Start(ctx)

	// Start returns after in-flight requests finish, so nothing writes to events now
	if sinks != nil {
		close(events)
		if err := sinks.Close(); err != nil {
			appLog.Warn("failed to close sinks", "error", err)
		}
	}

	stats := server.GetStats()
	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "\nSession stats:\n")
	fmt.Fprintf(out, "   Batches:    %d\n", stats.TotalBatches)
	fmt.Fprintf(out, "   Samples:    %d\n", stats.TotalSamples)
	fmt.Fprintf(out, "   Shakes:     %d\n", stats.TotalShakes)
	fmt.Fprintf(out, "   Duplicates: %d\n", stats.TotalDuplicates)
	fmt.Fprintf(out, "   Throttled:  %d\n", stats.TotalThrottled)
	fmt.Fprintf(out, "   Errors:     %d\n", stats.TotalErrors)

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return fmt.Errorf("server error: %w", serveErr)
	}
	fmt.Fprintln(out, "\nShutdown complete")
	return nil
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "sw_" + hex.EncodeToString(bytes), nil
}

func printReceiverBanner(out io.Writer, address string, cfg receiver.Config, outDir, format string) {
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "╔═══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║                  Shakewatch Receiver Started                  ║")
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "  Endpoint:  %s%s\n", address, receiver.SamplesPath)
	if cfg.Token != "" {
		fmt.Fprintf(out, "  Token:     %s\n", cfg.Token)
	} else {
		fmt.Fprintln(out, "  Token:     none (authentication disabled)")
	}
	fmt.Fprintln(out, "")

	if outDir != "" {
		fmt.Fprintf(out, "  Output:    %s/\n", outDir)
	} else {
		fmt.Fprintln(out, "  Output:    stdout")
	}
	fmt.Fprintf(out, "  Format:    %s\n", format)
	if cfg.AcceptGzip {
		fmt.Fprintln(out, "  Gzip:      enabled")
	}
	if cfg.RateLimit > 0 {
		fmt.Fprintf(out, "  Limit:     %.1f batches/s per source (burst %d)\n", cfg.RateLimit, cfg.Burst)
	}

	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "───────────────────────────────────────────────────────────────────")
	fmt.Fprintln(out, "  Send batches from a device:")
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "    POST %s%s\n", address, receiver.SamplesPath)
	if cfg.Token != "" {
		fmt.Fprintf(out, "    Authorization: Bearer %s\n", cfg.Token)
	}
	fmt.Fprintf(out, "    {\"schema\":\"%s\",\"batch_id\":\"...\",\"source\":\"phone-1\",\n", models.BatchSchema)
	fmt.Fprintln(out, `     "device":{"platform":"android"},"samples":[{"t":0,"x":0,"y":0,"z":9.8}]}`)
	fmt.Fprintln(out, "───────────────────────────────────────────────────────────────────")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Waiting for samples... (Press Ctrl+C to stop)")
	fmt.Fprintln(out, "")
}
