package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synheart/shakewatch/internal/encoding"
	"github.com/synheart/shakewatch/internal/models"
)

func startSSE(t *testing.T) (*SSEServer, *httptest.Server) {
	t.Helper()
	server := NewSSEServer("127.0.0.1", 0, encoding.NewJSONEncoder(), nil)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { server.Shutdown() })
	return server, ts
}

func connectSSE(t *testing.T, ts *httptest.Server) (*http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+SSEPath, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	return resp, cancel
}

func TestSSEServer_Broadcast(t *testing.T) {
	server, ts := startSSE(t)
	resp, _ := connectSSE(t, ts)

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return server.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, server.Broadcast(testEvent("sse-1")))

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}

	assert.Equal(t, "shake", event)
	var got models.ShakeEvent
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, "sse-1", got.EventID)
	assert.Equal(t, uint32(3), got.Shake.Changes)
}

func TestSSEServer_ClientCount(t *testing.T) {
	server, ts := startSSE(t)
	assert.Equal(t, 0, server.GetClientCount())

	_, cancel := connectSSE(t, ts)
	require.Eventually(t, func() bool { return server.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return server.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSSEServer_BroadcastWithoutClients(t *testing.T) {
	server := NewSSEServer("127.0.0.1", 0, encoding.NewJSONEncoder(), nil)
	assert.NoError(t, server.Broadcast(testEvent("nobody")))
}

func TestSSEServer_ShutdownWithClients(t *testing.T) {
	server, ts := startSSE(t)
	resp, _ := connectSSE(t, ts)
	require.Eventually(t, func() bool { return server.GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, server.Shutdown())
	assert.Equal(t, 0, server.GetClientCount())

	// the stream ends once the handler sees its channel closed
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 256)
		for {
			if _, err := resp.Body.Read(buf); err != nil {
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client stream did not end after shutdown")
	}
}

func TestSSEServer_PortConflict(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	port := ts.Listener.Addr().(*net.TCPAddr).Port

	server := NewSSEServer("127.0.0.1", port, encoding.NewJSONEncoder(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := server.Start(ctx)
	assert.Error(t, err)
}

func TestSSEServer_Address(t *testing.T) {
	server := NewSSEServer("127.0.0.1", 8080, encoding.NewJSONEncoder(), nil)
	assert.Equal(t, "http://127.0.0.1:8080/shake/sse", server.GetAddress())
}
