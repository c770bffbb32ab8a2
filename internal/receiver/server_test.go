package receiver

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/synheart/shakewatch/internal/driver"
	"github.com/synheart/shakewatch/internal/logging"
	"github.com/synheart/shakewatch/internal/models"
	"github.com/synheart/shakewatch/internal/shake"
)

func newTestServer(t *testing.T, config Config) (*Server, *bytes.Buffer) {
	t.Helper()
	drv, err := driver.New(shake.DefaultConfig(), models.Session{RunID: "receiver-test"}, logging.Discard())
	if err != nil {
		t.Fatalf("failed to create driver: %v", err)
	}
	var buf bytes.Buffer
	return NewServer(config, drv, NewStdoutWriter(&buf, "ndjson"), logging.Discard()), &buf
}

// shakeBatch holds one alternating 20/5 pattern that fires at t0+150
func shakeBatch(batchID, source string, t0 int64) models.SampleBatch {
	return models.SampleBatch{
		Schema:  models.BatchSchema,
		BatchID: batchID,
		Source:  source,
		Device:  models.Device{Platform: "android", AppVersion: "1.0.0"},
		Samples: []models.Sample{
			{T: t0, X: 20},
			{T: t0 + 50, X: 5},
			{T: t0 + 100, X: 20},
			{T: t0 + 150, X: 5},
		},
	}
}

func postBatch(t *testing.T, server *Server, batch models.SampleBatch, token string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(batch)
	if err != nil {
		t.Fatalf("failed to marshal batch: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, SamplesPath, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

type samplesResponse struct {
	Status  string              `json:"status"`
	Receipt models.BatchReceipt `json:"receipt"`
	Error   string              `json:"error"`
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) samplesResponse {
	t.Helper()
	var resp samplesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v\n%s", err, rr.Body.String())
	}
	return resp
}

func TestHandleSamples_DetectsShake(t *testing.T) {
	server, out := newTestServer(t, Config{Token: "test-token"})

	rr := postBatch(t, server, shakeBatch("batch-1", "phone-1", 1000), "test-token")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	resp := decodeResponse(t, rr)
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", resp.Status)
	}
	r := resp.Receipt
	if r.BatchID != "batch-1" || r.Source != "phone-1" || r.SampleCount != 4 {
		t.Errorf("unexpected receipt: %+v", r)
	}
	if r.Range != "1000ms to 1150ms" {
		t.Errorf("unexpected range %q", r.Range)
	}
	if len(r.Shakes) != 1 {
		t.Fatalf("expected 1 shake, got %d", len(r.Shakes))
	}
	if r.Shakes[0].Shake.AtMs != 1150 || r.Shakes[0].Source != "phone-1" {
		t.Errorf("unexpected shake: %+v", r.Shakes[0])
	}

	var written models.ShakeEvent
	if err := json.Unmarshal(out.Bytes(), &written); err != nil {
		t.Fatalf("writer output is not an event: %v\n%s", err, out.String())
	}
	if written.EventID != r.Shakes[0].EventID {
		t.Errorf("writer and receipt disagree: %s vs %s", written.EventID, r.Shakes[0].EventID)
	}

	stats := server.GetStats()
	if stats.TotalBatches != 1 || stats.TotalSamples != 4 || stats.TotalShakes != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestHandleSamples_StreamSpansBatches(t *testing.T) {
	server, _ := newTestServer(t, Config{})

	batch := shakeBatch("part-1", "phone-1", 0)
	second := batch
	batch.Samples = batch.Samples[:2]
	second.BatchID = "part-2"
	second.Samples = second.Samples[2:]

	if got := decodeResponse(t, postBatch(t, server, batch, "")).Receipt.Shakes; len(got) != 0 {
		t.Fatalf("first half should not fire, got %d", len(got))
	}
	if got := decodeResponse(t, postBatch(t, server, second, "")).Receipt.Shakes; len(got) != 1 {
		t.Fatalf("second half should complete the shake, got %d", len(got))
	}
}

func TestHandleSamples_SourcesAreIndependent(t *testing.T) {
	server, _ := newTestServer(t, Config{})

	a := shakeBatch("a-1", "phone-a", 0)
	a.Samples = a.Samples[:2]
	b := shakeBatch("b-1", "phone-b", 0)
	b.Samples = b.Samples[2:]

	postBatch(t, server, a, "")
	if got := decodeResponse(t, postBatch(t, server, b, "")).Receipt.Shakes; len(got) != 0 {
		t.Errorf("movements from another source must not complete a shake, got %d", len(got))
	}
}

func TestHandleSamples_InvalidToken(t *testing.T) {
	server, _ := newTestServer(t, Config{Token: "correct-token"})

	rr := postBatch(t, server, shakeBatch("b", "s", 0), "wrong-token")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestHandleSamples_MissingToken(t *testing.T) {
	server, _ := newTestServer(t, Config{Token: "test-token"})

	rr := postBatch(t, server, shakeBatch("b", "s", 0), "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
	if server.GetStats().TotalErrors != 1 {
		t.Errorf("expected 1 error, got %d", server.GetStats().TotalErrors)
	}
}

func TestHandleSamples_InvalidJSON(t *testing.T) {
	server, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodPost, SamplesPath, strings.NewReader("not valid json"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestHandleSamples_WrongContentType(t *testing.T) {
	server, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodPost, SamplesPath, strings.NewReader("{}"))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected status 415, got %d", rr.Code)
	}
}

func TestHandleSamples_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.SampleBatch)
		field  string
	}{
		{"wrong schema", func(b *models.SampleBatch) { b.Schema = "wrong.schema.v1" }, "schema"},
		{"missing batch id", func(b *models.SampleBatch) { b.BatchID = "" }, "batch_id"},
		{"missing source", func(b *models.SampleBatch) { b.Source = "" }, "source"},
		{"empty samples", func(b *models.SampleBatch) { b.Samples = nil }, "samples"},
		{"time goes backwards", func(b *models.SampleBatch) { b.Samples[2].T = 10 }, "samples[2].t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newTestServer(t, Config{})
			batch := shakeBatch("b", "s", 0)
			tt.mutate(&batch)

			rr := postBatch(t, server, batch, "")
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if resp := decodeResponse(t, rr); !strings.Contains(resp.Error, tt.field) {
				t.Errorf("expected error to name %q, got %q", tt.field, resp.Error)
			}
			if server.driver.Stats().Samples != 0 {
				t.Error("rejected batch must not reach the detector")
			}
		})
	}
}

func TestHandleSamples_MethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t, Config{})

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, SamplesPath, nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rr.Code)
	}
}

func TestHandleSamples_Idempotency(t *testing.T) {
	server, out := newTestServer(t, Config{})
	batch := shakeBatch("same-batch", "phone-1", 0)

	first := decodeResponse(t, postBatch(t, server, batch, ""))
	written := out.Len()

	rr := postBatch(t, server, batch, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for duplicate, got %d", rr.Code)
	}
	second := decodeResponse(t, rr)

	if !second.Receipt.Duplicate {
		t.Error("second receipt should be marked duplicate")
	}
	if first.Receipt.Duplicate {
		t.Error("first receipt should not be marked duplicate")
	}
	if len(second.Receipt.Shakes) != 1 || second.Receipt.Shakes[0].EventID != first.Receipt.Shakes[0].EventID {
		t.Error("duplicate should return the original shakes")
	}
	if out.Len() != written {
		t.Error("duplicate must not write events again")
	}
	if got := server.driver.Stats().Samples; got != 4 {
		t.Errorf("duplicate must not be fed again: driver saw %d samples", got)
	}
	if server.GetStats().TotalDuplicates != 1 {
		t.Errorf("expected 1 duplicate, got %d", server.GetStats().TotalDuplicates)
	}
}

func TestHandleSamples_Gzip(t *testing.T) {
	body, _ := json.Marshal(shakeBatch("gz", "phone-1", 0))
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	gz.Write(body)
	gz.Close()

	send := func(server *Server) int {
		req := httptest.NewRequest(http.MethodPost, SamplesPath, bytes.NewReader(compressed.Bytes()))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Encoding", "gzip")
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, req)
		return rr.Code
	}

	enabled, _ := newTestServer(t, Config{AcceptGzip: true})
	if code := send(enabled); code != http.StatusOK {
		t.Errorf("expected status 200 with gzip enabled, got %d", code)
	}

	disabled, _ := newTestServer(t, Config{})
	if code := send(disabled); code != http.StatusBadRequest {
		t.Errorf("expected status 400 with gzip disabled, got %d", code)
	}
}

func TestHandleSamples_RateLimit(t *testing.T) {
	server, _ := newTestServer(t, Config{RateLimit: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		rr := postBatch(t, server, shakeBatch(fmt.Sprintf("ok-%d", i), "chatty", int64(i)*1000), "")
		if rr.Code != http.StatusOK {
			t.Fatalf("batch %d: expected status 200, got %d", i, rr.Code)
		}
	}

	rr := postBatch(t, server, shakeBatch("over", "chatty", 5000), "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// other sources have their own bucket
	if rr := postBatch(t, server, shakeBatch("quiet", "quiet", 0), ""); rr.Code != http.StatusOK {
		t.Errorf("expected status 200 for another source, got %d", rr.Code)
	}
	if server.GetStats().TotalThrottled != 1 {
		t.Errorf("expected 1 throttled batch, got %d", server.GetStats().TotalThrottled)
	}
}

func TestHandleSamples_DuplicateBypassesRateLimit(t *testing.T) {
	server, _ := newTestServer(t, Config{RateLimit: 0.001, Burst: 1})

	batch := shakeBatch("retry-1", "phone-1", 0)
	if rr := postBatch(t, server, batch, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	// the bucket is empty, but a resend of a processed batch still gets its receipt
	rr := postBatch(t, server, batch, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for a resent batch, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	if !resp.Receipt.Duplicate {
		t.Error("expected duplicate receipt")
	}
	if len(resp.Receipt.Shakes) != 1 {
		t.Errorf("expected the stored shake, got %d", len(resp.Receipt.Shakes))
	}

	if rr := postBatch(t, server, shakeBatch("retry-2", "phone-1", 1000), ""); rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429 for a new batch, got %d", rr.Code)
	}
	if got := server.GetStats().TotalThrottled; got != 1 {
		t.Errorf("expected 1 throttled batch, got %d", got)
	}
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer(t, Config{})
	postBatch(t, server, shakeBatch("h", "phone-1", 0), "")

	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["status"] != "ok" || resp["sources"] != 1.0 || resp["shakes"] != 1.0 {
		t.Errorf("unexpected health response: %v", resp)
	}
}

func TestIdempotencyStore_Expiry(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)
	now := time.Unix(1000, 0)
	store.now = func() time.Time { return now }

	store.Mark("a", models.BatchReceipt{BatchID: "a"})
	if !store.Exists("a") {
		t.Fatal("fresh entry should exist")
	}

	now = now.Add(2 * time.Minute)
	if store.Exists("a") {
		t.Error("expired entry should not exist")
	}

	store.Mark("b", models.BatchReceipt{BatchID: "b"})
	if store.Len() != 1 {
		t.Errorf("expired entries should be evicted on mark, have %d", store.Len())
	}
}

func TestSourceLimiter_Disabled(t *testing.T) {
	l := NewSourceLimiter(0, 0)
	for i := 0; i < 1000; i++ {
		if !l.Allow("s") {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
	if l.Sources() != 1 {
		t.Errorf("expected 1 source, got %d", l.Sources())
	}
}

func TestRetryAfter(t *testing.T) {
	if got := retryAfter(20); got != 1 {
		t.Errorf("retryAfter(20) = %d, want 1", got)
	}
	if got := retryAfter(0.25); got != 4 {
		t.Errorf("retryAfter(0.25) = %d, want 4", got)
	}
}
