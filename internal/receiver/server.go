// Package receiver accepts accelerometer sample batches from real devices over
// HTTP and runs them through the shared shake driver.
package receiver

import (
	"compress/gzip"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/synheart/shakewatch/internal/driver"
	"github.com/synheart/shakewatch/internal/models"
)

// SamplesPath is the ingest endpoint
const SamplesPath = "/v1/samples"

const maxBodyBytes = 10 * 1024 * 1024

// Config holds the receiver server configuration
type Config struct {
	Host       string
	Port       int
	Token      string // empty disables auth
	AcceptGzip bool
	RateLimit  float64 // batches per second per source, 0 disables
	Burst      int
}

// Server is the HTTP ingest server
type Server struct {
	config     Config
	driver     *driver.Driver
	writer     Writer
	log        *slog.Logger
	idempotent *IdempotencyStore
	limiter    *SourceLimiter
	server     *http.Server

	// ingest serializes batches so one source's samples reach its detector in order
	ingest sync.Mutex

	mu    sync.RWMutex
	stats Stats
}

// Stats holds server statistics
type Stats struct {
	TotalBatches    int
	TotalSamples    int
	TotalShakes     int
	TotalDuplicates int
	TotalThrottled  int
	TotalErrors     int
}

// NewServer creates a new receiver server
func NewServer(config Config, drv *driver.Driver, writer Writer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		config:     config,
		driver:     drv,
		writer:     writer,
		log:        log,
		idempotent: NewIdempotencyStore(DefaultIdempotencyTTL),
		limiter:    NewSourceLimiter(config.RateLimit, config.Burst),
	}
}

// Handler returns the receiver routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(SamplesPath, s.handleSamples)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.config.Token == "" {
		s.log.Warn("receiver running without authentication")
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("receiver listening", "address", s.GetAddress(), "endpoint", SamplesPath)
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
			return fmt.Errorf("receiver failed: %w", err)
		}
		return nil
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetAddress returns the server address
func (s *Server) GetAddress() string {
	return fmt.Sprintf("http://%s:%d", s.config.Host, s.config.Port)
}

// GetStats returns current server statistics
func (s *Server) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":  "shakewatch-receiver",
		"schema":   models.BatchSchema,
		"endpoint": SamplesPath,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ds := s.driver.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"sources": ds.Sources,
		"shakes":  ds.Shakes,
	})
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !s.validateAuth(r) {
		s.countError()
		s.writeError(w, http.StatusUnauthorized, "invalid or missing authorization token")
		return
	}

	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		s.countError()
		s.writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	body, err := s.readBody(r)
	if err != nil {
		s.countError()
		s.writeError(w, http.StatusBadRequest, "failed to read request body: "+err.Error())
		return
	}

	var batch models.SampleBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		s.countError()
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := batch.Validate(); err != nil {
		s.countError()
		s.writeError(w, http.StatusBadRequest, "schema validation failed: "+err.Error())
		return
	}

	// a retried batch gets its stored receipt without spending a token
	if !s.idempotent.Exists(batch.BatchID) && !s.limiter.Allow(batch.Source) {
		s.mu.Lock()
		s.stats.TotalThrottled++
		s.mu.Unlock()
		s.log.Warn("batch throttled", "source", batch.Source, "batch_id", batch.BatchID)
		w.Header().Set("Retry-After", strconv.Itoa(s.limiter.RetryAfterSeconds()))
		s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded for source "+batch.Source)
		return
	}

	receipt, err := s.process(&batch)
	if err != nil {
		s.countError()
		s.writeError(w, http.StatusInternalServerError, "failed to write shake events: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"receipt": receipt,
	})
}

// process feeds a validated batch through the driver. A batch_id seen before
// returns the original receipt without touching any detector.
func (s *Server) process(batch *models.SampleBatch) (models.BatchReceipt, error) {
	s.ingest.Lock()
	defer s.ingest.Unlock()

	if prev, ok := s.idempotent.Get(batch.BatchID); ok {
		prev.Duplicate = true
		s.mu.Lock()
		s.stats.TotalDuplicates++
		s.mu.Unlock()
		s.log.Info("duplicate batch", "source", batch.Source, "batch_id", batch.BatchID)
		return prev, nil
	}

	var shakes []models.ShakeEvent
	for _, sample := range batch.Samples {
		sample.Source = batch.Source
		if event, fired := s.driver.Feed(sample); fired {
			shakes = append(shakes, event)
		}
	}

	var writeErr error
	for i := range shakes {
		if err := s.writer.Write(&shakes[i]); err != nil {
			writeErr = errors.Join(writeErr, err)
		}
	}

	receipt := models.NewBatchReceipt(batch, shakes, false)
	s.idempotent.Mark(batch.BatchID, receipt)

	s.mu.Lock()
	s.stats.TotalBatches++
	s.stats.TotalSamples += len(batch.Samples)
	s.stats.TotalShakes += len(shakes)
	s.mu.Unlock()

	s.log.Debug("batch ingested",
		"source", batch.Source,
		"batch_id", batch.BatchID,
		"samples", len(batch.Samples),
		"shakes", len(shakes))

	return receipt, writeErr
}

func (s *Server) validateAuth(r *http.Request) bool {
	if s.config.Token == "" {
		return true
	}

	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.config.Token)) == 1
}

func (s *Server) readBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = r.Body

	if r.Header.Get("Content-Encoding") == "gzip" {
		if !s.config.AcceptGzip {
			return nil, errors.New("gzip encoding not enabled")
		}
		gzReader, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress gzip: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
	}
	return data, nil
}

func (s *Server) countError() {
	s.mu.Lock()
	s.stats.TotalErrors++
	s.mu.Unlock()
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// DefaultIdempotencyTTL bounds how long a batch_id is remembered
const DefaultIdempotencyTTL = 15 * time.Minute

// IdempotencyStore remembers processed batch IDs and their receipts
type IdempotencyStore struct {
	ttl  time.Duration
	now  func() time.Time
	seen map[string]idempotencyEntry
	mu   sync.Mutex
}

type idempotencyEntry struct {
	receipt models.BatchReceipt
	at      time.Time
}

// NewIdempotencyStore creates a store; ttl <= 0 keeps entries forever
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]idempotencyEntry),
	}
}

// Exists checks if an ID has been processed
func (s *IdempotencyStore) Exists(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Get returns the receipt recorded for id
func (s *IdempotencyStore) Get(id string) (models.BatchReceipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.seen[id]
	if !ok || s.expired(e) {
		return models.BatchReceipt{}, false
	}
	return e.receipt, true
}

// Mark records an ID as processed and evicts expired entries
func (s *IdempotencyStore) Mark(id string, receipt models.BatchReceipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.seen {
		if s.expired(e) {
			delete(s.seen, k)
		}
	}
	s.seen[id] = idempotencyEntry{receipt: receipt, at: s.now()}
}

// Len returns the number of remembered IDs, expired or not
func (s *IdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *IdempotencyStore) expired(e idempotencyEntry) bool {
	return s.ttl > 0 && s.now().Sub(e.at) > s.ttl
}
