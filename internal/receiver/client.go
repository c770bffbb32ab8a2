package receiver

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/synheart/shakewatch/internal/models"
)

// ThrottledError is returned when the receiver answers 429
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled, retry after %s", e.RetryAfter)
}

// Client uploads sample batches the way a phone app would
type Client struct {
	baseURL string
	token   string
	gzip    bool
	http    *http.Client
}

// NewClient creates a client for the receiver at baseURL (e.g. http://127.0.0.1:8790)
func NewClient(baseURL, token string, useGzip bool) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		gzip:    useGzip,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Push posts one batch and returns the receiver's receipt
func (c *Client) Push(ctx context.Context, batch *models.SampleBatch) (models.BatchReceipt, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return models.BatchReceipt{}, fmt.Errorf("failed to marshal batch: %w", err)
	}

	if c.gzip {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err != nil {
			return models.BatchReceipt{}, err
		}
		if err := gz.Close(); err != nil {
			return models.BatchReceipt{}, err
		}
		body = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+SamplesPath, bytes.NewReader(body))
	if err != nil {
		return models.BatchReceipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return models.BatchReceipt{}, fmt.Errorf("failed to send batch: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.BatchReceipt{}, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		seconds, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		if seconds < 1 {
			seconds = 1
		}
		return models.BatchReceipt{}, &ThrottledError{RetryAfter: time.Duration(seconds) * time.Second}
	default:
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return models.BatchReceipt{}, fmt.Errorf("receiver returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return models.BatchReceipt{}, fmt.Errorf("receiver returned %d", resp.StatusCode)
	}

	var result struct {
		Status  string              `json:"status"`
		Receipt models.BatchReceipt `json:"receipt"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return models.BatchReceipt{}, fmt.Errorf("invalid response: %w", err)
	}
	return result.Receipt, nil
}

// PushWithRetry retries throttled batches up to attempts times, honoring Retry-After
func (c *Client) PushWithRetry(ctx context.Context, batch *models.SampleBatch, attempts int) (models.BatchReceipt, error) {
	for i := 0; ; i++ {
		receipt, err := c.Push(ctx, batch)
		var throttled *ThrottledError
		if !errors.As(err, &throttled) || i+1 >= attempts {
			return receipt, err
		}

		select {
		case <-time.After(throttled.RetryAfter):
		case <-ctx.Done():
			return models.BatchReceipt{}, ctx.Err()
		}
	}
}
