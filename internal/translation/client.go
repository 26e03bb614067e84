package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/skypro1111/call-translator/internal/call"
	"github.com/skypro1111/call-translator/internal/metrics"
)

// Client talks to the translation service session-storage API and opens
// per-call translation streams
type Client struct {
	config     Config
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration
	streamsOpened   uint64

	mu sync.RWMutex
}

// Config contains translation client configuration
type Config struct {
	BaseURL              string
	ClientID             string
	ClientSecret         string
	Timeout              time.Duration
	MaxRetries           int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	HandshakeTimeout     time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
	WriteTimeout         time.Duration
	EventBuffer          int
	Task                 TaskOptions
}

// StorageSession is a session-storage entry; one is created per role
type StorageSession struct {
	ID        string `json:"id"`
	WSURL     string `json:"ws_url"`
	Publisher string `json:"publisher"`
}

// APIError is a non-2xx response from the session-storage API
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP error %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if repeated
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	StreamsOpened   uint64        `json:"streams_opened"`
}

// NewClient creates a new translation service client
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if config.ClientID == "" || config.ClientSecret == "" {
		return nil, fmt.Errorf("client credentials cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}
	if config.RetryInitialInterval <= 0 {
		config.RetryInitialInterval = 500 * time.Millisecond
	}
	if config.RetryMaxInterval <= 0 {
		config.RetryMaxInterval = 10 * time.Second
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 3 * time.Second
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = 60 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 256
	}
	if config.Task.ASRModel == "" {
		config.Task = DefaultTaskOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		dialer:     &websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
		logger:     logger,
		metrics:    m,
	}, nil
}

// CreateSession creates a session-storage entry holding the WebSocket URL
// and publisher token for one role's stream
func (c *Client) CreateSession(ctx context.Context) (*StorageSession, error) {
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"subscriber_count":        0,
			"publisher_can_subscribe": true,
		},
	}

	var resp struct {
		Data StorageSession `json:"data"`
	}
	if err := c.call(ctx, "create_session", http.MethodPost, "/session-storage/session", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == "" || resp.Data.WSURL == "" || resp.Data.Publisher == "" {
		return nil, fmt.Errorf("create_session: incomplete session in response")
	}
	return &resp.Data, nil
}

// DeleteSession removes a session-storage entry
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.call(ctx, "delete_session", http.MethodDelete, "/session-storage/sessions/"+url.PathEscape(id), nil, nil)
}

// Open creates the translation stream for a call: one storage session and
// one WebSocket per role, each configured to translate that role's language
// into the other role's language
func (c *Client) Open(ctx context.Context, session *call.Session) (*Stream, error) {
	s := newStream(session.ID, c)

	for _, role := range call.Roles {
		task := NewTaskSettings(session.Language(role), session.Language(role.Other()), c.config.Task)
		if err := s.connect(ctx, role, task); err != nil {
			s.Close()
			return nil, fmt.Errorf("open %s translation stream: %w", role, err)
		}
	}

	s.start()
	c.mu.Lock()
	c.streamsOpened++
	c.mu.Unlock()

	c.logger.Info("Translation stream opened",
		slog.String("session_id", session.ID),
		slog.String("source_language", session.SourceLanguage),
		slog.String("target_language", session.TargetLanguage),
	)
	return s, nil
}

// dial connects the WebSocket for a storage session
func (c *Client) dial(ctx context.Context, storage *StorageSession) (*websocket.Conn, error) {
	u, err := url.Parse(storage.WSURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("token", storage.Publisher)
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return conn, nil
}

// call performs an API request with exponential backoff between attempts
func (c *Client) call(ctx context.Context, operation, method, path string, payload, out interface{}) error {
	startTime := time.Now()
	c.incrementTotalRequests()

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := c.doRequest(ctx, operation, method, path, payload, out)
		if err != nil && !isRetryableError(ctx, err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.config.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.incrementTotalRetries()
			c.metrics.RecordTranslationRetry()
			c.logger.Warn("Translation API request failed, retrying",
				slog.String("operation", operation),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", next),
			)
		}),
	)

	elapsed := time.Since(startTime)
	if err != nil {
		c.incrementFailedRequests()
		c.metrics.RecordTranslationRequest(operation, "failure", elapsed.Seconds())
		return fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, err)
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(elapsed)
	c.metrics.RecordTranslationRequest(operation, "success", elapsed.Seconds())
	return nil
}

// doRequest performs a single HTTP request against the API
func (c *Client) doRequest(ctx context.Context, operation, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("ClientId", c.config.ClientID)
	req.Header.Set("ClientSecret", c.config.ClientSecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Operation: operation, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return nil
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.RetryInitialInterval
	b.MaxInterval = c.config.RetryMaxInterval
	return b
}

// isRetryableError determines if an error is worth another attempt
func isRetryableError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false
	}
	// Transport failures: refused, reset, timeouts
	return true
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		StreamsOpened:   c.streamsOpened,
	}
}
