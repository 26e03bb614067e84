package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/skypro1111/call-translator/internal/call"
)

// DefaultAPIBaseURL is the Twilio REST API base URL
const DefaultAPIBaseURL = "https://api.twilio.com/2010-04-01"

// CallStatus is the status reported by a call status callback
type CallStatus string

// Call statuses
const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no-answer"
	CallStatusCanceled   CallStatus = "canceled"
)

// Failed reports whether the call never connected
func (s CallStatus) Failed() bool {
	switch s {
	case CallStatusBusy, CallStatusFailed, CallStatusNoAnswer, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// DialerConfig contains Twilio dialer configuration
type DialerConfig struct {
	AccountSID           string
	AuthToken            string
	FromNumber           string
	APIBaseURL           string
	Endpoints            Endpoints
	RingTimeout          time.Duration // how long the operator phone rings
	RequestTimeout       time.Duration
	MaxRetries           int
	RetryInitialInterval time.Duration
}

// CallError is a non-2xx response from the calls API
type CallError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *CallError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("create call: HTTP error %d", e.StatusCode)
	}
	return fmt.Sprintf("create call: HTTP error %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
}

// Retryable reports whether the request may succeed if repeated
func (e *CallError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// TwilioDialer places operator calls through the Twilio REST API.
// The call is answered with TwiML that streams its audio to the operator
// media endpoint of the session.
type TwilioDialer struct {
	config     DialerConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTwilioDialer creates a dialer
func NewTwilioDialer(config DialerConfig, logger *slog.Logger) (*TwilioDialer, error) {
	if config.AccountSID == "" || config.AuthToken == "" {
		return nil, fmt.Errorf("twilio credentials cannot be empty")
	}
	if config.FromNumber == "" {
		return nil, fmt.Errorf("from number cannot be empty")
	}
	if config.Endpoints.Host == "" {
		return nil, fmt.Errorf("public host cannot be empty")
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = DefaultAPIBaseURL
	}
	if config.RingTimeout <= 0 {
		config.RingTimeout = 30 * time.Second
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryInitialInterval <= 0 {
		config.RetryInitialInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &TwilioDialer{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		logger:     logger,
	}, nil
}

// Dial calls the operator of session
func (d *TwilioDialer) Dial(ctx context.Context, session *call.Session) error {
	if session.OperatorNumber == "" {
		return fmt.Errorf("session %s has no operator number", session.ID)
	}

	twiml, err := ConnectStream(
		d.config.Endpoints.StreamURL(call.RoleOperator, session.ID),
		Parameter{Name: "session_id", Value: session.ID},
	)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("To", session.OperatorNumber)
	form.Set("From", d.config.FromNumber)
	form.Set("Twiml", string(twiml))
	form.Set("Timeout", strconv.Itoa(int(d.config.RingTimeout.Seconds())))
	form.Set("StatusCallback", d.config.Endpoints.StatusCallbackURL(session.ID))
	form.Set("StatusCallbackMethod", http.MethodPost)
	for _, event := range []string{"initiated", "ringing", "answered", "completed"} {
		form.Add("StatusCallbackEvent", event)
	}

	attempts := 0
	callSID, err := backoff.Retry(ctx, func() (string, error) {
		attempts++
		sid, err := d.createCall(ctx, form)
		if err != nil && !isRetryable(ctx, err) {
			return "", backoff.Permanent(err)
		}
		return sid, err
	},
		backoff.WithBackOff(d.newBackOff()),
		backoff.WithMaxTries(uint(d.config.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.logger.Warn("Operator call request failed, retrying",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", next),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("dial operator after %d attempts: %w", attempts, err)
	}

	d.logger.Info("Operator call created",
		slog.String("session_id", session.ID),
		slog.String("call_sid", callSID),
	)
	return nil
}

func (d *TwilioDialer) createCall(ctx context.Context, form url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", d.config.APIBaseURL, url.PathEscape(d.config.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.SetBasicAuth(d.config.AccountSID, d.config.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		callErr := &CallError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, callErr)
		return "", callErr
	}

	var created struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if created.SID == "" {
		return "", fmt.Errorf("create call: response without call sid")
	}
	return created.SID, nil
}

func (d *TwilioDialer) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.config.RetryInitialInterval
	return b
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Retryable()
	}
	var syntaxErr *json.SyntaxError
	return !errors.As(err, &syntaxErr)
}

// StatusCallback is one call status callback request
type StatusCallback struct {
	CallSID    string
	CallStatus CallStatus
	From       string
	To         string
	Duration   string
}

// ParseStatusCallback reads the form of a status callback request
func ParseStatusCallback(r *http.Request) (StatusCallback, error) {
	if err := r.ParseForm(); err != nil {
		return StatusCallback{}, fmt.Errorf("parse status callback: %w", err)
	}
	cb := StatusCallback{
		CallSID:    r.PostForm.Get("CallSid"),
		CallStatus: CallStatus(r.PostForm.Get("CallStatus")),
		From:       r.PostForm.Get("From"),
		To:         r.PostForm.Get("To"),
		Duration:   r.PostForm.Get("CallDuration"),
	}
	if cb.CallSID == "" || cb.CallStatus == "" {
		return StatusCallback{}, fmt.Errorf("parse status callback: CallSid and CallStatus are required")
	}
	return cb, nil
}
