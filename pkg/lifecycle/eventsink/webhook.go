package eventsink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/resilience"
)

// Webhook headers.
const (
	SignatureHeader = "Billing-Signature" // t=<unix>,v1=<hex hmac-sha256 of "<t>.<body>">
	EventIDHeader   = "Billing-Event-Id"
	EventTypeHeader = "Billing-Event-Type"
)

var (
	ErrInvalidWebhookURL = errors.New("eventsink: invalid webhook url")
	ErrInvalidSignature  = errors.New("eventsink: invalid webhook signature")
	ErrWebhookDelivery   = errors.New("eventsink: webhook delivery failed")
)

// DeliveryError is one failed delivery attempt. Code reports "temporary" for
// network errors, 5xx, 408, 425 and 429, and "permanent" for other statuses.
type DeliveryError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("webhook request failed: %v", e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("webhook returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Code is read by resilience.IsRetryableError.
func (e *DeliveryError) Code() string {
	if e.temporary() {
		return "temporary"
	}
	return "permanent"
}

func (e *DeliveryError) temporary() bool {
	switch {
	case e.StatusCode == 0, e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooEarly,
		e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// Webhook defaults. Handle runs inline with the engine, so one event may
// hold up a batch for at most DefaultWebhookTimeout.
const (
	DefaultWebhookTimeout        = 8 * time.Second
	DefaultWebhookAttemptTimeout = 3 * time.Second
)

// DefaultWebhookRetryConfig retries twice within about a second.
func DefaultWebhookRetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:        2,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2,
		JitterFactor:      0.1,
	}
}

// Webhook POSTs every lifecycle event as JSON to an HTTP endpoint.
type Webhook struct {
	url     string
	secret  string
	client  *http.Client
	retry   resilience.RetryConfig
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	now     func() time.Time
	logger  *slog.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithWebhookSecret signs every request with SignatureHeader.
func WithWebhookSecret(secret string) WebhookOption {
	return func(w *Webhook) { w.secret = secret }
}

func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) {
		if c != nil {
			w.client = c
		}
	}
}

// WithWebhookRetry sets the retry policy. Only temporary failures are retried,
// whatever cfg.RetryableErrors says.
func WithWebhookRetry(cfg resilience.RetryConfig) WebhookOption {
	return func(w *Webhook) { w.retry = cfg }
}

// WithWebhookCircuitBreaker fails fast with resilience.ErrCircuitOpen while
// the endpoint keeps failing.
func WithWebhookCircuitBreaker(cb *resilience.CircuitBreaker) WebhookOption {
	return func(w *Webhook) { w.breaker = cb }
}

// WithWebhookTimeout bounds one Handle call, retries included.
// Non-positive values are ignored.
func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) {
		if d > 0 {
			w.timeout = d
		}
	}
}

func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(w *Webhook) {
		if now != nil {
			w.now = now
		}
	}
}

func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebhook creates a sink delivering to endpoint, which must be an http or https URL.
//
// The engine calls event handlers one at a time, so a slow or dead endpoint
// delays the run by up to the webhook timeout per event. Pair it with
// WithWebhookCircuitBreaker so an outage fails fast after a few events.
func NewWebhook(endpoint string, opts ...WebhookOption) (*Webhook, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Join(ErrInvalidWebhookURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q is not http or https", ErrInvalidWebhookURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidWebhookURL)
	}

	w := &Webhook{
		url:    endpoint,
		client:  &http.Client{Timeout: DefaultWebhookAttemptTimeout},
		retry:   DefaultWebhookRetryConfig(),
		timeout: DefaultWebhookTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.retry.RetryableErrors = []string{"temporary"}
	return w, nil
}

// Handle is a lifecycle.EventHandler.
func (w *Webhook) Handle(ctx context.Context, event lifecycle.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventsink: encode event %s: %w", event.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	attempts := 0
	err = resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		attempts++
		if w.breaker == nil {
			return w.deliver(ctx, event, body)
		}
		return w.breaker.Execute(ctx, func(ctx context.Context) error {
			return w.deliver(ctx, event, body)
		})
	})
	if err != nil {
		w.logger.WarnContext(ctx, "webhook delivery failed",
			logger.EventID(event.ID),
			logger.EventType(string(event.Type)),
			slog.Int("attempts", attempts),
			logger.Error(err),
		)
		return errors.Join(ErrWebhookDelivery, err)
	}
	return nil
}

func (w *Webhook) deliver(ctx context.Context, event lifecycle.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("eventsink: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "billingkit-webhook/1")
	req.Header.Set(EventIDHeader, event.ID)
	req.Header.Set(EventTypeHeader, string(event.Type))
	if w.secret != "" {
		req.Header.Set(SignatureHeader, SignWebhookPayload(w.secret, body, w.now()))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.ReplaceAll(strings.TrimSpace(string(msg)), "\n", " ")
	return &DeliveryError{StatusCode: resp.StatusCode, Body: text}
}

// SignWebhookPayload returns the SignatureHeader value for payload at ts.
func SignWebhookPayload(secret string, payload []byte, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",v1=" + webhookMAC(secret, unix, payload)
}

// VerifyWebhookSignature checks a SignatureHeader value on the receiving side.
// Signatures older than tolerance are rejected; zero tolerance disables the age check.
func VerifyWebhookSignature(secret string, payload []byte, header string, tolerance time.Duration, now time.Time) error {
	var ts, sig string
	for part := range strings.SplitSeq(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			sig = value
		}
	}
	if ts == "" || sig == "" {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -time.Minute {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	if !hmac.Equal([]byte(webhookMAC(secret, ts, payload)), []byte(sig)) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}
	return nil
}

func webhookMAC(secret, ts string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
