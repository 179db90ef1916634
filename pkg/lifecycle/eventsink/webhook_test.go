package eventsink_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/lifecycle/eventsink"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/resilience"
)

func fastRetry(retries int) resilience.RetryConfig {
	return resilience.RetryConfig{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

// statusServer answers with the given statuses in order, repeating the last one.
func statusServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		w.WriteHeader(statuses[min(n, len(statuses)-1)])
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNewWebhook_InvalidURL(t *testing.T) {
	t.Parallel()

	for _, u := range []string{"", "ftp://example.com/hook", "https://", "://bad"} {
		_, err := eventsink.NewWebhook(u)
		require.ErrorIs(t, err, eventsink.ErrInvalidWebhookURL, u)
	}
}

func TestWebhook_DeliversSignedEvent(t *testing.T) {
	t.Parallel()

	var (
		gotBody   []byte
		gotHeader http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook, err := eventsink.NewWebhook(srv.URL,
		eventsink.WithWebhookSecret("whsec"),
		eventsink.WithWebhookClock(func() time.Time { return t0 }),
		eventsink.WithWebhookLogger(logger.Discard()),
	)
	require.NoError(t, err)
	require.NoError(t, hook.Handle(context.Background(), renewalFailed()))

	assert.Equal(t, "evt_1", gotHeader.Get(eventsink.EventIDHeader))
	assert.Equal(t, string(lifecycle.EventRenewalFailed), gotHeader.Get(eventsink.EventTypeHeader))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))

	var event lifecycle.Event
	require.NoError(t, json.Unmarshal(gotBody, &event))
	assert.Equal(t, "sub_1", event.SubscriptionID)

	sig := gotHeader.Get(eventsink.SignatureHeader)
	require.NoError(t, eventsink.VerifyWebhookSignature("whsec", gotBody, sig, 5*time.Minute, t0.Add(time.Minute)))
	require.ErrorIs(t, eventsink.VerifyWebhookSignature("other", gotBody, sig, 0, t0), eventsink.ErrInvalidSignature)
	require.ErrorIs(t, eventsink.VerifyWebhookSignature("whsec", gotBody, sig, 5*time.Minute, t0.Add(time.Hour)), eventsink.ErrInvalidSignature)
}

func TestWebhook_RetriesTemporaryFailures(t *testing.T) {
	t.Parallel()

	srv, calls := statusServer(t, http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusOK)
	hook, err := eventsink.NewWebhook(srv.URL, eventsink.WithWebhookRetry(fastRetry(3)), eventsink.WithWebhookLogger(logger.Discard()))
	require.NoError(t, err)

	require.NoError(t, hook.Handle(context.Background(), renewalFailed()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhook_PermanentFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	srv, calls := statusServer(t, http.StatusBadRequest)
	hook, err := eventsink.NewWebhook(srv.URL, eventsink.WithWebhookRetry(fastRetry(3)), eventsink.WithWebhookLogger(logger.Discard()))
	require.NoError(t, err)

	err = hook.Handle(context.Background(), renewalFailed())
	require.ErrorIs(t, err, eventsink.ErrWebhookDelivery)

	var de *eventsink.DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusBadRequest, de.StatusCode)
	assert.Equal(t, "permanent", de.Code())
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhook_RetriesExhausted(t *testing.T) {
	t.Parallel()

	srv, calls := statusServer(t, http.StatusBadGateway)
	hook, err := eventsink.NewWebhook(srv.URL, eventsink.WithWebhookRetry(fastRetry(2)), eventsink.WithWebhookLogger(logger.Discard()))
	require.NoError(t, err)

	err = hook.Handle(context.Background(), renewalFailed())
	require.ErrorIs(t, err, resilience.ErrRetriesExhausted)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhook_CircuitBreakerFailsFast(t *testing.T) {
	t.Parallel()

	srv, calls := statusServer(t, http.StatusInternalServerError)
	cb := resilience.NewCircuitBreaker(resilience.CircuitConfig{FailureThreshold: 2, SuccessThreshold: 1, ResetTimeout: time.Hour})
	hook, err := eventsink.NewWebhook(srv.URL,
		eventsink.WithWebhookRetry(fastRetry(5)),
		eventsink.WithWebhookCircuitBreaker(cb),
		eventsink.WithWebhookLogger(logger.Discard()),
	)
	require.NoError(t, err)

	err = hook.Handle(context.Background(), renewalFailed())
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, resilience.CircuitOpen, cb.State())
}

func TestDeliveryError_Code(t *testing.T) {
	t.Parallel()

	tests := map[int]string{
		0:                              "temporary",
		http.StatusInternalServerError: "temporary",
		http.StatusRequestTimeout:      "temporary",
		http.StatusTooEarly:            "temporary",
		http.StatusTooManyRequests:     "temporary",
		http.StatusUnauthorized:        "permanent",
		http.StatusNotFound:            "permanent",
	}
	for status, want := range tests {
		assert.Equal(t, want, (&eventsink.DeliveryError{StatusCode: status}).Code(), status)
	}
}

func TestVerifyWebhookSignature_Malformed(t *testing.T) {
	t.Parallel()

	for _, header := range []string{"", "t=1", "v1=abc", "t=x,v1=abc"} {
		require.ErrorIs(t, eventsink.VerifyWebhookSignature("s", []byte("{}"), header, 0, t0), eventsink.ErrInvalidSignature, header)
	}
	valid := eventsink.SignWebhookPayload("s", []byte("{}"), t0)
	require.NoError(t, eventsink.VerifyWebhookSignature("s", []byte("{}"), valid, 0, t0))
	require.ErrorIs(t, eventsink.VerifyWebhookSignature("s", []byte(`{"x":1}`), valid, 0, t0), eventsink.ErrInvalidSignature)
}

func TestWebhook_TimeoutBoundsDelivery(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	hook, err := eventsink.NewWebhook(srv.URL,
		eventsink.WithWebhookRetry(fastRetry(5)),
		eventsink.WithWebhookTimeout(50*time.Millisecond),
		eventsink.WithWebhookLogger(logger.Discard()),
	)
	require.NoError(t, err)

	start := time.Now()
	err = hook.Handle(context.Background(), renewalFailed())
	require.ErrorIs(t, err, eventsink.ErrWebhookDelivery)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDefaultWebhookRetryConfig(t *testing.T) {
	t.Parallel()

	cfg := eventsink.DefaultWebhookRetryConfig()
	var total time.Duration
	for attempt := range cfg.MaxRetries {
		total += resilience.CalculateNextDelay(attempt, cfg)
	}
	assert.Less(t, total, 2*time.Second)
	assert.Less(t, eventsink.DefaultWebhookAttemptTimeout, eventsink.DefaultWebhookTimeout)
}
