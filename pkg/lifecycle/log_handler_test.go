package lifecycle_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

func TestLogHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := lifecycle.LogHandler(logger.New(logger.WithOutput(&buf), logger.WithFormat(logger.FormatJSON)))

	err := handler(context.Background(), lifecycle.Event{
		ID:             "evt_1",
		Type:           lifecycle.EventRetryFailed,
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		OccurredAt:     t0,
		Data:           map[string]any{"attempt": 2, "decline_code": "expired_card"},
	})
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "WARN", record["level"])
	assert.Equal(t, "subscription lifecycle event", record["msg"])
	assert.Equal(t, "evt_1", record["event_id"])
	assert.Equal(t, "subscription.retry_failed", record["event_type"])
	assert.Equal(t, "sub_1", record["subscription_id"])
	assert.Equal(t, "cus_1", record["customer_id"])
	assert.Equal(t, map[string]any{"attempt": float64(2), "decline_code": "expired_card"}, record["data"])
}

func TestLogHandler_InfoLevelForSuccess(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := lifecycle.LogHandler(logger.New(logger.WithOutput(&buf)))

	require.NoError(t, handler(context.Background(), lifecycle.Event{ID: "evt_1", Type: lifecycle.EventRenewed}))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "INFO", record["level"])
}
