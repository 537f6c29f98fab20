package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/describemusic/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testReceivedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func orderPayload(webhookID, userID string) []byte {
	return []byte(fmt.Sprintf(`{
		"meta": {
			"event_name": "order_created",
			"webhook_id": %q,
			"custom_data": {"user_id": %q}
		},
		"data": {
			"id": "order-1001",
			"type": "orders",
			"attributes": {
				"total_usd": 1990,
				"first_order_item": {"variant_id": 999967},
				"created_at": "2025-05-30T10:00:00Z",
				"updated_at": "2025-05-30T10:00:05Z"
			}
		}
	}`, webhookID, userID))
}

func subscriptionPayload(eventName, webhookID, userID, status string) []byte {
	return []byte(fmt.Sprintf(`{
		"meta": {
			"event_name": %q,
			"webhook_id": %q,
			"custom_data": {"user_id": %q}
		},
		"data": {
			"id": "sub-501",
			"type": "subscriptions",
			"attributes": {
				"status": %q,
				"variant_id": 999961,
				"order_id": 1001,
				"cancelled": false,
				"created_at": "2025-05-30T10:00:00Z",
				"updated_at": "2025-05-30T10:00:05Z",
				"renews_at": "2025-06-30T10:00:00Z"
			}
		}
	}`, eventName, webhookID, userID, status))
}

func TestNormalizeOrderCreated(t *testing.T) {
	ev, err := NormalizeEvent(orderPayload("wh-1", "user-42"), testReceivedAt)
	require.NoError(t, err)

	assert.Equal(t, "wh-1", ev.EventID)
	assert.Equal(t, domain.EventOrderCreated, ev.Type)
	assert.Equal(t, "order-1001", ev.SubjectID)
	assert.Equal(t, "order-1001", ev.OrderID)
	assert.Equal(t, "user-42", ev.UserID)
	assert.Equal(t, "999967", ev.VariantID)
	assert.Equal(t, int64(1990), ev.OrderTotalCents)
	assert.Equal(t, time.Date(2025, 5, 30, 10, 0, 5, 0, time.UTC), ev.OccurredAt)
}

func TestNormalizeSubscriptionCreated(t *testing.T) {
	ev, err := NormalizeEvent(subscriptionPayload("subscription_created", "wh-77", "user-42", "active"), testReceivedAt)
	require.NoError(t, err)

	assert.Equal(t, "wh-77", ev.EventID)
	assert.Equal(t, domain.EventSubscriptionCreated, ev.Type)
	assert.Equal(t, "sub-501", ev.SubjectID)
	assert.Equal(t, "999961", ev.VariantID)
	assert.Equal(t, "1001", ev.OrderID)
	assert.Equal(t, "active", ev.SubStatus)
	require.NotNil(t, ev.PeriodStart)
	assert.Equal(t, time.Date(2025, 5, 30, 10, 0, 0, 0, time.UTC), *ev.PeriodStart)
	require.NotNil(t, ev.RenewsAt)
	assert.Equal(t, time.Date(2025, 6, 30, 10, 0, 0, 0, time.UTC), *ev.RenewsAt)
}

func TestNormalizeDerivedEventID(t *testing.T) {
	// No webhook_id: the id is derived and must be deterministic across
	// redeliveries of the same payload.
	raw := orderPayload("", "user-42")

	first, err := NormalizeEvent(raw, testReceivedAt)
	require.NoError(t, err)
	second, err := NormalizeEvent(raw, testReceivedAt.Add(5*time.Minute))
	require.NoError(t, err)

	assert.NotEmpty(t, first.EventID)
	assert.Len(t, first.EventID, 64)
	assert.Equal(t, first.EventID, second.EventID, "derived id must not depend on receive time when timestamps are present")
}

func TestNormalizeOccurredAtFallback(t *testing.T) {
	// No timestamps at all: occurredAt falls back to the receive time and the
	// derived id still resolves, never embedding an empty placeholder.
	raw := []byte(`{
		"meta": {"event_name": "order_created", "custom_data": {"user_id": "user-42"}},
		"data": {"id": "order-9", "type": "orders", "attributes": {"total_usd": 990, "first_order_item": {"variant_id": 999961}}}
	}`)

	ev, err := NormalizeEvent(raw, testReceivedAt)
	require.NoError(t, err)
	assert.Equal(t, testReceivedAt, ev.OccurredAt)
	assert.Len(t, ev.EventID, 64)
}

func TestNormalizeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"invalid json":       []byte(`{not json`),
		"missing event name": []byte(`{"meta":{},"data":{"id":"1","type":"orders","attributes":{}}}`),
		"missing data id":    []byte(`{"meta":{"event_name":"order_created"},"data":{"type":"orders","attributes":{}}}`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NormalizeEvent(raw, testReceivedAt)
			assert.ErrorIs(t, err, domain.ErrMalformedPayload)
		})
	}
}

func TestNormalizeUnsupportedEventType(t *testing.T) {
	raw := []byte(`{
		"meta": {"event_name": "license_key_created"},
		"data": {"id": "lk-1", "type": "license-keys", "attributes": {}}
	}`)
	_, err := NormalizeEvent(raw, testReceivedAt)
	assert.ErrorIs(t, err, domain.ErrUnsupportedEventType)
}

func TestNormalizeMissingUserBinding(t *testing.T) {
	// Creation events cannot proceed without a user binding.
	_, err := NormalizeEvent(orderPayload("wh-1", ""), testReceivedAt)
	assert.ErrorIs(t, err, domain.ErrMissingUserBinding)

	_, err = NormalizeEvent(subscriptionPayload("subscription_created", "wh-77", "", "active"), testReceivedAt)
	assert.ErrorIs(t, err, domain.ErrMissingUserBinding)

	// Lifecycle events resolve the user from the stored record instead.
	ev, err := NormalizeEvent(subscriptionPayload("subscription_cancelled", "wh-78", "", "cancelled"), testReceivedAt)
	require.NoError(t, err)
	assert.Empty(t, ev.UserID)
}
