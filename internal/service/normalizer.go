package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/describemusic/backend/internal/domain"
)

// envelope is the provider's JSON:API webhook shape. Only the fields every
// event carries live here; per-type attributes are decoded separately so an
// unknown shape is rejected instead of walked defensively.
type envelope struct {
	Meta struct {
		EventName  string `json:"event_name"`
		WebhookID  string `json:"webhook_id"`
		CustomData struct {
			UserID string `json:"user_id"`
		} `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string          `json:"id"`
		Type       string          `json:"type"`
		Attributes json.RawMessage `json:"attributes"`
	} `json:"data"`
}

type orderAttributes struct {
	TotalUSD       int64 `json:"total_usd"` // cents
	FirstOrderItem struct {
		VariantID int64 `json:"variant_id"`
	} `json:"first_order_item"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type subscriptionAttributes struct {
	Status    string `json:"status"`
	VariantID int64  `json:"variant_id"`
	OrderID   int64  `json:"order_id"`
	Cancelled bool   `json:"cancelled"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	RenewsAt  string `json:"renews_at"`
	EndsAt    string `json:"ends_at"`
}

// NormalizeEvent parses verified webhook bytes into a CanonicalEvent.
//
// The event id prefers the provider's meta.webhook_id; when the provider omits
// it, the id is derived as sha256(event_name|subject|occurredAt). occurredAt
// always resolves (updated_at, then created_at, then receivedAt), so the
// derived id never embeds a missing-field placeholder.
func NormalizeEvent(raw []byte, receivedAt time.Time) (*domain.CanonicalEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if env.Meta.EventName == "" {
		return nil, fmt.Errorf("%w: missing meta.event_name", domain.ErrMalformedPayload)
	}
	if env.Data.ID == "" || env.Data.Type == "" {
		return nil, fmt.Errorf("%w: missing data.id or data.type", domain.ErrMalformedPayload)
	}

	eventType, ok := domain.ParseEventType(env.Meta.EventName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedEventType, env.Meta.EventName)
	}

	ev := &domain.CanonicalEvent{
		Type:       eventType,
		SubjectID:  env.Data.ID,
		UserID:     env.Meta.CustomData.UserID,
		RawPayload: raw,
	}

	if eventType == domain.EventOrderCreated {
		var attrs orderAttributes
		if err := json.Unmarshal(env.Data.Attributes, &attrs); err != nil {
			return nil, fmt.Errorf("%w: order attributes: %v", domain.ErrMalformedPayload, err)
		}
		ev.OrderID = env.Data.ID
		ev.OrderTotalCents = attrs.TotalUSD
		ev.VariantID = strconv.FormatInt(attrs.FirstOrderItem.VariantID, 10)
		ev.OccurredAt = resolveOccurredAt(attrs.UpdatedAt, attrs.CreatedAt, receivedAt)
	} else {
		var attrs subscriptionAttributes
		if err := json.Unmarshal(env.Data.Attributes, &attrs); err != nil {
			return nil, fmt.Errorf("%w: subscription attributes: %v", domain.ErrMalformedPayload, err)
		}
		ev.VariantID = strconv.FormatInt(attrs.VariantID, 10)
		ev.SubStatus = attrs.Status
		ev.Cancelled = attrs.Cancelled
		if attrs.OrderID != 0 {
			ev.OrderID = strconv.FormatInt(attrs.OrderID, 10)
		}
		if t, ok := parseProviderTime(attrs.CreatedAt); ok {
			ev.PeriodStart = &t
		}
		if t, ok := parseProviderTime(attrs.RenewsAt); ok {
			ev.RenewsAt = &t
		}
		ev.OccurredAt = resolveOccurredAt(attrs.UpdatedAt, attrs.CreatedAt, receivedAt)
	}

	// User binding is mandatory on the events that create state for a user;
	// later lifecycle events can resolve the user from the stored record.
	if ev.UserID == "" &&
		(eventType == domain.EventOrderCreated || eventType == domain.EventSubscriptionCreated) {
		return nil, fmt.Errorf("%w: event %s for subject %s", domain.ErrMissingUserBinding, eventType, ev.SubjectID)
	}

	if env.Meta.WebhookID != "" {
		ev.EventID = env.Meta.WebhookID
	} else {
		ev.EventID = deriveEventID(env.Meta.EventName, env.Data.ID, ev.OccurredAt)
	}
	return ev, nil
}

func resolveOccurredAt(updatedAt, createdAt string, receivedAt time.Time) time.Time {
	if t, ok := parseProviderTime(updatedAt); ok {
		return t
	}
	if t, ok := parseProviderTime(createdAt); ok {
		return t
	}
	return receivedAt.UTC()
}

func parseProviderTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func deriveEventID(eventName, subjectID string, occurredAt time.Time) string {
	sum := sha256.Sum256([]byte(eventName + "|" + subjectID + "|" + occurredAt.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])
}
