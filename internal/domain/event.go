package domain

import "time"

// EventType is the closed set of provider notifications the billing engine models.
type EventType string

const (
	EventOrderCreated          EventType = "order_created"
	EventSubscriptionCreated   EventType = "subscription_created"
	EventSubscriptionUpdated   EventType = "subscription_updated"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventSubscriptionResumed   EventType = "subscription_resumed"
	EventSubscriptionExpired   EventType = "subscription_expired"
	EventSubscriptionPaused    EventType = "subscription_paused"
	EventSubscriptionUnpaused  EventType = "subscription_unpaused"
)

// ParseEventType maps a provider event name to the closed enum.
func ParseEventType(name string) (EventType, bool) {
	switch t := EventType(name); t {
	case EventOrderCreated,
		EventSubscriptionCreated,
		EventSubscriptionUpdated,
		EventSubscriptionCancelled,
		EventSubscriptionResumed,
		EventSubscriptionExpired,
		EventSubscriptionPaused,
		EventSubscriptionUnpaused:
		return t, true
	}
	return "", false
}

// IsSubscriptionEvent reports whether the event mutates a subscription record.
func (t EventType) IsSubscriptionEvent() bool {
	return t != EventOrderCreated
}

// CanonicalEvent is the normalized form of a provider notification. EventID is
// the idempotency key: the same notification may be delivered many times and
// must be applied exactly once.
type CanonicalEvent struct {
	EventID    string    `json:"eventId"`
	Type       EventType `json:"eventType"`
	SubjectID  string    `json:"subjectId"` // provider order or subscription id
	UserID     string    `json:"userId"`    // resolved from checkout custom_data
	VariantID  string    `json:"variantId"`
	OccurredAt time.Time `json:"occurredAt"`

	// Order fields. OrderID is the provider order id backing the payment
	// record; for order_created it equals SubjectID.
	OrderID         string `json:"orderId,omitempty"`
	OrderTotalCents int64  `json:"orderTotalCents,omitempty"`

	// Subscription fields.
	SubStatus   string     `json:"subStatus,omitempty"`
	Cancelled   bool       `json:"cancelled,omitempty"`
	PeriodStart *time.Time `json:"periodStart,omitempty"`
	RenewsAt    *time.Time `json:"renewsAt,omitempty"`

	// RawPayload is retained for audit; stored encrypted at rest.
	RawPayload []byte `json:"-"`
}

// CreditGrant is an additive increase to a user's credit balance. The engine
// only ever grants; consumption belongs to the analysis pipeline.
type CreditGrant struct {
	UserID      string `json:"userId"`
	Credits     int64  `json:"credits"`
	Source      string `json:"source"` // purchase | subscription
	Description string `json:"description"`
}

// SubscriptionChange is the desired post-state of a subscription record. When
// ExpectedVersion is zero the record is inserted; otherwise the update is
// guarded by the version read with the snapshot, so a concurrent writer makes
// the apply fail with ErrPersistenceConflict instead of silently losing data.
type SubscriptionChange struct {
	Record          SubscriptionRecord `json:"record"`
	ExpectedVersion int64              `json:"expectedVersion"`
}

// MutationPlan is the Reconciler's output: everything the persistence gateway
// must commit in one transaction for a single event. A nil Payment,
// Subscription, or Grant means that leg is skipped for this event type.
type MutationPlan struct {
	Event        CanonicalEvent      `json:"event"`
	Payment      *PaymentRecord      `json:"payment,omitempty"`
	Subscription *SubscriptionChange `json:"subscription,omitempty"`
	Grant        *CreditGrant        `json:"grant,omitempty"`

	// Summary is recorded on the idempotency ledger row for audits.
	Summary string `json:"summary"`
}

// ApplyOutcome classifies how the engine disposed of an event.
type ApplyOutcome string

const (
	OutcomeApplied   ApplyOutcome = "applied"
	OutcomeDuplicate ApplyOutcome = "duplicate"
	OutcomeStale     ApplyOutcome = "stale"   // older than already-applied state
	OutcomeIgnored   ApplyOutcome = "ignored" // acknowledged, nothing to do
)

// ApplyResult is the post-mutation state returned to the caller.
type ApplyResult struct {
	Outcome      ApplyOutcome        `json:"outcome"`
	Event        CanonicalEvent      `json:"event"`
	Subscription *SubscriptionRecord `json:"subscription,omitempty"`
	Balance      *CreditBalance      `json:"balance,omitempty"`
}
