package domain

import "time"

// Subscription statuses. Paused is a first-class status; the dashboard decides
// what a paused user may still do.
const (
	SubStatusActive    = "active"
	SubStatusCancelled = "cancelled"
	SubStatusExpired   = "expired"
	SubStatusPastDue   = "past_due"
	SubStatusPaused    = "paused"
)

// SubscriptionRecord is the one row per (user, provider subscription). It is
// never physically deleted; terminal states are kept for history.
type SubscriptionRecord struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"userId"`
	SubjectID          string    `json:"subjectId"` // provider subscription id
	VariantID          string    `json:"variantId"`
	Status             string    `json:"status"`
	PlanName           string    `json:"planName"`
	PlanCredits        int64     `json:"planCredits"`
	CurrentPeriodStart time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd  bool      `json:"cancelAtPeriodEnd"`

	// Version guards concurrent updates; LastEventAt is the provider timestamp
	// of the newest event applied to this record and is the tie-break for
	// out-of-order deliveries.
	Version     int64     `json:"version"`
	LastEventAt time.Time `json:"lastEventAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PaymentRecord is one completed order. Created once, immutable thereafter.
// Amounts are integer cents.
type PaymentRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	OrderID     string    `json:"orderId"` // provider order id, unique
	SubjectID   string    `json:"subjectId,omitempty"`
	AmountCents int64     `json:"amountCents"`
	Credits     int64     `json:"creditsPurchased"`
	Status      string    `json:"status"`
	Method      string    `json:"paymentMethod"`
	ProcessedAt time.Time `json:"processedAt"`
}

const PaymentStatusCompleted = "completed"

// CreditBalance is a per-user monotonic ledger. The engine only adds to
// TotalGranted; TotalConsumed is written by the analysis pipeline.
type CreditBalance struct {
	UserID        string    `json:"userId"`
	TotalGranted  int64     `json:"totalGranted"`
	TotalConsumed int64     `json:"totalConsumed"`
	Version       int64     `json:"version"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Available returns the spendable credits.
func (b CreditBalance) Available() int64 {
	return b.TotalGranted - b.TotalConsumed
}

// CreditTransaction is one append-only grant entry backing the balance.
type CreditTransaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Amount      int64     `json:"amount"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	EventID     string    `json:"eventId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IdempotencyRecord is one applied event on the ledger: created once, never
// updated, never deleted. The primary key on EventID is what closes the
// duplicate-delivery race.
type IdempotencyRecord struct {
	EventID   string    `json:"eventId"`
	EventType EventType `json:"eventType"`
	SubjectID string    `json:"subjectId"`
	UserID    string    `json:"userId"`
	Summary   string    `json:"summary"`
	AppliedAt time.Time `json:"appliedAt"`
}
