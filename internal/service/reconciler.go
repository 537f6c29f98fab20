package service

import (
	"fmt"
	"time"

	"github.com/describemusic/backend/internal/domain"
)

// Renewal detection bounds: a period-end jump shorter than a day is clock
// noise from the provider, longer than 40 days is not a monthly cycle.
const (
	minRenewalAdvance = 24 * time.Hour
	maxRenewalAdvance = 40 * 24 * time.Hour
)

// Reconcile computes the mutation plan for one canonical event against the
// current persisted snapshot for its subject. It is a pure function: no
// writes, no clock, no I/O. current is nil when the subject has no record yet.
//
// Error semantics: ErrUnknownPlan and ErrUnknownSubject mean redelivery cannot
// help (acknowledge and drop); ErrStaleEvent means newer state for the subject
// is already applied and the event is a no-op.
func Reconcile(ev domain.CanonicalEvent, current *domain.SubscriptionRecord, catalog *domain.PlanCatalog) (*domain.MutationPlan, error) {
	switch ev.Type {
	case domain.EventOrderCreated:
		return reconcileOrder(ev, catalog)
	case domain.EventSubscriptionCreated:
		return reconcileSubscriptionCreated(ev, current, catalog)
	case domain.EventSubscriptionUpdated:
		return reconcileSubscriptionUpdated(ev, current, catalog)
	case domain.EventSubscriptionCancelled,
		domain.EventSubscriptionResumed,
		domain.EventSubscriptionExpired,
		domain.EventSubscriptionPaused,
		domain.EventSubscriptionUnpaused:
		return reconcileLifecycle(ev, current)
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedEventType, ev.Type)
}

func reconcileOrder(ev domain.CanonicalEvent, catalog *domain.PlanCatalog) (*domain.MutationPlan, error) {
	plan, ok := catalog.ByVariant(ev.VariantID)
	if !ok {
		return nil, fmt.Errorf("%w: variant %s on order %s", domain.ErrUnknownPlan, ev.VariantID, ev.SubjectID)
	}

	return &domain.MutationPlan{
		Event: ev,
		Payment: &domain.PaymentRecord{
			UserID:      ev.UserID,
			OrderID:     ev.OrderID,
			AmountCents: ev.OrderTotalCents,
			Credits:     plan.Credits,
			Status:      domain.PaymentStatusCompleted,
			Method:      "Purchase: " + plan.Name,
		},
		Grant: &domain.CreditGrant{
			UserID:      ev.UserID,
			Credits:     plan.Credits,
			Source:      "purchase",
			Description: "Purchase: " + plan.Name,
		},
		Summary: fmt.Sprintf("order %s: +%d credits (%s)", ev.SubjectID, plan.Credits, plan.Name),
	}, nil
}

func reconcileSubscriptionCreated(ev domain.CanonicalEvent, current *domain.SubscriptionRecord, catalog *domain.PlanCatalog) (*domain.MutationPlan, error) {
	// A record for the subject means the initial grant already happened; a
	// redelivered or reordered create must never repeat it.
	if current != nil {
		return nil, fmt.Errorf("%w: subscription %s already exists", domain.ErrStaleEvent, ev.SubjectID)
	}

	plan, ok := catalog.ByVariant(ev.VariantID)
	if !ok {
		return nil, fmt.Errorf("%w: variant %s on subscription %s", domain.ErrUnknownPlan, ev.VariantID, ev.SubjectID)
	}

	periodStart := ev.OccurredAt
	if ev.PeriodStart != nil {
		periodStart = *ev.PeriodStart
	}
	periodEnd := periodStart.AddDate(0, 1, 0)
	if ev.RenewsAt != nil {
		periodEnd = *ev.RenewsAt
	}

	record := domain.SubscriptionRecord{
		UserID:             ev.UserID,
		SubjectID:          ev.SubjectID,
		VariantID:          ev.VariantID,
		Status:             domain.SubStatusActive,
		PlanName:           plan.Name,
		PlanCredits:        plan.Credits,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
		CancelAtPeriodEnd:  false,
		LastEventAt:        ev.OccurredAt,
	}

	mp := &domain.MutationPlan{
		Event:        ev,
		Subscription: &domain.SubscriptionChange{Record: record, ExpectedVersion: 0},
		Grant: &domain.CreditGrant{
			UserID:      ev.UserID,
			Credits:     plan.Credits,
			Source:      "subscription",
			Description: "Subscription: " + plan.Name,
		},
		Summary: fmt.Sprintf("subscription %s created: %s, +%d credits", ev.SubjectID, plan.Name, plan.Credits),
	}
	if ev.OrderID != "" {
		mp.Payment = &domain.PaymentRecord{
			UserID:      ev.UserID,
			OrderID:     ev.OrderID,
			SubjectID:   ev.SubjectID,
			AmountCents: plan.PriceCents,
			Credits:     plan.Credits,
			Status:      domain.PaymentStatusCompleted,
			Method:      "Subscription: " + plan.Name,
		}
	}
	return mp, nil
}

func reconcileSubscriptionUpdated(ev domain.CanonicalEvent, current *domain.SubscriptionRecord, catalog *domain.PlanCatalog) (*domain.MutationPlan, error) {
	if current == nil {
		return nil, fmt.Errorf("%w: subscription %s", domain.ErrUnknownSubject, ev.SubjectID)
	}
	if ev.OccurredAt.Before(current.LastEventAt) {
		return nil, fmt.Errorf("%w: subscription %s", domain.ErrStaleEvent, ev.SubjectID)
	}

	record := *current
	record.Status = mapProviderStatus(ev.SubStatus)
	record.CancelAtPeriodEnd = ev.Cancelled
	record.LastEventAt = ev.OccurredAt
	if ev.PeriodStart != nil {
		record.CurrentPeriodStart = *ev.PeriodStart
	}
	if ev.RenewsAt != nil {
		record.CurrentPeriodEnd = *ev.RenewsAt
	}

	userID := ev.UserID
	if userID == "" {
		userID = current.UserID
	}

	var grant *domain.CreditGrant
	summary := fmt.Sprintf("subscription %s updated: status %s", ev.SubjectID, record.Status)

	if ev.VariantID != "" && ev.VariantID != current.VariantID {
		// Plan change: grant only the difference to the new plan, never a
		// negative amount on downgrade.
		newPlan, ok := catalog.ByVariant(ev.VariantID)
		if !ok {
			return nil, fmt.Errorf("%w: variant %s on subscription %s", domain.ErrUnknownPlan, ev.VariantID, ev.SubjectID)
		}
		record.VariantID = newPlan.VariantID
		record.PlanName = newPlan.Name
		record.PlanCredits = newPlan.Credits

		if delta := newPlan.Credits - current.PlanCredits; delta > 0 {
			grant = &domain.CreditGrant{
				UserID:      userID,
				Credits:     delta,
				Source:      "subscription",
				Description: fmt.Sprintf("Plan change: %s -> %s", current.PlanName, newPlan.Name),
			}
		}
		summary = fmt.Sprintf("subscription %s: plan %s -> %s", ev.SubjectID, current.PlanName, newPlan.Name)
	} else if isRenewal(ev, current) {
		grant = &domain.CreditGrant{
			UserID:      userID,
			Credits:     current.PlanCredits,
			Source:      "subscription",
			Description: fmt.Sprintf("Subscription Renewal: %s (%s)", current.PlanName, ev.RenewsAt.UTC().Format(time.RFC3339)),
		}
		summary = fmt.Sprintf("subscription %s renewed: +%d credits", ev.SubjectID, current.PlanCredits)
	}

	return &domain.MutationPlan{
		Event:        ev,
		Subscription: &domain.SubscriptionChange{Record: record, ExpectedVersion: current.Version},
		Grant:        grant,
		Summary:      summary,
	}, nil
}

// isRenewal reports whether an update advances the billing period into a new
// monthly cycle on an already-active subscription.
func isRenewal(ev domain.CanonicalEvent, current *domain.SubscriptionRecord) bool {
	if ev.SubStatus != domain.SubStatusActive || current.Status != domain.SubStatusActive {
		return false
	}
	if ev.RenewsAt == nil {
		return false
	}
	advance := ev.RenewsAt.Sub(current.CurrentPeriodEnd)
	return advance > minRenewalAdvance && advance < maxRenewalAdvance
}

func reconcileLifecycle(ev domain.CanonicalEvent, current *domain.SubscriptionRecord) (*domain.MutationPlan, error) {
	if current == nil {
		return nil, fmt.Errorf("%w: subscription %s", domain.ErrUnknownSubject, ev.SubjectID)
	}
	if ev.OccurredAt.Before(current.LastEventAt) {
		return nil, fmt.Errorf("%w: subscription %s", domain.ErrStaleEvent, ev.SubjectID)
	}

	record := *current
	record.LastEventAt = ev.OccurredAt

	switch ev.Type {
	case domain.EventSubscriptionCancelled:
		// Access runs until the period ends; only the flag flips now.
		record.CancelAtPeriodEnd = true
	case domain.EventSubscriptionResumed:
		record.CancelAtPeriodEnd = false
		record.Status = domain.SubStatusActive
	case domain.EventSubscriptionExpired:
		record.Status = domain.SubStatusExpired
	case domain.EventSubscriptionPaused:
		record.Status = domain.SubStatusPaused
	case domain.EventSubscriptionUnpaused:
		record.Status = domain.SubStatusActive
	}

	return &domain.MutationPlan{
		Event:        ev,
		Subscription: &domain.SubscriptionChange{Record: record, ExpectedVersion: current.Version},
		Summary:      fmt.Sprintf("subscription %s: %s", ev.SubjectID, ev.Type),
	}, nil
}

// mapProviderStatus maps the provider's subscription status strings onto ours.
func mapProviderStatus(status string) string {
	switch status {
	case "active", "on_trial":
		return domain.SubStatusActive
	case "cancelled":
		return domain.SubStatusCancelled
	case "expired":
		return domain.SubStatusExpired
	case "paused":
		return domain.SubStatusPaused
	default:
		return domain.SubStatusPastDue
	}
}
