package service

import (
	"testing"
	"time"

	"github.com/describemusic/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *domain.PlanCatalog {
	return domain.NewPlanCatalog("999961", "999967", "999973")
}

func timePtr(t time.Time) *time.Time { return &t }

func activeRecord(lastEventAt time.Time) *domain.SubscriptionRecord {
	return &domain.SubscriptionRecord{
		UserID:             "user-42",
		SubjectID:          "sub-501",
		VariantID:          "999961",
		Status:             domain.SubStatusActive,
		PlanName:           "Basic Plan",
		PlanCredits:        1200,
		CurrentPeriodStart: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		LastEventAt:        lastEventAt,
		Version:            3,
	}
}

func TestReconcileOrderCreated(t *testing.T) {
	ev := domain.CanonicalEvent{
		EventID:         "wh-1",
		Type:            domain.EventOrderCreated,
		SubjectID:       "order-1001",
		OrderID:         "order-1001",
		UserID:          "user-42",
		VariantID:       "999967",
		OrderTotalCents: 1990,
		OccurredAt:      time.Date(2025, 5, 30, 10, 0, 0, 0, time.UTC),
	}

	plan, err := Reconcile(ev, nil, testCatalog())
	require.NoError(t, err)

	require.NotNil(t, plan.Payment)
	assert.Equal(t, "order-1001", plan.Payment.OrderID)
	assert.Equal(t, int64(1990), plan.Payment.AmountCents)
	assert.Equal(t, int64(3000), plan.Payment.Credits)

	require.NotNil(t, plan.Grant)
	assert.Equal(t, "user-42", plan.Grant.UserID)
	assert.Equal(t, int64(3000), plan.Grant.Credits)
	assert.Equal(t, "purchase", plan.Grant.Source)

	assert.Nil(t, plan.Subscription)
}

func TestReconcileOrderUnknownVariant(t *testing.T) {
	ev := domain.CanonicalEvent{
		Type:      domain.EventOrderCreated,
		SubjectID: "order-1001",
		UserID:    "user-42",
		VariantID: "123456",
	}
	_, err := Reconcile(ev, nil, testCatalog())
	assert.ErrorIs(t, err, domain.ErrUnknownPlan)
}

func TestReconcileSubscriptionCreated(t *testing.T) {
	occurred := time.Date(2025, 5, 30, 10, 0, 0, 0, time.UTC)
	renews := time.Date(2025, 6, 30, 10, 0, 0, 0, time.UTC)
	ev := domain.CanonicalEvent{
		EventID:     "wh-77",
		Type:        domain.EventSubscriptionCreated,
		SubjectID:   "sub-501",
		UserID:      "user-42",
		VariantID:   "999961",
		OrderID:     "1001",
		SubStatus:   "active",
		OccurredAt:  occurred,
		PeriodStart: timePtr(occurred),
		RenewsAt:    timePtr(renews),
	}

	plan, err := Reconcile(ev, nil, testCatalog())
	require.NoError(t, err)

	require.NotNil(t, plan.Subscription)
	rec := plan.Subscription.Record
	assert.Equal(t, int64(0), plan.Subscription.ExpectedVersion)
	assert.Equal(t, domain.SubStatusActive, rec.Status)
	assert.Equal(t, "Basic Plan", rec.PlanName)
	assert.Equal(t, int64(1200), rec.PlanCredits)
	assert.Equal(t, occurred, rec.CurrentPeriodStart)
	assert.Equal(t, renews, rec.CurrentPeriodEnd)
	assert.False(t, rec.CancelAtPeriodEnd)

	require.NotNil(t, plan.Grant)
	assert.Equal(t, int64(1200), plan.Grant.Credits)
	assert.Equal(t, "subscription", plan.Grant.Source)

	require.NotNil(t, plan.Payment)
	assert.Equal(t, "1001", plan.Payment.OrderID)
	assert.Equal(t, int64(990), plan.Payment.AmountCents)
}

func TestReconcileSubscriptionCreatedAlreadyExists(t *testing.T) {
	// A reordered or redelivered create must never repeat the initial grant.
	ev := domain.CanonicalEvent{
		Type:      domain.EventSubscriptionCreated,
		SubjectID: "sub-501",
		UserID:    "user-42",
		VariantID: "999961",
	}
	_, err := Reconcile(ev, activeRecord(time.Now()), testCatalog())
	assert.ErrorIs(t, err, domain.ErrStaleEvent)
}

func TestReconcileUpdatedUnknownSubject(t *testing.T) {
	ev := domain.CanonicalEvent{
		Type:      domain.EventSubscriptionUpdated,
		SubjectID: "sub-999",
	}
	_, err := Reconcile(ev, nil, testCatalog())
	assert.ErrorIs(t, err, domain.ErrUnknownSubject)
}

func TestReconcileUpdatedStale(t *testing.T) {
	last := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	ev := domain.CanonicalEvent{
		Type:       domain.EventSubscriptionUpdated,
		SubjectID:  "sub-501",
		VariantID:  "999961",
		SubStatus:  "active",
		OccurredAt: last.Add(-time.Hour),
	}
	_, err := Reconcile(ev, activeRecord(last), testCatalog())
	assert.ErrorIs(t, err, domain.ErrStaleEvent)
}

func TestReconcileUpgradeGrantsDelta(t *testing.T) {
	current := activeRecord(time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC))
	ev := domain.CanonicalEvent{
		Type:       domain.EventSubscriptionUpdated,
		SubjectID:  "sub-501",
		VariantID:  "999967", // Basic -> Pro
		SubStatus:  "active",
		OccurredAt: time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
	}

	plan, err := Reconcile(ev, current, testCatalog())
	require.NoError(t, err)

	require.NotNil(t, plan.Subscription)
	assert.Equal(t, current.Version, plan.Subscription.ExpectedVersion)
	assert.Equal(t, "Pro Plan", plan.Subscription.Record.PlanName)
	assert.Equal(t, int64(3000), plan.Subscription.Record.PlanCredits)

	require.NotNil(t, plan.Grant)
	assert.Equal(t, int64(1800), plan.Grant.Credits, "upgrade grants only the difference between plans")
}

func TestReconcileDowngradeGrantsNothing(t *testing.T) {
	current := activeRecord(time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC))
	current.VariantID = "999973"
	current.PlanName = "Premium Plan"
	current.PlanCredits = 7200

	ev := domain.CanonicalEvent{
		Type:       domain.EventSubscriptionUpdated,
		SubjectID:  "sub-501",
		VariantID:  "999961", // Premium -> Basic
		SubStatus:  "active",
		OccurredAt: time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
	}

	plan, err := Reconcile(ev, current, testCatalog())
	require.NoError(t, err)
	assert.Nil(t, plan.Grant, "downgrade must never claw back or grant credits")
	assert.Equal(t, "Basic Plan", plan.Subscription.Record.PlanName)
}

func TestReconcileRenewal(t *testing.T) {
	current := activeRecord(time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC))

	mkUpdate := func(renewsAt time.Time) domain.CanonicalEvent {
		return domain.CanonicalEvent{
			Type:       domain.EventSubscriptionUpdated,
			SubjectID:  "sub-501",
			VariantID:  "999961",
			SubStatus:  "active",
			OccurredAt: time.Date(2025, 6, 1, 0, 0, 30, 0, time.UTC),
			RenewsAt:   timePtr(renewsAt),
		}
	}

	t.Run("period advance of one month grants plan credits", func(t *testing.T) {
		plan, err := Reconcile(mkUpdate(current.CurrentPeriodEnd.AddDate(0, 1, 0)), current, testCatalog())
		require.NoError(t, err)
		require.NotNil(t, plan.Grant)
		assert.Equal(t, int64(1200), plan.Grant.Credits)
		assert.Equal(t, current.CurrentPeriodEnd.AddDate(0, 1, 0), plan.Subscription.Record.CurrentPeriodEnd)
	})

	t.Run("advance under a day is clock noise", func(t *testing.T) {
		plan, err := Reconcile(mkUpdate(current.CurrentPeriodEnd.Add(12*time.Hour)), current, testCatalog())
		require.NoError(t, err)
		assert.Nil(t, plan.Grant)
	})

	t.Run("advance over forty days is not a monthly cycle", func(t *testing.T) {
		plan, err := Reconcile(mkUpdate(current.CurrentPeriodEnd.AddDate(0, 0, 45)), current, testCatalog())
		require.NoError(t, err)
		assert.Nil(t, plan.Grant)
	})

	t.Run("no renewal credit unless both sides are active", func(t *testing.T) {
		pastDue := activeRecord(current.LastEventAt)
		pastDue.Status = domain.SubStatusPastDue
		plan, err := Reconcile(mkUpdate(current.CurrentPeriodEnd.AddDate(0, 1, 0)), pastDue, testCatalog())
		require.NoError(t, err)
		assert.Nil(t, plan.Grant)
	})
}

func TestReconcileLifecycle(t *testing.T) {
	base := time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC)
	occurred := base.Add(time.Hour)

	mk := func(eventType domain.EventType) domain.CanonicalEvent {
		return domain.CanonicalEvent{
			Type:       eventType,
			SubjectID:  "sub-501",
			OccurredAt: occurred,
		}
	}

	t.Run("cancelled keeps status until period end", func(t *testing.T) {
		plan, err := Reconcile(mk(domain.EventSubscriptionCancelled), activeRecord(base), testCatalog())
		require.NoError(t, err)
		assert.Equal(t, domain.SubStatusActive, plan.Subscription.Record.Status)
		assert.True(t, plan.Subscription.Record.CancelAtPeriodEnd)
		assert.Nil(t, plan.Grant)
	})

	t.Run("resumed clears the cancel flag", func(t *testing.T) {
		current := activeRecord(base)
		current.CancelAtPeriodEnd = true
		plan, err := Reconcile(mk(domain.EventSubscriptionResumed), current, testCatalog())
		require.NoError(t, err)
		assert.False(t, plan.Subscription.Record.CancelAtPeriodEnd)
		assert.Equal(t, domain.SubStatusActive, plan.Subscription.Record.Status)
	})

	t.Run("expired", func(t *testing.T) {
		plan, err := Reconcile(mk(domain.EventSubscriptionExpired), activeRecord(base), testCatalog())
		require.NoError(t, err)
		assert.Equal(t, domain.SubStatusExpired, plan.Subscription.Record.Status)
	})

	t.Run("paused maps to its own status", func(t *testing.T) {
		plan, err := Reconcile(mk(domain.EventSubscriptionPaused), activeRecord(base), testCatalog())
		require.NoError(t, err)
		assert.Equal(t, domain.SubStatusPaused, plan.Subscription.Record.Status)
	})

	t.Run("unpaused restores active", func(t *testing.T) {
		current := activeRecord(base)
		current.Status = domain.SubStatusPaused
		plan, err := Reconcile(mk(domain.EventSubscriptionUnpaused), current, testCatalog())
		require.NoError(t, err)
		assert.Equal(t, domain.SubStatusActive, plan.Subscription.Record.Status)
	})

	t.Run("unknown subject", func(t *testing.T) {
		_, err := Reconcile(mk(domain.EventSubscriptionCancelled), nil, testCatalog())
		assert.ErrorIs(t, err, domain.ErrUnknownSubject)
	})

	t.Run("stale lifecycle event", func(t *testing.T) {
		ev := mk(domain.EventSubscriptionCancelled)
		ev.OccurredAt = base.Add(-time.Hour)
		_, err := Reconcile(ev, activeRecord(base), testCatalog())
		assert.ErrorIs(t, err, domain.ErrStaleEvent)
	})
}

func TestMapProviderStatus(t *testing.T) {
	assert.Equal(t, domain.SubStatusActive, mapProviderStatus("active"))
	assert.Equal(t, domain.SubStatusActive, mapProviderStatus("on_trial"))
	assert.Equal(t, domain.SubStatusCancelled, mapProviderStatus("cancelled"))
	assert.Equal(t, domain.SubStatusExpired, mapProviderStatus("expired"))
	assert.Equal(t, domain.SubStatusPaused, mapProviderStatus("paused"))
	assert.Equal(t, domain.SubStatusPastDue, mapProviderStatus("unpaid"))
	assert.Equal(t, domain.SubStatusPastDue, mapProviderStatus(""))
}
