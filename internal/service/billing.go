package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/describemusic/backend/internal/domain"
)

// applyAttempts bounds the re-read/re-plan loop on persistence conflicts. The
// provider's own redelivery is the backstop beyond this.
const applyAttempts = 3

// BillingStore is the persistence surface the engine consumes.
type BillingStore interface {
	WasProcessed(ctx context.Context, eventID string) (bool, error)
	FindSubscriptionBySubject(ctx context.Context, subjectID string) (*domain.SubscriptionRecord, error)
	Apply(ctx context.Context, plan *domain.MutationPlan) (*domain.ApplyResult, error)
}

// EventPublisher receives applied-event summaries (the admin live feed). It
// must not block the webhook path.
type EventPublisher interface {
	PublishApplied(result *domain.ApplyResult)
}

// BillingService runs the reconciliation pipeline for verified webhook bytes:
// normalize, dedup, reconcile, apply.
type BillingService struct {
	store     BillingStore
	catalog   *domain.PlanCatalog
	publisher EventPublisher
}

// NewBillingService creates a BillingService. publisher may be nil.
func NewBillingService(store BillingStore, catalog *domain.PlanCatalog, publisher EventPublisher) *BillingService {
	return &BillingService{store: store, catalog: catalog, publisher: publisher}
}

// ProcessEvent applies one verified webhook delivery exactly once.
//
// Duplicate and stale deliveries return a result (never an error): the
// provider must see success for those or it will retry forever. Errors from
// the taxonomy (unknown plan/subject, missing binding, malformed payload)
// propagate for the handler to classify.
func (s *BillingService) ProcessEvent(ctx context.Context, raw []byte, receivedAt time.Time) (*domain.ApplyResult, error) {
	ev, err := NormalizeEvent(raw, receivedAt)
	if err != nil {
		return nil, err
	}

	// Fast path for redeliveries; the authoritative gate is the ledger insert
	// inside Apply.
	seen, err := s.store.WasProcessed(ctx, ev.EventID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceConflict, err)
	}
	if seen {
		log.Printf("[billing] duplicate delivery event=%s type=%s subject=%s", ev.EventID, ev.Type, ev.SubjectID)
		return &domain.ApplyResult{Outcome: domain.OutcomeDuplicate, Event: *ev}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= applyAttempts; attempt++ {
		var current *domain.SubscriptionRecord
		if ev.Type.IsSubscriptionEvent() {
			current, err = s.store.FindSubscriptionBySubject(ctx, ev.SubjectID)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceConflict, err)
			}
		}

		plan, err := Reconcile(*ev, current, s.catalog)
		if err != nil {
			if errors.Is(err, domain.ErrStaleEvent) {
				log.Printf("[billing] stale event=%s type=%s subject=%s: %v", ev.EventID, ev.Type, ev.SubjectID, err)
				return &domain.ApplyResult{Outcome: domain.OutcomeStale, Event: *ev}, nil
			}
			return nil, err
		}

		result, err := s.store.Apply(ctx, plan)
		if err == nil {
			log.Printf("[billing] applied event=%s type=%s subject=%s user=%s summary=%q",
				ev.EventID, ev.Type, ev.SubjectID, ev.UserID, plan.Summary)
			if s.publisher != nil {
				s.publisher.PublishApplied(result)
			}
			return result, nil
		}
		if errors.Is(err, domain.ErrDuplicateEvent) {
			// A concurrent delivery won the ledger reservation.
			log.Printf("[billing] concurrent duplicate event=%s type=%s", ev.EventID, ev.Type)
			return &domain.ApplyResult{Outcome: domain.OutcomeDuplicate, Event: *ev}, nil
		}
		if !errors.Is(err, domain.ErrPersistenceConflict) {
			return nil, err
		}
		lastErr = err
		log.Printf("[billing] conflict on event=%s attempt=%d/%d, re-reading snapshot", ev.EventID, attempt, applyAttempts)
	}

	return nil, fmt.Errorf("%w: event %s gave up after %d attempts: %v",
		domain.ErrPersistenceConflict, ev.EventID, applyAttempts, lastErr)
}
