package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/describemusic/backend/internal/domain"
	"github.com/describemusic/backend/pkg/crypto"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const subscriptionColumns = `id, user_id, subject_id, variant_id, status, plan_name, plan_credits,
	current_period_start, current_period_end, cancel_at_period_end, version, last_event_at, created_at, updated_at`

// BillingRepository is the persistence gateway for the reconciliation engine.
// It owns the idempotency ledger and applies mutation plans transactionally:
// ledger reservation, subscription write, payment record, and credit grant
// commit together or not at all.
type BillingRepository struct {
	db  *pgxpool.Pool
	enc *crypto.Encryptor
}

// NewBillingRepository creates a BillingRepository. enc seals retained raw
// payloads before they reach the audit table; it may be nil in tests.
func NewBillingRepository(db *pgxpool.Pool, enc *crypto.Encryptor) *BillingRepository {
	return &BillingRepository{db: db, enc: enc}
}

// WasProcessed reports whether the ledger already holds the event id. This is
// only the fast path for redeliveries; the authoritative gate is the ledger
// insert inside Apply.
func (r *BillingRepository) WasProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM webhook_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to probe webhook ledger: %w", err)
	}
	return exists, nil
}

// FindSubscriptionBySubject returns the subscription for a provider subject id,
// or (nil, nil) when none exists.
func (r *BillingRepository) FindSubscriptionBySubject(ctx context.Context, subjectID string) (*domain.SubscriptionRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subject_id = $1`, subjectID)
	return scanSubscription(row)
}

// FindSubscriptionByUser returns the newest subscription for a user, or (nil, nil).
func (r *BillingRepository) FindSubscriptionByUser(ctx context.Context, userID string) (*domain.SubscriptionRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID)
	return scanSubscription(row)
}

// BalanceByUser returns the user's credit balance; a user with no grants yet
// has a zero balance, not a missing one.
func (r *BillingRepository) BalanceByUser(ctx context.Context, userID string) (*domain.CreditBalance, error) {
	b := domain.CreditBalance{UserID: userID, UpdatedAt: time.Now()}
	err := r.db.QueryRow(ctx,
		`SELECT total_granted, total_consumed, version, updated_at FROM credit_balances WHERE user_id = $1`,
		userID).Scan(&b.TotalGranted, &b.TotalConsumed, &b.Version, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &b, nil
		}
		return nil, fmt.Errorf("failed to read credit balance: %w", err)
	}
	return &b, nil
}

// Apply executes a mutation plan as a single transaction.
//
// The ledger insert uses ON CONFLICT DO NOTHING on the event_id primary key:
// if another delivery of the same event already reserved the id, zero rows
// come back and the whole transaction rolls back with ErrDuplicateEvent.
// Subscription updates are guarded by the version read with the snapshot; a
// lost race surfaces as ErrPersistenceConflict so the caller can re-read and
// re-plan.
func (r *BillingRepository) Apply(ctx context.Context, plan *domain.MutationPlan) (*domain.ApplyResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Reserve the event id on the ledger.
	sealed, err := r.sealPayload(plan.Event.RawPayload)
	if err != nil {
		return nil, err
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO webhook_events (event_id, event_type, subject_id, user_id, summary, raw_payload, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`, plan.Event.EventID, string(plan.Event.Type), plan.Event.SubjectID, plan.Event.UserID, plan.Summary, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve event %s: %w", plan.Event.EventID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrDuplicateEvent
	}

	result := &domain.ApplyResult{Outcome: domain.OutcomeApplied, Event: plan.Event}

	// 2. Subscription write.
	if plan.Subscription != nil {
		sub, err := applySubscription(ctx, tx, plan.Subscription)
		if err != nil {
			return nil, err
		}
		result.Subscription = sub
	}

	// 3. Payment record. A duplicate order id across distinct event ids means
	// the order is already on file; that is not an error.
	if plan.Payment != nil {
		p := plan.Payment
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO payment_records (id, user_id, order_id, subject_id, amount_cents, credits, status, method, processed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (order_id) DO NOTHING
		`, p.ID, p.UserID, p.OrderID, p.SubjectID, p.AmountCents, p.Credits, p.Status, p.Method)
		if err != nil {
			return nil, fmt.Errorf("failed to insert payment record: %w", err)
		}
	}

	// 4. Credit grant: balance upsert plus append-only transaction row.
	if plan.Grant != nil {
		balance, err := applyGrant(ctx, tx, plan.Grant, plan.Event.EventID)
		if err != nil {
			return nil, err
		}
		result.Balance = balance
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit failed: %v", domain.ErrPersistenceConflict, err)
	}
	return result, nil
}

func applySubscription(ctx context.Context, tx pgx.Tx, change *domain.SubscriptionChange) (*domain.SubscriptionRecord, error) {
	rec := change.Record

	if change.ExpectedVersion == 0 {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		rec.Version = 1
		tag, err := tx.Exec(ctx, `
			INSERT INTO subscriptions (id, user_id, subject_id, variant_id, status, plan_name, plan_credits,
				current_period_start, current_period_end, cancel_at_period_end, version, last_event_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, NOW(), NOW())
			ON CONFLICT (subject_id) DO NOTHING
		`, rec.ID, rec.UserID, rec.SubjectID, rec.VariantID, rec.Status, rec.PlanName, rec.PlanCredits,
			rec.CurrentPeriodStart, rec.CurrentPeriodEnd, rec.CancelAtPeriodEnd, rec.LastEventAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert subscription: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// A concurrent request created the subject first.
			return nil, domain.ErrPersistenceConflict
		}
		return &rec, nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE subscriptions
		SET status = $1, plan_name = $2, plan_credits = $3, variant_id = $4,
			current_period_start = $5, current_period_end = $6, cancel_at_period_end = $7,
			last_event_at = $8, version = version + 1, updated_at = NOW()
		WHERE subject_id = $9 AND version = $10
	`, rec.Status, rec.PlanName, rec.PlanCredits, rec.VariantID,
		rec.CurrentPeriodStart, rec.CurrentPeriodEnd, rec.CancelAtPeriodEnd,
		rec.LastEventAt, rec.SubjectID, change.ExpectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrPersistenceConflict
	}
	rec.Version = change.ExpectedVersion + 1
	return &rec, nil
}

func applyGrant(ctx context.Context, tx pgx.Tx, grant *domain.CreditGrant, eventID string) (*domain.CreditBalance, error) {
	b := domain.CreditBalance{UserID: grant.UserID}
	err := tx.QueryRow(ctx, `
		INSERT INTO credit_balances (user_id, total_granted, total_consumed, version, updated_at)
		VALUES ($1, $2, 0, 1, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET total_granted = credit_balances.total_granted + EXCLUDED.total_granted,
			version = credit_balances.version + 1, updated_at = NOW()
		RETURNING total_granted, total_consumed, version, updated_at
	`, grant.UserID, grant.Credits).Scan(&b.TotalGranted, &b.TotalConsumed, &b.Version, &b.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to grant credits: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_transactions (id, user_id, amount, source, description, event_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, uuid.New().String(), grant.UserID, grant.Credits, grant.Source, grant.Description, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to record credit transaction: %w", err)
	}
	return &b, nil
}

// RecentEvents returns the newest ledger entries for the reconciliation audit.
func (r *BillingRepository) RecentEvents(ctx context.Context, limit int) ([]*domain.IdempotencyRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT event_id, event_type, subject_id, COALESCE(user_id, ''), summary, applied_at
		FROM webhook_events ORDER BY applied_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer rows.Close()

	var records []*domain.IdempotencyRecord
	for rows.Next() {
		var rec domain.IdempotencyRecord
		var eventType string
		if err := rows.Scan(&rec.EventID, &eventType, &rec.SubjectID, &rec.UserID, &rec.Summary, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		rec.EventType = domain.EventType(eventType)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// RecentPayments returns the newest payment records for the audit view.
func (r *BillingRepository) RecentPayments(ctx context.Context, limit int) ([]*domain.PaymentRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, order_id, COALESCE(subject_id, ''), amount_cents, credits, status, method, processed_at
		FROM payment_records ORDER BY processed_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment records: %w", err)
	}
	defer rows.Close()

	var records []*domain.PaymentRecord
	for rows.Next() {
		var p domain.PaymentRecord
		if err := rows.Scan(&p.ID, &p.UserID, &p.OrderID, &p.SubjectID, &p.AmountCents, &p.Credits, &p.Status, &p.Method, &p.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment record: %w", err)
		}
		records = append(records, &p)
	}
	return records, rows.Err()
}

// EventPayload returns the decrypted raw payload for one ledger entry, for
// manual reconciliation of a disputed event.
func (r *BillingRepository) EventPayload(ctx context.Context, eventID string) ([]byte, error) {
	var sealed *string
	err := r.db.QueryRow(ctx,
		`SELECT raw_payload FROM webhook_events WHERE event_id = $1`, eventID).Scan(&sealed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound("event not found")
		}
		return nil, fmt.Errorf("failed to read event payload: %w", err)
	}
	if sealed == nil || *sealed == "" {
		return nil, nil
	}
	if r.enc == nil {
		return []byte(*sealed), nil
	}
	return r.enc.Decrypt(*sealed)
}

func (r *BillingRepository) sealPayload(raw []byte) (*string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if r.enc == nil {
		s := string(raw)
		return &s, nil
	}
	sealed, err := r.enc.Encrypt(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to seal raw payload: %w", err)
	}
	return &sealed, nil
}

func scanSubscription(row pgx.Row) (*domain.SubscriptionRecord, error) {
	var s domain.SubscriptionRecord
	err := row.Scan(
		&s.ID, &s.UserID, &s.SubjectID, &s.VariantID, &s.Status, &s.PlanName, &s.PlanCredits,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd, &s.Version, &s.LastEventAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return &s, nil
}
