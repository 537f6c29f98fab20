package handler

import (
	"log"
	"net/http"
	"strconv"

	"github.com/describemusic/backend/internal/repository"
	"github.com/describemusic/backend/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultAuditLimit = 50

// AdminHandler serves the billing reconciliation audit and system stats.
type AdminHandler struct {
	db      *pgxpool.Pool
	billing *repository.BillingRepository
	authSvc *service.AuthService
}

func NewAdminHandler(db *pgxpool.Pool, billing *repository.BillingRepository, authSvc *service.AuthService) *AdminHandler {
	return &AdminHandler{db: db, billing: billing, authSvc: authSvc}
}

// GetStats returns system-wide metrics.
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	var usersCount, activeSubs, eventsCount int
	var creditsGranted int64

	if err := h.db.QueryRow(r.Context(), "SELECT COUNT(*) FROM users").Scan(&usersCount); err != nil {
		log.Printf("Failed to count users: %v", err)
	}
	if err := h.db.QueryRow(r.Context(), "SELECT COUNT(*) FROM subscriptions WHERE status = 'active'").Scan(&activeSubs); err != nil {
		log.Printf("Failed to count subscriptions: %v", err)
	}
	if err := h.db.QueryRow(r.Context(), "SELECT COUNT(*) FROM webhook_events").Scan(&eventsCount); err != nil {
		log.Printf("Failed to count webhook events: %v", err)
	}
	if err := h.db.QueryRow(r.Context(), "SELECT COALESCE(SUM(total_granted), 0) FROM credit_balances").Scan(&creditsGranted); err != nil {
		log.Printf("Failed to sum granted credits: %v", err)
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"users":               usersCount,
		"activeSubscriptions": activeSubs,
		"webhookEvents":       eventsCount,
		"creditsGranted":      creditsGranted,
	})
}

// ListUsers returns all users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.authSvc.ListUsers(r.Context())
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, users)
}

// ListBillingEvents handles GET /api/admin/billing/events — the idempotency
// ledger, newest first, for manual reconciliation audits.
func (h *AdminHandler) ListBillingEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.billing.RecentEvents(r.Context(), auditLimit(r))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, events)
}

// GetBillingEventPayload handles GET /api/admin/billing/events/{id}/payload,
// returning the decrypted raw provider payload for one ledger entry.
func (h *AdminHandler) GetBillingEventPayload(w http.ResponseWriter, r *http.Request) {
	payload, err := h.billing.EventPayload(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// ListPayments handles GET /api/admin/billing/payments.
func (h *AdminHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.billing.RecentPayments(r.Context(), auditLimit(r))
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, payments)
}

func auditLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			return n
		}
	}
	return defaultAuditLimit
}
