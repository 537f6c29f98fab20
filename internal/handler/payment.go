package handler

import (
	"net/http"

	"github.com/describemusic/backend/internal/contextkeys"
	"github.com/describemusic/backend/internal/domain"
	"github.com/describemusic/backend/internal/service"
)

type PaymentHandler struct {
	svc *service.SubscriptionService
}

func NewPaymentHandler(svc *service.SubscriptionService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// CreateCheckout handles POST /api/payment/checkout.
func (h *PaymentHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(contextkeys.UserID).(string)
	if !ok || userID == "" {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req domain.CreateCheckoutRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	resp, err := h.svc.CreateCheckout(r.Context(), userID, &req)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, resp)
}

// GetSubscription handles GET /api/payment/subscription.
func (h *PaymentHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(contextkeys.UserID).(string)
	if !ok || userID == "" {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	sub, err := h.svc.GetCurrentSubscription(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}

	if sub == nil {
		JSON(w, http.StatusOK, map[string]interface{}{"status": "none"})
		return
	}

	JSON(w, http.StatusOK, sub)
}

// GetCredits handles GET /api/payment/credits.
func (h *PaymentHandler) GetCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(contextkeys.UserID).(string)
	if !ok || userID == "" {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	balance, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"totalGranted":  balance.TotalGranted,
		"totalConsumed": balance.TotalConsumed,
		"available":     balance.Available(),
	})
}
