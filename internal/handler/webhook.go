package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/describemusic/backend/internal/domain"
	"github.com/describemusic/backend/internal/service"
	"github.com/describemusic/backend/pkg/payment"
)

// maxWebhookBody caps the raw body read; provider payloads are a few KB.
const maxWebhookBody = 1 << 20

// WebhookHandler receives payment lifecycle notifications and acknowledges
// them per the provider's retry contract.
type WebhookHandler struct {
	gateway payment.Gateway
	billing *service.BillingService
}

func NewWebhookHandler(gateway payment.Gateway, billing *service.BillingService) *WebhookHandler {
	return &WebhookHandler{gateway: gateway, billing: billing}
}

// HandleLemonSqueezy handles POST /api/payment/webhook.
//
// Acknowledgement policy: 200 for applied events AND for duplicates, stale
// deliveries, unsupported types, unknown subjects/plans, and missing user
// bindings — redelivering any of those cannot change the outcome and the
// provider must stop retrying. 401 for a bad signature. 400 for a body that
// does not parse as the provider envelope: the same bytes arrive on every
// redelivery, so unparseable payloads are treated as permanently invalid by
// policy. 503 only when a persistence conflict survived local retries, where
// redelivery IS the remedy.
func (h *WebhookHandler) HandleLemonSqueezy(w http.ResponseWriter, r *http.Request) {
	// The signature covers the exact raw bytes; read them before anything
	// can touch the body.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		JSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	if len(body) > maxWebhookBody {
		JSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return
	}

	if !h.gateway.VerifySignature(body, r.Header.Get("X-Signature")) {
		log.Printf("[webhook] signature mismatch from %s", r.RemoteAddr)
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	result, err := h.billing.ProcessEvent(r.Context(), body, time.Now())
	if err != nil {
		h.acknowledgeError(w, err)
		return
	}

	log.Printf("[webhook] event=%s type=%s outcome=%s", result.Event.EventID, result.Event.Type, result.Outcome)
	JSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) acknowledgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMalformedPayload):
		log.Printf("[webhook] malformed payload: %v", err)
		JSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload structure"})

	case errors.Is(err, domain.ErrUnsupportedEventType),
		errors.Is(err, domain.ErrMissingUserBinding),
		errors.Is(err, domain.ErrUnknownSubject),
		errors.Is(err, domain.ErrUnknownPlan):
		// Acknowledge-and-drop: log loudly enough for a manual reconciliation
		// audit, but never make the provider retry these.
		log.Printf("[webhook] dropped event: %v", err)
		JSON(w, http.StatusOK, map[string]bool{"received": true})

	case errors.Is(err, domain.ErrPersistenceConflict):
		log.Printf("[webhook] transient failure, provider will redeliver: %v", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporary failure, please retry"})

	default:
		log.Printf("[webhook] unexpected error: %v", err)
		JSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
