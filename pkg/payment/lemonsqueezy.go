package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.lemonsqueezy.com"

// LemonSqueezy talks to the Lemon Squeezy API and verifies its webhooks.
type LemonSqueezy struct {
	apiKey        string
	storeID       string
	webhookSecret string
	apiBase       string
	client        *http.Client
}

// NewLemonSqueezy creates a gateway for the given store. The webhook secret is
// the pre-shared signing secret configured on the provider dashboard.
func NewLemonSqueezy(apiKey, storeID, webhookSecret string) *LemonSqueezy {
	return &LemonSqueezy{
		apiKey:        apiKey,
		storeID:       storeID,
		webhookSecret: webhookSecret,
		apiBase:       defaultAPIBase,
		client:        &http.Client{Timeout: 15 * time.Second},
	}
}

// WithAPIBase overrides the API endpoint (tests).
func (g *LemonSqueezy) WithAPIBase(base string) *LemonSqueezy {
	g.apiBase = strings.TrimRight(base, "/")
	return g
}

// VerifySignature checks the X-Signature header (hex HMAC-SHA256 over the raw
// body, with or without a "sha256=" prefix) in constant time.
func (g *LemonSqueezy) VerifySignature(payload []byte, signatureHeader string) bool {
	sig := strings.TrimSpace(signatureHeader)
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" || g.webhookSecret == "" {
		return false
	}

	provided, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(payload)
	return hmac.Equal(provided, mac.Sum(nil))
}

// checkoutRequest is the JSON:API body for POST /v1/checkouts.
type checkoutRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			CheckoutData struct {
				Custom map[string]string `json:"custom"`
			} `json:"checkout_data"`
		} `json:"attributes"`
		Relationships struct {
			Store   relationship `json:"store"`
			Variant relationship `json:"variant"`
		} `json:"relationships"`
	} `json:"data"`
}

type relationship struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

type checkoutResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			URL string `json:"url"`
		} `json:"attributes"`
	} `json:"data"`
}

// CreateCheckout creates a hosted checkout for the variant, binding the
// application user id into checkout_data.custom so the webhook can resolve it
// from meta.custom_data.user_id later.
func (g *LemonSqueezy) CreateCheckout(ctx context.Context, userID, variantID string) (*Checkout, error) {
	orderRef := NewOrderRef()

	var req checkoutRequest
	req.Data.Type = "checkouts"
	req.Data.Attributes.CheckoutData.Custom = map[string]string{
		"user_id":   userID,
		"order_ref": orderRef,
	}
	req.Data.Relationships.Store.Data.Type = "stores"
	req.Data.Relationships.Store.Data.ID = g.storeID
	req.Data.Relationships.Variant.Data.Type = "variants"
	req.Data.Relationships.Variant.Data.ID = variantID

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkout request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBase+"/v1/checkouts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build checkout request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/vnd.api+json")
	httpReq.Header.Set("Content-Type", "application/vnd.api+json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("checkout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("checkout request returned status %d", resp.StatusCode)
	}

	var parsed checkoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode checkout response: %w", err)
	}
	if parsed.Data.Attributes.URL == "" {
		return nil, fmt.Errorf("checkout response missing url")
	}

	return &Checkout{URL: parsed.Data.Attributes.URL, OrderRef: orderRef}, nil
}
