package payment

import "context"

// Gateway defines the interface for the payment provider.
type Gateway interface {
	// CreateCheckout creates a hosted checkout session for a plan variant and
	// returns the URL to redirect the user to. The application user id MUST be
	// attached as custom metadata so the webhook can resolve identity without
	// a separate lookup.
	CreateCheckout(ctx context.Context, userID, variantID string) (*Checkout, error)

	// VerifySignature checks the webhook signature header against the exact
	// raw request bytes. Any re-serialization before this call invalidates the
	// signature.
	VerifySignature(payload []byte, signatureHeader string) bool
}

// Checkout is a created checkout session.
type Checkout struct {
	URL      string
	OrderRef string // our reference attached to the session, for support lookups
}
