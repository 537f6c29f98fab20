package payment

import (
	"context"

	"github.com/google/uuid"
)

// NewOrderRef generates a reference attached to a checkout session.
func NewOrderRef() string {
	return uuid.New().String()
}

// MockGateway is a dummy implementation for local development and tests.
type MockGateway struct {
	// Valid controls what VerifySignature returns.
	Valid bool
}

func NewMockGateway() *MockGateway {
	return &MockGateway{Valid: true}
}

func (g *MockGateway) CreateCheckout(ctx context.Context, userID, variantID string) (*Checkout, error) {
	ref := NewOrderRef()
	return &Checkout{
		URL:      "https://example.lemonsqueezy.com/checkout?ref=" + ref,
		OrderRef: ref,
	}, nil
}

func (g *MockGateway) VerifySignature(payload []byte, signatureHeader string) bool {
	return g.Valid
}
