package service

import (
	"context"

	"github.com/describemusic/backend/internal/domain"
	"github.com/describemusic/backend/pkg/payment"
	"github.com/go-playground/validator/v10"
)

// SubscriptionReader is the read surface for the dashboard API.
type SubscriptionReader interface {
	FindSubscriptionByUser(ctx context.Context, userID string) (*domain.SubscriptionRecord, error)
	BalanceByUser(ctx context.Context, userID string) (*domain.CreditBalance, error)
}

// SubscriptionService backs the authenticated payment/subscription endpoints.
// All subscription state is written by the webhook engine; this service only
// reads it and starts checkouts.
type SubscriptionService struct {
	reader   SubscriptionReader
	gateway  payment.Gateway
	catalog  *domain.PlanCatalog
	validate *validator.Validate
}

func NewSubscriptionService(reader SubscriptionReader, gateway payment.Gateway, catalog *domain.PlanCatalog) *SubscriptionService {
	return &SubscriptionService{
		reader:   reader,
		gateway:  gateway,
		catalog:  catalog,
		validate: validator.New(),
	}
}

// GetCurrentSubscription returns the newest subscription for a user, or nil.
func (s *SubscriptionService) GetCurrentSubscription(ctx context.Context, userID string) (*domain.SubscriptionRecord, error) {
	return s.reader.FindSubscriptionByUser(ctx, userID)
}

// GetBalance returns the user's credit balance (zero-valued for new users).
func (s *SubscriptionService) GetBalance(ctx context.Context, userID string) (*domain.CreditBalance, error) {
	return s.reader.BalanceByUser(ctx, userID)
}

// CreateCheckout starts a provider checkout for a plan. The user id rides
// along as custom metadata so the webhook can bind the resulting events back
// to the account.
func (s *SubscriptionService) CreateCheckout(ctx context.Context, userID string, req *domain.CreateCheckoutRequest) (*domain.CheckoutResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	plan, ok := s.catalog.ByID(req.Plan)
	if !ok {
		return nil, domain.ErrBadRequest("unknown plan")
	}

	checkout, err := s.gateway.CreateCheckout(ctx, userID, plan.VariantID)
	if err != nil {
		return nil, domain.ErrInternal("failed to create checkout", err)
	}

	return &domain.CheckoutResponse{
		CheckoutURL: checkout.URL,
		OrderRef:    checkout.OrderRef,
	}, nil
}
