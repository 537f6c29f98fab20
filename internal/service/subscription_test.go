package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/describemusic/backend/internal/domain"
	"github.com/describemusic/backend/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	sub     *domain.SubscriptionRecord
	balance *domain.CreditBalance
}

func (r *fakeReader) FindSubscriptionByUser(ctx context.Context, userID string) (*domain.SubscriptionRecord, error) {
	return r.sub, nil
}

func (r *fakeReader) BalanceByUser(ctx context.Context, userID string) (*domain.CreditBalance, error) {
	return r.balance, nil
}

func TestCreateCheckout(t *testing.T) {
	svc := NewSubscriptionService(&fakeReader{}, payment.NewMockGateway(), testCatalog())
	ctx := context.Background()

	t.Run("valid plan", func(t *testing.T) {
		resp, err := svc.CreateCheckout(ctx, "user-42", &domain.CreateCheckoutRequest{Plan: "pro"})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.CheckoutURL)
		assert.NotEmpty(t, resp.OrderRef)
	})

	t.Run("plan outside the allowed set", func(t *testing.T) {
		_, err := svc.CreateCheckout(ctx, "user-42", &domain.CreateCheckoutRequest{Plan: "enterprise"})
		require.Error(t, err)
		var appErr *domain.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, http.StatusUnprocessableEntity, appErr.Code)
	})

	t.Run("missing plan", func(t *testing.T) {
		_, err := svc.CreateCheckout(ctx, "user-42", &domain.CreateCheckoutRequest{})
		assert.Error(t, err)
	})
}

func TestGetCurrentSubscriptionAndBalance(t *testing.T) {
	reader := &fakeReader{
		sub: &domain.SubscriptionRecord{
			UserID:   "user-42",
			PlanName: "Pro Plan",
			Status:   domain.SubStatusActive,
		},
		balance: &domain.CreditBalance{
			UserID:       "user-42",
			TotalGranted: 3000,
			UpdatedAt:    time.Now(),
		},
	}
	svc := NewSubscriptionService(reader, payment.NewMockGateway(), testCatalog())

	sub, err := svc.GetCurrentSubscription(context.Background(), "user-42")
	require.NoError(t, err)
	assert.Equal(t, "Pro Plan", sub.PlanName)

	bal, err := svc.GetBalance(context.Background(), "user-42")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), bal.Available())
}
