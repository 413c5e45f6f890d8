package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	ledgerdomain "github.com/juftlik/tolov/internal/ledger/domain"
	providerdomain "github.com/juftlik/tolov/internal/provider/domain"
	subscriptiondomain "github.com/juftlik/tolov/internal/subscription/domain"
)

// CheckoutRequest starts a subscription purchase with the chosen provider.
type CheckoutRequest struct {
	UserID          snowflake.ID
	PlanID          snowflake.ID
	Provider        string
	PaymentMethodID string
	TrialDays       int

	// IdempotencyKey is the caller's retry handle, usually taken from the
	// Idempotency-Key request header.
	IdempotencyKey string
}

// CheckoutResult is what the caller needs to finish the purchase: the local
// subscription row and, for redirect-based providers, a checkout URL.
type CheckoutResult struct {
	Subscription *subscriptiondomain.Subscription
	CheckoutURL  string
}

// PayRequest is a one-time charge against the chosen provider.
type PayRequest struct {
	UserID          snowflake.ID
	Provider        string
	Amount          int64
	Currency        string
	PaymentMethodID string
	PhoneNumber     string
	Description     string
	IdempotencyKey  string
}

// Service orchestrates checkout, plan changes and provider lifecycle events
// across the adapters, the ledger and the subscription store.
type Service interface {
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	CancelSubscription(ctx context.Context, userID snowflake.ID) (*subscriptiondomain.Subscription, error)
	ChangePlan(ctx context.Context, userID, planID snowflake.ID) (*subscriptiondomain.Subscription, error)
	Pay(ctx context.Context, req PayRequest) (*ledgerdomain.Transaction, error)

	// ProcessProviderEvent applies a recognized webhook event to local state.
	// Replayed events are absorbed without double-applying.
	ProcessProviderEvent(ctx context.Context, provider string, event *providerdomain.WebhookEvent) error

	// AvailableProviders lists the providers usable from the user's country.
	AvailableProviders(ctx context.Context, userID snowflake.ID) ([]string, error)
}

var (
	ErrSubscriptionExists  = errors.New("subscription_already_exists")
	ErrProviderUnavailable = errors.New("provider_unavailable")
	ErrCheckoutFailed      = errors.New("checkout_failed")
	ErrPaymentFailed       = errors.New("payment_failed")
)
